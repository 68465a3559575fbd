package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/MegaGrindStone/roundtable/internal/room"
	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	Speaker    models.Role
	Content    template.HTML
	ReceivedAt time.Time

	Mine bool
}

type participant struct {
	Role      models.Role
	Human     bool
	Typing    bool
	Next      bool
	Moderator bool
}

type roomPageData struct {
	ViewID    string
	SessionID string
	Role      models.Role
	Human     bool
	LogURL    string

	Messages     []message
	Participants []participant

	Next      models.Role
	YourTurn  bool
	Finished  bool
	Connected bool
	CanSubmit bool
	Draft     string
}

var templateFuncs = template.FuncMap{
	"label": func(r models.Role) string { return r.Label() },
	"clock": func(t time.Time) string { return t.Format("15:04:05") },
}

// HandleRoom renders the page of an open room with its current state. Later changes are pushed to
// the page through HandleSSE.
func (m Main) HandleRoom(w http.ResponseWriter, r *http.Request) {
	v, ok := m.view(w, r)
	if !ok {
		return
	}

	data, err := m.roomData(v, v.room.Snapshot())
	if err != nil {
		m.logger.Error("Failed to build room data",
			slog.String("viewID", v.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "room.html", data); err != nil {
		m.logger.Error("Failed to render room", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleDraft receives every local edit of the message input, in the "draft" form field.
func (m Main) HandleDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, ok := m.view(w, r)
	if !ok {
		return
	}

	v.room.Edit(r.FormValue("draft"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleBlur receives the notification that the message input lost focus.
func (m Main) HandleBlur(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, ok := m.view(w, r)
	if !ok {
		return
	}

	v.room.Blur()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmit sends the current draft. It answers 409 Conflict when the local participant may not
// speak now, and 204 once the message has been handed to the service; the message itself shows up
// later, when the service echoes it through the feed.
func (m Main) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, ok := m.view(w, r)
	if !ok {
		return
	}

	if err := v.room.Submit(); err != nil {
		if errors.Is(err, room.ErrSubmitNotAllowed) {
			http.Error(w, "Not your turn", http.StatusConflict)
			return
		}
		m.logger.Error("Failed to submit",
			slog.String("viewID", v.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLeave closes the room and sends the browser back home.
func (m Main) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, ok := m.views.remove(chi.URLParam(r, "viewID"))
	if ok {
		v.room.Close()
		m.logger.Info("Room closed", slog.String("viewID", v.id))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m Main) view(w http.ResponseWriter, r *http.Request) (*view, bool) {
	v, ok := m.views.get(chi.URLParam(r, "viewID"))
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return nil, false
	}
	return v, true
}

// publishRoom renders the live part of a room and pushes it to the browsers following the view.
// It runs inside the room's change callback, so it must not call back into the room.
func (m Main) publishRoom(v *view, s room.Snapshot) {
	if s.Phase == models.PhaseFinished && v.entryID != "" {
		v.finished.Do(func() {
			go func() {
				if err := m.store.MarkFinished(context.Background(), v.entryID); err != nil {
					m.logger.Error("Failed to mark room finished",
						slog.String("viewID", v.id),
						slog.String(errLoggerKey, err.Error()))
				}
			}()
		})
	}

	msg, err := m.roomMessage(v, s)
	if err != nil {
		m.logger.Error("Failed to render room",
			slog.String("viewID", v.id),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := m.sseSrv.Publish(msg, viewTopic(v.id)); err != nil {
		m.logger.Error("Failed to publish room",
			slog.String("viewID", v.id),
			slog.String(errLoggerKey, err.Error()))
	}
}

// roomMessage renders the live part of a room into a "room" event.
func (m Main) roomMessage(v *view, s room.Snapshot) (*sse.Message, error) {
	data, err := m.roomData(v, s)
	if err != nil {
		return nil, fmt.Errorf("failed to build room data: %w", err)
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "room_live", data); err != nil {
		return nil, fmt.Errorf("failed to execute room_live template: %w", err)
	}

	msg := &sse.Message{
		Type: roomSSEType,
	}
	msg.AppendData(sb.String())
	return msg, nil
}

func (m Main) roomData(v *view, s room.Snapshot) (roomPageData, error) {
	msgs := make([]message, len(s.Messages))
	for i, msg := range s.Messages {
		content, err := models.RenderContent(msg.Content)
		if err != nil {
			return roomPageData{}, err
		}
		msgs[i] = message{
			Speaker: msg.Speaker,
			// goldmark escapes raw HTML, so the rendered output is safe to embed.
			Content:    template.HTML(content),
			ReceivedAt: msg.ReceivedAt,
			Mine:       msg.Speaker == s.Role,
		}
	}

	participants := make([]participant, len(s.Order))
	for i, p := range s.Order {
		participants[i] = participant{
			Role:      p,
			Human:     s.Assignment.IsHuman(p),
			Typing:    s.Typing[p],
			Next:      p == s.Next && s.Phase == models.PhaseActive,
			Moderator: p == models.RoleModerator,
		}
	}

	return roomPageData{
		ViewID:       v.id,
		SessionID:    s.SessionID,
		Role:         s.Role,
		Human:        s.Assignment.IsHuman(s.Role),
		LogURL:       m.service.LogURL(s.SessionID),
		Messages:     msgs,
		Participants: participants,
		Next:         s.Next,
		YourTurn:     s.Next == s.Role && s.Phase == models.PhaseActive,
		Finished:     s.Phase == models.PhaseFinished,
		Connected:    s.Connected,
		CanSubmit:    s.CanSubmit,
		Draft:        s.Draft,
	}, nil
}
