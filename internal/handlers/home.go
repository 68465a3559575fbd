package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/MegaGrindStone/roundtable/internal/room"
	"github.com/google/uuid"
)

type homePageData struct {
	Rooms     []models.RoomEntry
	Travelers []models.Role
}

// HandleHome renders the join form together with the rooms this client joined before.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	rooms, err := m.store.Rooms(r.Context())
	if err != nil {
		m.logger.Error("Failed to get rooms", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		Rooms:     rooms,
		Travelers: models.Travelers,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleJoin opens a room for the posted session and traveler role, then redirects the browser to
// it. The form carries "session_id", "role" and an optional "create" flag; a blank session ID asks
// the service for a brand new session.
//
// Joining a session and role that are already open reuses the open room instead of connecting to
// the event feed a second time.
func (m Main) HandleJoin(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	role := models.Role(r.FormValue("role"))
	create := r.FormValue("create") != ""

	if !role.IsTraveler() {
		m.logger.Error("Invalid role", slog.String("role", string(role)))
		http.Error(w, "Role must be a traveler", http.StatusBadRequest)
		return
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
		create = true
	}

	if create {
		if err := m.service.CreateSession(r.Context(), sessionID); err != nil {
			m.logger.Error("Failed to create session",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	v, opened, err := m.views.open(sessionID, role, func() (*view, error) {
		return m.newView(r, sessionID, role)
	})
	if err != nil {
		m.logger.Error("Failed to open room",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if opened {
		m.logger.Info("Room opened",
			slog.String("viewID", v.id),
			slog.String("sessionID", sessionID),
			slog.String("role", string(role)))
	}

	http.Redirect(w, r, "/rooms/"+v.id, http.StatusSeeOther)
}

func (m Main) newView(r *http.Request, sessionID string, role models.Role) (*view, error) {
	assignment := m.roster.Resolve(r.Context(), sessionID)

	v := &view{
		id:        uuid.New().String(),
		sessionID: sessionID,
		role:      role,
	}
	v.room = room.New(sessionID, role, assignment, m.service, m.logger, room.Options{
		TypingDelay: m.typingDelay,
		OnChange: func(s room.Snapshot) {
			m.publishRoom(v, s)
		},
	})

	entryID, err := m.store.AddRoom(r.Context(), models.RoomEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		JoinedAt:  time.Now(),
	})
	if err != nil {
		// The room works without being remembered.
		m.logger.Warn("Failed to remember room",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
	v.entryID = entryID

	// The entry ID must be set before the feed can report a finished session.
	if err := v.room.Open(m.baseCtx); err != nil {
		v.room.Close()
		return nil, fmt.Errorf("failed to open room: %w", err)
	}

	return v, nil
}
