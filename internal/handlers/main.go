package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	roundtable "github.com/MegaGrindStone/roundtable"
	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/MegaGrindStone/roundtable/internal/room"
	"github.com/tmaxmax/go-sse"
)

// Service represents the discussion service as seen by the web interface: everything a Room needs,
// the session configuration used by the roster, and the thin lifecycle calls around them.
type Service interface {
	room.Service
	room.ConfigFetcher

	CreateSession(ctx context.Context, sessionID string) error
	LogURL(sessionID string) string
}

// Store defines the interface for remembering joined rooms, so they can be listed on the home page.
type Store interface {
	Rooms(ctx context.Context) ([]models.RoomEntry, error)
	AddRoom(ctx context.Context, room models.RoomEntry) (string, error)
	MarkFinished(ctx context.Context, id string) error
}

// Main serves the web interface. It owns the rooms opened by browsers, pushes their state back to
// the browsers through server-sent events, and forwards local edits and submits to them.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	service Service
	store   Store
	roster  room.Roster
	views   *registry

	typingDelay time.Duration

	// baseCtx outlives individual requests; event feeds are opened with it.
	baseCtx context.Context

	logger *slog.Logger
}

const errLoggerKey = "err"

var roomSSEType = sse.Type("room")

// NewMain creates a new Main instance. Feeds opened by the returned Main are bound to ctx. A
// non-positive typingDelay uses room.DefaultTypingDelay.
func NewMain(
	ctx context.Context,
	service Service,
	store Store,
	typingDelay time.Duration,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		roundtable.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	m := Main{
		sseSrv:      &sse.Server{},
		templates:   tmpl,
		service:     service,
		store:       store,
		roster:      room.NewRoster(service, logger),
		views:       newRegistry(),
		typingDelay: typingDelay,
		baseCtx:     ctx,
		logger:      logger.With(slog.String("module", "main")),
	}
	m.sseSrv.OnSession = m.subscribe

	return m, nil
}

// subscribe attaches a browser page to the topic of its room view. The page first receives the
// current state of the room: topics keep no history, so changes published between the page render
// and this subscription would otherwise never reach it.
func (m Main) subscribe(s *sse.Session) (sse.Subscription, bool) {
	viewID := s.Req.URL.Query().Get("view_id")
	// The view may have been closed since HandleSSE looked it up.
	v, ok := m.views.get(viewID)
	if !ok {
		return sse.Subscription{}, false
	}

	msg, err := m.roomMessage(v, v.room.Snapshot())
	if err != nil {
		m.logger.Error("Failed to render room",
			slog.String("viewID", v.id),
			slog.String(errLoggerKey, err.Error()))
	} else {
		if err := s.Send(msg); err != nil {
			m.logger.Warn("Failed to send room state",
				slog.String("viewID", v.id),
				slog.String(errLoggerKey, err.Error()))
			return sse.Subscription{}, false
		}
		if err := s.Flush(); err != nil {
			m.logger.Warn("Failed to flush room state",
				slog.String("viewID", v.id),
				slog.String(errLoggerKey, err.Error()))
			return sse.Subscription{}, false
		}
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		Topics:      []string{sse.DefaultTopic, viewTopic(viewID)},
	}, true
}

func viewTopic(viewID string) string {
	return fmt.Sprintf("view-%s", viewID)
}

// HandleSSE streams room updates to a browser page. The page selects its view with the view_id
// query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := m.views.get(r.URL.Query().Get("view_id")); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown tears every open room down, releasing their feeds, then terminates the SSE server. It
// broadcasts a close message to the connected browsers and waits up to 5 seconds for them to
// disconnect.
func (m Main) Shutdown(ctx context.Context) error {
	for _, v := range m.views.drain() {
		v.room.Close()
	}

	e := &sse.Message{Type: sse.Type("closeRoom")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
