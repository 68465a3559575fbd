package room

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
)

// Service is the part of the discussion service a Room talks to.
type Service interface {
	Streamer
	Typing(ctx context.Context, sessionID string, who models.Role, active bool) error
	Input(ctx context.Context, sessionID string, who models.Role, text string) error
}

// Room is the client side of one joined discussion, seen as one local participant. It combines
// the feed state, the turn order, the resolved roles, and the local draft, and reacts to three
// kinds of triggers: feed events, local edits, and local submits. Triggers never interleave; each
// runs to completion under the Room's lock.
type Room struct {
	sessionID  string
	role       models.Role
	assignment models.RoleAssignment
	order      models.TurnOrder

	service   Service
	consumer  *Consumer
	debouncer *Debouncer
	now       func() time.Time
	onChange  func(Snapshot)

	mu     sync.Mutex
	state  *State
	draft  string
	closed bool

	// outCtx scopes the fire-and-forget notifications; it is cancelled on Close.
	outCtx    context.Context
	outCancel context.CancelFunc
	outWG     sync.WaitGroup

	logger *slog.Logger
}

// Options tweak a Room. The zero value is ready to use.
type Options struct {
	// TypingDelay overrides DefaultTypingDelay.
	TypingDelay time.Duration
	// Now overrides the clock used to stamp received messages.
	Now func() time.Time
	// OnChange is called with a fresh snapshot after every observable change. It runs with the
	// Room's lock held, so it must not call back into the Room.
	OnChange func(Snapshot)
}

// Snapshot is a consistent copy of everything a view needs to render a Room.
type Snapshot struct {
	SessionID  string
	Role       models.Role
	Assignment models.RoleAssignment
	Order      models.TurnOrder
	Messages   []models.Message
	Typing     map[models.Role]bool
	Phase      models.Phase
	Next       models.Role
	Draft      string
	CanSubmit  bool
	Connected  bool
}

// ErrSubmitNotAllowed is returned by Submit when the gate is closed.
var ErrSubmitNotAllowed = errors.New("submit not allowed")

// New creates a Room for sessionID, seen as role. The assignment is resolved once by the caller,
// usually through Roster, and never changes afterwards.
func New(
	sessionID string,
	role models.Role,
	assignment models.RoleAssignment,
	service Service,
	logger *slog.Logger,
	opts Options,
) *Room {
	order := models.DefaultTurnOrder()
	outCtx, outCancel := context.WithCancel(context.Background())

	r := &Room{
		sessionID:  sessionID,
		role:       role,
		assignment: assignment,
		order:      order,
		service:    service,
		now:        opts.Now,
		onChange:   opts.OnChange,
		state:      NewState(order),
		outCtx:     outCtx,
		outCancel:  outCancel,
		logger: logger.With(
			slog.String("module", "room"),
			slog.String("sessionID", sessionID),
			slog.String("role", string(role)),
		),
	}
	if r.now == nil {
		r.now = time.Now
	}

	r.consumer = NewConsumer(sessionID, service, r.apply, r.released, logger)

	// Automated roles are driven by the service, only a human role produces local typing.
	if assignment.IsHuman(role) {
		r.debouncer = NewDebouncer(opts.TypingDelay, r.sendTyping)
	}

	return r
}

// Open connects the Room to the session's event feed. The feed is opened at most once.
func (r *Room) Open(ctx context.Context) error {
	return r.consumer.Start(ctx)
}

// Close tears the Room down: the feed is released whatever the phase, the typing timer is
// cancelled, and pending notifications are abandoned. It is idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.consumer.Release()
	if r.debouncer != nil {
		r.debouncer.Stop()
	}
	r.outCancel()
	r.outWG.Wait()
}

// Done is closed once the feed stopped being read.
func (r *Room) Done() <-chan struct{} {
	return r.consumer.Done()
}

// Edit replaces the local draft and feeds the typing debouncer.
func (r *Room) Edit(draft string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	could := r.canSubmitLocked()
	r.draft = draft
	if r.debouncer != nil {
		r.debouncer.Edit()
	}
	// Only the gate depends on the draft, so views are not refreshed on every keystroke.
	if r.canSubmitLocked() != could {
		r.changedLocked()
	}
}

// Blur reports that the local input lost focus.
func (r *Room) Blur() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.debouncer == nil {
		return
	}
	r.debouncer.Blur()
}

// Submit sends the trimmed draft on behalf of the local role and clears the draft. It fails with
// ErrSubmitNotAllowed when CanSubmit does not hold. The message is not added to the log here; the
// authoritative copy arrives later through the feed.
func (r *Room) Submit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.canSubmitLocked() {
		return ErrSubmitNotAllowed
	}

	text := strings.TrimSpace(r.draft)
	r.draft = ""
	r.goOutbound("input", func(ctx context.Context) error {
		return r.service.Input(ctx, r.sessionID, r.role, text)
	})
	r.changedLocked()
	return nil
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *Room) apply(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Apply(ev, r.now()) {
		r.changedLocked()
	}
}

func (r *Room) released() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.changedLocked()
}

func (r *Room) sendTyping(active bool) {
	r.goOutbound("typing", func(ctx context.Context) error {
		return r.service.Typing(ctx, r.sessionID, r.role, active)
	})
}

// goOutbound runs a fire-and-forget call. Failures are logged and otherwise ignored; there is no
// retry.
func (r *Room) goOutbound(name string, call func(ctx context.Context) error) {
	r.outWG.Add(1)
	go func() {
		defer r.outWG.Done()

		if err := call(r.outCtx); err != nil {
			r.logger.Debug("Outbound notification failed",
				slog.String("call", name),
				slog.String(errLoggerKey, err.Error()))
		}
	}()
}

func (r *Room) canSubmitLocked() bool {
	next := NextSpeaker(r.order, r.state.Messages)
	return CanSubmit(r.role, r.assignment, r.state.Phase, next, r.draft)
}

func (r *Room) changedLocked() {
	if r.onChange != nil {
		r.onChange(r.snapshotLocked())
	}
}

func (r *Room) snapshotLocked() Snapshot {
	next := NextSpeaker(r.order, r.state.Messages)
	return Snapshot{
		SessionID:  r.sessionID,
		Role:       r.role,
		Assignment: r.assignment,
		Order:      r.order,
		Messages:   slices.Clone(r.state.Messages),
		Typing:     maps.Clone(r.state.Typing),
		Phase:      r.state.Phase,
		Next:       next,
		Draft:      r.draft,
		CanSubmit:  CanSubmit(r.role, r.assignment, r.state.Phase, next, r.draft),
		Connected:  r.consumer.Connected(),
	}
}
