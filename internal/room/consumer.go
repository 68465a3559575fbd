package room

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Streamer opens the event feed of a session.
type Streamer interface {
	Stream(ctx context.Context, sessionID string) (io.ReadCloser, error)
}

// Consumer owns the single live connection to a session's event feed. It parses every payload and
// hands the resulting event to a dispatch function. The connection is opened at most once per
// Consumer and is never reopened: after a transport error or the terminal marker the feed simply
// stops updating.
type Consumer struct {
	sessionID string
	streamer  Streamer
	dispatch  func(models.Event)
	onRelease func()

	mu      sync.Mutex
	started bool
	opening bool
	// abandoned records a Release that arrived while the feed was still opening.
	abandoned bool
	conn      io.ReadCloser
	cancel    context.CancelFunc
	done      chan struct{}

	logger *slog.Logger
}

// NewConsumer creates a Consumer for sessionID. dispatch is called from the reading goroutine, one
// event at a time, in arrival order. onRelease, if not nil, is called once after the connection has
// been released for any reason.
func NewConsumer(
	sessionID string,
	streamer Streamer,
	dispatch func(models.Event),
	onRelease func(),
	logger *slog.Logger,
) *Consumer {
	return &Consumer{
		sessionID: sessionID,
		streamer:  streamer,
		dispatch:  dispatch,
		onRelease: onRelease,
		done:      make(chan struct{}),
		logger:    logger.With(slog.String("module", "consumer"), slog.String("sessionID", sessionID)),
	}
}

// Start opens the feed and starts reading it in the background. The held connection guards
// against a second one: calling Start again, even after the connection was released, is a no-op.
// The lock is not held while the feed opens, so Connected and Release never wait on the service. A
// Release issued meanwhile closes the feed as soon as it is open.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.logger.Debug("Feed already opened, ignoring")
		return nil
	}
	c.started = true
	c.opening = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	conn, err := c.streamer.Stream(ctx, c.sessionID)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		cancel()
		close(c.done)
		return fmt.Errorf("failed to open event feed: %w", err)
	}
	if c.abandoned {
		c.mu.Unlock()
		cancel()
		if err := conn.Close(); err != nil {
			c.logger.Debug("Failed to close feed", slog.String(errLoggerKey, err.Error()))
		}
		close(c.done)
		c.logger.Info("Feed released while opening")
		if c.onRelease != nil {
			c.onRelease()
		}
		return nil
	}
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.read(conn)

	return nil
}

// Release closes the connection. It is safe to call any number of times, from any goroutine.
func (c *Consumer) Release() {
	c.mu.Lock()
	if c.opening {
		c.abandoned = true
		c.mu.Unlock()
		return
	}
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	cancel()
	if err := conn.Close(); err != nil {
		c.logger.Debug("Failed to close feed", slog.String(errLoggerKey, err.Error()))
	}
	c.logger.Info("Feed released")

	if c.onRelease != nil {
		c.onRelease()
	}
}

// Connected reports whether the connection is currently held.
func (c *Consumer) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// Done is closed once the reading goroutine has exited, or right away if the feed never opened.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// readConfig lifts the per-event limit of the reader well above the default 64KiB, so long
// transcripts of a single message are not cut into a transport error.
var readConfig = &sse.ReadConfig{MaxEventSize: 1 << 20}

func (c *Consumer) read(conn io.Reader) {
	defer close(c.done)
	defer c.Release()

	for ev, err := range sse.Read(conn, readConfig) {
		if err != nil {
			// Errors caused by our own Release are expected and not worth a warning.
			if c.Connected() {
				c.logger.Warn("Feed transport error", slog.String(errLoggerKey, err.Error()))
			}
			return
		}

		e := ParseEvent(ev.Data)
		if e.Kind == models.EventUnknown {
			c.logger.Debug("Discarding malformed payload", slog.String("data", e.Raw))
			continue
		}

		c.dispatch(e)

		if e.Kind == models.EventEnd {
			return
		}
	}
	c.logger.Info("Feed closed by service")
}
