package room_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/MegaGrindStone/roundtable/internal/room"
	"github.com/stretchr/testify/require"
)

// mockService serves one in-memory feed per Stream call and records outbound notifications.
type mockService struct {
	mu        sync.Mutex
	opens     int
	feeds     []*io.PipeWriter
	streamErr error
	typing    []bool
	inputs    []string
	outErr    error

	// hold, when set, keeps Stream from returning until it is closed.
	hold chan struct{}
}

func (m *mockService) Stream(_ context.Context, _ string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens++
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		<-hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamErr != nil {
		return nil, m.streamErr
	}
	pr, pw := io.Pipe()
	m.feeds = append(m.feeds, pw)
	return pr, nil
}

func (m *mockService) Typing(_ context.Context, _ string, _ models.Role, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.typing = append(m.typing, active)
	return m.outErr
}

func (m *mockService) Input(_ context.Context, _ string, _ models.Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = append(m.inputs, text)
	return m.outErr
}

func (m *mockService) feed() *io.PipeWriter {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.feeds[len(m.feeds)-1]
}

func (m *mockService) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opens
}

func (m *mockService) sentInputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.inputs...)
}

func (m *mockService) sentTyping() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]bool(nil), m.typing...)
}

func send(t *testing.T, w io.Writer, data string) {
	t.Helper()
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	require.NoError(t, err)
}

func sendMessage(t *testing.T, w io.Writer, who models.Role, content string) {
	t.Helper()
	send(t, w, fmt.Sprintf(`{"type":"message","who":%q,"content":%q}`, who, content))
}

type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) dispatch(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
}

func (s *eventSink) received() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Event(nil), s.events...)
}

func TestConsumerDispatchesEvents(t *testing.T) {
	svc := &mockService{}
	sink := &eventSink{}
	c := room.NewConsumer("s1", svc, sink.dispatch, nil, discardLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Release()

	w := svc.feed()
	sendMessage(t, w, models.RoleModerator, "ようこそ")
	send(t, w, "not json at all")
	send(t, w, `{"type":"typing","who":"traveler_B","active":true}`)

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []models.Event{
		{Kind: models.EventMessage, Who: models.RoleModerator, Content: "ようこそ"},
		{Kind: models.EventTyping, Who: models.RoleTravelerB, Active: true},
	}, sink.received())
	require.True(t, c.Connected())
}

func TestConsumerStartsOnce(t *testing.T) {
	svc := &mockService{}
	c := room.NewConsumer("s1", svc, func(models.Event) {}, nil, discardLogger())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, svc.openCount())

	c.Release()
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, svc.openCount())
}

func TestConsumerEndMarkerReleases(t *testing.T) {
	svc := &mockService{}
	sink := &eventSink{}
	released := make(chan struct{})
	c := room.NewConsumer("s1", svc, sink.dispatch, func() { close(released) }, discardLogger())
	require.NoError(t, c.Start(context.Background()))

	send(t, svc.feed(), "__END__")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after the end marker")
	}
	<-released
	require.False(t, c.Connected())
	require.Equal(t, []models.Event{{Kind: models.EventEnd}}, sink.received())
}

func TestConsumerTransportError(t *testing.T) {
	svc := &mockService{}
	sink := &eventSink{}
	c := room.NewConsumer("s1", svc, sink.dispatch, nil, discardLogger())
	require.NoError(t, c.Start(context.Background()))

	w := svc.feed()
	sendMessage(t, w, models.RoleModerator, "hi")
	require.NoError(t, w.CloseWithError(errors.New("connection reset")))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after a transport error")
	}
	require.False(t, c.Connected())
	require.Len(t, sink.received(), 1)
}

func TestConsumerReleaseIsIdempotent(t *testing.T) {
	svc := &mockService{}
	releases := 0
	c := room.NewConsumer("s1", svc, func(models.Event) {}, func() { releases++ }, discardLogger())

	// Releasing before anything was opened is a no-op as well.
	c.Release()
	require.NoError(t, c.Start(context.Background()))

	c.Release()
	c.Release()
	<-c.Done()
	c.Release()

	require.Equal(t, 1, releases)
	require.False(t, c.Connected())

	_, err := svc.feed().Write([]byte("data: x\n\n"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestConsumerReleaseWhileOpening(t *testing.T) {
	hold := make(chan struct{})
	svc := &mockService{hold: hold}
	released := make(chan struct{}, 2)
	c := room.NewConsumer("s1", svc, func(models.Event) {}, func() { released <- struct{}{} }, discardLogger())

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return svc.openCount() == 1 }, time.Second, 5*time.Millisecond)

	// Neither call may wait for the feed to open.
	idle := make(chan bool, 1)
	go func() {
		c.Release()
		idle <- c.Connected()
	}()
	select {
	case connected := <-idle:
		require.False(t, connected)
	case <-time.After(time.Second):
		t.Fatal("consumer stayed locked while the feed was opening")
	}
	require.Empty(t, released)

	close(hold)
	require.NoError(t, <-started)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after being released while opening")
	}
	require.False(t, c.Connected())
	require.Len(t, released, 1)

	_, err := svc.feed().Write([]byte("data: x\n\n"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestConsumerLargeEvent(t *testing.T) {
	svc := &mockService{}
	sink := &eventSink{}
	c := room.NewConsumer("s1", svc, sink.dispatch, nil, discardLogger())
	require.NoError(t, c.Start(context.Background()))
	defer c.Release()

	content := strings.Repeat("長い議事録", 20000)
	sendMessage(t, svc.feed(), models.RoleModerator, content)

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, content, sink.received()[0].Content)
	require.True(t, c.Connected())
}

func TestConsumerStartFailure(t *testing.T) {
	svc := &mockService{streamErr: errors.New("404 no session")}
	c := room.NewConsumer("s1", svc, func(models.Event) {}, nil, discardLogger())

	require.Error(t, c.Start(context.Background()))
	require.False(t, c.Connected())

	select {
	case <-c.Done():
	default:
		t.Fatal("done must be closed when the feed never opened")
	}
}
