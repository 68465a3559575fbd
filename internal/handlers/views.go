package handlers

import (
	"errors"
	"sync"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/MegaGrindStone/roundtable/internal/room"
	"golang.org/x/sync/singleflight"
)

// view is one room opened by a browser, identified by a random ID in URLs.
type view struct {
	id        string
	entryID   string
	sessionID string
	role      models.Role

	room *room.Room

	finished sync.Once
}

// registry holds the open views. A session seen as a given role is opened at most once, which is
// what keeps a single feed connection per participant. Opening a view talks to the service, so it
// happens outside the registry lock; concurrent joins of the same session and role share one
// opening through flight.
type registry struct {
	flight singleflight.Group

	mu     sync.Mutex
	byID   map[string]*view
	byKey  map[string]*view
	closed bool
}

type openResult struct {
	view   *view
	opened bool
}

var errRegistryClosed = errors.New("server is shutting down")

func newRegistry() *registry {
	return &registry{
		byID:  make(map[string]*view),
		byKey: make(map[string]*view),
	}
}

func viewKey(sessionID string, role models.Role) string {
	return sessionID + "/" + string(role)
}

func (g *registry) get(id string) (*view, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.byID[id]
	return v, ok
}

func (g *registry) lookup(key string) (*view, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.byKey[key]
	return v, ok
}

// open returns the existing view for sessionID and role, or registers the one built by create. The
// boolean reports whether this call built the view.
func (g *registry) open(sessionID string, role models.Role, create func() (*view, error)) (*view, bool, error) {
	key := viewKey(sessionID, role)
	if v, ok := g.lookup(key); ok {
		return v, false, nil
	}

	res, err, shared := g.flight.Do(key, func() (any, error) {
		// A join of the same key may have completed between lookup and Do.
		if v, ok := g.lookup(key); ok {
			return openResult{view: v}, nil
		}

		v, err := create()
		if err != nil {
			return nil, err
		}
		if err := g.add(key, v); err != nil {
			v.room.Close()
			return nil, err
		}
		return openResult{view: v, opened: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := res.(openResult)
	return r.view, r.opened && !shared, nil
}

func (g *registry) add(key string, v *view) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Views opened while draining would never be closed.
	if g.closed {
		return errRegistryClosed
	}
	g.byID[v.id] = v
	g.byKey[key] = v
	return nil
}

func (g *registry) remove(id string) (*view, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	delete(g.byID, id)
	delete(g.byKey, viewKey(v.sessionID, v.role))
	return v, true
}

func (g *registry) drain() []*view {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	views := make([]*view, 0, len(g.byID))
	for _, v := range g.byID {
		views = append(views, v)
	}
	clear(g.byID)
	clear(g.byKey)
	return views
}
