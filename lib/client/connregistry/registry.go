// Package connregistry tracks every in-flight and established peer
// connection attempt, indexed by socket handle, by (user, kind), and by
// reverse-connect token.
package connregistry

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// Errors returned by registry lookups.
var (
	ErrConnNotFound = errors.New("no matching conn")
	ErrTokenTaken   = errors.New("token already in use")
	ErrSocketTaken  = errors.New("socket already bound")
)

// Conn is one logical peer interaction attempt. Zero-valued ID means no
// socket yet; zero-valued Token means no indirect connect requested.
type Conn struct {
	Username string
	Kind     core.ConnKind

	// ID is the socket handle, bound when the dial or accept lands.
	ID core.ConnID

	// Addr is the address being dialed, nil until resolved.
	Addr *core.Addr

	// Token is the reverse-connect nonce, set when falling back to an
	// indirect connect.
	Token core.Token

	// Pending holds outbound messages queued before the socket is ready.
	// Drained in order, exactly once, when the socket binds.
	Pending []protocol.Message

	// AddrRetries counts port-0 address replies for this attempt.
	AddrRetries int

	// Indirect marks that the conn was requested via the server rather
	// than dialed directly.
	Indirect bool

	// Parent marks the one distributed conn adopted as search parent.
	Parent bool
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(user=%s, kind=%s, id=%d, token=%d)",
		c.Username, c.Kind, c.ID, c.Token)
}

type userKind struct {
	username string
	kind     core.ConnKind
}

// Registry is the set of live peer connection attempts.
//
// Registry is NOT thread-safe. It is owned by the event loop and must only
// be accessed from it.
type Registry struct {
	conns   map[*Conn]struct{}
	byID    map[core.ConnID]*Conn
	byToken map[core.Token]*Conn
	byUser  map[userKind][]*Conn
}

// New creates a new Registry.
func New() *Registry {
	return &Registry{
		conns:   make(map[*Conn]struct{}),
		byID:    make(map[core.ConnID]*Conn),
		byToken: make(map[core.Token]*Conn),
		byUser:  make(map[userKind][]*Conn),
	}
}

// Add inserts c. Binds whatever indexes are already populated.
func (r *Registry) Add(c *Conn) error {
	if _, ok := r.conns[c]; ok {
		return errors.New("conn already added")
	}
	if c.ID != 0 {
		if _, ok := r.byID[c.ID]; ok {
			return ErrSocketTaken
		}
		r.byID[c.ID] = c
	}
	if c.Token != 0 {
		if _, ok := r.byToken[c.Token]; ok {
			return ErrTokenTaken
		}
		r.byToken[c.Token] = c
	}
	r.conns[c] = struct{}{}
	k := userKind{c.Username, c.Kind}
	r.byUser[k] = append(r.byUser[k], c)
	return nil
}

// Bind attaches a socket handle to c and indexes it.
func (r *Registry) Bind(c *Conn, id core.ConnID) error {
	if _, ok := r.byID[id]; ok {
		return ErrSocketTaken
	}
	if c.ID != 0 {
		delete(r.byID, c.ID)
	}
	c.ID = id
	r.byID[id] = c
	return nil
}

// SetToken attaches a reverse-connect token to c and indexes it.
func (r *Registry) SetToken(c *Conn, t core.Token) error {
	if _, ok := r.byToken[t]; ok {
		return ErrTokenTaken
	}
	if c.Token != 0 {
		delete(r.byToken, c.Token)
	}
	c.Token = t
	r.byToken[t] = c
	return nil
}

// Remove deletes c from every index. No-op if absent.
func (r *Registry) Remove(c *Conn) {
	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	if c.ID != 0 {
		delete(r.byID, c.ID)
	}
	if c.Token != 0 {
		delete(r.byToken, c.Token)
	}
	k := userKind{c.Username, c.Kind}
	cs := r.byUser[k]
	for i, other := range cs {
		if other == c {
			r.byUser[k] = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(r.byUser[k]) == 0 {
		delete(r.byUser, k)
	}
	log.With(zap.Stringer("conn", c)).Debug("Removed peer conn")
}

// FindByID returns the conn bound to socket id.
func (r *Registry) FindByID(id core.ConnID) (*Conn, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, ErrConnNotFound
	}
	return c, nil
}

// FindByToken returns the conn carrying reverse-connect token t.
func (r *Registry) FindByToken(t core.Token) (*Conn, error) {
	c, ok := r.byToken[t]
	if !ok {
		return nil, ErrConnNotFound
	}
	return c, nil
}

// FindEstablished returns the first (user, kind) conn with a live socket.
func (r *Registry) FindEstablished(username string, kind core.ConnKind) (*Conn, error) {
	for _, c := range r.byUser[userKind{username, kind}] {
		if c.ID != 0 {
			return c, nil
		}
	}
	return nil, ErrConnNotFound
}

// FindAny returns the first (user, kind) conn, live or in-flight.
func (r *Registry) FindAny(username string, kind core.ConnKind) (*Conn, error) {
	cs := r.byUser[userKind{username, kind}]
	if len(cs) == 0 {
		return nil, ErrConnNotFound
	}
	return cs[0], nil
}

// FindByPendingAddr returns an in-flight conn (no socket) dialing addr.
// Matches direct dial outcomes back to their attempt.
func (r *Registry) FindByPendingAddr(addr core.Addr) (*Conn, error) {
	for c := range r.conns {
		if c.ID == 0 && c.Addr != nil && *c.Addr == addr {
			return c, nil
		}
	}
	return nil, ErrConnNotFound
}

// Distributed returns every 'D' kind conn.
func (r *Registry) Distributed() []*Conn {
	var out []*Conn
	for c := range r.conns {
		if c.Kind == core.KindDistributed {
			out = append(out, c)
		}
	}
	return out
}

// All returns every conn.
func (r *Registry) All() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of tracked conns.
func (r *Registry) Len() int {
	return len(r.conns)
}
