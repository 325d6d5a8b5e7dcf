package client

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// event describes an external event which moves the Client into a new state.
// Events are applied one at a time with exclusive access to client state.
type event interface {
	apply(*Client)
}

// eventLoop is the serial event queue the whole client runs on.
type eventLoop struct {
	events chan event

	once sync.Once
	done chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		events: make(chan event, 1024),
		done:   make(chan struct{}),
	}
}

// send posts e, returning false if the loop is stopped or saturated.
func (l *eventLoop) send(e event) bool {
	select {
	case <-l.done:
		return false
	case l.events <- e:
		return true
	default:
		log.With("event", fmt.Sprintf("%T", e)).Error("Dropped event: queue full")
		return false
	}
}

// run processes events until stop. Panics inside a handler are contained to
// that event.
func (l *eventLoop) run(c *Client) {
	for {
		select {
		case <-l.done:
			return
		case e := <-l.events:
			runEvent(c, e)
		}
	}
}

func (l *eventLoop) stop() {
	l.once.Do(func() { close(l.done) })
}

func runEvent(c *Client, e event) {
	defer func() {
		if r := recover(); r != nil {
			log.With("event", fmt.Sprintf("%T", e)).Errorf(
				"Recovered from panic in event handler: %v\n%s", r, debug.Stack())
		}
	}()
	e.apply(c)
}

// funcEvent runs an arbitrary closure on the loop. Used by timers and the
// public API.
type funcEvent struct {
	f func(*Client)
}

func (e funcEvent) apply(c *Client) { e.f(c) }

type connectToServerEvent struct{}

func (e connectToServerEvent) apply(c *Client) { c.connectToServer() }

type listenPortEvent struct {
	port int
}

func (e listenPortEvent) apply(c *Client) { c.handleListenPort(e.port) }

type serverConnectedEvent struct{}

func (e serverConnectedEvent) apply(c *Client) { c.handleServerConnected() }

type serverMessageEvent struct {
	msg protocol.ServerMessage
}

func (e serverMessageEvent) apply(c *Client) { c.handleServerMessage(e.msg) }

type serverClosedEvent struct {
	err error
}

func (e serverClosedEvent) apply(c *Client) { c.handleServerClosed(e.err) }

type peerConnectedEvent struct {
	id   core.ConnID
	addr core.Addr
}

func (e peerConnectedEvent) apply(c *Client) { c.handlePeerConnected(e.id, e.addr) }

type dialErrorEvent struct {
	addr core.Addr
	err  error
}

func (e dialErrorEvent) apply(c *Client) { c.handleDialError(e.addr, e.err) }

type peerAcceptedEvent struct {
	id   core.ConnID
	addr core.Addr
	init protocol.InitMessage
}

func (e peerAcceptedEvent) apply(c *Client) { c.handlePeerAccepted(e.id, e.addr, e.init) }

type peerMessageEvent struct {
	id  core.ConnID
	msg protocol.PeerMessage
}

func (e peerMessageEvent) apply(c *Client) { c.handlePeerMessage(e.id, e.msg) }

type distribMessageEvent struct {
	id  core.ConnID
	msg protocol.DistribMessage
}

func (e distribMessageEvent) apply(c *Client) { c.handleDistribMessage(e.id, e.msg) }

type fileRequestEvent struct {
	id  core.ConnID
	req core.RequestID
}

func (e fileRequestEvent) apply(c *Client) { c.transfers.FileConnOpened(e.id, e.req) }

type fileOffsetEvent struct {
	id     core.ConnID
	offset int64
}

func (e fileOffsetEvent) apply(c *Client) { c.transfers.FileOffsetReceived(e.id, e.offset) }

type fileProgressEvent struct {
	id    core.ConnID
	bytes int64
}

func (e fileProgressEvent) apply(c *Client) { c.transfers.FileProgress(e.id, e.bytes) }

type fileCompleteEvent struct {
	id core.ConnID
}

func (e fileCompleteEvent) apply(c *Client) { c.transfers.FileComplete(e.id) }

type fileErrorEvent struct {
	id  core.ConnID
	err error
}

func (e fileErrorEvent) apply(c *Client) { c.transfers.FileError(e.id, e.err) }

type peerClosedEvent struct {
	id core.ConnID
}

func (e peerClosedEvent) apply(c *Client) { c.handlePeerClosed(e.id) }

// liftedEvents lifts netio callbacks onto the event loop, satisfying
// netio.Events without touching client state on network goroutines.
type liftedEvents struct {
	l *eventLoop
}

func (le liftedEvents) ListenPort(port int) { le.l.send(listenPortEvent{port}) }

func (le liftedEvents) ServerConnected() { le.l.send(serverConnectedEvent{}) }

func (le liftedEvents) ServerMessage(msg protocol.ServerMessage) {
	le.l.send(serverMessageEvent{msg})
}

func (le liftedEvents) ServerClosed(err error) { le.l.send(serverClosedEvent{err}) }

func (le liftedEvents) PeerConnected(id core.ConnID, addr core.Addr) {
	le.l.send(peerConnectedEvent{id, addr})
}

func (le liftedEvents) DialError(addr core.Addr, err error) {
	le.l.send(dialErrorEvent{addr, err})
}

func (le liftedEvents) PeerAccepted(id core.ConnID, addr core.Addr, init protocol.InitMessage) {
	le.l.send(peerAcceptedEvent{id, addr, init})
}

func (le liftedEvents) PeerMessage(id core.ConnID, msg protocol.PeerMessage) {
	le.l.send(peerMessageEvent{id, msg})
}

func (le liftedEvents) DistribMessage(id core.ConnID, msg protocol.DistribMessage) {
	le.l.send(distribMessageEvent{id, msg})
}

func (le liftedEvents) FileRequestReceived(id core.ConnID, req core.RequestID) {
	le.l.send(fileRequestEvent{id, req})
}

func (le liftedEvents) FileOffsetReceived(id core.ConnID, offset int64) {
	le.l.send(fileOffsetEvent{id, offset})
}

func (le liftedEvents) FileProgress(id core.ConnID, bytes int64) {
	le.l.send(fileProgressEvent{id, bytes})
}

func (le liftedEvents) FileComplete(id core.ConnID) { le.l.send(fileCompleteEvent{id}) }

func (le liftedEvents) FileError(id core.ConnID, err error) {
	le.l.send(fileErrorEvent{id, err})
}

func (le liftedEvents) PeerClosed(id core.ConnID) { le.l.send(peerClosedEvent{id}) }
