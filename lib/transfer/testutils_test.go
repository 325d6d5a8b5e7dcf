package transfer

import (
	"os"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/shares"
)

type sentPeerMsg struct {
	username string
	msg      protocol.Message
}

type connPeerMsg struct {
	id  core.ConnID
	msg protocol.Message
}

// fakeEnv records every client interaction the manager makes.
type fakeEnv struct {
	peerMsgs   []sentPeerMsg
	serverMsgs []protocol.ServerMessage
	watched    []string

	statuses map[string]core.UserStatus

	checkTier   int
	checkReason string

	buddies    map[string]bool
	privileged map[string]bool
	trusted    map[string]bool

	requestedFolders map[string]string

	timers map[string]func()
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		statuses:         make(map[string]core.UserStatus),
		buddies:          make(map[string]bool),
		privileged:       make(map[string]bool),
		trusted:          make(map[string]bool),
		requestedFolders: make(map[string]string),
		timers:           make(map[string]func()),
		checkTier:        1,
	}
}

func (e *fakeEnv) RequestToPeer(username string, msg protocol.Message) {
	e.peerMsgs = append(e.peerMsgs, sentPeerMsg{username, msg})
}

func (e *fakeEnv) SendServer(msg protocol.ServerMessage) {
	e.serverMsgs = append(e.serverMsgs, msg)
}

func (e *fakeEnv) WatchUser(username string) {
	e.watched = append(e.watched, username)
}

func (e *fakeEnv) UserStatus(username string) core.UserStatus {
	if s, ok := e.statuses[username]; ok {
		return s
	}
	return core.StatusUnknown
}

func (e *fakeEnv) CheckUser(username string) (int, string) {
	return e.checkTier, e.checkReason
}

func (e *fakeEnv) IsBuddy(username string) bool         { return e.buddies[username] }
func (e *fakeEnv) BuddyPrivileged(username string) bool { return e.privileged[username] }
func (e *fakeEnv) BuddyTrusted(username string) bool    { return e.trusted[username] }

func (e *fakeEnv) RequestedFolder(username, folder string) string {
	return e.requestedFolders[username+"|"+folder]
}

func (e *fakeEnv) Schedule(name string, d time.Duration, f func()) {
	e.timers[name] = f
}

func (e *fakeEnv) CancelTimer(name string) bool {
	_, ok := e.timers[name]
	delete(e.timers, name)
	return ok
}

// fire runs and disarms a named timer, like an expiry re-entering the event
// loop.
func (e *fakeEnv) fire(name string) {
	if f, ok := e.timers[name]; ok {
		delete(e.timers, name)
		f()
	}
}

// lastPeerMsg returns the most recent message sent to username, or nil.
func (e *fakeEnv) lastPeerMsg(username string) protocol.Message {
	for i := len(e.peerMsgs) - 1; i >= 0; i-- {
		if e.peerMsgs[i].username == username {
			return e.peerMsgs[i].msg
		}
	}
	return nil
}

// fakeNetwork records the manager's direct socket operations.
type fakeNetwork struct {
	sent    []connPeerMsg
	closed  []core.ConnID
	awaited []core.ConnID

	receiving map[core.ConnID]bool
	sending   map[core.ConnID]bool

	globalLimit uint64
	connLimits  map[core.ConnID]uint64
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		receiving:  make(map[core.ConnID]bool),
		sending:    make(map[core.ConnID]bool),
		connLimits: make(map[core.ConnID]uint64),
	}
}

func (n *fakeNetwork) SendPeer(id core.ConnID, msg protocol.Message) error {
	n.sent = append(n.sent, connPeerMsg{id, msg})
	return nil
}

func (n *fakeNetwork) Close(id core.ConnID) {
	n.closed = append(n.closed, id)
}

func (n *fakeNetwork) AwaitFileOffset(id core.ConnID) error {
	n.awaited = append(n.awaited, id)
	return nil
}

func (n *fakeNetwork) ReceiveFile(id core.ConnID, f *os.File, current, size int64) error {
	n.receiving[id] = true
	return nil
}

func (n *fakeNetwork) SendFile(id core.ConnID, f *os.File, offset int64) error {
	n.sending[id] = true
	return nil
}

func (n *fakeNetwork) SetConnUploadLimit(id core.ConnID, bytesPerSec uint64) error {
	n.connLimits[id] = bytesPerSec
	return nil
}

func (n *fakeNetwork) SetUploadLimit(bytesPerSec uint64) {
	n.globalLimit = bytesPerSec
}

func (n *fakeNetwork) lastSent(id core.ConnID) protocol.Message {
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].id == id {
			return n.sent[i].msg
		}
	}
	return nil
}

// fakeSink records lifecycle notifications.
type fakeSink struct {
	updated  []*Transfer
	finished []*Transfer
	removed  []*Transfer
	notices  []string
}

func (s *fakeSink) TransferUpdated(t *Transfer)  { s.updated = append(s.updated, t) }
func (s *fakeSink) TransferFinished(t *Transfer) { s.finished = append(s.finished, t) }
func (s *fakeSink) TransferRemoved(t *Transfer)  { s.removed = append(s.removed, t) }
func (s *fakeSink) Notify(title, body string)    { s.notices = append(s.notices, title+": "+body) }

type testMocks struct {
	env     *fakeEnv
	network *fakeNetwork
	shares  *shares.Fake
	clk     *clock.Mock
	sink    *fakeSink
}

func newTestManager(config Config) (*Manager, *testMocks) {
	mocks := &testMocks{
		env:     newFakeEnv(),
		network: newFakeNetwork(),
		shares:  shares.NewFake(),
		clk:     clock.NewMock(),
		sink:    &fakeSink{},
	}
	m := New(config, tally.NoopScope, mocks.clk, mocks.env, mocks.network, mocks.shares, mocks.sink)
	return m, mocks
}
