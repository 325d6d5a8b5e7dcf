// Package client is the event-processing core of the SoulSeek client. A
// single event loop owns all state: server session, peer connection
// lifecycle, share access policy, and the transfer manager. Network I/O and
// timers post events onto the loop; nothing mutates state from outside it.
package client

import (
	"os"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/client/connregistry"
	"github.com/gosoulseek/gosoulseek/lib/client/timer"
	"github.com/gosoulseek/gosoulseek/lib/geoip"
	"github.com/gosoulseek/gosoulseek/lib/netio"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/shares"
	"github.com/gosoulseek/gosoulseek/lib/transfer"
	"github.com/gosoulseek/gosoulseek/utils/backoff"
	"github.com/gosoulseek/gosoulseek/utils/log"
	"github.com/gosoulseek/gosoulseek/utils/stringset"
)

// Network is everything the client drives on the wire. Satisfied by
// netio.NetIO; tests substitute a fake.
type Network interface {
	Listen() error
	DialServer(addr string)
	SendServer(msg protocol.ServerMessage) error
	CloseServer()
	DialPeer(addr core.Addr)
	StartPeer(id core.ConnID, init protocol.InitMessage, kind core.ConnKind) error
	SendPeer(id core.ConnID, msg protocol.Message) error
	Close(id core.ConnID)
	AwaitFileRequest(id core.ConnID) error
	AwaitFileOffset(id core.ConnID) error
	ReceiveFile(id core.ConnID, f *os.File, current, size int64) error
	SendFile(id core.ConnID, f *os.File, offset int64) error
	SetUploadLimit(bytesPerSec uint64)
	SetConnUploadLimit(id core.ConnID, bytesPerSec uint64) error
	Shutdown()
}

// Client is the event-loop-owned client core.
type Client struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	codec  protocol.Codec
	geo    geoip.Resolver
	shares shares.Shares

	loop      *eventLoop
	net       Network
	registry  *connregistry.Registry
	timers    *timer.Scheduler
	transfers *transfer.Manager

	// What we know about remote users. Entries persist for the session.
	users map[string]*core.UserAddr

	// Users with an outstanding GetPeerAddress, to dedupe requests.
	userAddrRequested stringset.Set

	// Users subscribed via AddUser, re-subscribed after reconnect.
	watchedUsers stringset.Set

	// Buddy list keyed by username.
	buddies map[string]Buddy
	banned  stringset.Set

	// user+"|"+folder -> download destination for pending folder requests.
	requestedFolders map[string]string

	// Last browse/user-info reply per user, for throttling.
	peerRequestTimes map[string]time.Time

	// The adopted distributed parent, nil while parentless.
	parent *connregistry.Conn

	listenPort int
	serverUp   bool
	loggedIn   bool

	// Set before a deliberate server close to suppress one reconnect.
	manualDisconnect bool

	reconnect        *backoff.Backoff
	reconnectAttempt int

	nextToken core.Token
}

// New creates a Client. buildNetwork constructs the network layer against
// the client's event sink; production passes a netio.New closure.
func New(
	config Config,
	transferConfig transfer.Config,
	stats tally.Scope,
	clk clock.Clock,
	codec protocol.Codec,
	geo geoip.Resolver,
	sharedb shares.Shares,
	sink transfer.Sink,
	buildNetwork func(netio.Events) Network) *Client {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{"module": "client"})

	c := &Client{
		config:            config,
		stats:             stats,
		clk:               clk,
		codec:             codec,
		geo:               geo,
		shares:            sharedb,
		loop:              newEventLoop(),
		registry:          connregistry.New(),
		timers:            timer.New(clk),
		users:             make(map[string]*core.UserAddr),
		userAddrRequested: stringset.New(),
		watchedUsers:      stringset.New(),
		buddies:           make(map[string]Buddy),
		banned:            stringset.New(config.BanList...),
		requestedFolders:  make(map[string]string),
		peerRequestTimes:  make(map[string]time.Time),
		reconnect:         backoff.New(config.Reconnect),
	}
	for _, b := range config.UserList {
		c.buddies[b.Username] = b
	}

	c.net = buildNetwork(liftedEvents{c.loop})
	c.transfers = transfer.New(
		transferConfig, stats, clk, (*transferEnv)(c), c.net, sharedb, sink)

	return c
}

// Run binds the listener, dials the server, and blocks processing events
// until Stop.
func (c *Client) Run() error {
	if err := c.net.Listen(); err != nil {
		return err
	}
	c.loop.send(connectToServerEvent{})
	c.loop.run(c)
	return nil
}

// Stop shuts the client down. Safe to call more than once.
func (c *Client) Stop() {
	c.loop.stop()
	c.timers.CancelAll()
	c.net.Shutdown()
}

// post runs f on the event loop. The public API goes through it.
func (c *Client) post(f func(*Client)) {
	c.loop.send(funcEvent{f})
}

// Download queues filename from username.
func (c *Client) Download(username, filename string) {
	c.post(func(c *Client) {
		c.transfers.Download(username, filename, "")
	})
}

// DownloadFolder asks username for folder's contents and downloads every
// file in it into path once the listing arrives.
func (c *Client) DownloadFolder(username, folder, path string) {
	c.post(func(c *Client) {
		c.requestedFolders[folderKey(username, folder)] = path
		c.requestToPeer(username, protocol.FolderContentsRequest{Folder: folder}, nil)
	})
}

// BrowseUser asks username for its share listing.
func (c *Client) BrowseUser(username string) {
	c.post(func(c *Client) {
		c.requestToPeer(username, protocol.GetSharedFileList{}, nil)
	})
}

// RequestUserInfo asks username for its profile.
func (c *Client) RequestUserInfo(username string) {
	c.post(func(c *Client) {
		c.requestToPeer(username, protocol.UserInfoRequest{}, nil)
	})
}

// Connect starts a server session. Run already connects; Connect restarts
// after a Disconnect.
func (c *Client) Connect() {
	c.post(func(c *Client) {
		c.connectToServer()
	})
}

// Disconnect closes the server session without reconnecting.
func (c *Client) Disconnect() {
	c.post(func(c *Client) {
		c.manualDisconnect = true
		c.net.CloseServer()
	})
}

// BanUser adds username to the ban list and cancels its transfers.
func (c *Client) BanUser(username string) {
	c.post(func(c *Client) {
		c.banned.Add(username)
		c.transfers.BanUser(username, "")
	})
}

// Transfers exposes the transfer manager. Mutating calls must go through
// the event loop.
func (c *Client) Transfers() *transfer.Manager { return c.transfers }

// user returns the tracking entry for username, creating it on first
// reference.
func (c *Client) user(username string) *core.UserAddr {
	u, ok := c.users[username]
	if !ok {
		u = core.NewUserAddr()
		c.users[username] = u
	}
	return u
}

// mintToken returns the next unused reverse-connect token.
func (c *Client) mintToken() core.Token {
	for {
		c.nextToken++
		if c.nextToken == 0 {
			c.nextToken++
		}
		if _, err := c.registry.FindByToken(c.nextToken); err != nil {
			return c.nextToken
		}
	}
}

func folderKey(username, folder string) string {
	return username + "|" + folder
}

// transferEnv adapts Client to transfer.Env without widening the Client
// method set.
type transferEnv Client

func (e *transferEnv) client() *Client { return (*Client)(e) }

func (e *transferEnv) RequestToPeer(username string, msg protocol.Message) {
	e.client().requestToPeer(username, msg, nil)
}

func (e *transferEnv) SendServer(msg protocol.ServerMessage) {
	e.client().sendServer(msg)
}

func (e *transferEnv) WatchUser(username string) {
	e.client().watchUser(username)
}

func (e *transferEnv) UserStatus(username string) core.UserStatus {
	c := e.client()
	if u, ok := c.users[username]; ok {
		return u.Status
	}
	return core.StatusUnknown
}

func (e *transferEnv) CheckUser(username string) (int, string) {
	c := e.client()
	var addr *core.Addr
	if u, ok := c.users[username]; ok {
		addr = u.Addr
	}
	return c.checkUser(username, addr)
}

func (e *transferEnv) IsBuddy(username string) bool {
	_, ok := e.client().buddies[username]
	return ok
}

func (e *transferEnv) BuddyPrivileged(username string) bool {
	return e.client().buddies[username].Privileged
}

func (e *transferEnv) BuddyTrusted(username string) bool {
	return e.client().buddies[username].Trusted
}

func (e *transferEnv) RequestedFolder(username, folder string) string {
	return e.client().requestedFolders[folderKey(username, folder)]
}

func (e *transferEnv) Schedule(name string, d time.Duration, f func()) {
	c := e.client()
	c.timers.Schedule(name, d, func() {
		c.loop.send(funcEvent{func(*Client) { f() }})
	})
}

func (e *transferEnv) CancelTimer(name string) bool {
	return e.client().timers.Cancel(name)
}

// sendServer queues msg on the server connection, logging failures. Callers
// on the event loop treat the server link as fire-and-forget; loss surfaces
// through ServerClosed.
func (c *Client) sendServer(msg protocol.ServerMessage) {
	if err := c.net.SendServer(msg); err != nil {
		log.With("msg", msg).Infof("Cannot send server message: %s", err)
	}
}

// watchUser subscribes to username's presence, deduped, and requests a
// fresh status.
func (c *Client) watchUser(username string) {
	// Watched users always have a tracking entry, even before the server
	// confirms the subscription.
	c.user(username)
	if c.watchedUsers.Has(username) {
		c.sendServer(protocol.GetUserStatus{Username: username})
		return
	}
	c.watchedUsers.Add(username)
	c.sendServer(protocol.AddUser{Username: username})
	c.sendServer(protocol.GetUserStatus{Username: username})
}
