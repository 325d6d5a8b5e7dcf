package client

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/client/connregistry"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

func connectTimer(t core.Token) string {
	return fmt.Sprintf("connect:%d", t)
}

func kindFor(msg protocol.Message) core.ConnKind {
	if _, ok := msg.(protocol.FileRequest); ok {
		return core.KindFile
	}
	return core.KindPeer
}

// requestToPeer routes msg to username, reusing an established 'P' channel
// when one exists. File requests always ride a fresh 'F' socket. A nil addr
// means the address must be resolved first.
func (c *Client) requestToPeer(username string, msg protocol.Message, addr *core.Addr) {
	c.requestToPeerKind(username, msg, kindFor(msg), addr)
}

func (c *Client) requestToPeerKind(
	username string, msg protocol.Message, kind core.ConnKind, addr *core.Addr) {

	if msg != nil && kind == core.KindPeer {
		if conn, err := c.registry.FindEstablished(username, kind); err == nil {
			if err := c.net.SendPeer(conn.ID, msg); err == nil {
				if req, ok := msg.(protocol.TransferRequest); ok {
					c.transfers.GotConnect(req.Req, conn.ID)
				}
				return
			}
		}
	}

	// Every request without a live channel gets its own attempt, even
	// when one is already in flight for the same user.
	conn := &connregistry.Conn{Username: username, Kind: kind, Addr: addr}
	if msg != nil {
		conn.Pending = append(conn.Pending, msg)
	}
	if err := c.registry.Add(conn); err != nil {
		log.With("user", username).Errorf("Cannot track peer conn: %s", err)
		return
	}
	c.connectToPeer(conn)
}

// connectToPeer starts establishing conn. When we are firewalled the peer
// must be dialed directly, resolving its address first; otherwise the
// simplest reliable path is asking the server to have the peer connect back
// to our listener.
func (c *Client) connectToPeer(conn *connregistry.Conn) {
	u := c.user(conn.Username)
	if conn.Addr == nil && u.Addr != nil {
		addr := *u.Addr
		conn.Addr = &addr
	}

	if c.config.Firewalled {
		switch {
		case conn.Addr == nil:
			c.requestPeerAddress(conn.Username)
		case u.Behind == core.FirewallYes:
			c.indirectConnect(conn)
		default:
			c.net.DialPeer(*conn.Addr)
		}
	} else {
		c.indirectConnect(conn)
	}

	c.notifyNegotiation(conn)
}

// notifyNegotiation tells the transfer manager what stage any pending
// transfer requests reached.
func (c *Client) notifyNegotiation(conn *connregistry.Conn) {
	for _, msg := range conn.Pending {
		req, ok := msg.(protocol.TransferRequest)
		if !ok {
			continue
		}
		switch {
		case conn.Addr == nil:
			c.transfers.GettingAddress(req.Req)
		case conn.Token == 0:
			c.transfers.GotAddress(req.Req)
		default:
			c.transfers.GotConnectError(req.Req)
		}
	}
}

func (c *Client) requestPeerAddress(username string) {
	if c.userAddrRequested.Has(username) {
		return
	}
	c.userAddrRequested.Add(username)
	c.sendServer(protocol.GetPeerAddress{Username: username})
}

// indirectConnect asks the server to relay a reverse-connect request. The
// peer either connects back with PierceFireWall or reports failure with
// CantConnectToPeer; a timer bounds the wait.
func (c *Client) indirectConnect(conn *connregistry.Conn) {
	token := c.mintToken()
	if err := c.registry.SetToken(conn, token); err != nil {
		log.With("user", conn.Username).Errorf("Cannot index token: %s", err)
		return
	}
	conn.Indirect = true
	c.sendServer(protocol.ConnectToPeer{
		Token:    token,
		Username: conn.Username,
		Kind:     conn.Kind,
	})
	c.timers.Schedule(connectTimer(token), c.config.ConnectTimeout, func() {
		c.loop.send(funcEvent{func(c *Client) { c.peerConnectTimeout(token) }})
	})
}

// handleDialError resolves a failed outbound dial back to its attempt. A
// first failure latches the peer as firewalled and falls back to an
// indirect connect; a failure of the connect-back dial gives up.
func (c *Client) handleDialError(addr core.Addr, err error) {
	conn, ferr := c.registry.FindByPendingAddr(addr)
	if ferr != nil {
		log.With("addr", addr).Debugf("Dial error for unknown attempt: %s", err)
		return
	}
	log.With("user", conn.Username, "addr", addr).Infof("Cannot connect to peer: %s", err)

	if conn.Token == 0 {
		c.user(conn.Username).Behind = core.FirewallYes
		c.indirectConnect(conn)
		c.notifyNegotiation(conn)
		return
	}

	// The dial was our answer to the peer's relayed connect request;
	// nothing more we can do.
	c.sendServer(protocol.CantConnectToPeer{Token: conn.Token, Username: conn.Username})
	c.peerConnectFailed(conn)
}

// peerConnectTimeout fires when a relayed connect request went unanswered.
func (c *Client) peerConnectTimeout(token core.Token) {
	conn, err := c.registry.FindByToken(token)
	if err != nil || conn.ID != 0 {
		return
	}
	log.With("user", conn.Username, "token", token).Info("Peer connect request timed out")
	c.peerConnectFailed(conn)
}

// handleCantConnect processes the peer's report that it could not connect
// back to us.
func (c *Client) handleCantConnect(token core.Token) {
	conn, err := c.registry.FindByToken(token)
	if err != nil {
		return
	}
	log.With("user", conn.Username, "token", token).Info("Peer cannot connect to us")
	c.peerConnectFailed(conn)
}

func (c *Client) peerConnectFailed(conn *connregistry.Conn) {
	if conn.Token != 0 {
		c.timers.Cancel(connectTimer(conn.Token))
	}
	if conn.Parent {
		c.parentGone()
	}
	for _, msg := range conn.Pending {
		switch m := msg.(type) {
		case protocol.TransferRequest:
			c.transfers.GotCantConnect(m.Req)
		case protocol.FileRequest:
			c.transfers.GotCantConnect(m.Req)
		}
	}
	c.registry.Remove(conn)
}

// handlePeerConnected binds a successful outbound dial, writes the init
// handshake, and drains queued messages.
func (c *Client) handlePeerConnected(id core.ConnID, addr core.Addr) {
	conn, err := c.registry.FindByPendingAddr(addr)
	if err != nil {
		log.With("id", id, "addr", addr).Info("Connected socket has no attempt, closing")
		c.net.Close(id)
		return
	}
	if err := c.registry.Bind(conn, id); err != nil {
		log.With("conn", conn).Errorf("Cannot bind socket: %s", err)
		c.net.Close(id)
		return
	}

	var init protocol.InitMessage
	if conn.Token != 0 {
		// We are answering the peer's relayed request; identify by its
		// token.
		c.timers.Cancel(connectTimer(conn.Token))
		init = protocol.PierceFireWall{Token: conn.Token}
	} else {
		init = protocol.PeerInit{Username: c.config.Login, Kind: conn.Kind}
	}
	if err := c.net.StartPeer(id, init, conn.Kind); err != nil {
		log.With("conn", conn).Infof("Cannot start peer conn: %s", err)
		return
	}
	c.stats.Counter("peer_connects").Inc(1)
	c.flushPending(conn)
}

// handlePeerAccepted registers an inbound socket once its handshake arrived.
func (c *Client) handlePeerAccepted(id core.ConnID, addr core.Addr, init protocol.InitMessage) {
	switch m := init.(type) {
	case protocol.PeerInit:
		if c.ipIgnored(addr.IP) {
			log.With("user", m.Username, "addr", addr).Info("Ignoring connection from blocked IP")
			c.net.Close(id)
			return
		}
		conn := &connregistry.Conn{Username: m.Username, Kind: m.Kind, ID: id, Addr: &addr}
		if err := c.registry.Add(conn); err != nil {
			log.With("user", m.Username).Errorf("Cannot track inbound conn: %s", err)
			c.net.Close(id)
			return
		}
		if err := c.net.StartPeer(id, nil, m.Kind); err != nil {
			log.With("conn", conn).Infof("Cannot start peer conn: %s", err)
			return
		}
		if m.Kind == core.KindFile {
			c.net.AwaitFileRequest(id)
		}

	case protocol.PierceFireWall:
		conn, err := c.registry.FindByToken(m.Token)
		if err != nil {
			log.With("token", m.Token, "addr", addr).Info("Unsolicited pierce, closing")
			c.net.Close(id)
			return
		}
		c.timers.Cancel(connectTimer(m.Token))
		if err := c.registry.Bind(conn, id); err != nil {
			log.With("conn", conn).Errorf("Cannot bind socket: %s", err)
			c.net.Close(id)
			return
		}
		conn.Addr = &addr
		init := protocol.PeerInit{Username: c.config.Login, Kind: conn.Kind}
		if err := c.net.StartPeer(id, init, conn.Kind); err != nil {
			log.With("conn", conn).Infof("Cannot start peer conn: %s", err)
			return
		}
		c.stats.Counter("peer_connects").Inc(1)
		c.flushPending(conn)
	}
}

// flushPending drains messages queued before the socket was ready, exactly
// once, in order.
func (c *Client) flushPending(conn *connregistry.Conn) {
	pending := conn.Pending
	conn.Pending = nil
	for _, msg := range pending {
		switch m := msg.(type) {
		case protocol.FileRequest:
			if err := c.net.SendPeer(conn.ID, m); err != nil {
				continue
			}
			c.transfers.FileConnOpened(conn.ID, m.Req)
		case protocol.TransferRequest:
			if err := c.net.SendPeer(conn.ID, m); err != nil {
				continue
			}
			c.transfers.GotConnect(m.Req, conn.ID)
		default:
			c.net.SendPeer(conn.ID, msg)
		}
	}
}

// handlePeerAddress resumes attempts waiting on an address lookup. The
// server answers port 0 while it has no usable address; re-ask a bounded
// number of times before giving up and dialing whatever came back.
func (c *Client) handlePeerAddress(msg protocol.PeerAddressReply) {
	waiting := func() []*connregistry.Conn {
		var out []*connregistry.Conn
		for _, conn := range c.registry.All() {
			if conn.Username == msg.Username && conn.ID == 0 && conn.Addr == nil && conn.Token == 0 {
				out = append(out, conn)
			}
		}
		return out
	}

	conns := waiting()
	if msg.Port == 0 {
		retry := false
		for _, conn := range conns {
			if conn.AddrRetries < c.config.MaxAddrRetries {
				conn.AddrRetries++
				retry = true
			}
		}
		if retry {
			c.sendServer(protocol.GetPeerAddress{Username: msg.Username})
			return
		}
	}

	c.userAddrRequested.Remove(msg.Username)
	u := c.user(msg.Username)
	u.Addr = &core.Addr{IP: msg.IP, Port: msg.Port}

	for _, conn := range conns {
		conn.AddrRetries = 0
		addr := *u.Addr
		conn.Addr = &addr
		if u.Behind == core.FirewallYes {
			c.indirectConnect(conn)
		} else {
			c.net.DialPeer(addr)
		}
		c.notifyNegotiation(conn)
	}
}

// handleConnectToPeer answers the server relaying a peer's reverse-connect
// request: dial them and identify with their token.
func (c *Client) handleConnectToPeer(msg protocol.ConnectToPeer) {
	if c.ipIgnored(msg.IP) {
		log.With("user", msg.Username, "ip", msg.IP).Info("Ignoring connect request from blocked IP")
		return
	}
	addr := core.Addr{IP: msg.IP, Port: msg.Port}
	conn := &connregistry.Conn{
		Username: msg.Username,
		Kind:     msg.Kind,
		Token:    msg.Token,
		Addr:     &addr,
		Indirect: true,
	}
	if err := c.registry.Add(conn); err != nil {
		log.With("user", msg.Username, "token", msg.Token).Infof("Cannot track connect request: %s", err)
		return
	}
	c.net.DialPeer(addr)
}

// handlePeerClosed cleans up after a peer socket, telling the transfer
// manager whether the user is gone or just the connection.
func (c *Client) handlePeerClosed(id core.ConnID) {
	conn, err := c.registry.FindByID(id)
	if err != nil {
		return
	}
	offline := false
	if u, ok := c.users[conn.Username]; ok {
		offline = u.Status == core.StatusOffline
	}
	c.transfers.ConnClosed(id, conn.Username, offline)
	if conn.Parent {
		c.parentGone()
	}
	if conn.Token != 0 {
		c.timers.Cancel(connectTimer(conn.Token))
	}
	c.registry.Remove(conn)
}

func (c *Client) handlePeerMessage(id core.ConnID, msg protocol.PeerMessage) {
	conn, err := c.registry.FindByID(id)
	if err != nil {
		log.With("id", id).Info("Message on unknown conn, closing")
		c.net.Close(id)
		return
	}
	c.dispatchPeerMessage(id, conn.Username, conn.Addr, msg)
}

func (c *Client) dispatchPeerMessage(
	id core.ConnID, username string, addr *core.Addr, msg protocol.PeerMessage) {

	switch m := msg.(type) {
	case protocol.TransferRequest:
		c.transfers.HandleTransferRequest(id, username, m)
	case protocol.TransferResponse:
		c.transfers.HandleTransferResponse(username, m)
	case protocol.QueueUpload:
		c.transfers.HandleQueueUpload(id, username, m)
	case protocol.QueueFailed:
		c.transfers.HandleQueueFailed(username, m)
	case protocol.UploadFailed:
		c.transfers.HandleUploadFailed(username, m)
	case protocol.PlaceInQueueRequest:
		c.transfers.HandlePlaceInQueueRequest(id, username, m)
	case protocol.PlaceInQueue:
		c.transfers.HandlePlaceInQueue(username, m)
	case protocol.UploadQueueNotification:
		c.transfers.HandleUploadQueueNotification(username)
	case protocol.GetSharedFileList:
		c.handleSharedFileListRequest(id, username, addr)
	case protocol.SharedFileList:
		log.With("user", username, "folders", len(m.Folders)).Info("Received share listing")
	case protocol.UserInfoRequest:
		c.handleUserInfoRequest(id, username, addr)
	case protocol.UserInfoReply:
		log.With("user", username).Infof("User info: %s", m.Description)
	case protocol.FolderContentsRequest:
		c.handleFolderContentsRequest(id, username, m)
	case protocol.FolderContentsResponse:
		c.transfers.HandleFolderContentsResponse(username, m)
	case protocol.PeerMessageUser:
		if m.Username != username {
			log.With("claimed", m.Username, "actual", username).Warn(
				"Peer chat message with spoofed username, dropping")
			return
		}
		log.With("user", username).Infof("Private message: %s", m.Text)
	default:
		log.With("user", username, "msg", msg).Debug("Unhandled peer message")
	}
}

// throttled enforces the per-user window on browse and info requests.
func (c *Client) throttled(kind, username string) bool {
	key := kind + "|" + username
	now := c.clk.Now()
	if last, ok := c.peerRequestTimes[key]; ok && now.Sub(last) < c.config.PeerRequestWindow {
		log.With("user", username).Debugf("Ignoring repeated %s request", kind)
		return true
	}
	c.peerRequestTimes[key] = now
	return false
}

func (c *Client) handleSharedFileListRequest(id core.ConnID, username string, addr *core.Addr) {
	if username == c.config.Login {
		c.logSpoofAttempt(username, addr, "shares")
		c.net.Close(id)
		return
	}
	if c.throttled("shares", username) {
		return
	}
	if addr != nil && c.checkSpoof(username, addr.IP) {
		c.net.Close(id)
		return
	}

	tier, _ := c.checkUser(username, addr)
	var folders map[string][]protocol.FileEntry
	switch tier {
	case 2:
		folders = c.shares.List(true)
	case 1:
		folders = c.shares.List(false)
	}
	c.net.SendPeer(id, protocol.SharedFileList{Folders: folders})
}

func (c *Client) handleUserInfoRequest(id core.ConnID, username string, addr *core.Addr) {
	if username == c.config.Login {
		c.logSpoofAttempt(username, addr, "user info")
		c.net.Close(id)
		return
	}
	if c.throttled("user info", username) {
		return
	}
	if addr != nil && c.checkSpoof(username, addr.IP) {
		c.net.Close(id)
		return
	}

	if tier, _ := c.checkUser(username, addr); tier == 0 {
		log.With("user", username).Warn("Banned user requested your user info")
	}

	var picture []byte
	if c.config.PictureFile != "" {
		data, err := ioutil.ReadFile(c.config.PictureFile)
		if err != nil {
			log.With("file", c.config.PictureFile).Infof("Cannot read profile picture: %s", err)
		} else {
			picture = data
		}
	}

	queue, _ := c.transfers.QueueSizes(username)
	c.net.SendPeer(id, protocol.UserInfoReply{
		Description:   c.config.Description,
		Picture:       picture,
		TotalUpl:      c.transfers.TotalUploadsAllowed(),
		QueueSize:     queue,
		SlotsFree:     c.transfers.SlotsAvailable(),
		UploadAllowed: c.transfers.UploadAllowedMode(),
	})
}

func (c *Client) handleFolderContentsRequest(
	id core.ConnID, username string, msg protocol.FolderContentsRequest) {

	var addr *core.Addr
	if u, ok := c.users[username]; ok {
		addr = u.Addr
	}
	tier, reason := c.checkUser(username, addr)
	if tier == 0 {
		c.sendServer(protocol.MessageUser{
			Username: username,
			Text:     "[Automatic Message] " + reason,
		})
		return
	}

	buddy := tier == 2
	folders := c.shares.FolderContents(msg.Folder, buddy)
	if len(folders) == 0 {
		folders = c.shares.FolderContents(strings.TrimRight(msg.Folder, "\\"), buddy)
	}
	if len(folders) == 0 && buddy {
		folders = c.shares.FolderContents(msg.Folder, false)
	}
	c.net.SendPeer(id, protocol.FolderContentsResponse{Folders: folders})
}

func (c *Client) logSpoofAttempt(username string, addr *core.Addr, what string) {
	if addr != nil {
		log.With("user", username, "addr", *addr).Warnf(
			"Blocking %s request under our own login, possible spoofing attempt", what)
		return
	}
	log.With("user", username).Warnf(
		"Blocking %s request under our own login, possible spoofing attempt", what)
}
