package client

import (
	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
	"github.com/gosoulseek/gosoulseek/utils/stringset"
)

const reconnectTimer = "server-reconnect"

func (c *Client) connectToServer() {
	log.With("addr", c.config.ServerAddr).Info("Connecting to server")
	c.net.DialServer(c.config.ServerAddr)
}

// handleListenPort latches the bound peer port. Sent to the server
// immediately if a session is up, otherwise on the next ServerConnected.
func (c *Client) handleListenPort(port int) {
	c.listenPort = port
	log.With("port", port).Info("Listening for peer connections")
	if c.serverUp {
		c.sendServer(protocol.SetWaitPort{Port: port})
	}
}

func (c *Client) handleServerConnected() {
	c.serverUp = true
	c.stats.Counter("server_connects").Inc(1)
	c.sendServer(protocol.Login{
		Username: c.config.Login,
		Password: c.config.Password,
		Version:  protocol.ClientVersion,
		Minor:    protocol.ClientMinor,
	})
	if c.listenPort != 0 {
		c.sendServer(protocol.SetWaitPort{Port: c.listenPort})
	}
}

func (c *Client) handleServerMessage(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.LoginReply:
		c.handleLoginReply(m)
	case protocol.PeerAddressReply:
		c.handlePeerAddress(m)
	case protocol.ConnectToPeer:
		c.handleConnectToPeer(m)
	case protocol.CantConnectToPeer:
		c.handleCantConnect(m.Token)
	case protocol.UserStatusReply:
		c.handleUserStatus(m)
	case protocol.AddUserReply:
		c.handleAddUserReply(m)
	case protocol.PossibleParents:
		c.handlePossibleParents(m)
	case protocol.PrivilegedUsers:
		c.handlePrivilegedUsers(m)
	case protocol.AddToPrivileged:
		c.transfers.AddToPrivileged(m.Username)
	case protocol.UserPrivileged:
		if m.Privileged {
			c.transfers.AddToPrivileged(m.Username)
		}
	case protocol.PrivilegesReply:
		c.logPrivileges(m.Seconds)
	case protocol.NotifyPrivileges:
		// TODO: surface the gifted privileges to the user instead of
		// just acknowledging.
		c.sendServer(protocol.AckNotifyPrivileges{Token: m.Token})
	case protocol.Relogged:
		log.Warn("Someone logged in to your account elsewhere, disconnecting")
		c.manualDisconnect = true
	case protocol.MessageUser:
		log.With("user", m.Username).Infof("Private message: %s", m.Text)
	case protocol.TunneledMessage:
		c.handleTunneled(m)
	default:
		log.With("msg", msg).Debug("Unhandled server message")
	}
}

func (c *Client) handleLoginReply(msg protocol.LoginReply) {
	if !msg.Success {
		log.Errorf("Cannot log in: %s", msg.Reason)
		c.manualDisconnect = true
		c.net.CloseServer()
		return
	}

	c.loggedIn = true
	c.reconnectAttempt = 0
	log.With("user", c.config.Login, "ip", msg.OwnIP).Info("Logged in")
	if msg.Greeting != "" {
		log.Infof("Server greeting: %s", msg.Greeting)
	}

	status := core.StatusOnline
	if c.config.Away {
		status = core.StatusAway
	}
	c.sendServer(protocol.SetStatus{Status: status})

	for _, item := range c.config.Likes {
		c.sendServer(protocol.AddThingILike{Item: item})
	}
	for _, item := range c.config.Dislikes {
		c.sendServer(protocol.AddThingIHate{Item: item})
	}

	c.sendServer(protocol.HaveNoParent{Value: true})
	c.sendServer(protocol.AcceptChildren{Value: false})
	c.sendServer(protocol.NotifyPrivileges{Token: 1, Username: c.config.Login})
	c.sendServer(protocol.CheckPrivileges{})
	c.sendServer(protocol.PrivateRoomToggle{Enabled: c.config.PrivateChatrooms})

	// Watches do not survive a server session; re-subscribe everything
	// the transfer queue depends on.
	for _, username := range c.watchedUsers.ToSlice() {
		c.sendServer(protocol.AddUser{Username: username})
		c.sendServer(protocol.GetUserStatus{Username: username})
	}
}

func (c *Client) handleUserStatus(msg protocol.UserStatusReply) {
	u := c.user(msg.Username)
	u.Status = msg.Status
	if msg.Privileged {
		c.transfers.AddToPrivileged(msg.Username)
	}
	if b, ok := c.buddies[msg.Username]; ok && b.Notify && msg.Status != core.StatusOffline {
		log.With("user", msg.Username).Info("Buddy is online")
	}
	c.transfers.UserStatusChanged(msg.Username, msg.Status)
}

func (c *Client) handleAddUserReply(msg protocol.AddUserReply) {
	if !msg.Exists {
		log.With("user", msg.Username).Info("User does not exist")
		return
	}
	u := c.user(msg.Username)
	u.Status = msg.Status
	if msg.CountryCode != "" {
		log.With("user", msg.Username, "country", msg.CountryCode).Debug("User stats")
	}
	c.transfers.UserStatusChanged(msg.Username, msg.Status)
}

func (c *Client) handlePrivilegedUsers(msg protocol.PrivilegedUsers) {
	c.transfers.SetPrivilegedUsers(msg.Users)
	log.Infof("%d privileged users", len(msg.Users))
	c.sendServer(protocol.HaveNoParent{Value: true})
	c.sendServer(protocol.AddUser{Username: c.config.Login})
}

func (c *Client) logPrivileges(seconds int64) {
	if seconds == 0 {
		log.Info("You have no privileges left. They are not necessary, but allow your downloads to be queued ahead of non-privileged users.")
		return
	}
	days := seconds / (24 * 3600)
	hours := seconds / 3600 % 24
	mins := seconds / 60 % 60
	log.Infof("%d days, %d hours, %d minutes, %d seconds of download privileges left",
		days, hours, mins, seconds%60)
}

// handleTunneled decodes a peer message relayed through the server and runs
// it through the normal peer dispatch. Legacy path; replies that need a
// socket are dropped.
func (c *Client) handleTunneled(msg protocol.TunneledMessage) {
	decoded, err := c.codec.DecodePeer(msg.Code, msg.Payload)
	if err != nil {
		log.With("user", msg.Username, "code", msg.Code).Infof("Cannot decode tunneled message: %s", err)
		return
	}
	addr := core.Addr{IP: msg.IP, Port: msg.Port}
	c.dispatchPeerMessage(0, msg.Username, &addr, decoded)
}

// handleServerClosed tears the session down and schedules a reconnect,
// unless the disconnect was deliberate.
func (c *Client) handleServerClosed(err error) {
	if err != nil {
		log.Infof("Server connection lost: %s", err)
	} else {
		log.Info("Server connection closed")
	}

	c.serverUp = false
	c.loggedIn = false
	c.net.CloseServer()

	c.transfers.AbortTransfers()
	c.transfers.SaveDownloads()

	for _, conn := range c.registry.All() {
		if conn.Token != 0 {
			c.timers.Cancel(connectTimer(conn.Token))
		}
		if conn.ID != 0 {
			c.net.Close(conn.ID)
		}
		c.registry.Remove(conn)
	}
	c.parent = nil
	c.userAddrRequested = stringset.New()

	if c.manualDisconnect {
		c.manualDisconnect = false
		return
	}
	d := c.reconnect.Duration(c.reconnectAttempt)
	c.reconnectAttempt++
	log.Infof("Reconnecting in %s", d)
	c.timers.Schedule(reconnectTimer, d, func() {
		c.loop.send(connectToServerEvent{})
	})
}
