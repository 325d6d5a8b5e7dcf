package client

import (
	"time"

	"github.com/gosoulseek/gosoulseek/utils/backoff"
)

// Buddy is one user-list entry.
type Buddy struct {
	Username string `yaml:"username"`

	// Notify pops a notification when the buddy comes online.
	Notify bool `yaml:"notify"`

	// Privileged grants the buddy local queue priority.
	Privileged bool `yaml:"privileged"`

	// Trusted allows the buddy through the trusted-only remote-download
	// gate.
	Trusted bool `yaml:"trusted"`
}

// Config defines client configuration.
type Config struct {
	// ServerAddr is the host:port of the SoulSeek server.
	ServerAddr string `yaml:"server"`

	Login    string `yaml:"login"`
	Password string `yaml:"passw"`

	// Firewalled means we cannot accept inbound connections; peers are
	// dialed directly first, falling back to server-relayed reverse
	// connects.
	Firewalled bool `yaml:"firewalled"`

	BanList      []string `yaml:"banlist"`
	UserList     []Buddy  `yaml:"userlist"`
	IPIgnoreList []string `yaml:"ipignorelist"`

	PrivateChatrooms bool `yaml:"private_chatrooms"`

	// Share access policy.
	EnableBuddyShares bool `yaml:"enablebuddyshares"`
	FriendsOnly       bool `yaml:"friendsonly"`

	// Geo blocking. GeoPanic denies addresses whose country cannot be
	// resolved.
	GeoBlock   bool   `yaml:"geoblock"`
	GeoPanic   bool   `yaml:"geopanic"`
	GeoBlockCC string `yaml:"geoblockcc"`

	// Ban message shown to banned peers.
	UseCustomBan bool   `yaml:"usecustomban"`
	CustomBan    string `yaml:"customban"`

	// Interests pushed to the server after login.
	Likes    []string `yaml:"likes"`
	Dislikes []string `yaml:"dislikes"`

	Away bool `yaml:"away"`

	// Profile returned to user-info requests. PictureFile is read per
	// request so edits apply without a restart.
	Description string `yaml:"descr"`
	PictureFile string `yaml:"pic"`

	// ConnectTimeout bounds a server-relayed reverse connect attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PeerRequestWindow throttles repeated browse/user-info requests per
	// user.
	PeerRequestWindow time.Duration `yaml:"peer_request_window"`

	// MaxAddrRetries bounds port-0 address re-requests per attempt.
	MaxAddrRetries int `yaml:"max_addr_retries"`

	// Reconnect paces server reconnection.
	Reconnect backoff.Config `yaml:"reconnect"`
}

func (c Config) applyDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = "server.slsknet.org:2242"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 2 * time.Minute
	}
	if c.PeerRequestWindow == 0 {
		c.PeerRequestWindow = 10 * time.Second
	}
	if c.MaxAddrRetries == 0 {
		c.MaxAddrRetries = 10
	}
	if c.Reconnect.Min == 0 {
		c.Reconnect.Min = 15 * time.Second
	}
	if c.Reconnect.Max == 0 {
		c.Reconnect.Max = 10 * time.Minute
	}
	if c.Reconnect.Factor == 0 {
		c.Reconnect.Factor = 2
	}
	c.Reconnect.NoJitter = true
	return c
}
