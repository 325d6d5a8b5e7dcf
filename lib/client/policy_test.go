package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/geoip"
	"github.com/gosoulseek/gosoulseek/lib/transfer"
)

func TestCheckUser(t *testing.T) {
	addr := &core.Addr{IP: "1.2.3.4", Port: 2234}

	tests := []struct {
		desc     string
		config   Config
		cc       string
		username string
		addr     *core.Addr
		tier     int
		reason   string
	}{
		{
			desc:     "banned",
			config:   Config{BanList: []string{"creep"}},
			username: "creep",
			tier:     0,
			reason:   "Banned",
		}, {
			desc: "banned custom message",
			config: Config{
				BanList: []string{"creep"}, UseCustomBan: true, CustomBan: "no leechers",
			},
			username: "creep",
			tier:     0,
			reason:   "Banned (no leechers)",
		}, {
			desc: "buddy with buddy shares",
			config: Config{
				UserList: []Buddy{{Username: "pal"}}, EnableBuddyShares: true,
			},
			username: "pal",
			tier:     2,
		}, {
			desc:     "buddy without buddy shares",
			config:   Config{UserList: []Buddy{{Username: "pal"}}},
			username: "pal",
			tier:     1,
		}, {
			desc:     "friends only stranger",
			config:   Config{FriendsOnly: true},
			username: "stranger",
			tier:     0,
			reason:   "Sorry, friends only",
		}, {
			desc:     "no geo blocking",
			config:   Config{},
			username: "stranger",
			addr:     addr,
			tier:     1,
		}, {
			desc:     "geo panic unknown country",
			config:   Config{GeoBlock: true, GeoPanic: true},
			username: "stranger",
			addr:     addr,
			tier:     0,
			reason:   "Sorry, geographical paranoia",
		}, {
			desc:     "geo panic unknown address",
			config:   Config{GeoBlock: true, GeoPanic: true},
			username: "stranger",
			tier:     0,
			reason:   "Sorry, geographical paranoia",
		}, {
			desc:     "country blocked",
			config:   Config{GeoBlock: true, GeoBlockCC: "XXYY"},
			cc:       "XX",
			username: "stranger",
			addr:     addr,
			tier:     0,
			reason:   "Sorry, your country is blocked",
		}, {
			desc:     "country allowed",
			config:   Config{GeoBlock: true, GeoBlockCC: "XXYY"},
			cc:       "DE",
			username: "stranger",
			addr:     addr,
			tier:     1,
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require := require.New(t)

			test.config.Login = "me"
			c, _ := newTestClient(test.config, transfer.Config{})
			if test.cc != "" {
				c.geo = geoip.Fixed(test.cc)
			}

			tier, reason := c.checkUser(test.username, test.addr)
			require.Equal(test.tier, tier)
			require.Equal(test.reason, reason)
		})
	}
}

func TestCheckSpoof(t *testing.T) {
	require := require.New(t)

	c, _ := newTestClient(Config{Login: "me"}, transfer.Config{})

	// Unknown user or unknown address never blocks.
	require.False(c.checkSpoof("bob", "1.2.3.4"))
	c.user("bob")
	require.False(c.checkSpoof("bob", "1.2.3.4"))

	c.user("bob").Addr = &core.Addr{IP: "1.2.3.4", Port: 2234}
	require.False(c.checkSpoof("bob", "1.2.3.4"))
	require.True(c.checkSpoof("bob", "9.9.9.9"))
}

func TestIPIgnored(t *testing.T) {
	require := require.New(t)

	config := Config{
		Login:        "me",
		IPIgnoreList: []string{"10.0.0.1", "192.168.*.*"},
	}
	c, _ := newTestClient(config, transfer.Config{})

	require.True(c.ipIgnored("10.0.0.1"))
	require.False(c.ipIgnored("10.0.0.2"))
	require.True(c.ipIgnored("192.168.4.5"))
	require.False(c.ipIgnored("192.169.4.5"))
	require.False(c.ipIgnored("not-an-ip"))
}
