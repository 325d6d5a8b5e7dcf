package client

import (
	"fmt"
	"strings"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// checkUser applies share access policy. Tier 0 denies with a reason shown
// to the peer, 1 allows normal shares, 2 allows buddy shares.
func (c *Client) checkUser(username string, addr *core.Addr) (int, string) {
	if c.banned.Has(username) {
		if c.config.UseCustomBan && c.config.CustomBan != "" {
			return 0, fmt.Sprintf("Banned (%s)", c.config.CustomBan)
		}
		return 0, "Banned"
	}

	if _, ok := c.buddies[username]; ok {
		if c.config.EnableBuddyShares {
			return 2, ""
		}
		return 1, ""
	}

	if c.config.FriendsOnly {
		return 0, "Sorry, friends only"
	}

	if !c.config.GeoBlock {
		return 1, ""
	}

	var cc string
	if addr != nil {
		cc = c.geo.CountryCode(addr.IP)
	}
	if cc == "" {
		if c.config.GeoPanic {
			return 0, "Sorry, geographical paranoia"
		}
		return 1, ""
	}
	if strings.Contains(c.config.GeoBlockCC, cc) {
		return 0, "Sorry, your country is blocked"
	}
	return 1, ""
}

// checkSpoof reports whether ip contradicts the address the server gave us
// for username. Only a known conflicting address blocks.
func (c *Client) checkSpoof(username, ip string) bool {
	u, ok := c.users[username]
	if !ok || u.Addr == nil {
		return false
	}
	if u.Addr.IP == ip {
		return false
	}
	log.With("user", username, "known", u.Addr.IP, "got", ip).Warn(
		"Request from wrong IP for user, possible spoofing attempt")
	return true
}

// ipIgnored matches ip against the ignore list. Each pattern is four
// octets, '*' matching any value.
func (c *Client) ipIgnored(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	for _, pattern := range c.config.IPIgnoreList {
		parts := strings.Split(pattern, ".")
		if len(parts) != 4 {
			continue
		}
		match := true
		for i := range parts {
			if parts[i] != "*" && parts[i] != octets[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
