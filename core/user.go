package core

// UserStatus is a user's presence as reported by the server.
type UserStatus int

// User statuses.
const (
	StatusUnknown UserStatus = -1
	StatusOffline UserStatus = 0
	StatusAway    UserStatus = 1
	StatusOnline  UserStatus = 2
)

// Firewalled is the tri-state answer to "is this user behind a firewall".
type Firewalled int

// Firewall states. FirewallYes is latched when a direct dial to the user's
// advertised address fails.
const (
	FirewallUnknown Firewalled = iota
	FirewallYes
	FirewallNo
)

// UserAddr tracks what we know about a remote user. Entries are created on
// first reference and never destroyed during a session.
type UserAddr struct {
	Addr   *Addr
	Behind Firewalled
	Status UserStatus
}

// NewUserAddr creates a UserAddr with unknown status.
func NewUserAddr() *UserAddr {
	return &UserAddr{Status: StatusUnknown}
}
