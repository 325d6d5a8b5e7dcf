package protocol

import "github.com/gosoulseek/gosoulseek/core"

// Login authenticates a session. Version/Minor should be ClientVersion and
// ClientMinor.
type Login struct {
	serverMsg
	Username string
	Password string
	Version  int
	Minor    int
}

// LoginReply reports login outcome. On failure Reason carries the server's
// explanation and the session must not reconnect automatically.
type LoginReply struct {
	serverMsg
	Success  bool
	Reason   string
	Greeting string
	OwnIP    string
}

// SetWaitPort advertises our listening port to the server.
type SetWaitPort struct {
	serverMsg
	Port int
}

// GetPeerAddress asks the server for a user's last known address.
type GetPeerAddress struct {
	serverMsg
	Username string
}

// PeerAddressReply answers GetPeerAddress. Port 0 means the server does not
// have a usable address yet.
type PeerAddressReply struct {
	serverMsg
	Username string
	IP       string
	Port     int
}

// ConnectToPeer is dual-purpose. Outbound it asks the server to relay a
// reverse-connect request (Token, Username, Kind set; address empty). Inbound
// it notifies us that Username wants us to connect back to IP:Port and
// identify with PierceFireWall(Token).
type ConnectToPeer struct {
	serverMsg
	Token    core.Token
	Username string
	Kind     core.ConnKind
	IP       string
	Port     int
}

// CantConnectToPeer reports that a relayed connect attempt failed on our end.
type CantConnectToPeer struct {
	serverMsg
	Token    core.Token
	Username string
}

// GetUserStatus asks for a user's presence.
type GetUserStatus struct {
	serverMsg
	Username string
}

// UserStatusReply answers GetUserStatus, and is also pushed unsolicited for
// watched users.
type UserStatusReply struct {
	serverMsg
	Username   string
	Status     core.UserStatus
	Privileged bool
}

// AddUser subscribes to status updates for a user.
type AddUser struct {
	serverMsg
	Username string
}

// AddUserReply answers AddUser with the user's existence and stats.
type AddUserReply struct {
	serverMsg
	Username    string
	Exists      bool
	Status      core.UserStatus
	AvgSpeed    int
	Uploads     int64
	Files       int
	Directories int
	CountryCode string
}

// SetStatus publishes our own away/online state.
type SetStatus struct {
	serverMsg
	Status core.UserStatus
}

// HaveNoParent tells the server whether we need a distributed parent.
type HaveNoParent struct {
	serverMsg
	Value bool
}

// AcceptChildren tells the server whether we accept distributed children.
// Always sent false: child forwarding is not implemented.
type AcceptChildren struct {
	serverMsg
	Value bool
}

// SearchParent announces the parent we adopted.
type SearchParent struct {
	serverMsg
	IP string
}

// ParentCandidate is one entry of PossibleParents.
type ParentCandidate struct {
	Username string
	Addr     core.Addr
}

// PossibleParents lists up to 10 candidate distributed parents.
type PossibleParents struct {
	serverMsg
	Candidates []ParentCandidate
}

// CheckPrivileges asks the server for our remaining privilege time.
type CheckPrivileges struct {
	serverMsg
}

// PrivilegesReply answers CheckPrivileges with seconds remaining.
type PrivilegesReply struct {
	serverMsg
	Seconds int64
}

// PrivilegedUsers is the server's list of privileged users, sent after login.
type PrivilegedUsers struct {
	serverMsg
	Users []string
}

// AddToPrivileged adds a single user to the privileged set.
type AddToPrivileged struct {
	serverMsg
	Username string
}

// UserPrivileged answers a per-user privilege query.
type UserPrivileged struct {
	serverMsg
	Username   string
	Privileged bool
}

// NotifyPrivileges tells us another user gifted us privileges.
type NotifyPrivileges struct {
	serverMsg
	Token    core.Token
	Username string
}

// AckNotifyPrivileges acknowledges NotifyPrivileges with the same token.
type AckNotifyPrivileges struct {
	serverMsg
	Token core.Token
}

// Relogged means this account logged in elsewhere. The session must not
// reconnect.
type Relogged struct {
	serverMsg
}

// TunneledMessage carries a peer-channel message relayed through the server.
// Deprecated path; Payload is decoded through Codec.DecodePeer.
type TunneledMessage struct {
	serverMsg
	Username string
	Req      core.RequestID
	Code     int
	IP       string
	Port     int
	Payload  []byte
}

// AddThingILike publishes an interest.
type AddThingILike struct {
	serverMsg
	Item string
}

// AddThingIHate publishes a disinterest.
type AddThingIHate struct {
	serverMsg
	Item string
}

// SendUploadSpeed reports the speed of a finished upload to the server.
type SendUploadSpeed struct {
	serverMsg
	Speed int
}

// MessageUser sends a private chat message.
type MessageUser struct {
	serverMsg
	Username string
	Text     string
}

// PrivateRoomToggle enables or disables private room invitations.
type PrivateRoomToggle struct {
	serverMsg
	Enabled bool
}
