package core

import "fmt"

// ConnKind is the single-byte peer connection type exchanged in PeerInit.
type ConnKind byte

// Peer connection kinds.
const (
	// KindPeer carries generic peer messages (browse, user info, transfer
	// negotiation).
	KindPeer ConnKind = 'P'

	// KindFile carries a single file transfer payload.
	KindFile ConnKind = 'F'

	// KindDistributed carries distributed-search traffic from a parent peer.
	KindDistributed ConnKind = 'D'
)

func (k ConnKind) String() string {
	return string(rune(k))
}

// Token is a 32-bit nonce minted locally and sent via the server to ask a
// firewalled peer to connect back and identify itself with PierceFireWall.
// The zero value means "no token".
type Token uint32

// RequestID identifies a transfer negotiation. The zero value means "no
// request".
type RequestID uint32

// ConnID is an opaque socket handle assigned by NetIO. The zero value means
// "no socket".
type ConnID int64

// Addr is a peer network address.
type Addr struct {
	IP   string
	Port int
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}
