// Package protocol defines the decoded message types for the three SoulSeek
// channels (server, peer, distributed) and the Codec boundary which frames
// them on the wire. The client core operates on these types only and never
// touches raw bytes.
package protocol

// Client version advertised on login.
const (
	ClientVersion = 157
	ClientMinor   = 19
)

// Message is implemented by every decoded protocol message.
type Message interface {
	// Channel returns which wire channel the message belongs to.
	Channel() Channel
}

// Channel tags the three distinct message tables.
type Channel int

// Wire channels.
const (
	ChannelServer Channel = iota
	ChannelPeer
	ChannelDistributed
)

func (c Channel) String() string {
	switch c {
	case ChannelServer:
		return "server"
	case ChannelPeer:
		return "peer"
	case ChannelDistributed:
		return "distributed"
	default:
		return "unknown"
	}
}

// ServerMessage is a message on the server channel.
type ServerMessage interface {
	Message
	serverMessage()
}

// PeerMessage is a message on a peer channel.
type PeerMessage interface {
	Message
	peerMessage()
}

// DistribMessage is a message on a distributed channel.
type DistribMessage interface {
	Message
	distribMessage()
}

// InitMessage is the first message on an inbound peer socket, before the
// channel kind is known. Either PeerInit or PierceFireWall.
type InitMessage interface {
	Message
	initMessage()
}

type serverMsg struct{}

func (serverMsg) Channel() Channel { return ChannelServer }
func (serverMsg) serverMessage()   {}

type peerMsg struct{}

func (peerMsg) Channel() Channel { return ChannelPeer }
func (peerMsg) peerMessage()     {}

type distribMsg struct{}

func (distribMsg) Channel() Channel { return ChannelDistributed }
func (distribMsg) distribMessage()  {}
