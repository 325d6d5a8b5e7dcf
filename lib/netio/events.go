package netio

import (
	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

// Events is the sink NetIO posts into. Implementations must not block and
// must not call back into NetIO synchronously; the client core satisfies this
// by converting each call into an event-loop event.
type Events interface {
	// ListenPort fires once the listener is bound.
	ListenPort(port int)

	// ServerConnected fires when the server dial succeeds.
	ServerConnected()

	// ServerMessage fires per decoded server message.
	ServerMessage(msg protocol.ServerMessage)

	// ServerClosed fires when the server connection is lost, with the read
	// error that ended it (nil on local close).
	ServerClosed(err error)

	// PeerConnected fires when an outbound peer dial succeeds.
	PeerConnected(id core.ConnID, addr core.Addr)

	// DialError fires when an outbound peer dial fails. The attempt is
	// identified by address since no socket exists.
	DialError(addr core.Addr, err error)

	// PeerAccepted fires when an inbound peer socket delivered its init
	// message.
	PeerAccepted(id core.ConnID, addr core.Addr, init protocol.InitMessage)

	// PeerMessage fires per decoded message on a 'P' connection.
	PeerMessage(id core.ConnID, msg protocol.PeerMessage)

	// DistribMessage fires per decoded message on a 'D' connection.
	DistribMessage(id core.ConnID, msg protocol.DistribMessage)

	// FileRequestReceived fires when an 'F' connection identified the
	// transfer negotiation it belongs to.
	FileRequestReceived(id core.ConnID, req core.RequestID)

	// FileOffsetReceived fires when the downloading side named its resume
	// offset on an 'F' connection.
	FileOffsetReceived(id core.ConnID, offset int64)

	// FileProgress fires per payload chunk with the cumulative byte count of
	// the current streaming operation.
	FileProgress(id core.ConnID, bytes int64)

	// FileComplete fires when a streaming operation finished cleanly.
	FileComplete(id core.ConnID)

	// FileError fires when a streaming operation failed.
	FileError(id core.ConnID, err error)

	// PeerClosed fires exactly once when a peer connection is torn down.
	PeerClosed(id core.ConnID)
}
