package protocol

import (
	"fmt"
	"io"
)

// Codec frames messages on the wire. Implementations are external to this
// repository; the client core and netio depend on this interface only.
type Codec interface {
	// ReadServer decodes the next server-channel message from r.
	ReadServer(r io.Reader) (ServerMessage, error)

	// WriteServer encodes msg onto w.
	WriteServer(w io.Writer, msg ServerMessage) error

	// ReadInit decodes the handshake message of an inbound peer socket,
	// either PeerInit or PierceFireWall.
	ReadInit(r io.Reader) (InitMessage, error)

	// WriteInit encodes a handshake message onto a fresh peer socket.
	WriteInit(w io.Writer, msg InitMessage) error

	// ReadPeer decodes the next peer-channel message from r.
	ReadPeer(r io.Reader) (PeerMessage, error)

	// WritePeer encodes msg onto w.
	WritePeer(w io.Writer, msg PeerMessage) error

	// ReadDistrib decodes the next distributed-channel message from r.
	ReadDistrib(r io.Reader) (DistribMessage, error)

	// WriteDistrib encodes msg onto w.
	WriteDistrib(w io.Writer, msg DistribMessage) error

	// ReadFileRequest decodes the transfer id opening an 'F' connection.
	// Writes of FileRequest and FileOffset go through WritePeer.
	ReadFileRequest(r io.Reader) (FileRequest, error)

	// ReadFileOffset decodes the resume offset on an 'F' connection.
	ReadFileOffset(r io.Reader) (FileOffset, error)

	// DecodePeer decodes a peer-channel payload given its message code.
	// Used for messages tunneled through the server.
	DecodePeer(code int, payload []byte) (PeerMessage, error)
}

var _codecs = make(map[string]func() Codec)

// RegisterCodec makes a codec constructor available under name. Codec
// implementations call this from an init and are linked into the binary by
// importing their package.
func RegisterCodec(name string, f func() Codec) {
	if _, ok := _codecs[name]; ok {
		panic(fmt.Sprintf("codec %q registered twice", name))
	}
	_codecs[name] = f
}

// NewCodec constructs the registered codec under name.
func NewCodec(name string) (Codec, error) {
	f, ok := _codecs[name]
	if !ok {
		return nil, fmt.Errorf("no codec registered under %q", name)
	}
	return f(), nil
}
