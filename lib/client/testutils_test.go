package client

import (
	"errors"
	"io"
	"os"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/geoip"
	"github.com/gosoulseek/gosoulseek/lib/netio"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/shares"
	"github.com/gosoulseek/gosoulseek/lib/transfer"
)

type startedPeer struct {
	init protocol.InitMessage
	kind core.ConnKind
}

type sentPeer struct {
	id  core.ConnID
	msg protocol.Message
}

// fakeNet records every network interaction the client makes.
type fakeNet struct {
	listening    bool
	serverAddrs  []string
	serverMsgs   []protocol.ServerMessage
	serverClosed int
	serverErr    error

	dialed   []core.Addr
	started  map[core.ConnID]startedPeer
	peerMsgs []sentPeer
	closed   []core.ConnID

	awaitedReqs    []core.ConnID
	awaitedOffsets []core.ConnID

	shutdown bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{started: make(map[core.ConnID]startedPeer)}
}

func (n *fakeNet) Listen() error { n.listening = true; return nil }

func (n *fakeNet) DialServer(addr string) { n.serverAddrs = append(n.serverAddrs, addr) }

func (n *fakeNet) SendServer(msg protocol.ServerMessage) error {
	if n.serverErr != nil {
		return n.serverErr
	}
	n.serverMsgs = append(n.serverMsgs, msg)
	return nil
}

func (n *fakeNet) CloseServer() { n.serverClosed++ }

func (n *fakeNet) DialPeer(addr core.Addr) { n.dialed = append(n.dialed, addr) }

func (n *fakeNet) StartPeer(id core.ConnID, init protocol.InitMessage, kind core.ConnKind) error {
	n.started[id] = startedPeer{init, kind}
	return nil
}

func (n *fakeNet) SendPeer(id core.ConnID, msg protocol.Message) error {
	n.peerMsgs = append(n.peerMsgs, sentPeer{id, msg})
	return nil
}

func (n *fakeNet) Close(id core.ConnID) { n.closed = append(n.closed, id) }

func (n *fakeNet) AwaitFileRequest(id core.ConnID) error {
	n.awaitedReqs = append(n.awaitedReqs, id)
	return nil
}

func (n *fakeNet) AwaitFileOffset(id core.ConnID) error {
	n.awaitedOffsets = append(n.awaitedOffsets, id)
	return nil
}

func (n *fakeNet) ReceiveFile(core.ConnID, *os.File, int64, int64) error { return nil }

func (n *fakeNet) SendFile(core.ConnID, *os.File, int64) error { return nil }

func (n *fakeNet) SetUploadLimit(uint64) {}

func (n *fakeNet) SetConnUploadLimit(core.ConnID, uint64) error { return nil }

func (n *fakeNet) Shutdown() { n.shutdown = true }

// sentTo returns the peer messages sent on id.
func (n *fakeNet) sentTo(id core.ConnID) []protocol.Message {
	var out []protocol.Message
	for _, s := range n.peerMsgs {
		if s.id == id {
			out = append(out, s.msg)
		}
	}
	return out
}

// fakeCodec fails every wire operation; the client core never frames bytes
// itself in tests.
type fakeCodec struct {
	peerByCode map[int]protocol.PeerMessage
}

var errNoCodec = errors.New("no codec in tests")

func (fakeCodec) ReadServer(io.Reader) (protocol.ServerMessage, error) { return nil, errNoCodec }

func (fakeCodec) WriteServer(io.Writer, protocol.ServerMessage) error { return errNoCodec }

func (fakeCodec) ReadInit(io.Reader) (protocol.InitMessage, error) { return nil, errNoCodec }

func (fakeCodec) WriteInit(io.Writer, protocol.InitMessage) error { return errNoCodec }

func (fakeCodec) ReadPeer(io.Reader) (protocol.PeerMessage, error) { return nil, errNoCodec }

func (fakeCodec) WritePeer(io.Writer, protocol.PeerMessage) error { return errNoCodec }

func (fakeCodec) ReadDistrib(io.Reader) (protocol.DistribMessage, error) { return nil, errNoCodec }

func (fakeCodec) WriteDistrib(io.Writer, protocol.DistribMessage) error { return errNoCodec }

func (fakeCodec) ReadFileRequest(io.Reader) (protocol.FileRequest, error) {
	return protocol.FileRequest{}, errNoCodec
}

func (fakeCodec) ReadFileOffset(io.Reader) (protocol.FileOffset, error) {
	return protocol.FileOffset{}, errNoCodec
}

func (c fakeCodec) DecodePeer(code int, _ []byte) (protocol.PeerMessage, error) {
	if msg, ok := c.peerByCode[code]; ok {
		return msg, nil
	}
	return nil, errNoCodec
}

type testClientMocks struct {
	net    *fakeNet
	shares *shares.Fake
	clk    *clock.Mock
}

func newTestClient(config Config, tconfig transfer.Config) (*Client, *testClientMocks) {
	return newTestClientCodec(config, tconfig, fakeCodec{})
}

func newTestClientCodec(
	config Config, tconfig transfer.Config, codec protocol.Codec) (*Client, *testClientMocks) {

	mocks := &testClientMocks{
		shares: shares.NewFake(),
		clk:    clock.NewMock(),
	}
	c := New(
		config, tconfig, tally.NoopScope, mocks.clk, codec,
		geoip.NoopResolver{}, mocks.shares, nil,
		func(netio.Events) Network {
			mocks.net = newFakeNet()
			return mocks.net
		})
	return c, mocks
}

// drain runs every queued event. Timer callbacks and the public API post
// onto the loop rather than running inline.
func drain(c *Client) {
	for {
		select {
		case e := <-c.loop.events:
			runEvent(c, e)
		default:
			return
		}
	}
}
