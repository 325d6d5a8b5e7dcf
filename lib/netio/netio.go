// Package netio owns every socket of the client: the server connection, the
// peer listener, and all peer connections. It multiplexes reads into typed
// events, preserves per-connection outbound FIFO order, and streams file
// payloads with rate limiting. It never mutates client state; all effects
// surface through the Events sink.
package netio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/syncmap"
	"golang.org/x/time/rate"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// Errors returned by NetIO operations.
var (
	ErrUnknownConn      = errors.New("unknown conn id")
	ErrServerNotConn    = errors.New("server not connected")
	ErrAlreadyListening = errors.New("already listening")
)

// NetIO multiplexes all network I/O. All methods are safe for concurrent
// use; the event loop is the only intended caller of the mutating ones.
type NetIO struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	codec  protocol.Codec
	events Events

	nextID *atomic.Int64

	// core.ConnID -> *conn.
	conns syncmap.Map

	globalLimiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	server   *serverConn

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a NetIO posting into events.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	codec protocol.Codec,
	events Events) *NetIO {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{"module": "netio"})

	return &NetIO{
		config:        config,
		stats:         stats,
		clk:           clk,
		codec:         codec,
		events:        events,
		nextID:        atomic.NewInt64(0),
		globalLimiter: rate.NewLimiter(rate.Inf, int(config.FileChunkSize)),
		done:          make(chan struct{}),
	}
}

// Listen binds the peer listener on the first free port of the configured
// range and starts accepting. Fires the ListenPort event on success.
func (n *NetIO) Listen() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		return ErrAlreadyListening
	}
	var errs []error
	for port := n.config.PortRangeLow; port <= n.config.PortRangeHigh; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n.listener = l
		go n.acceptLoop(l)
		n.events.ListenPort(port)
		return nil
	}
	return fmt.Errorf("no free port in [%d, %d]: %v",
		n.config.PortRangeLow, n.config.PortRangeHigh, errs)
}

func (n *NetIO) acceptLoop(l net.Listener) {
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-n.done:
				return
			default:
				log.Errorf("Error accepting peer connection: %s", err)
				return
			}
		}
		go n.handshakeInbound(nc)
	}
}

// handshakeInbound reads the init message of a fresh inbound socket and
// registers it. The connection has no loops yet; the client starts them via
// StartPeer once it resolved the channel kind.
func (n *NetIO) handshakeInbound(nc net.Conn) {
	if err := nc.SetDeadline(n.clk.Now().Add(n.config.HandshakeTimeout)); err != nil {
		nc.Close()
		return
	}
	init, err := n.codec.ReadInit(nc)
	if err != nil {
		log.With("addr", nc.RemoteAddr()).Infof("Error reading peer init: %s", err)
		nc.Close()
		return
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return
	}
	c := n.register(nc)
	n.stats.Counter("accepted_conns").Inc(1)
	n.events.PeerAccepted(c.id, c.addr, init)
}

// DialServer connects to the server asynchronously. Outcome surfaces as
// ServerConnected or ServerClosed.
func (n *NetIO) DialServer(addr string) {
	go func() {
		nc, err := net.DialTimeout("tcp", addr, n.config.ConnectTimeout)
		if err != nil {
			n.events.ServerClosed(fmt.Errorf("dial server: %s", err))
			return
		}
		s := newServerConn(n.config, n.codec, n.events, nc)
		n.mu.Lock()
		if n.server != nil {
			n.server.close()
		}
		n.server = s
		n.mu.Unlock()
		s.start()
		n.stats.Counter("server_conns").Inc(1)
		n.events.ServerConnected()
	}()
}

// SendServer queues msg on the server connection.
func (n *NetIO) SendServer(msg protocol.ServerMessage) error {
	n.mu.Lock()
	s := n.server
	n.mu.Unlock()
	if s == nil {
		return ErrServerNotConn
	}
	return s.send(msg)
}

// CloseServer tears down the server connection, if any.
func (n *NetIO) CloseServer() {
	n.mu.Lock()
	s := n.server
	n.server = nil
	n.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// DialPeer dials addr asynchronously. Outcome surfaces as PeerConnected or
// DialError, the latter identified by address since no socket exists yet.
func (n *NetIO) DialPeer(addr core.Addr) {
	go func() {
		nc, err := net.DialTimeout("tcp", addr.String(), n.config.ConnectTimeout)
		if err != nil {
			n.stats.Counter("dial_errors").Inc(1)
			n.events.DialError(addr, fmt.Errorf("dial peer: %s", err))
			return
		}
		c := n.register(nc)
		n.stats.Counter("dialed_conns").Inc(1)
		n.events.PeerConnected(c.id, addr)
	}()
}

// StartPeer writes the init handshake (nil for inbound sockets, whose peer
// already sent one) and starts the loops matching kind.
func (n *NetIO) StartPeer(id core.ConnID, init protocol.InitMessage, kind core.ConnKind) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	if init != nil {
		if err := c.send(init); err != nil {
			return fmt.Errorf("send init: %s", err)
		}
	}
	// 'F' connections get no read loop here; nothing reads them until a
	// file operation is issued.
	c.start(kind)
	return nil
}

// SendPeer queues msg on a 'P' or 'D' connection, or a pre-streaming 'F'
// message (FileRequest, FileOffset).
func (n *NetIO) SendPeer(id core.ConnID, msg protocol.Message) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	return c.send(msg)
}

// Close tears down a peer connection. PeerClosed fires exactly once.
func (n *NetIO) Close(id core.ConnID) {
	if c, ok := n.find(id); ok {
		c.close()
	}
}

// AwaitFileRequest reads the transfer id off an inbound 'F' connection.
// Result surfaces as FileRequestReceived or FileError.
func (n *NetIO) AwaitFileRequest(id core.ConnID) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	c.readFileRequest()
	return nil
}

// AwaitFileOffset reads the downloader's resume offset off an 'F'
// connection. Result surfaces as FileOffsetReceived or FileError.
func (n *NetIO) AwaitFileOffset(id core.ConnID) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	c.readFileOffset()
	return nil
}

// ReceiveFile appends payload from an 'F' connection to f until size bytes
// exist on disk. current is the resume point already present.
func (n *NetIO) ReceiveFile(id core.ConnID, f *os.File, current, size int64) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	c.receiveFile(f, current, size)
	return nil
}

// SendFile streams f from offset into an 'F' connection.
func (n *NetIO) SendFile(id core.ConnID, f *os.File, offset int64) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	c.sendFile(f, offset)
	return nil
}

// SetUploadLimit updates the egress limit shared by all uploads, in bytes
// per second. Zero means unlimited.
func (n *NetIO) SetUploadLimit(bytesPerSec uint64) {
	if bytesPerSec == 0 {
		n.globalLimiter.SetLimitAt(n.clk.Now(), rate.Inf)
		return
	}
	n.globalLimiter.SetLimitAt(n.clk.Now(), rate.Limit(float64(bytesPerSec)))
}

// SetConnUploadLimit updates the egress limit of a single connection, for
// per-transfer limiting mode.
func (n *NetIO) SetConnUploadLimit(id core.ConnID, bytesPerSec uint64) error {
	c, ok := n.find(id)
	if !ok {
		return ErrUnknownConn
	}
	c.setUploadLimit(bytesPerSec)
	return nil
}

// Shutdown closes the listener, the server connection, and every peer
// connection.
func (n *NetIO) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.mu.Lock()
		if n.listener != nil {
			n.listener.Close()
		}
		s := n.server
		n.server = nil
		n.mu.Unlock()
		if s != nil {
			s.close()
		}
		n.conns.Range(func(_, v interface{}) bool {
			v.(*conn).close()
			return true
		})
	})
}

func (n *NetIO) register(nc net.Conn) *conn {
	id := core.ConnID(n.nextID.Inc())
	addr := remoteAddr(nc)
	c := newConn(
		n.config, n.stats, n.clk, n.codec, n.events, n.globalLimiter,
		func(c *conn) { n.conns.Delete(c.id) },
		id, addr, nc)
	n.conns.Store(id, c)
	return c
}

func (n *NetIO) find(id core.ConnID) (*conn, bool) {
	v, ok := n.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*conn), true
}

func remoteAddr(nc net.Conn) core.Addr {
	host, portStr, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		return core.Addr{IP: nc.RemoteAddr().String()}
	}
	port, _ := strconv.Atoi(portStr)
	return core.Addr{IP: host, Port: port}
}

func (n *NetIO) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	return log.With(keysAndValues...)
}
