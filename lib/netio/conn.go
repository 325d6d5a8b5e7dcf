package netio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// errConnClosed is returned by sends on a closed connection.
var errConnClosed = errors.New("conn closed")

// conn is a single peer socket. Message writes are serialized through the
// sender channel; file payload streaming owns the socket exclusively for the
// duration of the operation, which the caller guarantees by never sending
// messages on an 'F' connection once streaming starts.
type conn struct {
	id   core.ConnID
	addr core.Addr

	nc     net.Conn
	codec  protocol.Codec
	events Events
	config Config
	clk    clock.Clock
	stats  tally.Scope

	// Egress payload throttling. The global limiter is shared by every
	// upload; the local limiter applies to this connection only.
	globalLimiter *rate.Limiter
	localLimiter  *rate.Limiter

	// Cumulative payload bytes of the current streaming operation.
	streamed *atomic.Int64

	closeHandler func(*conn)

	sender chan protocol.Message

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	codec protocol.Codec,
	events Events,
	globalLimiter *rate.Limiter,
	closeHandler func(*conn),
	id core.ConnID,
	addr core.Addr,
	nc net.Conn) *conn {

	return &conn{
		id:            id,
		addr:          addr,
		nc:            nc,
		codec:         codec,
		events:        events,
		config:        config,
		clk:           clk,
		stats:         stats,
		globalLimiter: globalLimiter,
		localLimiter:  rate.NewLimiter(rate.Inf, int(config.FileChunkSize)),
		streamed:      atomic.NewInt64(0),
		closeHandler:  closeHandler,
		sender:        make(chan protocol.Message, config.SenderBufferSize),
		done:          make(chan struct{}),
	}
}

// send queues msg for writing. Messages are written in send order.
func (c *conn) send(msg protocol.Message) error {
	select {
	case <-c.done:
		return errConnClosed
	case c.sender <- msg:
		return nil
	default:
		c.stats.Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// close starts the shutdown sequence. Safe to call multiple times.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		go func() {
			close(c.done)
			c.nc.Close()
			c.wg.Wait()
			c.closeHandler(c)
			c.events.PeerClosed(c.id)
		}()
	})
}

// start launches the write loop and the read loop matching kind. 'F'
// connections get no read loop; their reads happen in the explicit file
// operations below.
func (c *conn) start(kind core.ConnKind) {
	c.wg.Add(1)
	go c.writeLoop()
	switch kind {
	case core.KindPeer:
		c.wg.Add(1)
		go c.readLoop(func() error {
			msg, err := c.codec.ReadPeer(c.nc)
			if err != nil {
				return err
			}
			c.events.PeerMessage(c.id, msg)
			return nil
		})
	case core.KindDistributed:
		c.wg.Add(1)
		go c.readLoop(func() error {
			msg, err := c.codec.ReadDistrib(c.nc)
			if err != nil {
				return err
			}
			c.events.DistribMessage(c.id, msg)
			return nil
		})
	}
}

func (c *conn) readLoop(read func() error) {
	defer func() {
		c.wg.Done()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			if err := read(); err != nil {
				c.log().Infof("Exiting read loop: %s", err)
				return
			}
		}
	}
}

func (c *conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := c.writeMessage(msg); err != nil {
				c.log().Infof("Exiting write loop: %s", err)
				return
			}
		}
	}
}

func (c *conn) writeMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.InitMessage:
		return c.codec.WriteInit(c.nc, m)
	case protocol.PeerMessage:
		return c.codec.WritePeer(c.nc, m)
	case protocol.DistribMessage:
		return c.codec.WriteDistrib(c.nc, m)
	default:
		return fmt.Errorf("unsupported message type %T", msg)
	}
}

// readFileRequest reads the transfer id opening an inbound 'F' connection.
func (c *conn) readFileRequest() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		msg, err := c.codec.ReadFileRequest(c.nc)
		if err != nil {
			c.log().Infof("Error reading file request: %s", err)
			c.close()
			return
		}
		c.events.FileRequestReceived(c.id, msg.Req)
	}()
}

// readFileOffset reads the resume offset the downloading peer replies with.
func (c *conn) readFileOffset() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		msg, err := c.codec.ReadFileOffset(c.nc)
		if err != nil {
			c.log().Infof("Error reading file offset: %s", err)
			c.close()
			return
		}
		c.events.FileOffsetReceived(c.id, msg.Offset)
	}()
}

// receiveFile appends socket payload to f until size bytes exist, posting
// progress per chunk. current is the byte count already on disk.
func (c *conn) receiveFile(f *os.File, current, size int64) {
	c.streamed.Store(current)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		buf := make([]byte, c.config.FileChunkSize)
		for {
			select {
			case <-c.done:
				return
			default:
			}
			total := c.streamed.Load()
			if total >= size {
				c.events.FileComplete(c.id)
				return
			}
			want := int64(len(buf))
			if rem := size - total; rem < want {
				want = rem
			}
			n, err := c.nc.Read(buf[:want])
			if n > 0 {
				if _, werr := f.Write(buf[:n]); werr != nil {
					c.events.FileError(c.id, fmt.Errorf("write file: %s", werr))
					c.close()
					return
				}
				total = c.streamed.Add(int64(n))
				c.countPayload("ingress", int64(n))
				c.events.FileProgress(c.id, total)
			}
			if err != nil {
				if total >= size {
					c.events.FileComplete(c.id)
				} else {
					// Socket failures surface through PeerClosed so the
					// caller can tell them apart from disk failures.
					c.log().Infof("Download stream interrupted: %s", err)
				}
				c.close()
				return
			}
		}
	}()
}

// sendFile streams f from offset into the socket, throttled by the global
// and per-connection limiters, posting progress per chunk.
func (c *conn) sendFile(f *os.File, offset int64) {
	c.streamed.Store(offset)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			c.events.FileError(c.id, fmt.Errorf("seek: %s", err))
			c.close()
			return
		}
		buf := make([]byte, c.config.FileChunkSize)
		for {
			select {
			case <-c.done:
				return
			default:
			}
			n, err := f.Read(buf)
			if n > 0 {
				c.throttle(n)
				if _, werr := c.nc.Write(buf[:n]); werr != nil {
					c.log().Infof("Upload stream interrupted: %s", werr)
					c.close()
					return
				}
				total := c.streamed.Add(int64(n))
				c.countPayload("egress", int64(n))
				c.events.FileProgress(c.id, total)
			}
			if err == io.EOF {
				c.events.FileComplete(c.id)
				return
			}
			if err != nil {
				c.events.FileError(c.id, fmt.Errorf("read file: %s", err))
				c.close()
				return
			}
		}
	}()
}

// throttle sleeps until n payload bytes are admitted by both limiters.
func (c *conn) throttle(n int) {
	for _, l := range []*rate.Limiter{c.globalLimiter, c.localLimiter} {
		if l.Limit() == rate.Inf {
			continue
		}
		r := l.ReserveN(c.clk.Now(), n)
		if !r.OK() {
			c.log("chunk", n).Errorf("Cannot throttle chunk larger than burst size")
			continue
		}
		c.clk.Sleep(r.DelayFrom(c.clk.Now()))
	}
}

// setUploadLimit updates the per-connection egress limit. Zero means
// unlimited.
func (c *conn) setUploadLimit(bytesPerSec uint64) {
	if bytesPerSec == 0 {
		c.localLimiter.SetLimitAt(c.clk.Now(), rate.Inf)
		return
	}
	c.localLimiter.SetLimitAt(c.clk.Now(), rate.Limit(float64(bytesPerSec)))
}

func (c *conn) countPayload(direction string, n int64) {
	c.stats.Tagged(map[string]string{
		"payload_direction": direction,
	}).Counter("payload_bandwidth").Inc(n)
}

func (c *conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "conn", c.id, "addr", c.addr)
	return log.With(keysAndValues...)
}
