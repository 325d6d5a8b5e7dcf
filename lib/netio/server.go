package netio

import (
	"net"
	"sync"

	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// serverConn is the single connection to the SoulSeek server.
type serverConn struct {
	config Config
	codec  protocol.Codec
	events Events

	nc     net.Conn
	sender chan protocol.ServerMessage

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newServerConn(config Config, codec protocol.Codec, events Events, nc net.Conn) *serverConn {
	return &serverConn{
		config: config,
		codec:  codec,
		events: events,
		nc:     nc,
		sender: make(chan protocol.ServerMessage, config.SenderBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *serverConn) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

func (s *serverConn) send(msg protocol.ServerMessage) error {
	select {
	case <-s.done:
		return errConnClosed
	case s.sender <- msg:
		return nil
	}
}

func (s *serverConn) close() {
	s.closeWith(nil)
}

func (s *serverConn) closeWith(err error) {
	s.closeOnce.Do(func() {
		go func() {
			close(s.done)
			s.nc.Close()
			s.wg.Wait()
			s.events.ServerClosed(err)
		}()
	})
}

func (s *serverConn) readLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
			msg, err := s.codec.ReadServer(s.nc)
			if err != nil {
				log.Infof("Exiting server read loop: %s", err)
				s.closeWith(err)
				return
			}
			s.events.ServerMessage(msg)
		}
	}
}

func (s *serverConn) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sender:
			if err := s.codec.WriteServer(s.nc, msg); err != nil {
				log.Infof("Exiting server write loop: %s", err)
				s.closeWith(err)
				return
			}
		}
	}
}
