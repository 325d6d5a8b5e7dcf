package netio

import (
	"time"

	"github.com/gosoulseek/gosoulseek/utils/memsize"
)

// Config defines NetIO configuration.
type Config struct {
	// PortRangeLow / PortRangeHigh bound the listening ports tried in order.
	PortRangeLow  int `yaml:"port_range_low"`
	PortRangeHigh int `yaml:"port_range_high"`

	// ConnectTimeout bounds outbound dials.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HandshakeTimeout bounds reading the init message of an inbound peer
	// socket.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SenderBufferSize is the per-connection outbound message buffer. When
	// full, sends block the event loop, so it should be generous.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// FileChunkSize is the unit of file payload reads and writes.
	FileChunkSize uint64 `yaml:"file_chunk_size"`
}

func (c Config) applyDefaults() Config {
	if c.PortRangeLow == 0 {
		c.PortRangeLow = 2234
	}
	if c.PortRangeHigh == 0 {
		c.PortRangeHigh = c.PortRangeLow + 4
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 64
	}
	if c.FileChunkSize == 0 {
		c.FileChunkSize = 32 * memsize.KB
	}
	return c
}
