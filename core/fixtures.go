package core

import (
	"fmt"
	"math/rand"
)

// UsernameFixture returns a random username for testing purposes.
func UsernameFixture() string {
	return fmt.Sprintf("user%08x", rand.Uint32())
}

// AddrFixture returns a random address for testing purposes.
func AddrFixture() Addr {
	return Addr{
		IP:   fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256)),
		Port: 1024 + rand.Intn(64000),
	}
}

// TokenFixture returns a random nonzero token for testing purposes.
func TokenFixture() Token {
	return Token(rand.Uint32() | 1)
}

// RequestIDFixture returns a random nonzero request id for testing purposes.
func RequestIDFixture() RequestID {
	return RequestID(rand.Uint32() | 1)
}
