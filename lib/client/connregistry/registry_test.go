package connregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosoulseek/gosoulseek/core"
)

func TestRegistryIndexes(t *testing.T) {
	require := require.New(t)

	r := New()

	c := &Conn{Username: "alice", Kind: core.KindPeer}
	require.NoError(r.Add(c))

	_, err := r.FindEstablished("alice", core.KindPeer)
	require.Equal(ErrConnNotFound, err)

	found, err := r.FindAny("alice", core.KindPeer)
	require.NoError(err)
	require.Equal(c, found)

	require.NoError(r.Bind(c, 7))

	found, err = r.FindByID(7)
	require.NoError(err)
	require.Equal(c, found)

	found, err = r.FindEstablished("alice", core.KindPeer)
	require.NoError(err)
	require.Equal(c, found)

	require.NoError(r.SetToken(c, 42))
	found, err = r.FindByToken(42)
	require.NoError(err)
	require.Equal(c, found)

	r.Remove(c)
	_, err = r.FindByID(7)
	require.Equal(ErrConnNotFound, err)
	_, err = r.FindByToken(42)
	require.Equal(ErrConnNotFound, err)
	require.Zero(r.Len())
}

func TestRegistryTokenConflict(t *testing.T) {
	require := require.New(t)

	r := New()

	c1 := &Conn{Username: "alice", Kind: core.KindPeer}
	c2 := &Conn{Username: "bob", Kind: core.KindPeer}
	require.NoError(r.Add(c1))
	require.NoError(r.Add(c2))

	token := core.TokenFixture()
	require.NoError(r.SetToken(c1, token))
	require.Equal(ErrTokenTaken, r.SetToken(c2, token))
}

func TestRegistrySocketConflict(t *testing.T) {
	require := require.New(t)

	r := New()

	c1 := &Conn{Username: "alice", Kind: core.KindPeer}
	c2 := &Conn{Username: "alice", Kind: core.KindFile}
	require.NoError(r.Add(c1))
	require.NoError(r.Add(c2))

	require.NoError(r.Bind(c1, 7))
	require.Equal(ErrSocketTaken, r.Bind(c2, 7))
}

func TestRegistryDuplicateFileConns(t *testing.T) {
	require := require.New(t)

	r := New()

	c1 := &Conn{Username: "alice", Kind: core.KindFile}
	c2 := &Conn{Username: "alice", Kind: core.KindFile}
	require.NoError(r.Add(c1))
	require.NoError(r.Add(c2))

	require.NoError(r.Bind(c2, 9))

	found, err := r.FindEstablished("alice", core.KindFile)
	require.NoError(err)
	require.Equal(c2, found)
}

func TestRegistryFindByPendingAddr(t *testing.T) {
	require := require.New(t)

	r := New()

	addr := core.AddrFixture()
	c := &Conn{Username: core.UsernameFixture(), Kind: core.KindPeer, Addr: &addr}
	require.NoError(r.Add(c))

	found, err := r.FindByPendingAddr(addr)
	require.NoError(err)
	require.Equal(c, found)

	require.NoError(r.Bind(c, 3))

	// Live sockets no longer match pending-addr lookups.
	_, err = r.FindByPendingAddr(addr)
	require.Equal(ErrConnNotFound, err)
}

func TestRegistryDistributed(t *testing.T) {
	require := require.New(t)

	r := New()

	d1 := &Conn{Username: "alice", Kind: core.KindDistributed}
	d2 := &Conn{Username: "bob", Kind: core.KindDistributed}
	p := &Conn{Username: "carol", Kind: core.KindPeer}
	require.NoError(r.Add(d1))
	require.NoError(r.Add(d2))
	require.NoError(r.Add(p))

	require.ElementsMatch([]*Conn{d1, d2}, r.Distributed())
}
