package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/transfer"
)

func TestParentAdoption(t *testing.T) {
	require := require.New(t)

	c, mocks := newTestClient(Config{Login: "me", Firewalled: true}, transfer.Config{})

	addr1 := core.Addr{IP: "1.1.1.1", Port: 2234}
	addr2 := core.Addr{IP: "2.2.2.2", Port: 2234}
	c.handlePossibleParents(protocol.PossibleParents{Candidates: []protocol.ParentCandidate{
		{Username: "p1", Addr: addr1},
		{Username: "p2", Addr: addr2},
	}})
	require.Equal([]core.Addr{addr1, addr2}, mocks.net.dialed)

	c.handlePeerConnected(1, addr1)
	require.Equal(core.KindDistributed, mocks.net.started[1].kind)
	require.Equal(protocol.PeerInit{Username: "me", Kind: core.KindDistributed},
		mocks.net.started[1].init)

	// The first candidate to announce its branch level becomes parent; the
	// other attempt is dropped.
	c.handleDistribMessage(1, protocol.DistribBranchLevel{Level: 2})

	require.NotNil(c.parent)
	require.Equal("p1", c.parent.Username)
	require.Equal(1, c.registry.Len())
	require.Equal([]protocol.ServerMessage{
		protocol.SearchParent{IP: "1.1.1.1"},
		protocol.HaveNoParent{Value: false},
	}, mocks.net.serverMsgs)

	// A second announcement does not replace the parent.
	c.handleDistribMessage(1, protocol.DistribBranchLevel{Level: 3})
	require.Len(mocks.net.serverMsgs, 2)
}

func TestParentLossAsksForNewOne(t *testing.T) {
	require := require.New(t)

	c, mocks := newTestClient(Config{Login: "me", Firewalled: true}, transfer.Config{})

	addr := core.Addr{IP: "1.1.1.1", Port: 2234}
	c.handlePossibleParents(protocol.PossibleParents{Candidates: []protocol.ParentCandidate{
		{Username: "p1", Addr: addr},
	}})
	c.handlePeerConnected(1, addr)
	c.handleDistribMessage(1, protocol.DistribBranchLevel{Level: 2})
	require.NotNil(c.parent)

	c.handlePeerClosed(1)

	require.Nil(c.parent)
	require.Equal(0, c.registry.Len())
	require.Equal(protocol.HaveNoParent{Value: true},
		mocks.net.serverMsgs[len(mocks.net.serverMsgs)-1])
}

func TestPossibleParentsIgnoredWhileParented(t *testing.T) {
	require := require.New(t)

	c, mocks := newTestClient(Config{Login: "me", Firewalled: true}, transfer.Config{})

	addr := core.Addr{IP: "1.1.1.1", Port: 2234}
	c.handlePossibleParents(protocol.PossibleParents{Candidates: []protocol.ParentCandidate{
		{Username: "p1", Addr: addr},
	}})
	c.handlePeerConnected(1, addr)
	c.handleDistribMessage(1, protocol.DistribBranchLevel{Level: 2})

	c.handlePossibleParents(protocol.PossibleParents{Candidates: []protocol.ParentCandidate{
		{Username: "p2", Addr: core.Addr{IP: "2.2.2.2", Port: 2234}},
	}})
	require.Len(mocks.net.dialed, 1)
}
