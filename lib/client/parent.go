package client

import (
	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/client/connregistry"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// handlePossibleParents opens a distributed connection to every candidate;
// the first to announce its branch level is adopted.
func (c *Client) handlePossibleParents(msg protocol.PossibleParents) {
	if c.parent != nil {
		return
	}
	log.Infof("Server sent %d possible parents", len(msg.Candidates))
	for _, cand := range msg.Candidates {
		addr := cand.Addr
		c.requestToPeerKind(cand.Username, nil, core.KindDistributed, &addr)
	}
}

func (c *Client) handleDistribMessage(id core.ConnID, msg protocol.DistribMessage) {
	conn, err := c.registry.FindByID(id)
	if err != nil {
		log.With("id", id).Debug("Distributed message on unknown conn")
		return
	}

	switch m := msg.(type) {
	case protocol.DistribBranchLevel:
		c.maybeAdoptParent(conn, m.Level)
	case protocol.DistribSearch:
		log.With("user", m.Username, "query", m.Query).Debug("Distributed search")
	case protocol.DistribAlive:
		log.With("user", conn.Username).Debug("Distributed keepalive")
	}
}

// maybeAdoptParent adopts the first distributed peer that spoke, drops the
// other candidates, and tells the server we are attached.
func (c *Client) maybeAdoptParent(conn *connregistry.Conn, level int) {
	if c.parent != nil {
		return
	}
	conn.Parent = true
	c.parent = conn
	log.With("user", conn.Username, "level", level).Info("Adopted search parent")

	if conn.Addr != nil {
		c.sendServer(protocol.SearchParent{IP: conn.Addr.IP})
	}
	c.sendServer(protocol.HaveNoParent{Value: false})

	for _, d := range c.registry.Distributed() {
		if d == conn {
			continue
		}
		if d.ID != 0 {
			c.net.Close(d.ID)
		} else {
			c.registry.Remove(d)
		}
	}
}

// parentGone re-enters the parentless state and asks the server for new
// candidates.
func (c *Client) parentGone() {
	if c.parent == nil {
		return
	}
	log.With("user", c.parent.Username).Info("Lost search parent")
	c.parent = nil
	c.sendServer(protocol.HaveNoParent{Value: true})
}
