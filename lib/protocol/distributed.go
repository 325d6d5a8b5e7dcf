package protocol

import "github.com/gosoulseek/gosoulseek/core"

// DistribAlive is a keepalive from a distributed peer.
type DistribAlive struct {
	distribMsg
}

// DistribBranchLevel announces the sender's depth in the distributed tree.
// Receiving one while parentless makes the sender our parent.
type DistribBranchLevel struct {
	distribMsg
	Level int
}

// DistribSearch is a search request flowing down from our parent. Forwarding
// to children is not implemented; searches are answered locally only.
type DistribSearch struct {
	distribMsg
	Username string
	Token    core.Token
	Query    string
}
