package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

func TestTransfersNegotiatingWindow(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	u := &Transfer{Username: "bob", Filename: "f", Direction: Upload, Req: 5}
	m.setStatus(u, StatusWaitingUpload)
	m.uploads = append(m.uploads, u)

	require.Equal(1, m.transfersNegotiating())

	// Stale negotiations age out of the count.
	mocks.clk.Add(30 * time.Second)
	require.Equal(0, m.transfersNegotiating())
}

func TestTransfersNegotiatingNoSpeedYet(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})

	u := &Transfer{Username: "bob", Filename: "f", Direction: Upload, ConnID: 3}
	m.setStatus(u, StatusTransferring)
	m.uploads = append(m.uploads, u)
	require.Equal(1, m.transfersNegotiating())

	u.SpeedKnown = true
	require.Equal(0, m.transfersNegotiating())
}

func TestAllowNewUploadsSlots(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{UseUploadSlots: true, UploadSlots: 2})
	require.True(m.allowNewUploads())

	for i := 1; i <= 2; i++ {
		u := &Transfer{Username: "u", Filename: "f", Direction: Upload,
			ConnID: core.ConnID(i), Speed: 100, SpeedKnown: true}
		m.setStatus(u, StatusTransferring)
		m.uploads = append(m.uploads, u)
	}
	require.False(m.allowNewUploads())
}

func TestAllowNewUploadsSpeedLimit(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{UseUploadLimit: true, UploadLimit: 10})

	u := &Transfer{Username: "u", Filename: "f", Direction: Upload,
		ConnID: 1, Speed: 20 * 1024, SpeedKnown: true}
	m.setStatus(u, StatusTransferring)
	m.uploads = append(m.uploads, u)

	require.False(m.allowNewUploads())

	u.Speed = 5 * 1024
	require.True(m.allowNewUploads())
}

func TestAllowNewUploadsSpeedLimitBlocksWhileNegotiating(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{UseUploadLimit: true, UploadLimit: 1000})

	u := &Transfer{Username: "u", Filename: "f", Direction: Upload, Req: 9}
	m.setStatus(u, StatusWaitingUpload)
	m.uploads = append(m.uploads, u)

	require.False(m.allowNewUploads())
}

func TestFileLimit(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{FileLimit: 2})

	for i := 0; i < 2; i++ {
		u := &Transfer{Username: "bob", Filename: "f", Direction: Upload}
		m.setStatus(u, StatusQueued)
		m.uploads = append(m.uploads, u)
	}
	require.True(m.fileLimitReached("bob"))
	require.False(m.fileLimitReached("carol"))
}

func TestPlaceInQueueFIFO(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{FIFOQueue: true})

	for _, row := range []struct{ user, file string }{
		{"u1", "f1"}, {"u2", "f2"}, {"u2", "f3"},
	} {
		u := &Transfer{Username: row.user, Filename: row.file, Direction: Upload}
		m.setStatus(u, StatusQueued)
		m.uploads = append(m.uploads, u)
	}

	m.HandlePlaceInQueueRequest(5, "u2", protocol.PlaceInQueueRequest{Filename: "f3"})

	msg, ok := mocks.network.lastSent(5).(protocol.PlaceInQueue)
	require.True(ok)
	require.Equal("f3", msg.Filename)
	require.Equal(3, msg.Place)
}

func TestPlaceInQueueRoundRobin(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	for _, row := range []struct{ user, file string }{
		{"u1", "f1"}, {"u1", "f2"}, {"u2", "f3"},
	} {
		u := &Transfer{Username: row.user, Filename: row.file, Direction: Upload}
		m.setStatus(u, StatusQueued)
		m.uploads = append(m.uploads, u)
	}

	// u1's second file sits behind their own first file; u2's single file
	// does not push it back further.
	m.HandlePlaceInQueueRequest(5, "u1", protocol.PlaceInQueueRequest{Filename: "f2"})

	msg, ok := mocks.network.lastSent(5).(protocol.PlaceInQueue)
	require.True(ok)
	require.Equal("f2", msg.Filename)
	require.Equal(2, msg.Place)
}

func TestCheckUploadQueueRespectsTransferringUser(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseUploadSlots: true, UploadSlots: 2})
	mocks.shares.Share("a\\f2.mp3", "/srv/a/f2.mp3", 0)

	active := &Transfer{Username: "a", Filename: "a\\f1.mp3", Direction: Upload,
		ConnID: 1, Speed: 100, SpeedKnown: true}
	m.setStatus(active, StatusTransferring)

	queued := &Transfer{Username: "a", Filename: "a\\f2.mp3", RealPath: "/srv/a/f2.mp3",
		Direction: Upload}
	m.setStatus(queued, StatusQueued)

	m.uploads = append(m.uploads, active, queued)
	m.addQueued("a")

	m.CheckUploadQueue()

	// A user already moving bytes never gets a second slot.
	require.Equal(StatusQueued, queued.Status())
	require.Equal(1, m.queuedTotal())
}
