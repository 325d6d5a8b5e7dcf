package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

func TestDownloadSendsTransferRequest(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	m.Download("alice", "Music\\song.mp3", "")

	require.Len(m.downloads, 1)
	d := m.downloads[0]
	require.Equal(StatusGettingStatus, d.Status())
	require.NotEqual(core.RequestID(0), d.Req)
	require.Contains(mocks.env.watched, "alice")

	msg, ok := mocks.env.lastPeerMsg("alice").(protocol.TransferRequest)
	require.True(ok)
	require.Equal(protocol.DirectionRequestDownload, msg.Direction)
	require.Equal(d.Req, msg.Req)
	require.Equal("Music\\song.mp3", msg.Filename)
}

func TestDownloadFiltered(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{
		EnableFilters:  true,
		DownloadRegexp: `.*\.exe`,
	})

	m.Download("alice", "Tools\\setup.exe", "")

	require.Len(m.downloads, 1)
	require.Equal(StatusFiltered, m.downloads[0].Status())
	require.Nil(mocks.env.lastPeerMsg("alice"))
}

func TestUploadRequestAllowed(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseUploadSlots: true, UploadSlots: 1})
	mocks.shares.Share("Music\\song.mp3", "/srv/music/song.mp3", 0)

	m.HandleTransferRequest(5, "bob", protocol.TransferRequest{
		Direction: protocol.DirectionRequestDownload,
		Req:       42,
		Filename:  "Music\\song.mp3",
	})

	resp, ok := mocks.network.lastSent(5).(protocol.TransferResponse)
	require.True(ok)
	require.True(resp.Allowed)
	require.Equal(core.RequestID(42), resp.Req)

	require.Len(m.uploads, 1)
	require.Equal(StatusWaitingUpload, m.uploads[0].Status())
}

func TestUploadRequestNotShared(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	m.HandleTransferRequest(5, "bob", protocol.TransferRequest{
		Direction: protocol.DirectionRequestDownload,
		Req:       42,
		Filename:  "Music\\hidden.mp3",
	})

	resp, ok := mocks.network.lastSent(5).(protocol.TransferResponse)
	require.True(ok)
	require.False(resp.Allowed)
	require.Equal("File not shared", resp.Reason)
	require.Empty(m.uploads)
}

func TestUploadRequestQueueLimit(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{QueueLimit: 100})
	mocks.shares.Share("Music\\more.mp3", "/srv/music/more.mp3", 0)

	// 100 MiB already queued by bob.
	queued := &Transfer{
		Username:  "bob",
		Filename:  "Music\\big.mp3",
		Direction: Upload,
		Size:      100 << 20,
	}
	m.setStatus(queued, StatusQueued)
	m.uploads = append(m.uploads, queued)

	m.HandleTransferRequest(5, "bob", protocol.TransferRequest{
		Direction: protocol.DirectionRequestDownload,
		Req:       42,
		Filename:  "Music\\more.mp3",
	})

	resp, ok := mocks.network.lastSent(5).(protocol.TransferResponse)
	require.True(ok)
	require.False(resp.Allowed)
	require.Equal("User limit of 100 megabytes exceeded", resp.Reason)
}

func TestUploadRequestQueuedWhenBusy(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseUploadSlots: true, UploadSlots: 1})
	mocks.shares.Share("Music\\song.mp3", "/srv/music/song.mp3", 0)

	// One upload mid-negotiation occupies the only slot.
	busy := &Transfer{Username: "carol", Filename: "Music\\other.mp3", Direction: Upload, Req: 7}
	m.setStatus(busy, StatusWaitingUpload)
	m.uploads = append(m.uploads, busy)

	m.HandleTransferRequest(5, "bob", protocol.TransferRequest{
		Direction: protocol.DirectionRequestDownload,
		Req:       42,
		Filename:  "Music\\song.mp3",
	})

	resp, ok := mocks.network.lastSent(5).(protocol.TransferResponse)
	require.True(ok)
	require.False(resp.Allowed)
	require.Equal("Queued", resp.Reason)
	require.Equal(1, m.queuedTotal())
}

func TestFriendsSkipLimits(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{QueueLimit: 1, FriendsNoLimits: true})
	mocks.shares.Share("Music\\more.mp3", "/srv/music/more.mp3", 0)
	mocks.env.buddies["bob"] = true

	queued := &Transfer{Username: "bob", Filename: "Music\\big.mp3", Direction: Upload, Size: 10 << 20}
	m.setStatus(queued, StatusQueued)
	m.uploads = append(m.uploads, queued)

	m.HandleTransferRequest(5, "bob", protocol.TransferRequest{
		Direction: protocol.DirectionRequestDownload,
		Req:       42,
		Filename:  "Music\\more.mp3",
	})

	resp, ok := mocks.network.lastSent(5).(protocol.TransferResponse)
	require.True(ok)
	require.True(resp.Allowed)
}

func TestRoundRobinPicksLeastRecentlyQueuedUser(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseUploadSlots: true, UploadSlots: 1})
	mocks.shares.Share("a\\f1.mp3", "/srv/a/f1.mp3", 0)
	mocks.shares.Share("b\\f2.mp3", "/srv/b/f2.mp3", 0)

	now := mocks.clk.Now()
	a := &Transfer{Username: "a", Filename: "a\\f1.mp3", RealPath: "/srv/a/f1.mp3",
		Direction: Upload, TimeQueued: now.Add(-2 * time.Second)}
	b := &Transfer{Username: "b", Filename: "b\\f2.mp3", RealPath: "/srv/b/f2.mp3",
		Direction: Upload, TimeQueued: now.Add(-time.Second)}
	m.setStatus(a, StatusQueued)
	m.setStatus(b, StatusQueued)
	m.uploads = append(m.uploads, b, a)
	m.addQueued("b")
	m.addQueued("a")

	m.CheckUploadQueue()

	msg, ok := mocks.env.lastPeerMsg("a").(protocol.TransferRequest)
	require.True(ok)
	require.Equal("a\\f1.mp3", msg.Filename)
	require.Nil(mocks.env.lastPeerMsg("b"))
	require.Equal(1, m.queuedTotal())
}

func TestPrivilegedPreemptQueue(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseUploadSlots: true, UploadSlots: 1, FIFOQueue: true})
	mocks.shares.Share("a\\f1.mp3", "/srv/a/f1.mp3", 0)
	mocks.shares.Share("p\\f2.mp3", "/srv/p/f2.mp3", 0)

	a := &Transfer{Username: "a", Filename: "a\\f1.mp3", RealPath: "/srv/a/f1.mp3", Direction: Upload}
	p := &Transfer{Username: "p", Filename: "p\\f2.mp3", RealPath: "/srv/p/f2.mp3", Direction: Upload}
	m.setStatus(a, StatusQueued)
	m.setStatus(p, StatusQueued)
	m.uploads = append(m.uploads, a, p)
	m.addQueued("a")
	m.AddToPrivileged("p")
	m.addQueued("p")

	m.CheckUploadQueue()

	msg, ok := mocks.env.lastPeerMsg("p").(protocol.TransferRequest)
	require.True(ok)
	require.Equal("p\\f2.mp3", msg.Filename)
	require.Nil(mocks.env.lastPeerMsg("a"))
}

func TestQueueAccountingPrivilegeMigration(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})

	m.addQueued("u")
	m.addQueued("u")
	total, priv := m.QueueSizes("")
	require.Equal(1, total)
	require.Equal(0, priv)

	m.AddToPrivileged("u")
	require.True(m.IsPrivileged("u"))
	total, priv = m.QueueSizes("")
	require.Equal(2, total)
	require.Equal(2, priv)

	m.removeQueued("u")
	require.Equal(1, m.privCount)
	m.removeQueued("u")
	require.Equal(0, m.queuedTotal())
}

func TestTransferResponseQueuedDemotesDownload(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})
	m.Download("alice", "Music\\song.mp3", "")
	req := m.downloads[0].Req

	m.HandleTransferResponse("alice", protocol.TransferResponse{Req: req, Reason: "Queued"})

	d := m.downloads[0]
	require.Equal(StatusQueued, d.Status())
	require.Equal(core.RequestID(0), d.Req)

	msg, ok := mocks.env.lastPeerMsg("alice").(protocol.PlaceInQueueRequest)
	require.True(ok)
	require.Equal("Music\\song.mp3", msg.Filename)
}

func TestTransferResponseAllowedRequestsFile(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})
	m.Download("alice", "Music\\song.mp3", "")
	req := m.downloads[0].Req

	m.HandleTransferResponse("alice", protocol.TransferResponse{Req: req, Allowed: true, Size: 999})

	d := m.downloads[0]
	require.Equal(StatusEstablishing, d.Status())
	require.Equal(int64(999), d.Size)
	require.True(d.SizeKnown)

	msg, ok := mocks.env.lastPeerMsg("alice").(protocol.FileRequest)
	require.True(ok)
	require.Equal(req, msg.Req)
}

func TestTransferTimeout(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})
	m.Download("alice", "Music\\song.mp3", "")
	d := m.downloads[0]
	m.setStatus(d, StatusRequestingFile)

	m.TransferTimeout(d.Req)

	require.Equal(StatusCannotConnect, d.Status())
	require.Equal(core.RequestID(0), d.Req)
	require.Contains(mocks.env.watched, "alice")
}

func TestTransferTimeoutSkipsQueued(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})
	m.Download("alice", "Music\\song.mp3", "")
	d := m.downloads[0]
	m.setStatus(d, StatusQueued)

	m.TransferTimeout(d.Req)

	require.Equal(StatusQueued, d.Status())
}

func TestConnClosedCancelsUpload(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	u := &Transfer{Username: "bob", Filename: "Music\\song.mp3", Direction: Upload, ConnID: 7}
	m.setStatus(u, StatusTransferring)
	m.uploads = append(m.uploads, u)

	m.ConnClosed(7, "bob", false)

	require.Equal(StatusCancelled, u.Status())
	require.Equal(core.ConnID(0), u.ConnID)

	msg, ok := mocks.env.lastPeerMsg("bob").(protocol.QueueFailed)
	require.True(ok)
	require.Equal("Cancelled", msg.Reason)
}

func TestConnClosedOfflineDownload(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})

	d := &Transfer{Username: "alice", Filename: "Music\\song.mp3", Direction: Download, ConnID: 7}
	m.setStatus(d, StatusTransferring)
	m.downloads = append(m.downloads, d)

	m.ConnClosed(7, "alice", true)

	require.Equal(StatusUserLoggedOff, d.Status())
}

func TestUserStatusOffline(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})

	d := &Transfer{Username: "alice", Filename: "Music\\song.mp3", Direction: Download}
	m.setStatus(d, StatusGettingStatus)
	m.downloads = append(m.downloads, d)

	u := &Transfer{Username: "alice", Filename: "Shared\\f.mp3", Direction: Upload}
	m.setStatus(u, StatusQueued)
	m.uploads = append(m.uploads, u)

	m.UserStatusChanged("alice", core.StatusOffline)

	require.Equal(StatusUserLoggedOff, d.Status())
	require.Empty(m.uploads)
}

func TestUserStatusOnlineRetriesDownload(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})
	mocks.env.statuses["alice"] = core.StatusOnline

	d := &Transfer{Username: "alice", Filename: "Music\\song.mp3", Direction: Download}
	m.setStatus(d, StatusUserLoggedOff)
	m.downloads = append(m.downloads, d)

	m.UserStatusChanged("alice", core.StatusOnline)

	require.Equal(StatusGettingStatus, d.Status())
	msg, ok := mocks.env.lastPeerMsg("alice").(protocol.TransferRequest)
	require.True(ok)
	require.Equal("Music\\song.mp3", msg.Filename)
}

func TestBanUser(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{UseCustomBan: true, CustomBan: "no leechers"})

	u := &Transfer{Username: "bob", Filename: "Music\\song.mp3", Direction: Upload}
	m.setStatus(u, StatusQueued)
	m.uploads = append(m.uploads, u)

	m.BanUser("bob", "")

	msg, ok := mocks.env.lastPeerMsg("bob").(protocol.QueueFailed)
	require.True(ok)
	require.Equal("Banned (no leechers)", msg.Reason)
}

func TestCanUpload(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{RemoteDownloads: true, UploadAllowed: 2})
	require.False(m.CanUpload("stranger"))

	mocks.env.buddies["friend"] = true
	require.True(m.CanUpload("friend"))

	m.config.UploadAllowed = 3
	require.False(m.CanUpload("friend"))
	mocks.env.trusted["friend"] = true
	require.True(m.CanUpload("friend"))

	m.config.RemoteDownloads = false
	require.False(m.CanUpload("friend"))
}

func TestUploadQueueNotificationDisallowed(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	m.HandleUploadQueueNotification("stranger")

	require.False(m.requestedUploadQueue.Has("stranger"))
	require.Len(mocks.env.serverMsgs, 1)
	msg, ok := mocks.env.serverMsgs[0].(protocol.MessageUser)
	require.True(ok)
	require.Equal("stranger", msg.Username)
	require.Equal("[Automatic Message] You are not allowed to send me files.", msg.Text)
}

func TestHandleQueueUploadNotShared(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})

	m.HandleQueueUpload(5, "bob", protocol.QueueUpload{Filename: "Music\\hidden.mp3"})

	msg, ok := mocks.network.lastSent(5).(protocol.QueueFailed)
	require.True(ok)
	require.Equal("File not shared", msg.Reason)
	require.Empty(m.uploads)
}

func TestHandleQueueUpload(t *testing.T) {
	require := require.New(t)

	m, mocks := newTestManager(Config{})
	mocks.shares.Share("Music\\song.mp3", "/srv/music/song.mp3", 0)

	m.HandleQueueUpload(5, "bob", protocol.QueueUpload{Filename: "Music\\song.mp3"})

	require.Len(m.uploads, 1)
	require.Equal(StatusQueued, m.uploads[0].Status())
	require.Equal(1, m.queuedTotal())
}

func TestQueueFailedDemotesDownload(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(Config{})

	d := &Transfer{Username: "alice", Filename: "Music\\song.mp3", Direction: Download}
	m.setStatus(d, StatusQueued)
	m.downloads = append(m.downloads, d)

	m.HandleQueueFailed("alice", protocol.QueueFailed{
		Filename: "Music\\song.mp3", Reason: "Banned",
	})

	require.Equal(Status("Banned"), d.Status())
}

func TestFolderContentsPrioritized(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _ := newTestManager(Config{DownloadDir: dir, Prioritize: true})

	m.HandleFolderContentsResponse("alice", protocol.FolderContentsResponse{
		Folders: map[string][]protocol.FileEntry{
			"Music\\Album": {
				{Filename: "01.mp3", Size: 100},
				{Filename: "album.nfo", Size: 5},
				{Filename: "02.mp3", Size: 200},
			},
		},
	})

	require.Len(m.downloads, 3)
	require.Equal("Music\\Album\\album.nfo", m.downloads[0].Filename)
	for _, d := range m.downloads {
		require.Contains(d.Path, "Album")
	}
}

func TestFolderContentsDuplicateSkipped(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _ := newTestManager(Config{DownloadDir: dir})

	resp := protocol.FolderContentsResponse{
		Folders: map[string][]protocol.FileEntry{
			"Music\\Album": {{Filename: "01.mp3", Size: 100}},
		},
	}
	m.HandleFolderContentsResponse("alice", resp)
	m.HandleFolderContentsResponse("alice", resp)
	require.Len(m.downloads, 1)
}
