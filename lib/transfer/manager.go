// Package transfer implements the transfer manager: it owns every upload
// and download, drives negotiation with peers, executes file I/O through the
// network layer, applies admission and scheduling policy, and persists the
// download queue. All entry points run on the client event loop.
package transfer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/shares"
	"github.com/gosoulseek/gosoulseek/utils/log"
	"github.com/gosoulseek/gosoulseek/utils/memsize"
	"github.com/gosoulseek/gosoulseek/utils/stringset"
)

const watchdogTimer = "download-watchdog"

// Manager owns all transfers.
//
// Manager is NOT thread-safe. It is owned by the client event loop and must
// only be entered from it; timers and network I/O re-enter through events.
type Manager struct {
	config  Config
	clk     clock.Clock
	stats   tally.Scope
	env     Env
	network Network
	shares  shares.Shares
	sink    Sink

	downloads []*Transfer
	uploads   []*Transfer

	// Users granted queue priority by the server.
	privilegedUsers stringset.Set

	// Users that announced they will push files to us.
	requestedUploadQueue stringset.Set

	// Queued-upload counts per user, split by privilege so "is any
	// privileged user waiting" is O(1).
	usersQueued     map[string]int
	privUsersQueued map[string]int
	privCount       int

	nextReq core.RequestID

	filterRe *regexp.Regexp
}

// New creates a Manager, restores the persisted download queue, and arms the
// stuck-download watchdog. sink may be nil.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	env Env,
	network Network,
	sharedb shares.Shares,
	sink Sink) *Manager {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{"module": "transfer"})

	m := &Manager{
		config:               config,
		clk:                  clk,
		stats:                stats,
		env:                  env,
		network:              network,
		shares:               sharedb,
		sink:                 sink,
		privilegedUsers:      stringset.New(),
		requestedUploadQueue: stringset.New(),
		usersQueued:          make(map[string]int),
		privUsersQueued:      make(map[string]int),
	}

	if config.EnableFilters && config.DownloadRegexp != "" {
		re, err := regexp.Compile("(?i)" + config.DownloadRegexp)
		if err != nil {
			log.Errorf("Invalid download filter %q: %s", config.DownloadRegexp, err)
		} else {
			m.filterRe = re
		}
	}

	if config.UseUploadLimit && config.LimitBy {
		network.SetUploadLimit(uint64(config.UploadLimit) * memsize.KB)
	}

	m.loadDownloads()
	m.scheduleWatchdog()

	return m
}

// Downloads returns the download list. Callers must not mutate it.
func (m *Manager) Downloads() []*Transfer { return m.downloads }

// Uploads returns the upload list. Callers must not mutate it.
func (m *Manager) Uploads() []*Transfer { return m.uploads }

func (m *Manager) setStatus(t *Transfer, s Status) {
	t.status = s
	t.LastStatusChange = m.clk.Now()
}

func (m *Manager) update(t *Transfer) {
	if m.sink != nil {
		m.sink.TransferUpdated(t)
	}
}

func (m *Manager) removeDownload(t *Transfer) {
	for i, d := range m.downloads {
		if d == t {
			m.downloads = append(m.downloads[:i], m.downloads[i+1:]...)
			break
		}
	}
	if m.sink != nil {
		m.sink.TransferRemoved(t)
	}
}

func (m *Manager) removeUpload(t *Transfer) {
	for i, u := range m.uploads {
		if u == t {
			m.uploads = append(m.uploads[:i], m.uploads[i+1:]...)
			break
		}
	}
	if m.sink != nil {
		m.sink.TransferRemoved(t)
	}
}

func (m *Manager) newReq() core.RequestID {
	m.nextReq++
	return m.nextReq
}

func timerName(req core.RequestID) string {
	return fmt.Sprintf("transfer:%d", req)
}

func (m *Manager) armTransferTimer(t *Transfer) {
	req := t.Req
	m.env.Schedule(timerName(req), m.config.NegotiationTimeout, func() {
		m.TransferTimeout(req)
	})
}

func (m *Manager) cancelTransferTimer(t *Transfer) {
	if t.Req != 0 {
		m.env.CancelTimer(timerName(t.Req))
	}
}

// Download requests filename from user, saving under path (or the default
// download dir when empty).
func (m *Manager) Download(username, filename, path string) {
	m.getFile(username, filename, path, nil, 0, "", "", false)
}

func (m *Manager) getFile(
	username, filename, path string,
	t *Transfer,
	size int64, bitrate, length string,
	checkDuplicate bool) {

	path = cleanPath(path)

	if checkDuplicate {
		for _, d := range m.downloads {
			if d.Username == username && d.Filename == filename && d.Path == path {
				return
			}
		}
	}
	m.transferFile(Download, username, filename, "", path, t, size, bitrate, length)
}

func (m *Manager) pushFile(username, filename, realPath, path string, t *Transfer) {
	m.transferFile(Upload, username, filename, realPath, path, t, fileSize(realPath), "", "")
}

func (m *Manager) transferFile(
	direction Direction,
	username, filename, realPath, path string,
	t *Transfer,
	size int64, bitrate, length string) {

	if t == nil {
		t = &Transfer{
			Username:  username,
			Filename:  filename,
			RealPath:  realPath,
			Path:      path,
			Direction: direction,
			Size:      size,
			SizeKnown: size > 0,
			Bitrate:   bitrate,
			Length:    length,
		}
		m.setStatus(t, StatusGettingStatus)
		if direction == Download {
			m.downloads = append(m.downloads, t)
		} else {
			m.appendUpload(username, filename, t)
		}
	} else {
		m.setStatus(t, StatusGettingStatus)
	}

	// Only filter downloads, never uploads.
	if direction == Download && m.filterRe != nil && m.filterRe.MatchString(filename) {
		m.log("file", filename).Info("Filtering download")
		m.abortTransfer(t, false, StatusAborted)
		m.setStatus(t, StatusFiltered)
		if !m.autoClearDownload(t) {
			m.update(t)
		}
		return
	}

	if m.env.UserStatus(username) == core.StatusUnknown {
		m.env.WatchUser(username)
	}

	t.Req = m.newReq()
	rp := t.RealPath
	if rp == "" {
		rp, _ = m.shares.Resolve(filename, true)
	}
	m.env.RequestToPeer(username, protocol.TransferRequest{
		Direction: wireDirection(direction),
		Req:       t.Req,
		Filename:  filename,
		Size:      fileSize(rp),
	})
	m.update(t)
}

func wireDirection(d Direction) protocol.TransferDirection {
	if d == Download {
		return protocol.DirectionRequestDownload
	}
	return protocol.DirectionRequestUpload
}

// HandleTransferRequest processes a peer's TransferRequest. connID is zero
// for tunneled requests, in which case the response routes back through the
// connection setup path.
func (m *Manager) HandleTransferRequest(connID core.ConnID, username string, msg protocol.TransferRequest) {
	var resp protocol.TransferResponse
	if msg.Direction == protocol.DirectionRequestUpload {
		resp = m.transferRequestDownloads(username, msg)
	} else {
		resp = m.transferRequestUploads(username, msg)
	}
	if connID != 0 {
		if err := m.network.SendPeer(connID, resp); err != nil {
			m.log("user", username).Infof("Error sending transfer response: %s", err)
		}
	} else {
		m.env.RequestToPeer(username, resp)
	}
}

// transferRequestDownloads handles a peer signalling it is ready to send us
// a file.
func (m *Manager) transferRequestDownloads(username string, msg protocol.TransferRequest) protocol.TransferResponse {
	for _, t := range m.downloads {
		if t.Filename != msg.Filename || t.Username != username {
			continue
		}
		if t.status == StatusAborted || t.status == StatusPaused {
			continue
		}
		// Files over 2 GiB may arrive with a zeroed size header; keep
		// the size we cached when the download was added.
		if msg.Size > 0 {
			t.Size = msg.Size
			t.SizeKnown = true
		}
		m.cancelTransferTimer(t)
		t.Req = msg.Req
		m.setStatus(t, StatusWaitingDownload)
		m.armTransferTimer(t)
		m.update(t)
		return protocol.TransferResponse{Req: t.Req, Allowed: true}
	}

	// Not something we asked for: only users that announced an upload
	// queue may push new files.
	if m.CanUpload(username) && m.requestedUploadQueue.Has(username) {
		var path string
		if m.config.UploadsInSubdirs {
			parts := strings.Split(msg.Filename, "\\")
			if len(parts) >= 2 {
				path = filepath.Join(m.config.UploadDir, username, parts[len(parts)-2])
			}
		}
		t := &Transfer{
			Username:  username,
			Filename:  msg.Filename,
			Path:      path,
			Direction: Download,
			Size:      msg.Size,
			SizeKnown: msg.Size > 0,
			Req:       msg.Req,
		}
		m.setStatus(t, StatusGettingStatus)
		m.downloads = append(m.downloads, t)
		m.env.WatchUser(username)
		m.update(t)
		return protocol.TransferResponse{Req: t.Req, Reason: "Queued"}
	}

	m.log("user", username, "file", msg.Filename).Info("Denied file request")
	return protocol.TransferResponse{Req: msg.Req, Reason: "Cancelled"}
}

// transferRequestUploads handles a peer asking to download through our
// upload queue. Gates run in order; the first failure is returned.
func (m *Manager) transferRequestUploads(username string, msg protocol.TransferRequest) protocol.TransferResponse {
	resp := m.transferRequestUploadsChecked(username, msg)
	m.log("user", username, "file", msg.Filename, "allowed", resp.Allowed,
		"reason", resp.Reason).Info("Upload request")
	return resp
}

func (m *Manager) transferRequestUploadsChecked(username string, msg protocol.TransferRequest) protocol.TransferResponse {
	if tier, reason := m.env.CheckUser(username); tier == 0 {
		return protocol.TransferResponse{Req: msg.Req, Reason: reason}
	}

	buddy := m.env.IsBuddy(username)
	realPath, err := m.shares.Resolve(msg.Filename, buddy)
	if err != nil || !m.shares.IsShared(msg.Filename, buddy) {
		return protocol.TransferResponse{Req: msg.Req, Reason: "File not shared"}
	}

	if m.fileIsUploadQueued(username, msg.Filename) {
		return protocol.TransferResponse{Req: msg.Req, Reason: "Queued"}
	}

	limits := !(buddy && m.config.FriendsNoLimits)
	if limits && m.queueLimitReached(username) {
		return protocol.TransferResponse{
			Req:    msg.Req,
			Reason: fmt.Sprintf("User limit of %d megabytes exceeded", m.config.QueueLimit),
		}
	}
	if limits && m.fileLimitReached(username) {
		return protocol.TransferResponse{
			Req:    msg.Req,
			Reason: fmt.Sprintf("User limit of %d files exceeded", m.config.FileLimit),
		}
	}

	if m.sink != nil {
		m.sink.Notify("Upload queued", fmt.Sprintf("%s queued %s", username, msg.Filename))
	}

	size := fileSize(realPath)

	// Queue rather than start when no slot is free or the user is already
	// moving bytes.
	if !m.allowNewUploads() || m.userTransferring(username) {
		t := &Transfer{
			Username:   username,
			Filename:   msg.Filename,
			RealPath:   realPath,
			Path:       filepath.Dir(realPath),
			Direction:  Upload,
			Size:       size,
			SizeKnown:  true,
			TimeQueued: m.clk.Now(),
			QueuePlace: len(m.uploads),
		}
		m.setStatus(t, StatusQueued)
		m.appendUpload(username, msg.Filename, t)
		m.addQueued(username)
		m.update(t)
		return protocol.TransferResponse{Req: msg.Req, Reason: "Queued"}
	}

	t := &Transfer{
		Username:   username,
		Filename:   msg.Filename,
		RealPath:   realPath,
		Path:       filepath.Dir(realPath),
		Direction:  Upload,
		Size:       size,
		SizeKnown:  true,
		Req:        msg.Req,
		QueuePlace: len(m.uploads),
	}
	m.setStatus(t, StatusWaitingUpload)
	m.appendUpload(username, msg.Filename, t)
	m.armTransferTimer(t)
	m.update(t)
	return protocol.TransferResponse{Req: msg.Req, Allowed: true, Size: size}
}

// appendUpload replaces any previous upload of the same file to the same
// user.
func (m *Manager) appendUpload(username, filename string, t *Transfer) {
	for _, u := range m.uploads {
		if u.Username == username && u.Filename == filename {
			m.removeUpload(u)
			break
		}
	}
	m.uploads = append(m.uploads, t)
	m.stats.Gauge("uploads").Update(float64(len(m.uploads)))
}

// HandleQueueUpload processes a remote queue request (peer wants the file
// queued rather than started). Rejections answer with QueueFailed.
func (m *Manager) HandleQueueUpload(connID core.ConnID, username string, msg protocol.QueueUpload) {
	if !m.fileIsUploadQueued(username, msg.Filename) {
		buddy := m.env.IsBuddy(username)
		limits := !(buddy && m.config.FriendsNoLimits)

		fail := func(reason string) {
			m.network.SendPeer(connID, protocol.QueueFailed{
				Filename: msg.Filename, Reason: reason,
			})
		}

		if tier, reason := m.env.CheckUser(username); tier == 0 {
			fail(reason)
		} else if limits && m.queueLimitReached(username) {
			fail(fmt.Sprintf("User limit of %d megabytes exceeded", m.config.QueueLimit))
		} else if limits && m.fileLimitReached(username) {
			fail(fmt.Sprintf("User limit of %d files exceeded", m.config.FileLimit))
		} else if realPath, err := m.shares.Resolve(msg.Filename, buddy); err == nil {
			t := &Transfer{
				Username:   username,
				Filename:   msg.Filename,
				RealPath:   realPath,
				Path:       filepath.Dir(realPath),
				Direction:  Upload,
				Size:       fileSize(realPath),
				SizeKnown:  true,
				TimeQueued: m.clk.Now(),
			}
			m.setStatus(t, StatusQueued)
			m.appendUpload(username, msg.Filename, t)
			m.addQueued(username)
			m.update(t)
			if m.sink != nil {
				m.sink.Notify("Upload queued", fmt.Sprintf("%s queued %s", username, msg.Filename))
			}
		} else {
			fail("File not shared")
		}
	}

	m.log("user", username, "file", msg.Filename).Info("Queued upload request")
	m.CheckUploadQueue()
}

// HandleUploadQueueNotification registers a peer that intends to push files
// to us, or warns it off when policy forbids that.
func (m *Manager) HandleUploadQueueNotification(username string) {
	if m.CanUpload(username) {
		m.log("user", username).Info("User is attempting to upload files to us")
		m.requestedUploadQueue.Add(username)
		return
	}
	m.env.SendServer(protocol.MessageUser{
		Username: username,
		Text:     "[Automatic Message] You are not allowed to send me files.",
	})
	m.log("user", username).Info("Disallowed upload attempt, warning sent")
}

// CanUpload reports whether username may push files to us, per the
// remote-download policy modes.
func (m *Manager) CanUpload(username string) bool {
	if !m.config.RemoteDownloads {
		return false
	}
	switch m.config.UploadAllowed {
	case 0: // no one
		return false
	case 1: // everyone
		return true
	case 2: // buddies
		return m.env.IsBuddy(username)
	case 3: // trusted buddies
		return m.env.IsBuddy(username) && m.env.BuddyTrusted(username)
	default:
		return false
	}
}

// HandleQueueFailed demotes a download to the peer-provided reason.
func (m *Manager) HandleQueueFailed(username string, msg protocol.QueueFailed) {
	for _, t := range m.downloads {
		if t.Username != username || t.Filename != msg.Filename {
			continue
		}
		if t.status == StatusAborted || t.status == StatusPaused {
			continue
		}
		if statusIn(t.status, transferStatuses) {
			m.abortTransfer(t, false, Status(msg.Reason))
		}
		m.setStatus(t, Status(msg.Reason))
		m.update(t)
		break
	}
}

// HandleUploadFailed retries a download whose sender reported failure.
func (m *Manager) HandleUploadFailed(username string, msg protocol.UploadFailed) {
	for _, t := range m.downloads {
		if t.Username != username || t.Filename != msg.Filename {
			continue
		}
		if t.ConnID == 0 && t.status != StatusConnClosedByPeer &&
			t.status != StatusEstablishing && t.status != StatusWaitingDownload {
			continue
		}
		m.abortTransfer(t, false, StatusAborted)
		m.getFile(t.Username, t.Filename, t.Path, t, 0, "", "", false)
		m.log("user", t.Username, "file", t.Filename).Info("Retrying failed download")
		break
	}
}

// HandleTransferResponse processes the peer's answer to our TransferRequest.
func (m *Manager) HandleTransferResponse(username string, msg protocol.TransferResponse) {
	if !msg.Allowed {
		m.transferResponseDenied(msg)
		return
	}

	for _, t := range m.downloads {
		if t.Req != msg.Req {
			continue
		}
		if msg.Size > 0 {
			t.Size = msg.Size
			t.SizeKnown = true
		}
		m.setStatus(t, StatusEstablishing)
		m.env.RequestToPeer(t.Username, protocol.FileRequest{Req: msg.Req})
		m.update(t)
		return
	}

	for _, t := range m.uploads {
		if t.Req != msg.Req {
			continue
		}
		m.setStatus(t, StatusEstablishing)
		m.env.RequestToPeer(t.Username, protocol.FileRequest{Req: msg.Req})
		m.update(t)
		m.CheckUploadQueue()
		return
	}

	m.log("req", msg.Req).Info("Got unknown transfer response")
}

func (m *Manager) transferResponseDenied(msg protocol.TransferResponse) {
	for _, t := range m.downloads {
		if t.Req != msg.Req {
			continue
		}
		m.setStatus(t, Status(msg.Reason))
		t.Req = 0
		m.update(t)

		if msg.Reason == "Queued" {
			if m.env.UserStatus(t.Username) == core.StatusUnknown {
				m.env.WatchUser(t.Username)
			}
			m.env.RequestToPeer(t.Username, protocol.PlaceInQueueRequest{Filename: t.Filename})
		}
		m.CheckUploadQueue()
		break
	}

	for _, t := range m.uploads {
		if t.Req != msg.Req {
			continue
		}
		m.setStatus(t, Status(msg.Reason))
		req := t.Req
		t.Req = 0
		m.update(t)

		switch msg.Reason {
		case "Queued":
			if m.env.UserStatus(t.Username) == core.StatusUnknown {
				m.env.WatchUser(t.Username)
			}
			m.env.CancelTimer(timerName(req))
			m.removeUpload(t)
		case "Cancelled":
			m.autoClearUpload(t)
		}
		m.CheckUploadQueue()
		break
	}
}

// TransferTimeout fires when a negotiation stalled for the full timeout.
func (m *Manager) TransferTimeout(req core.RequestID) {
	for _, t := range append(append([]*Transfer{}, m.downloads...), m.uploads...) {
		if t.Req != req {
			continue
		}
		if t.status == StatusQueued || t.status == StatusUserLoggedOff ||
			t.status == StatusPaused || statusIn(t.status, completedStatuses) {
			continue
		}
		m.setStatus(t, StatusCannotConnect)
		t.Req = 0
		m.refreshTimeQueued(t.Username)
		m.env.WatchUser(t.Username)
		m.update(t)
		break
	}
	m.CheckUploadQueue()
}

// refreshTimeQueued resets round-robin ordering for a user's uploads.
func (m *Manager) refreshTimeQueued(username string) {
	now := m.clk.Now()
	for _, u := range m.uploads {
		if u.Username == username {
			u.TimeQueued = now
		}
	}
}

// GettingAddress marks a negotiation as waiting for an address lookup.
func (m *Manager) GettingAddress(req core.RequestID) {
	m.setStatusByReq(req, StatusGettingAddress)
}

// GotAddress marks a negotiation as dialing.
func (m *Manager) GotAddress(req core.RequestID) {
	m.setStatusByReq(req, StatusConnecting)
}

// GotConnectError marks a negotiation as waiting for the peer to connect
// back; the indirect path is in progress.
func (m *Manager) GotConnectError(req core.RequestID) {
	m.setStatusByReq(req, StatusWaitingForPeer)
}

func (m *Manager) setStatusByReq(req core.RequestID, s Status) {
	for _, t := range append(append([]*Transfer{}, m.downloads...), m.uploads...) {
		if t.Req == req {
			m.setStatus(t, s)
			m.update(t)
			return
		}
	}
}

// GotCantConnect fires when neither direct nor indirect connect worked.
func (m *Manager) GotCantConnect(req core.RequestID) {
	for _, t := range m.downloads {
		if t.Req == req {
			m.setStatus(t, StatusCannotConnect)
			t.Req = 0
			m.env.WatchUser(t.Username)
			m.update(t)
			break
		}
	}
	for _, t := range m.uploads {
		if t.Req == req {
			m.setStatus(t, StatusCannotConnect)
			t.Req = 0
			m.refreshTimeQueued(t.Username)
			m.env.WatchUser(t.Username)
			m.update(t)
			m.CheckUploadQueue()
			break
		}
	}
}

// GotConnect fires when the 'P' connection carrying our request is up.
func (m *Manager) GotConnect(req core.RequestID, connID core.ConnID) {
	for _, t := range append(append([]*Transfer{}, m.downloads...), m.uploads...) {
		if t.Req == req {
			m.setStatus(t, StatusRequestingFile)
			t.RequestConnID = connID
			m.update(t)
			return
		}
	}
}

// UserStatusChanged re-drives transfers when a user's presence changes.
func (m *Manager) UserStatusChanged(username string, status core.UserStatus) {
	retriable := []Status{
		StatusQueued, StatusGettingStatus, StatusUserLoggedOff,
		StatusConnClosedByPeer, StatusAborted, StatusCannotConnect, StatusPaused,
	}
	holdback := []Status{
		StatusQueued, StatusAborted, StatusCannotConnect, StatusPaused,
	}

	for _, t := range m.downloads {
		if t.Username != username || !statusIn(t.status, retriable) {
			continue
		}
		if status != core.StatusOffline {
			if !statusIn(t.status, holdback) {
				m.getFile(t.Username, t.Filename, t.Path, t, 0, "", "", false)
			}
		} else if t.status != StatusAborted && t.status != StatusFiltered {
			m.setStatus(t, StatusUserLoggedOff)
			m.update(t)
		}
	}

	for _, t := range append([]*Transfer{}, m.uploads...) {
		if t.Username != username || t.status == StatusFinished {
			continue
		}
		if status != core.StatusOffline {
			if t.status == StatusGettingStatus {
				m.pushFile(t.Username, t.Filename, t.RealPath, t.Path, t)
			}
		} else {
			m.cancelTransferTimer(t)
			m.removeUpload(t)
		}
	}

	if status == core.StatusOffline {
		m.CheckUploadQueue()
	}
}

// ConnClosed handles a peer socket closing for any transfer bound to it.
func (m *Manager) ConnClosed(id core.ConnID, username string, offline bool) {
	for _, t := range m.downloads {
		if t.ConnID == id || (t.RequestConnID == id && t.status == StatusRequestingFile) {
			m.connClose(t, offline)
		}
	}
	for _, t := range append([]*Transfer{}, m.uploads...) {
		if t.ConnID == id || (t.RequestConnID == id && t.status == StatusRequestingFile) {
			m.connClose(t, offline)
		}
	}
}

func (m *Manager) connClose(t *Transfer, offline bool) {
	if t.RequestConnID != 0 && t.status == StatusRequestingFile {
		t.RequestConnID = 0
		m.setStatus(t, StatusConnClosedByPeer)
		t.Req = 0
		m.update(t)
		m.CheckUploadQueue()
	}

	m.closeFile(t)

	if t.status != StatusFinished {
		if offline {
			m.setStatus(t, StatusUserLoggedOff)
		} else if t.Direction == Download {
			m.setStatus(t, StatusConnClosedByPeer)
		} else {
			m.setStatus(t, StatusCancelled)
			m.abortTransfer(t, false, StatusCancelled)
			m.autoClearUpload(t)
		}
	}

	m.refreshTimeQueued(t.Username)
	t.ConnID = 0
	m.update(t)
	m.CheckUploadQueue()
}

// HandlePlaceInQueue records the queue place a peer reported for our
// download.
func (m *Manager) HandlePlaceInQueue(username string, msg protocol.PlaceInQueue) {
	for _, t := range m.downloads {
		if t.Username == username && t.Filename == msg.Filename {
			t.QueuePlace = msg.Place
			m.update(t)
			break
		}
	}
}

// AbortTransfers pauses everything on server disconnect. Paused and aborted
// transfers stay paused; the rest are marked for reissue.
func (m *Manager) AbortTransfers() {
	for _, t := range append(append([]*Transfer{}, m.downloads...), m.uploads...) {
		switch t.status {
		case StatusAborted, StatusPaused:
			m.abortTransfer(t, false, StatusAborted)
			m.setStatus(t, StatusPaused)
		case StatusFinished:
		default:
			m.abortTransfer(t, false, StatusAborted)
			m.setStatus(t, StatusOld)
		}
	}
}

// Abort aborts a single transfer, removing the partial file when remove is
// set.
func (m *Manager) Abort(t *Transfer, remove bool) {
	m.abortTransfer(t, remove, StatusAborted)
	m.setStatus(t, StatusAborted)
	m.update(t)
}

func (m *Manager) abortTransfer(t *Transfer, remove bool, reason Status) {
	m.cancelTransferTimer(t)
	t.Req = 0
	t.Speed = 0
	t.SpeedKnown = false
	t.TimeLeft = ""

	if t.Direction == Upload {
		m.env.RequestToPeer(t.Username, protocol.QueueFailed{
			Filename: t.Filename, Reason: string(reason),
		})
	}

	if t.ConnID != 0 {
		m.network.Close(t.ConnID)
		t.ConnID = 0
	}

	if t.file != nil {
		name := t.file.Name()
		t.file.Close()
		if remove {
			removeFile(name)
		}
		t.file = nil
		m.log("user", t.Username, "file", t.Filename,
			"direction", t.Direction).Info("Transfer aborted")
	}
}

// BanUser cancels every transfer of a user with a ban reason and reports the
// user for banlist persistence.
func (m *Manager) BanUser(username, banMessage string) {
	var reason string
	switch {
	case banMessage != "":
		reason = fmt.Sprintf("Banned (%s)", banMessage)
	case m.config.UseCustomBan:
		reason = fmt.Sprintf("Banned (%s)", m.config.CustomBan)
	default:
		reason = "Banned"
	}

	for _, t := range append([]*Transfer{}, m.uploads...) {
		if t.Username != username {
			continue
		}
		if t.status == StatusQueued {
			m.env.RequestToPeer(username, protocol.QueueFailed{
				Filename: t.Filename, Reason: reason,
			})
		} else {
			m.abortTransfer(t, false, Status(reason))
		}
	}
}

// SetPrivilegedUsers replaces the privileged set with the server's list.
func (m *Manager) SetPrivilegedUsers(users []string) {
	for _, u := range users {
		m.AddToPrivileged(u)
	}
}

// AddToPrivileged promotes a user, migrating any queued-count accounting.
func (m *Manager) AddToPrivileged(username string) {
	m.privilegedUsers.Add(username)

	if n, ok := m.usersQueued[username]; ok {
		m.privUsersQueued[username] += n
		m.privCount += n
		delete(m.usersQueued, username)
	}
}

// IsPrivileged reports whether a user has queue priority.
func (m *Manager) IsPrivileged(username string) bool {
	return m.privilegedUsers.Has(username) || m.userListPrivileged(username)
}

func (m *Manager) userListPrivileged(username string) bool {
	if m.config.PreferFriends {
		return m.env.IsBuddy(username)
	}
	return m.env.IsBuddy(username) && m.env.BuddyPrivileged(username)
}

func (m *Manager) scheduleWatchdog() {
	m.env.Schedule(watchdogTimer, m.config.WatchdogInterval, m.CheckDownloadQueue)
}

// CheckDownloadQueue aborts and re-requests failed or stuck downloads and
// refreshes queue positions. Runs every watchdog interval.
func (m *Manager) CheckDownloadQueue() {
	stuck := append(append([]Status{}, failedStatuses...),
		StatusGettingStatus, StatusGettingAddress, StatusConnecting,
		StatusWaitingForPeer, StatusRequestingFile, StatusInitializing)

	for _, t := range m.downloads {
		if statusIn(t.status, stuck) {
			m.abortTransfer(t, false, StatusAborted)
			m.getFile(t.Username, t.Filename, t.Path, t, 0, "", "", false)
		} else if t.status == StatusQueued {
			m.env.RequestToPeer(t.Username, protocol.PlaceInQueueRequest{Filename: t.Filename})
		}
	}

	m.scheduleWatchdog()
}

func (m *Manager) autoClearDownload(t *Transfer) bool {
	if m.config.AutoClearDownloads {
		m.removeDownload(t)
		return true
	}
	return false
}

func (m *Manager) autoClearUpload(t *Transfer) {
	if m.config.AutoClearUploads {
		m.removeUpload(t)
		m.recalcQueueSizes()
		m.CheckUploadQueue()
	}
}

// HandleFolderContentsResponse queues every file of a received folder
// listing, skipping subfolders, with optional prioritization of checksum
// and info files.
func (m *Manager) HandleFolderContentsResponse(username string, msg protocol.FolderContentsResponse) {
	for folder, files := range msg.Folders {
		var priority, normal []protocol.FileEntry
		if m.config.Prioritize {
			for _, f := range files {
				switch strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Filename), ".")) {
				case "sfv", "md5", "nfo":
					priority = append(priority, f)
				default:
					normal = append(normal, f)
				}
			}
		} else {
			normal = append([]protocol.FileEntry{}, files...)
		}

		if m.config.ReverseOrder {
			sort.Slice(normal, func(i, j int) bool {
				return normal[i].Filename > normal[j].Filename
			})
		}

		dest := m.folderDestination(username, folder)
		for _, f := range append(priority, normal...) {
			virtual := folder + "\\" + f.Filename
			if strings.HasSuffix(folder, "\\") {
				virtual = folder + f.Filename
			}
			m.getFile(username, virtual, dest, nil, f.Size,
				fmt.Sprintf("%d", f.Bitrate), fmt.Sprintf("%d", f.Length), true)
		}
	}
}

// folderDestination picks the local dir a folder download lands in,
// suffixing " (n)" when it already exists.
func (m *Manager) folderDestination(username, folder string) string {
	dest := m.env.RequestedFolder(username, folder)

	parts := strings.Split(strings.TrimSuffix(folder, "\\"), "\\")
	parent := parts[len(parts)-1]
	dest = filepath.Join(dest, parent)

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(m.config.DownloadDir, dest)
	}

	orig := dest
	for n := 1; pathExists(dest); n++ {
		dest = fmt.Sprintf("%s (%d)", orig, n)
	}
	return dest
}

func (m *Manager) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	return log.With(keysAndValues...)
}
