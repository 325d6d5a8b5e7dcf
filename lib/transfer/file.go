package transfer

import (
	"crypto/md5"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/timeutil"
)

// FileConnOpened binds an established 'F' socket to the negotiation it
// belongs to. Unknown requests get the socket closed.
func (m *Manager) FileConnOpened(id core.ConnID, req core.RequestID) {
	for _, t := range m.downloads {
		if t.Req == req {
			m.fileRequestDownload(id, t)
			return
		}
	}
	for _, t := range m.uploads {
		if t.Req == req {
			m.fileRequestUpload(id, t)
			return
		}
	}
	m.network.Close(id)
}

// fileRequestDownload opens (or resumes) the incomplete file and starts
// receiving.
func (m *Manager) fileRequestDownload(id core.ConnID, t *Transfer) {
	if t.ConnID != 0 || !t.SizeKnown {
		m.log("user", t.Username, "file", t.Filename).Warn("Unexpected file request for download")
		m.network.Close(id)
		return
	}

	t.ConnID = id
	m.cancelTransferTimer(t)
	t.Req = 0

	incompleteDir := m.config.IncompleteDir
	if incompleteDir == "" {
		if filepath.IsAbs(t.Path) {
			incompleteDir = t.Path
		} else {
			incompleteDir = filepath.Join(m.config.DownloadDir, t.Path)
		}
	}

	if err := os.MkdirAll(incompleteDir, 0755); err != nil {
		m.log("dir", incompleteDir).Errorf("Download directory error: %s", err)
		m.setStatus(t, StatusDownloadDirError)
		t.ConnID = 0
		m.network.Close(id)
		if m.sink != nil {
			m.sink.Notify("Folder download error", err.Error())
		}
		m.update(t)
		return
	}

	fname := m.incompleteName(incompleteDir, t)
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		m.log("file", fname).Errorf("Download I/O error: %s", err)
		m.setStatus(t, StatusLocalFileError)
		t.ConnID = 0
		m.network.Close(id)
		m.update(t)
		return
	}

	if m.config.Lock {
		// Advisory only. Losing the race is a warning, never a failure.
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			m.log("file", fname).Warnf("Cannot get an exclusive lock on file: %s", err)
		}
	}

	size, err := f.Seek(0, 2)
	if err != nil {
		m.log("file", fname).Errorf("Download I/O error: %s", err)
		m.setStatus(t, StatusLocalFileError)
		f.Close()
		t.ConnID = 0
		m.network.Close(id)
		m.update(t)
		return
	}

	t.CurrentBytes = size
	t.LastBytes = size
	t.Offset = size
	t.QueuePlace = 0
	t.StartTime = m.clk.Now()
	t.file = f

	if t.Size > size {
		m.setStatus(t, StatusTransferring)
		m.network.SendPeer(id, protocol.FileOffset{Offset: size})
		m.network.ReceiveFile(id, f, size, t.Size)
		m.log("user", t.Username, "file", fname).Info("Download started")
	} else {
		m.downloadFinished(t)
	}
	m.update(t)
}

// fileRequestUpload opens the shared file and waits for the downloader's
// resume offset.
func (m *Manager) fileRequestUpload(id core.ConnID, t *Transfer) {
	if t.ConnID != 0 {
		m.log("user", t.Username, "file", t.Filename).Warn("Unexpected file request for upload")
		m.network.Close(id)
		return
	}

	t.ConnID = id
	m.cancelTransferTimer(t)
	t.Req = 0

	f, err := os.Open(filepath.FromSlash(t.RealPath))
	if err != nil {
		m.log("file", t.RealPath).Errorf("Upload I/O error: %s", err)
		m.setStatus(t, StatusLocalFileError)
		t.ConnID = 0
		m.network.Close(id)
		m.update(t)
		return
	}

	t.file = f
	m.setStatus(t, StatusInitializing)
	if m.config.UseUploadLimit && !m.config.LimitBy {
		m.network.SetConnUploadLimit(id, uint64(m.config.UploadLimit)*1024)
	}
	m.network.AwaitFileOffset(id)
	m.log("user", t.Username, "file", t.Filename).Info("Upload started")
	m.update(t)
}

// FileOffsetReceived starts streaming an upload from the offset the
// downloader asked for.
func (m *Manager) FileOffsetReceived(id core.ConnID, offset int64) {
	for _, t := range m.uploads {
		if t.ConnID != id {
			continue
		}
		t.Offset = offset
		t.CurrentBytes = offset
		t.LastBytes = offset
		m.network.SendFile(id, t.file, offset)
		return
	}
	m.log("conn", id).Info("Got file offset for unknown upload")
	m.network.Close(id)
}

// FileProgress applies a byte-progress tick from the network layer.
func (m *Manager) FileProgress(id core.ConnID, bytes int64) {
	for _, t := range m.downloads {
		if t.ConnID == id {
			m.downloadProgress(t, bytes)
			return
		}
	}
	for _, t := range m.uploads {
		if t.ConnID == id {
			m.uploadProgress(t, bytes)
			return
		}
	}
}

func (m *Manager) downloadProgress(t *Transfer, bytes int64) {
	m.cancelTransferTimer(t)
	now := m.clk.Now()

	t.CurrentBytes = bytes
	if t.StartTime.IsZero() {
		t.StartTime = now
	}
	if t.LastTime.IsZero() {
		t.LastTime = now.Add(-time.Second)
	}

	oldStatus := t.status
	m.setStatus(t, StatusTransferring)
	oldElapsed := t.TimeElapsed
	t.TimeElapsed = now.Sub(t.StartTime)

	if now.After(t.StartTime) && t.CurrentBytes > t.LastBytes {
		interval := now.Sub(t.LastTime).Seconds()
		if interval > 0 {
			t.Speed = float64(t.CurrentBytes-t.LastBytes) / interval
			if t.Speed < 0 {
				t.Speed = 0
			}
			t.SpeedKnown = true
		}
		if t.Speed <= 0 {
			t.TimeLeft = timeutil.InfiniteTimeLeft
		} else {
			t.TimeLeft = timeutil.FormatTimeLeft(secondsToDuration(float64(t.Size-t.CurrentBytes) / t.Speed))
		}
	}

	t.LastBytes = t.CurrentBytes
	t.LastTime = now

	if t.Size > t.CurrentBytes {
		// Rate-limit view updates to visible changes. A status flip is
		// always visible, even within the same second.
		if oldStatus != StatusTransferring ||
			oldElapsed/time.Second != t.TimeElapsed/time.Second {
			m.update(t)
		}
	} else {
		m.downloadFinished(t)
	}
}

func (m *Manager) uploadProgress(t *Transfer, bytes int64) {
	m.cancelTransferTimer(t)
	now := m.clk.Now()

	if t.StartTime.IsZero() {
		t.StartTime = now
		t.LastTime = now
		t.LastBytes = bytes
	}

	lastSpeed := 0.0
	if t.SpeedKnown {
		lastSpeed = t.Speed
	}

	t.CurrentBytes = bytes
	oldElapsed := t.TimeElapsed
	t.TimeElapsed = now.Sub(t.StartTime)

	if now.After(t.StartTime) && t.CurrentBytes > t.LastBytes {
		interval := now.Sub(t.LastTime).Seconds()
		if interval > 0 {
			t.Speed = float64(t.CurrentBytes-t.LastBytes) / interval
			if t.Speed < 0 {
				t.Speed = 0
			}
		} else {
			// Ticks faster than the clock resolution reuse the last
			// measurement.
			t.Speed = lastSpeed
		}
		t.SpeedKnown = true

		if t.Speed <= 0 && (t.CurrentBytes != t.Size || lastSpeed == 0) {
			t.TimeLeft = timeutil.InfiniteTimeLeft
		} else {
			if t.CurrentBytes == t.Size && t.Speed == 0 {
				t.Speed = lastSpeed
			}
			t.TimeLeft = timeutil.FormatTimeLeft(secondsToDuration(float64(t.Size-t.CurrentBytes) / t.Speed))
		}
		m.CheckUploadQueue()
	}

	t.LastBytes = t.CurrentBytes
	t.LastTime = now

	if t.Size > t.CurrentBytes {
		oldStatus := t.status
		m.setStatus(t, StatusTransferring)
		if oldStatus != StatusTransferring ||
			oldElapsed/time.Second != t.TimeElapsed/time.Second {
			m.update(t)
		}
	} else {
		m.uploadFinished(t)
	}
}

// FileComplete handles a finished streaming operation.
func (m *Manager) FileComplete(id core.ConnID) {
	for _, t := range m.downloads {
		if t.ConnID == id && t.status != StatusFinished {
			m.downloadFinished(t)
			return
		}
	}
	for _, t := range m.uploads {
		if t.ConnID == id && t.status != StatusFinished {
			m.uploadFinished(t)
			return
		}
	}
}

// FileError handles a local I/O failure mid-transfer.
func (m *Manager) FileError(id core.ConnID, err error) {
	for _, t := range append(append([]*Transfer{}, m.downloads...), m.uploads...) {
		if t.ConnID != id {
			continue
		}
		m.log("user", t.Username, "file", t.Filename).Errorf("I/O error: %s", err)
		m.setStatus(t, StatusLocalFileError)
		m.closeFile(t)
		t.ConnID = 0
		m.network.Close(id)
		m.update(t)
		m.CheckUploadQueue()
		return
	}
}

// downloadFinished moves the incomplete file to its final name and runs the
// completion hooks.
func (m *Manager) downloadFinished(t *Transfer) {
	incomplete := ""
	if t.file != nil {
		incomplete = t.file.Name()
	}
	m.closeFile(t)

	basename := cleanFile(virtualBase(t.Filename))

	var folder string
	if filepath.IsAbs(t.Path) {
		folder = filepath.Clean(t.Path)
	} else {
		folder = filepath.Join(m.config.DownloadDir, t.Path)
	}
	if err := os.MkdirAll(folder, 0755); err != nil {
		m.log("dir", folder).Errorf("Download directory error: %s", err)
	}

	newname := renamedTarget(filepath.Join(folder, basename))
	if incomplete != "" {
		if err := os.Rename(incomplete, newname); err != nil {
			m.log("tempfile", incomplete, "file", newname).Warnf(
				"Couldn't move incomplete file: %s", err)
		}
	}

	m.setStatus(t, StatusFinished)
	t.Speed = 0
	t.SpeedKnown = false
	t.TimeLeft = ""

	m.log("user", t.Username, "file", newname).Info("Download finished")
	m.stats.Counter("downloads_finished").Inc(1)
	m.logFinishedTransfer("downloads", t)

	if t.ConnID != 0 {
		m.network.Close(t.ConnID)
		t.ConnID = 0
	}

	m.shares.AddFinished(newname)

	if m.sink != nil {
		m.sink.TransferFinished(t)
		m.sink.Notify("File downloaded",
			fmt.Sprintf("%s downloaded from %s", basename, t.Username))
	}

	m.saveDownloads()

	if !m.autoClearDownload(t) {
		m.update(t)
	}

	if m.config.AfterFinish != "" {
		runCommand(m.config.AfterFinish, newname)
	}

	if t.Path != "" && m.config.AfterFolder != "" {
		// Folder hook fires only once the last file of the folder lands.
		for _, other := range m.downloads {
			if other.Path == t.Path && other.Path != "" &&
				!statusIn(other.status, []Status{StatusFinished, StatusAborted, StatusPaused, StatusFiltered}) {
				return
			}
		}
		runCommand(m.config.AfterFolder, folder)
	}
}

// uploadFinished closes out a completed upload and reports the speed to the
// server.
func (m *Manager) uploadFinished(t *Transfer) {
	if t.SpeedKnown && t.Speed > 0 {
		m.env.SendServer(protocol.SendUploadSpeed{Speed: int(t.Speed)})
	}

	m.closeFile(t)
	m.setStatus(t, StatusFinished)
	t.Speed = 0
	t.SpeedKnown = false
	t.TimeLeft = ""

	m.refreshTimeQueued(t.Username)

	m.log("user", t.Username, "file", t.Filename).Info("Upload finished")
	m.stats.Counter("uploads_finished").Inc(1)
	m.logFinishedTransfer("uploads", t)

	if m.sink != nil {
		m.sink.TransferFinished(t)
	}

	m.CheckUploadQueue()
	m.update(t)
	m.autoClearUpload(t)
}

// logFinishedTransfer appends a completion record to the transfers log.
func (m *Manager) logFinishedTransfer(kind string, t *Transfer) {
	if !m.config.LogTransfers || m.config.TransfersLogDir == "" {
		return
	}
	if err := os.MkdirAll(m.config.TransfersLogDir, 0755); err != nil {
		m.log("dir", m.config.TransfersLogDir).Warnf("Cannot create transfers log dir: %s", err)
		return
	}
	name := filepath.Join(m.config.TransfersLogDir, kind+".log")
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		m.log("file", name).Warnf("Cannot open transfers log: %s", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\t%s\t%d\n",
		m.clk.Now().Format("2006-01-02 15:04:05"), t.Username, t.Filename, t.Size)
}

func (m *Manager) closeFile(t *Transfer) {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// incompleteName picks the on-disk name of a partial download, preferring
// whichever legacy form already exists:
// "INCOMPLETE~<base>", then "INCOMPLETE<base>", then
// "INCOMPLETE<md5(virtual+user)><base>".
func (m *Manager) incompleteName(dir string, t *Transfer) string {
	basename := cleanFile(virtualBase(t.Filename))

	winName := filepath.Join(dir, "INCOMPLETE~"+basename)
	legacyName := filepath.Join(dir, "INCOMPLETE"+basename)

	sum := md5.Sum([]byte(t.Filename + t.Username))
	newName := filepath.Join(dir, fmt.Sprintf("INCOMPLETE%x%s", sum, basename))

	if pathExists(winName) {
		return winName
	}
	if pathExists(legacyName) {
		return legacyName
	}
	return newName
}

// renamedTarget appends " (n)" before the extension until the name is free.
func renamedTarget(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; pathExists(name); n++ {
		name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	return name
}

func virtualBase(virtual string) string {
	parts := strings.Split(virtual, "\\")
	return parts[len(parts)-1]
}

// cleanFile strips path separators a hostile peer could smuggle into a
// filename.
func cleanFile(name string) string {
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return strings.ReplaceAll(name, "..", "_")
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func pathExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func removeFile(name string) {
	os.Remove(name)
}

func fileSize(name string) int64 {
	if name == "" {
		return 0
	}
	info, err := os.Stat(filepath.FromSlash(name))
	if err != nil {
		// Remote files resolve to nothing locally.
		return 0
	}
	return info.Size()
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// runCommand executes a completion hook with the path substituted for "$",
// detached from the event loop.
func runCommand(command, path string) {
	if strings.Contains(command, "$") {
		command = strings.ReplaceAll(command, "$", path)
	} else {
		command = command + " " + path
	}
	cmd := exec.Command("sh", "-c", command)
	if err := cmd.Start(); err != nil {
		return
	}
	go cmd.Wait()
}
