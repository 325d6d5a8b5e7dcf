package transfer

import (
	"time"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/utils/memsize"
)

func (m *Manager) fileIsUploadQueued(username, filename string) bool {
	for _, t := range m.uploads {
		if t.Username == username && t.Filename == filename &&
			(statusIn(t.status, preTransferStatuses) || statusIn(t.status, transferStatuses)) {
			return true
		}
	}
	return false
}

func (m *Manager) queueLimitReached(username string) bool {
	limit := m.config.QueueLimit * int64(memsize.MB)
	if limit == 0 {
		return false
	}
	var size int64
	for _, t := range m.uploads {
		if t.Username == username && t.status == StatusQueued {
			size += t.Size
		}
	}
	return size >= limit
}

func (m *Manager) fileLimitReached(username string) bool {
	if m.config.FileLimit == 0 {
		return false
	}
	var n int
	for _, t := range m.uploads {
		if t.Username == username && t.status == StatusQueued {
			n++
		}
	}
	return n >= m.config.FileLimit
}

// transferringUsers returns users with an upload mid-flight or
// mid-negotiation.
func (m *Manager) transferringUsers() map[string]bool {
	users := make(map[string]bool)
	for _, t := range m.uploads {
		if t.Req != 0 || t.ConnID != 0 || t.status == StatusGettingStatus {
			users[t.Username] = true
		}
	}
	return users
}

func (m *Manager) userTransferring(username string) bool {
	return m.transferringUsers()[username]
}

// transfersNegotiating counts uploads still settling: a status change within
// the negotiation window with an outstanding request, a socket with no speed
// measurement yet, or a status probe in flight. Older ones are written off
// as connections that will never work.
func (m *Manager) transfersNegotiating() int {
	now := m.clk.Now()
	count := 0
	for _, t := range m.uploads {
		if now.Sub(t.LastStatusChange) >= m.config.NegotiationTimeout {
			continue
		}
		if t.Req != 0 {
			count++
		}
		if t.ConnID != 0 && !t.SpeedKnown {
			count++
		}
		if t.status == StatusGettingStatus {
			count++
		}
	}
	return count
}

// allowNewUploads applies the slot, speed, and bandwidth admission gates.
func (m *Manager) allowNewUploads() bool {
	var bandwidthSum float64
	inProgress := 0
	for _, t := range m.uploads {
		if t.ConnID != 0 && t.SpeedKnown {
			bandwidthSum += t.Speed
			inProgress++
		}
	}
	negotiating := m.transfersNegotiating()

	if m.config.UseUploadSlots {
		if inProgress+negotiating >= m.config.UploadSlots {
			return false
		}
	}

	if m.config.UseUploadLimit {
		if bandwidthSum >= float64(uint64(m.config.UploadLimit)*memsize.KB) {
			return false
		}
		if negotiating > 0 {
			return false
		}
	}

	if m.config.UploadBandwidth > 0 {
		if bandwidthSum >= float64(uint64(m.config.UploadBandwidth)*memsize.KB) {
			return false
		}
	}

	return true
}

// CheckUploadQueue starts the next queued upload if admission allows one.
// Called on every event that could free a slot.
func (m *Manager) CheckUploadQueue() {
	if !m.allowNewUploads() {
		return
	}

	transferring := m.transferringUsers()

	var queued []*Transfer
	for _, t := range m.uploads {
		if t.status == StatusQueued && !transferring[t.Username] {
			queued = append(queued, t)
		}
	}

	// Privileged waiters preempt everyone else.
	var privileged []*Transfer
	for _, t := range queued {
		if m.IsPrivileged(t.Username) {
			privileged = append(privileged, t)
		}
	}
	if len(privileged) > 0 {
		queued = privileged
	}
	if len(queued) == 0 {
		return
	}

	var candidate *Transfer
	if m.config.FIFOQueue {
		candidate = queued[0]
	} else {
		// Round-robin: least recently queued user wins, ties broken by
		// list order.
		minTimeQueued := m.clk.Now().Add(time.Second)
		for _, t := range queued {
			if t.TimeQueued.Before(minTimeQueued) {
				candidate = t
				minTimeQueued = t.TimeQueued
			}
		}
	}

	if candidate != nil {
		m.pushFile(candidate.Username, candidate.Filename, candidate.RealPath,
			candidate.Path, candidate)
		m.removeQueued(candidate.Username)
	}
}

// HandlePlaceInQueueRequest answers a peer asking where its file sits in our
// upload queue.
func (m *Manager) HandlePlaceInQueueRequest(connID core.ConnID, username string, msg protocol.PlaceInQueueRequest) {
	place := 0

	if m.config.FIFOQueue {
		count, countPriv := 0, 0
		for _, t := range m.uploads {
			if t.status != StatusQueued {
				continue
			}
			if m.IsPrivileged(t.Username) {
				countPriv++
			} else {
				count++
			}
			if t.Username == username && t.Filename == msg.Filename {
				if m.IsPrivileged(username) {
					place = countPriv
				} else {
					place = count + countPriv
				}
				break
			}
		}
	} else {
		// Round-robin estimate: the user's own position among their
		// queued files, plus one slot per other user with at least that
		// many files waiting.
		for _, t := range m.uploads {
			if t.status != StatusQueued || t.Username != username {
				continue
			}
			place++
			if t.Filename == msg.Filename {
				break
			}
		}

		transferring := m.transferringUsers()
		perUser := make(map[string]int)
		for _, t := range m.uploads {
			if t.status == StatusQueued {
				perUser[t.Username]++
			}
		}
		extra := 0
		for u, n := range perUser {
			if u != username && n >= place && !transferring[u] {
				extra += place
			}
		}
		place += extra
	}

	m.network.SendPeer(connID, protocol.PlaceInQueue{
		Filename: msg.Filename, Place: place,
	})
}

// QueueSizes returns (total waiters ahead of username, privileged waiters)
// for user-info replies.
func (m *Manager) QueueSizes(username string) (total, privileged int) {
	if m.config.FIFOQueue {
		count := 0
		for _, t := range m.uploads {
			if t.status == StatusQueued {
				count++
			}
		}
		return count, count
	}
	if username != "" && m.IsPrivileged(username) {
		return len(m.privUsersQueued), len(m.privUsersQueued)
	}
	return len(m.usersQueued) + m.privCount, m.privCount
}

// SlotsAvailable reports whether a new upload would start immediately, for
// user-info replies.
func (m *Manager) SlotsAvailable() bool {
	return m.allowNewUploads()
}

// UploadAllowedMode reports who may push files to us, for user-info replies.
// Zero when remote downloads are off entirely.
func (m *Manager) UploadAllowedMode() int {
	if !m.config.RemoteDownloads {
		return 0
	}
	return m.config.UploadAllowed
}

// TotalUploadsAllowed reports the current slot ceiling.
func (m *Manager) TotalUploadsAllowed() int {
	if m.config.UseUploadSlots {
		return m.config.UploadSlots
	}
	n := 0
	for _, t := range m.uploads {
		if t.ConnID != 0 {
			n++
		}
	}
	if m.allowNewUploads() {
		return n + 1
	}
	return n
}

func (m *Manager) addQueued(username string) {
	if m.privilegedUsers.Has(username) {
		m.privUsersQueued[username]++
		m.privCount++
	} else {
		m.usersQueued[username]++
	}
	m.stats.Gauge("queued_uploads").Update(float64(m.queuedTotal()))
}

func (m *Manager) removeQueued(username string) {
	if m.privilegedUsers.Has(username) {
		m.privUsersQueued[username]--
		m.privCount--
		if m.privUsersQueued[username] == 0 {
			delete(m.privUsersQueued, username)
		}
	} else {
		m.usersQueued[username]--
		if m.usersQueued[username] == 0 {
			delete(m.usersQueued, username)
		}
	}
	m.stats.Gauge("queued_uploads").Update(float64(m.queuedTotal()))
}

func (m *Manager) queuedTotal() int {
	total := m.privCount
	for _, n := range m.usersQueued {
		total += n
	}
	return total
}

func (m *Manager) recalcQueueSizes() {
	m.privCount = 0
	m.usersQueued = make(map[string]int)
	m.privUsersQueued = make(map[string]int)

	for _, t := range m.uploads {
		if t.status == StatusQueued {
			m.addQueued(t.Username)
		}
	}
}
