package transfer

import (
	"os"
	"time"

	"github.com/gosoulseek/gosoulseek/core"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

// Env is what the manager needs from the client core. All calls happen on
// the event loop.
type Env interface {
	// RequestToPeer routes msg to username, establishing a peer connection
	// as needed and queueing the message until the socket is ready.
	RequestToPeer(username string, msg protocol.Message)

	// SendServer queues msg on the server connection.
	SendServer(msg protocol.ServerMessage)

	// WatchUser subscribes to username's status (deduped) and requests a
	// fresh status.
	WatchUser(username string)

	// UserStatus returns the cached status of username.
	UserStatus(username string) core.UserStatus

	// CheckUser applies ban/buddy/geo policy. Tier 0 denies with reason,
	// 1 allows, 2 allows with buddy shares.
	CheckUser(username string) (tier int, reason string)

	// IsBuddy reports whether username is in the user list.
	IsBuddy(username string) bool

	// BuddyPrivileged reports the privileged flag of a buddy.
	BuddyPrivileged(username string) bool

	// BuddyTrusted reports the trusted flag of a buddy.
	BuddyTrusted(username string) bool

	// RequestedFolder returns the destination registered when we asked for
	// a folder's contents, or "".
	RequestedFolder(username, folder string) string

	// Schedule arms a named one-shot timer whose expiry re-enters the
	// event loop before running f.
	Schedule(name string, d time.Duration, f func())

	// CancelTimer stops a named timer.
	CancelTimer(name string) bool
}

// Network is the file and message I/O the manager drives directly. Satisfied
// by netio.NetIO.
type Network interface {
	SendPeer(id core.ConnID, msg protocol.Message) error
	Close(id core.ConnID)
	AwaitFileOffset(id core.ConnID) error
	ReceiveFile(id core.ConnID, f *os.File, current, size int64) error
	SendFile(id core.ConnID, f *os.File, offset int64) error
	SetConnUploadLimit(id core.ConnID, bytesPerSec uint64) error
	SetUploadLimit(bytesPerSec uint64)
}

// Sink receives transfer lifecycle notifications. All methods are optional
// presence-gated collaborators; a nil Sink downgrades to logging.
type Sink interface {
	// TransferUpdated fires on any visible state change.
	TransferUpdated(t *Transfer)

	// TransferFinished fires when a download lands on disk or an upload
	// completes.
	TransferFinished(t *Transfer)

	// TransferRemoved fires when a transfer is cleared from its list.
	TransferRemoved(t *Transfer)

	// Notify surfaces a user-facing notification.
	Notify(title, body string)
}
