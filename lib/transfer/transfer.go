package transfer

import (
	"os"
	"time"

	"github.com/gosoulseek/gosoulseek/core"
)

// Direction of a transfer from our point of view.
type Direction int

// Transfer directions.
const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// Status is the display state of a transfer. Refusal reasons received from
// peers become statuses verbatim, so the type is an open string.
type Status string

// Statuses.
const (
	StatusQueued           Status = "Queued"
	StatusGettingStatus    Status = "Getting status"
	StatusGettingAddress   Status = "Getting address"
	StatusConnecting       Status = "Connecting"
	StatusWaitingForPeer   Status = "Waiting for peer to connect"
	StatusWaitingDownload  Status = "Waiting for download"
	StatusWaitingUpload    Status = "Waiting for upload"
	StatusRequestingFile   Status = "Requesting file"
	StatusInitializing     Status = "Initializing transfer"
	StatusEstablishing     Status = "Establishing connection"
	StatusTransferring     Status = "Transferring"
	StatusFinished         Status = "Finished"
	StatusAborted          Status = "Aborted"
	StatusPaused           Status = "Paused"
	StatusFiltered         Status = "Filtered"
	StatusCancelled        Status = "Cancelled"
	StatusCannotConnect    Status = "Cannot connect"
	StatusConnClosedByPeer Status = "Connection closed by peer"
	StatusUserLoggedOff    Status = "User logged off"
	StatusLocalFileError   Status = "Local file error"
	StatusRemoteFileError  Status = "Remote file error"
	StatusDownloadDirError Status = "Download directory error"
	StatusOld              Status = "Old"
)

// Status groups used by scheduling and retry decisions.
var (
	failedStatuses = []Status{
		StatusCannotConnect, StatusConnClosedByPeer, StatusLocalFileError,
		StatusRemoteFileError,
	}
	completedStatuses = []Status{
		StatusFinished, StatusFiltered, StatusAborted, StatusCancelled,
	}
	preTransferStatuses = []Status{StatusQueued}
	transferStatuses    = []Status{
		StatusRequestingFile, StatusInitializing, StatusTransferring,
	}
)

func statusIn(s Status, group []Status) bool {
	for _, g := range group {
		if s == g {
			return true
		}
	}
	return false
}

// Transfer is one upload or download.
type Transfer struct {
	Username  string
	Filename  string // virtual, backslash separated
	RealPath  string // local path
	Path      string // destination dir, "" for the default download dir
	Direction Direction

	// Req is the live negotiation id, zero when none.
	Req core.RequestID

	// ConnID is the 'F' socket, zero when none.
	ConnID core.ConnID

	// RequestConnID is the 'P' socket the request was sent over, tracked
	// while status is "Requesting file".
	RequestConnID core.ConnID

	Size      int64
	SizeKnown bool

	CurrentBytes int64
	Offset       int64

	// Speed is bytes/sec; SpeedKnown distinguishes "no measurement yet"
	// from zero, which matters for slot accounting.
	Speed      float64
	SpeedKnown bool

	TimeLeft    string
	TimeElapsed time.Duration

	StartTime time.Time // zero until bytes flow
	LastTime  time.Time
	LastBytes int64

	TimeQueued time.Time
	QueuePlace int

	Bitrate string
	Length  string

	status           Status
	LastStatusChange time.Time

	file *os.File
}

// Status returns the current status.
func (t *Transfer) Status() Status {
	return t.status
}

// Active reports whether bytes are flowing: an open file and a live socket
// exist exactly while transferring.
func (t *Transfer) Active() bool {
	return t.status == StatusTransferring
}
