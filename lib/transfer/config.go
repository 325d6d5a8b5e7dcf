package transfer

import "time"

// Config defines transfer manager configuration.
type Config struct {
	DownloadDir   string `yaml:"downloaddir"`
	IncompleteDir string `yaml:"incompletedir"`
	UploadDir     string `yaml:"uploaddir"`

	// UploadsInSubdirs places remotely pushed files under
	// uploaddir/<user>/<folder>.
	UploadsInSubdirs bool `yaml:"uploadsinsubdirs"`

	// UseUploadSlots / UploadSlots cap concurrent uploads.
	UseUploadSlots bool `yaml:"useupslots"`
	UploadSlots    int  `yaml:"uploadslots"`

	// UseUploadLimit / UploadLimit cap total upload speed in KiB/s.
	// LimitBy selects total (true) or per-transfer (false) limiting.
	UseUploadLimit bool `yaml:"uselimit"`
	UploadLimit    int  `yaml:"uploadlimit"`
	LimitBy        bool `yaml:"limitby"`

	// UploadBandwidth is a global cap in KiB/s checked at admission,
	// independent of UseUploadLimit.
	UploadBandwidth int `yaml:"uploadbandwidth"`

	DownloadLimit int `yaml:"downloadlimit"`

	// QueueLimit caps a user's queued bytes in MiB; FileLimit caps their
	// queued file count. Zero disables.
	QueueLimit int64 `yaml:"queuelimit"`
	FileLimit  int   `yaml:"filelimit"`

	// FriendsNoLimits exempts buddies from queue and file limits.
	FriendsNoLimits bool `yaml:"friendsnolimits"`

	// FIFOQueue selects first-come scheduling; otherwise round-robin by
	// least recently queued user.
	FIFOQueue bool `yaml:"fifoqueue"`

	// PreferFriends treats every buddy as privileged.
	PreferFriends bool `yaml:"preferfriends"`

	// RemoteDownloads / UploadAllowed gate peers pushing files to us:
	// 0 no one, 1 everyone, 2 buddies, 3 trusted buddies.
	RemoteDownloads bool `yaml:"remotedownloads"`
	UploadAllowed   int  `yaml:"uploadallowed"`

	EnableFilters  bool   `yaml:"enablefilters"`
	DownloadRegexp string `yaml:"downloadregexp"`

	// Prioritize downloads .sfv/.md5/.nfo files of a folder first;
	// ReverseOrder fetches folder files in reverse name order.
	Prioritize   bool `yaml:"prioritize"`
	ReverseOrder bool `yaml:"reverseorder"`

	// Lock takes an exclusive advisory lock on incomplete files.
	Lock bool `yaml:"lock"`

	AutoClearDownloads bool `yaml:"autoclear_downloads"`
	AutoClearUploads   bool `yaml:"autoclear_uploads"`

	// AfterFinish / AfterFolder are commands run on completed files and
	// folders, with the path substituted for $.
	AfterFinish string `yaml:"afterfinish"`
	AfterFolder string `yaml:"afterfolder"`

	UseCustomBan bool   `yaml:"usecustomban"`
	CustomBan    string `yaml:"customban"`

	// LogTransfers appends a record per finished transfer to
	// TransfersLogDir/downloads.log and uploads.log.
	LogTransfers    bool   `yaml:"logtransfers"`
	TransfersLogDir string `yaml:"transferslogsdir"`

	// QueueFile persists the download queue across sessions.
	QueueFile string `yaml:"queue_file"`

	// NegotiationTimeout bounds each transfer request; WatchdogInterval
	// paces the stuck-download rescan.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	WatchdogInterval   time.Duration `yaml:"watchdog_interval"`
}

func (c Config) applyDefaults() Config {
	if c.NegotiationTimeout == 0 {
		c.NegotiationTimeout = 30 * time.Second
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = time.Minute
	}
	if c.UploadSlots == 0 {
		c.UploadSlots = 2
	}
	return c
}
