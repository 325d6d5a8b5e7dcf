package transfer

import (
	"io/ioutil"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"

	"github.com/gosoulseek/gosoulseek/utils/log"
)

// savedDownload is one persisted download queue row.
type savedDownload struct {
	User         string `yaml:"user"`
	Filename     string `yaml:"filename"`
	Path         string `yaml:"path"`
	Status       string `yaml:"status"`
	Size         int64  `yaml:"size"`
	CurrentBytes int64  `yaml:"currentbytes"`
	Bitrate      string `yaml:"bitrate,omitempty"`
	Length       string `yaml:"length,omitempty"`
}

// loadDownloads restores the persisted download queue. Unfinished entries
// come back as "Getting status" and get their users watched, so a status
// reply re-drives them.
func (m *Manager) loadDownloads() {
	if m.config.QueueFile == "" {
		return
	}
	data, err := ioutil.ReadFile(m.config.QueueFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.With("file", m.config.QueueFile).Errorf("Cannot read download queue: %s", err)
		}
		return
	}

	var rows []savedDownload
	if err := yaml.Unmarshal(data, &rows); err != nil {
		log.With("file", m.config.QueueFile).Errorf("Corrupt download queue: %s", err)
		return
	}

	watched := make(map[string]bool)
	for _, row := range rows {
		t := &Transfer{
			Username:     row.User,
			Filename:     row.Filename,
			Path:         cleanPath(row.Path),
			Direction:    Download,
			Size:         row.Size,
			SizeKnown:    row.Size > 0,
			CurrentBytes: row.CurrentBytes,
			Bitrate:      row.Bitrate,
			Length:       row.Length,
		}

		switch Status(row.Status) {
		case StatusAborted, StatusPaused:
			t.status = StatusPaused
		case StatusFiltered:
			t.status = StatusFiltered
		default:
			t.status = StatusGettingStatus
		}
		t.LastStatusChange = m.clk.Now()
		t.TimeQueued = m.clk.Now()

		m.downloads = append(m.downloads, t)

		if t.status == StatusGettingStatus && !watched[t.Username] {
			watched[t.Username] = true
			m.env.WatchUser(t.Username)
		}
	}

	if len(rows) > 0 {
		log.With("file", m.config.QueueFile).Infof("Restored %d queued downloads", len(rows))
	}
}

// SaveDownloads persists the download queue. Called on shutdown and server
// loss, in addition to the internal saves on queue changes.
func (m *Manager) SaveDownloads() {
	m.saveDownloads()
}

// saveDownloads persists every unfinished download atomically.
func (m *Manager) saveDownloads() {
	if m.config.QueueFile == "" {
		return
	}

	var rows []savedDownload
	for _, t := range m.downloads {
		if t.status == StatusFinished {
			continue
		}
		rows = append(rows, savedDownload{
			User:         t.Username,
			Filename:     t.Filename,
			Path:         t.Path,
			Status:       string(t.status),
			Size:         t.Size,
			CurrentBytes: t.CurrentBytes,
			Bitrate:      t.Bitrate,
			Length:       t.Length,
		})
	}

	data, err := yaml.Marshal(rows)
	if err != nil {
		log.Errorf("Cannot serialize download queue: %s", err)
		return
	}

	tmp := m.config.QueueFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(m.config.QueueFile), 0755); err != nil {
		log.With("file", m.config.QueueFile).Errorf("Cannot save download queue: %s", err)
		return
	}
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		log.With("file", tmp).Errorf("Cannot save download queue: %s", err)
		return
	}
	if err := os.Rename(tmp, m.config.QueueFile); err != nil {
		log.With("file", m.config.QueueFile).Errorf("Cannot save download queue: %s", err)
	}
}
