package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadValid(t *testing.T) {
	require := require.New(t)

	name := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(ioutil.WriteFile(name, []byte(`
client:
  login: me
  passw: secret
transfers:
  downloaddir: /dl
`), 0644))

	c, err := Load(name)
	require.NoError(err)
	require.Equal("me", c.Client.Login)
	require.Equal("/dl", c.Transfers.DownloadDir)
	require.Equal("slsk", c.Codec)
}

func TestLoadMissingCreatesDefault(t *testing.T) {
	require := require.New(t)

	name := filepath.Join(t.TempDir(), "config.yaml")
	c, err := Load(name)
	require.NoError(err)
	require.Equal("slsk", c.Codec)

	// The default file landed on disk and loads back.
	c2, err := Load(name)
	require.NoError(err)
	require.Equal(c.Codec, c2.Codec)
}

func TestLoadCorruptQuarantines(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	name := filepath.Join(dir, "config.yaml")
	require.NoError(ioutil.WriteFile(name, []byte("{not yaml: ["), 0644))

	c, err := Load(name)
	require.NoError(err)
	require.Equal("slsk", c.Codec)

	quarantined, err := filepath.Glob(name + ".*.corrupt")
	require.NoError(err)
	require.Len(quarantined, 1)

	// The fresh default parses.
	_, err = Load(name)
	require.NoError(err)
}

func TestQuarantineName(t *testing.T) {
	now := time.Date(2020, 4, 1, 13, 2, 3, 0, time.UTC)
	require.Equal(t,
		"/etc/gosoulseek.yaml.2020-04-01_13_02_03.corrupt",
		quarantineName("/etc/gosoulseek.yaml", now))
}
