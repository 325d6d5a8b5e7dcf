// Package config loads the top-level yaml configuration file. A file that
// fails to parse is quarantined next to the original and replaced with
// defaults rather than aborting startup.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/gosoulseek/gosoulseek/lib/client"
	"github.com/gosoulseek/gosoulseek/lib/netio"
	"github.com/gosoulseek/gosoulseek/lib/transfer"
	"github.com/gosoulseek/gosoulseek/utils/log"
)

// Config composes the configuration of every component.
type Config struct {
	// Codec names the registered wire codec to use.
	Codec string `yaml:"codec"`

	Client    client.Config   `yaml:"client"`
	Transfers transfer.Config `yaml:"transfers"`
	NetIO     netio.Config    `yaml:"netio"`
	Logging   log.Config      `yaml:"logging"`
}

func (c Config) applyDefaults() Config {
	if c.Codec == "" {
		c.Codec = "slsk"
	}
	return c
}

// Load reads filename. A missing file is created with defaults; a corrupt
// file is quarantined and replaced with defaults.
func Load(filename string) (Config, error) {
	var c Config

	data, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		c = c.applyDefaults()
		if werr := write(filename, c); werr != nil {
			return c, fmt.Errorf("write default config: %s", werr)
		}
		log.With("file", filename).Info("Created default configuration")
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config: %s", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		quarantined := quarantineName(filename, time.Now())
		if rerr := os.Rename(filename, quarantined); rerr != nil {
			return c, fmt.Errorf("quarantine corrupt config: %s", rerr)
		}
		log.With("file", filename).Errorf(
			"Configuration is corrupt (%s), moved to %s and recreated with defaults",
			err, quarantined)
		c = Config{}.applyDefaults()
		if werr := write(filename, c); werr != nil {
			return c, fmt.Errorf("write default config: %s", werr)
		}
		return c, nil
	}
	return c.applyDefaults(), nil
}

func quarantineName(filename string, now time.Time) string {
	return fmt.Sprintf("%s.%s.corrupt", filename, now.Format("2006-01-02_15_04_05"))
}

func write(filename string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(filename, data, 0644)
}
