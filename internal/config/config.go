// Package config loads a node's static peer map and runtime settings from a
// YAML file. There is no reload: the file is read once at process start.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// PeerAddr is one peer's dial address, as it appears under peers.<id> in
// the YAML document.
type PeerAddr struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Config is one node's full runtime configuration.
type Config struct {
	SelfID  int              `yaml:"self_id" mapstructure:"self_id"`
	Peers   map[int]PeerAddr `yaml:"peers" mapstructure:"peers"`
	DataDir string           `yaml:"data_dir" mapstructure:"data_dir"`
}

// Validate checks that the loaded document describes a usable node: self_id
// has a peer entry, every peer has a host and port, and data_dir is set.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if len(c.Peers) == 0 {
		return errors.New("config: peers must not be empty")
	}
	self, ok := c.Peers[c.SelfID]
	if !ok {
		return errors.Errorf("config: self_id %d has no entry in peers", c.SelfID)
	}
	if self.Host == "" || self.Port == 0 {
		return errors.Errorf("config: peers[%d] must set host and port", c.SelfID)
	}
	for id, p := range c.Peers {
		if p.Host == "" || p.Port == 0 {
			return errors.Errorf("config: peers[%d] must set host and port", id)
		}
	}
	return nil
}

// PeerIDs returns every peer id other than SelfID, for broadcast/catch-up
// fan-out.
func (c Config) PeerIDs() []int {
	ids := make([]int, 0, len(c.Peers)-1)
	for id := range c.Peers {
		if id != c.SelfID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Load reads path as YAML into a Config, applying any environment overrides
// found in a sibling .env file (for local multi-process runs where each
// node's self_id is most easily supplied as an env var rather than a
// separate YAML file). Missing .env is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(envPath(path)); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "config: load .env")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrap(err, "config: read config file")
	}

	var cfg Config
	// WeaklyTypedInput lets mapstructure coerce the string keys viper's YAML
	// loader produces ("1", "2", ...) into the int keys peers is declared
	// with. viper's default decoder config already enables it; setting it
	// here keeps that coercion explicit.
	decodeWeak := func(c *mapstructure.DecoderConfig) { c.WeaklyTypedInput = true }
	if err := v.Unmarshal(&cfg, decodeWeak); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envPath(configPath string) string {
	dir := configPath
	if idx := strings.LastIndexByte(configPath, '/'); idx >= 0 {
		dir = configPath[:idx]
	} else {
		dir = "."
	}
	return dir + "/.env"
}
