// Package storageconfig loads named storage configurations.  A storage
// names the set of SQL shards that one blob store lives on; the GC commands
// are run against a storage by name.
package storageconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/sqlblob/sqlblob/src/internal/errors"
	"gopkg.in/yaml.v3"
)

// Storage describes one named blob store.
type Storage struct {
	// ShardTemplate is a database URL containing a single %d verb, which is
	// replaced with the shard index.  Ignored if ShardURLList is set.
	ShardTemplate string `yaml:"shard_template,omitempty"`
	// ShardURLList lists every shard's database URL explicitly.
	ShardURLList []string `yaml:"shard_urls,omitempty"`
	// Shards is the shard count when ShardTemplate is used.
	Shards int `yaml:"shards,omitempty"`
	// PasswordEnv names an environment variable holding the database
	// password.  Passwords never appear in the config file itself.
	PasswordEnv string `yaml:"password_env,omitempty"`
}

// Config is the top-level storage configuration file.
type Config struct {
	Storages map[string]Storage `yaml:"storages"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "parse storage config %q", path)
	}
	return &config, nil
}

// Storage returns the named storage.
func (c *Config) Storage(name string) (*Storage, error) {
	s, ok := c.Storages[name]
	if !ok {
		return nil, errors.Errorf("no storage named %q in config", name)
	}
	return &s, nil
}

// ShardURLs expands the storage into one database URL per shard.  If
// shardCount > 0 it overrides the count in the config; it is an error to
// override the count of a storage with explicit shard URLs.
func (s *Storage) ShardURLs(shardCount int) ([]string, error) {
	if len(s.ShardURLList) > 0 {
		if shardCount > 0 && shardCount != len(s.ShardURLList) {
			return nil, errors.Errorf("storage lists %d shards, but %d were requested", len(s.ShardURLList), shardCount)
		}
		return s.ShardURLList, nil
	}
	if s.ShardTemplate == "" {
		return nil, errors.New("storage has neither shard_template nor shard_urls")
	}
	if !strings.Contains(s.ShardTemplate, "%d") {
		return nil, errors.Errorf("shard_template %q does not contain %%d", s.ShardTemplate)
	}
	n := s.Shards
	if shardCount > 0 {
		n = shardCount
	}
	if n <= 0 {
		return nil, errors.New("shard count must be positive")
	}
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf(s.ShardTemplate, i)
	}
	return urls, nil
}

// Password resolves the storage's database password, which may be empty.
func (s *Storage) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}
