// Package config loads and holds the per-service configuration the
// daemon dispatches against: one YAML file per service under a
// configured directory, read with spf13/viper the way the source's
// sibling variant loads its directory-based configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const maxNameLen = 24

// MsgConfig names one message id a service publishes or subscribes to.
type MsgConfig struct {
	MsgID       uint32 `mapstructure:"msg_id"`
	Description string `mapstructure:"description"`
}

// ServiceConfig is the immutable-after-load description of one service
// the daemon will accept connections from and route to. The runtime
// service id assigned at SERV_ACTIVE time lives on routing.ServiceClient,
// not here: ServiceConfig is immutable once loaded.
type ServiceConfig struct {
	ConfigID         int32       `mapstructure:"config_id"`
	Name             string      `mapstructure:"name"`
	Version          string      `mapstructure:"version"`
	UserID           int         `mapstructure:"user_id"`
	GroupID          int         `mapstructure:"group_id"`
	MessagingInPath  string      `mapstructure:"messaging_in_path"`
	MessagingOutPath string      `mapstructure:"messaging_out_path"`
	MaxQueuedMsgs    int         `mapstructure:"max_queued_msgs"`
	MaxMsgSize       int         `mapstructure:"max_msg_size"`
	Published        []MsgConfig `mapstructure:"published"`
	Subscribed       []MsgConfig `mapstructure:"subscribed"`
}

// Validate checks the static invariants a loaded ServiceConfig must
// satisfy before the daemon will bind sockets for it.
func (c *ServiceConfig) Validate() error {
	if len(c.Name) == 0 || len(c.Name) > maxNameLen {
		return fmt.Errorf("config: service %q: name must be 1-%d bytes", c.Name, maxNameLen)
	}
	if c.MessagingInPath == "" || c.MessagingOutPath == "" {
		return fmt.Errorf("config: service %q: messaging_in_path and messaging_out_path are required", c.Name)
	}
	if c.MaxQueuedMsgs <= 0 {
		return fmt.Errorf("config: service %q: max_queued_msgs must be positive", c.Name)
	}
	if c.MaxMsgSize <= 0 {
		return fmt.Errorf("config: service %q: max_msg_size must be positive", c.Name)
	}
	return nil
}

// PublishesMsg reports whether msgID is in the service's published list.
func (c *ServiceConfig) PublishesMsg(msgID uint32) bool {
	for _, m := range c.Published {
		if m.MsgID == msgID {
			return true
		}
	}
	return false
}

// Store holds every ServiceConfig loaded from a directory, indexed by
// name and by config_id. It is built once by Scan and never mutated
// afterward; concurrent readers need no lock.
type Store struct {
	byName map[string]*ServiceConfig
	byID   map[int32]*ServiceConfig
	all    []*ServiceConfig
}

// Scan reads every *.yaml/*.yml file directly under dir as one
// ServiceConfig each, validates them, and returns the resulting Store.
// A directory of per-service files (rather than one monolithic file)
// mirrors how services are provisioned independently of one another.
func Scan(dir string) (*Store, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", dir, err)
	}
	ymlMatches, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", dir, err)
	}
	matches = append(matches, ymlMatches...)

	st := &Store{
		byName: make(map[string]*ServiceConfig),
		byID:   make(map[int32]*ServiceConfig),
	}

	for _, path := range matches {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetDefault("max_queued_msgs", 256)
		v.SetDefault("max_msg_size", 65536)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var sc ServiceConfig
		if err := v.Unmarshal(&sc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if sc.Name == "" {
			sc.Name = trimYAMLExt(filepath.Base(path))
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		sc.MessagingInPath = socketPath(dir, sc.MessagingInPath)
		sc.MessagingOutPath = socketPath(dir, sc.MessagingOutPath)
		if _, dup := st.byName[sc.Name]; dup {
			return nil, fmt.Errorf("config: duplicate service name %q (%s)", sc.Name, path)
		}
		if _, dup := st.byID[sc.ConfigID]; dup {
			return nil, fmt.Errorf("config: duplicate config_id %d (%s)", sc.ConfigID, path)
		}

		cp := sc
		st.byName[sc.Name] = &cp
		st.byID[sc.ConfigID] = &cp
		st.all = append(st.all, &cp)
	}

	return st, nil
}

// All returns every loaded ServiceConfig.
func (s *Store) All() []*ServiceConfig { return s.all }

// ByName looks up a service by its configured name.
func (s *Store) ByName(name string) (*ServiceConfig, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// ByID looks up a service by config_id.
func (s *Store) ByID(id int32) (*ServiceConfig, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// socketPath resolves a messaging_in_path or messaging_out_path: an
// absolute path is kept as is, a relative one is joined onto root. Scan
// passes the config directory it reads as root; DaemonConfig.SocketDir
// is not consulted.
func socketPath(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

// trimYAMLExt strips a .yaml/.yml suffix, used when a caller wants a
// bare service name from a config file path.
func trimYAMLExt(name string) string {
	name = strings.TrimSuffix(name, ".yaml")
	name = strings.TrimSuffix(name, ".yml")
	return name
}
