// Package agentconfig manages the agent's on-disk state directory: the
// auth token, device identity, and the per-resource-type JSON caches
// described in spec §6 ("Persisted on-disk layout").
package agentconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultDirName is the state directory created under the user's home.
const DefaultDirName = ".49agents"

// Config is the agent's persisted identity and relay pointer.
type Config struct {
	AgentID   string `json:"agent_id"`
	DeviceID  string `json:"device_id"`
	Token     string `json:"token"`
	CloudURL  string `json:"-"` // never saved; resolved from CLOUD_URL, the cloud-url file, or a default
	stateDir  string
}

// StateDir returns the directory the agent's caches and pid file live in.
func (c *Config) StateDir() string { return c.stateDir }

// ScanRoots returns the fixed set of directories the repository scan
// walks from (spec §4.5): the user's home directory, unless overridden.
func (c *Config) ScanRoots() []string {
	if v := os.Getenv("FORTYNINE_SCAN_ROOTS"); v != "" {
		return filepath.SplitList(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{home}
}

// Load reads (or creates) the agent's state directory and config file.
func Load() (*Config, error) {
	dir, err := stateDirPath()
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	cfgPath := filepath.Join(dir, "agent.json")
	cfg := &Config{stateDir: dir}

	data, err := os.ReadFile(cfgPath)
	switch {
	case os.IsNotExist(err):
		cfg.DeviceID = uuid.New().String()
	case err != nil:
		return nil, fmt.Errorf("read agent.json: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse agent.json: %w", err)
		}
		cfg.stateDir = dir
	}

	cfg.CloudURL = resolveCloudURL(dir)

	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save full-replaces agent.json. Per spec §5, implementations should use
// write-temp-then-rename where the platform doesn't guarantee atomic
// full-file replace; we do that unconditionally since it's cheap and
// correct everywhere.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(c.stateDir, "agent.json"), data, 0o600)
}

// SetToken stores the agent token minted at pairing-approval time.
func (c *Config) SetToken(agentID, token string) error {
	c.AgentID = agentID
	c.Token = token
	return c.Save()
}

// PIDFile returns the path of agent.pid in the state directory. The
// daemon does not write this file; `status`/`stop` find the running agent
// through StatusAddrFile instead.
func (c *Config) PIDFile() string { return filepath.Join(c.stateDir, "agent.pid") }

// StatusAddrFile returns the path the running daemon records its local
// status-server address in, so `status`/`stop` CLI invocations can find it.
func (c *Config) StatusAddrFile() string { return filepath.Join(c.stateDir, "status.addr") }

// CloudURLFile returns the path the `config` CLI command writes to.
func (c *Config) CloudURLFile() string { return filepath.Join(c.stateDir, "cloud-url") }

func stateDirPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultDirName), nil
}

// resolveCloudURL implements spec §6: the single CLOUD_URL override, else
// the contents of the persisted cloud-url file, else a built-in default.
func resolveCloudURL(stateDir string) string {
	if v := os.Getenv("CLOUD_URL"); v != "" {
		return v
	}
	if data, err := os.ReadFile(filepath.Join(stateDir, "cloud-url")); err == nil {
		if s := trimmed(data); s != "" {
			return s
		}
	}
	return "wss://relay.49agents.dev/agent-ws"
}

func trimmed(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
