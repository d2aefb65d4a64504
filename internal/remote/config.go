// Package remote implements both ends of a remote run: the inventory of
// reachable hosts, the SSH driver that syncs the project and streams task
// progress back, and the server peer spawned on the target host.
package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/task"
)

// DefaultSocketPath is where the server peer listens on the target host.
const DefaultSocketPath = "/tmp/hpg.socket"

// HostConfig describes one inventory host.
type HostConfig struct {
	Host       string            `yaml:"host" json:"host"`
	User       string            `yaml:"user" json:"user"`
	Port       uint16            `yaml:"port" json:"port"`
	Sudo       bool              `yaml:"sudo" json:"sudo"`
	RemotePath string            `yaml:"remote_path" json:"remote_path"`
	RemoteExe  string            `yaml:"remote_exe" json:"remote_exe"`
	VarsFiles  []string          `yaml:"vars_files" json:"vars_files"`
	Vars       map[string]string `yaml:"vars" json:"vars"`
}

// remotePathFor resolves the host's sync root, defaulting under /tmp/hpg.
func (hc *HostConfig) remotePathFor(projectDir string) string {
	if hc != nil && hc.RemotePath != "" {
		return hc.RemotePath
	}
	var base = filepath.Base(projectDir)
	if base == "." || base == string(filepath.Separator) {
		base = "unknown"
	}
	return "/tmp/hpg/" + base
}

func (hc *HostConfig) remoteExe() string {
	if hc != nil && hc.RemoteExe != "" {
		return hc.RemoteExe
	}
	return "hpg"
}

func (hc *HostConfig) sudo() bool { return hc != nil && hc.Sudo }

// Inventory maps host aliases to configurations plus shared variables.
type Inventory struct {
	Hosts     map[string]HostConfig `yaml:"hosts" json:"hosts"`
	Vars      map[string]string     `yaml:"vars" json:"vars"`
	VarsFiles []string              `yaml:"vars_files" json:"vars_files"`
}

// LoadInventory parses an inventory file, dispatching on extension.
func LoadInventory(path string) (Inventory, error) {
	var inv Inventory
	var data, err = os.ReadFile(path)
	if err != nil {
		return inv, hpgerr.Wrap(hpgerr.Io, err, "reading inventory %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &inv)
	case ".json":
		err = json.Unmarshal(data, &inv)
	case "":
		return inv, hpgerr.New(hpgerr.Config, "inventory %s has no file extension", path)
	default:
		return inv, hpgerr.New(hpgerr.Config, "unsupported inventory extension %s", filepath.Ext(path))
	}
	if err != nil {
		return inv, hpgerr.Wrap(hpgerr.Config, err, "parsing inventory %s", path)
	}
	return inv, nil
}

// FindInventory loads the first existing path, or an empty inventory when
// none exists.
func FindInventory(paths ...string) (Inventory, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return LoadInventory(p)
		}
	}
	return Inventory{}, nil
}

// ConfigForHost returns the configuration registered under alias, or nil.
func (inv Inventory) ConfigForHost(alias string) *HostConfig {
	if hc, ok := inv.Hosts[alias]; ok {
		return &hc
	}
	return nil
}

// MergeVars layers every variable source. Order of precedence, lowest to
// highest: inventory files, inventory inline vars, host files, host inline
// vars, then the command line (files and flags, already merged).
func MergeVars(cmdline task.Variables, hc *HostConfig, inv Inventory) (task.Variables, error) {
	var out = task.NewVariables()
	for _, f := range inv.VarsFiles {
		var fv, err = task.FromFile(f)
		if err != nil {
			return out, err
		}
		out = out.Merge(fv)
	}
	out = out.Merge(task.FromMap(inv.Vars))
	if hc != nil {
		for _, f := range hc.VarsFiles {
			var fv, err = task.FromFile(f)
			if err != nil {
				return out, err
			}
			out = out.Merge(fv)
		}
		out = out.Merge(task.FromMap(hc.Vars))
	}
	return out.Merge(cmdline), nil
}

// HostInfo is the address given on the command line.
type HostInfo struct {
	Hostname string
	Port     uint16
	User     string
}

func (h HostInfo) String() string {
	var out = h.Hostname
	if h.User != "" {
		out = h.User + "@" + out
	}
	if h.Port != 0 {
		out = fmt.Sprintf("%s:%d", out, h.Port)
	}
	return out
}

// ParseHost parses `[user@]host[:port]`.
func ParseHost(s string) (HostInfo, error) {
	var info HostInfo
	var rest = s
	if user, tail, ok := strings.Cut(rest, "@"); ok {
		info.User = user
		rest = tail
	}
	if host, port, ok := strings.Cut(rest, ":"); ok {
		var p uint16
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil || p == 0 {
			return info, hpgerr.New(hpgerr.Config, "could not parse SSH host address %q: bad port", s)
		}
		info.Hostname = host
		info.Port = p
	} else {
		info.Hostname = rest
	}
	if info.Hostname == "" {
		return info, hpgerr.New(hpgerr.Config, "could not parse SSH host address %q: empty host", s)
	}
	return info, nil
}
