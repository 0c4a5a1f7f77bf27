// Package config persists the default WatchSettings an embedder or the
// CLI falls back to when a flag is not supplied (SPEC_FULL.md §A.3),
// adapted from the teacher's own internal/config: same Load/Save/
// DefaultConfig/ConfigDir/ConfigPath shape and the same gopkg.in/yaml.v3
// dependency, now persisting filter settings instead of sync destinations.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/FluidXR/devicewatch/internal/model"
)

// Config is the on-disk representation of a WatchSettings default. Vid/pid
// entries use the same decimal-or-0x-hex, optional '!'-exclusion-prefix
// syntax as the CLI flags (§6) so a saved config and a flag string are
// interchangeable.
type Config struct {
	Types                []string `yaml:"types,omitempty"`
	Vids                 []string `yaml:"vids,omitempty"`
	Pids                 []string `yaml:"pids,omitempty"`
	Drivers              []string `yaml:"drivers,omitempty"`
	EnableADBCorrelation bool     `yaml:"enable_adb_correlation"`
	AllowModprobe        bool     `yaml:"allow_modprobe"`
	UsbserialVidPid      []string `yaml:"usbserial_vidpid,omitempty"`
	IPList               []string `yaml:"ip_list,omitempty"`
}

// DefaultConfig returns a config with no filtering and ADB correlation
// disabled — the same "pass everything" zero value WatchSettings itself
// defaults to.
func DefaultConfig() *Config {
	return &Config{}
}

// ConfigDir returns the config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devicewatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "devicewatch")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (*Config, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := ConfigPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToWatchSettings parses the config into a model.WatchSettings, the same
// vid/pid/type grammar the CLI flags use (§6).
func (c *Config) ToWatchSettings() (model.WatchSettings, error) {
	var settings model.WatchSettings

	for _, alt := range c.Types {
		settings.TypeFilters = append(settings.TypeFilters, model.ParseTypeFilters(alt)...)
	}

	includeVids, excludeVids, err := parseVidPidList(c.Vids)
	if err != nil {
		return model.WatchSettings{}, err
	}
	includePids, excludePids, err := parseVidPidList(c.Pids)
	if err != nil {
		return model.WatchSettings{}, err
	}
	settings.IncludeVids, settings.ExcludeVids = includeVids, excludeVids
	settings.IncludePids, settings.ExcludePids = includePids, excludePids
	settings.Drivers = append([]string(nil), c.Drivers...)
	settings.EnableADBCorrelation = c.EnableADBCorrelation
	settings.AllowModprobe = c.AllowModprobe
	settings.IPList = append([]string(nil), c.IPList...)

	for _, tok := range c.UsbserialVidPid {
		pair, err := parseVidPidPair(tok)
		if err != nil {
			return model.WatchSettings{}, err
		}
		settings.UsbserialVidPid = append(settings.UsbserialVidPid, pair)
	}

	return settings, nil
}

// FromWatchSettings renders settings back into its on-disk form.
func FromWatchSettings(settings model.WatchSettings) *Config {
	cfg := &Config{
		Drivers:              append([]string(nil), settings.Drivers...),
		EnableADBCorrelation: settings.EnableADBCorrelation,
		AllowModprobe:        settings.AllowModprobe,
		IPList:               append([]string(nil), settings.IPList...),
	}
	for _, mask := range settings.TypeFilters {
		cfg.Types = append(cfg.Types, mask.String())
	}
	cfg.Vids = renderVidPidList(settings.IncludeVids, settings.ExcludeVids)
	cfg.Pids = renderVidPidList(settings.IncludePids, settings.ExcludePids)
	for _, pair := range settings.UsbserialVidPid {
		cfg.UsbserialVidPid = append(cfg.UsbserialVidPid, fmt.Sprintf("0x%04x:0x%04x", pair.VID, pair.PID))
	}
	return cfg
}

func parseVidPidList(toks []string) (include, exclude []uint16, err error) {
	for _, tok := range toks {
		excl := false
		if len(tok) > 0 && tok[0] == '!' {
			excl = true
			tok = tok[1:]
		}
		v, err := model.ParseVidOrPid(tok)
		if err != nil {
			return nil, nil, err
		}
		if excl {
			exclude = append(exclude, v)
		} else {
			include = append(include, v)
		}
	}
	return include, exclude, nil
}

func renderVidPidList(include, exclude []uint16) []string {
	var out []string
	for _, v := range include {
		out = append(out, fmt.Sprintf("0x%04x", v))
	}
	for _, v := range exclude {
		out = append(out, fmt.Sprintf("!0x%04x", v))
	}
	return out
}

func parseVidPidPair(tok string) (model.VidPid, error) {
	var vidTok, pidTok string
	for i := 0; i < len(tok); i++ {
		if tok[i] == ':' {
			vidTok, pidTok = tok[:i], tok[i+1:]
			break
		}
	}
	if vidTok == "" || pidTok == "" {
		return model.VidPid{}, &model.ConfigError{Field: "usbserial_vidpid", Value: tok}
	}
	vid, err := model.ParseVidOrPid(vidTok)
	if err != nil {
		return model.VidPid{}, err
	}
	pid, err := model.ParseVidOrPid(pidTok)
	if err != nil {
		return model.VidPid{}, err
	}
	return model.VidPid{VID: vid, PID: pid}, nil
}
