package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Mode defines which library files a sync pass considers
type Mode string

const (
	// ModePlaylist syncs only tracks listed in the device manifest, plus
	// playlists and cover art.
	ModePlaylist Mode = "playlist"
	// ModeFull syncs the entire library.
	ModeFull Mode = "full"
)

// Config represents the complete tunesync configuration
type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Device    DeviceConfig    `yaml:"device"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Sync      SyncConfig      `yaml:"sync"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// LibraryConfig configures the local music library
type LibraryConfig struct {
	Root         string `yaml:"root"`
	PlaylistsDir string `yaml:"playlists_dir"`
}

// DeviceConfig configures the target device
type DeviceConfig struct {
	Serial   string `yaml:"serial"`
	MusicDir string `yaml:"music_dir"`
}

// TranscodeConfig configures the lossless-to-lossy audio conversion
type TranscodeConfig struct {
	SourceExt string `yaml:"source_ext"`
	TargetExt string `yaml:"target_ext"`
	Codec     string `yaml:"codec"`
	Bitrate   string `yaml:"bitrate"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Mode Mode `yaml:"mode"`
}

// ToolsConfig configures the external tools, as names on PATH or absolute
// paths
type ToolsConfig struct {
	ADB        string `yaml:"adb"`
	Adbfs      string `yaml:"adbfs"`
	Fusermount string `yaml:"fusermount"`
	FFmpeg     string `yaml:"ffmpeg"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults, then expand environment variables and ~ in paths
	cfg.applyDefaults()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with the stock library layout and
// tool names.
func (c *Config) applyDefaults() {
	if c.Library.Root == "" {
		c.Library.Root = "~/Music"
	}
	if c.Library.PlaylistsDir == "" {
		c.Library.PlaylistsDir = ".playlists"
	}
	if c.Device.MusicDir == "" {
		c.Device.MusicDir = "sdcard/Music"
	}
	if c.Transcode.SourceExt == "" {
		c.Transcode.SourceExt = ".flac"
	}
	if c.Transcode.TargetExt == "" {
		c.Transcode.TargetExt = ".ogg"
	}
	if c.Transcode.Codec == "" {
		c.Transcode.Codec = "libopus"
	}
	if c.Transcode.Bitrate == "" {
		c.Transcode.Bitrate = "70k"
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = ModePlaylist
	}
	if c.Tools.ADB == "" {
		c.Tools.ADB = "adb"
	}
	if c.Tools.Adbfs == "" {
		c.Tools.Adbfs = "adbfs"
	}
	if c.Tools.Fusermount == "" {
		c.Tools.Fusermount = "fusermount"
	}
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
}

// expandPaths expands environment variables and a leading ~ in path fields
func (c *Config) expandPaths() error {
	root, err := homedir.Expand(os.ExpandEnv(c.Library.Root))
	if err != nil {
		return fmt.Errorf("invalid library.root: %w", err)
	}
	c.Library.Root = root
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate library config
	if c.Library.Root == "" {
		return fmt.Errorf("library.root is required")
	}
	if !filepath.IsAbs(c.Library.Root) {
		return fmt.Errorf("library.root must be an absolute path: %s", c.Library.Root)
	}
	if c.Library.PlaylistsDir == "" {
		return fmt.Errorf("library.playlists_dir is required")
	}
	if filepath.IsAbs(c.Library.PlaylistsDir) {
		return fmt.Errorf("library.playlists_dir must be relative to library.root: %s", c.Library.PlaylistsDir)
	}

	// Validate device config
	if c.Device.MusicDir == "" {
		return fmt.Errorf("device.music_dir is required")
	}
	if strings.HasPrefix(c.Device.MusicDir, "/") {
		return fmt.Errorf("device.music_dir must not start with /: %s", c.Device.MusicDir)
	}

	// Validate transcode config
	if !strings.HasPrefix(c.Transcode.SourceExt, ".") {
		return fmt.Errorf("transcode.source_ext must start with a dot: %s", c.Transcode.SourceExt)
	}
	if !strings.HasPrefix(c.Transcode.TargetExt, ".") {
		return fmt.Errorf("transcode.target_ext must start with a dot: %s", c.Transcode.TargetExt)
	}
	if c.Transcode.Codec == "" {
		return fmt.Errorf("transcode.codec is required")
	}
	if c.Transcode.Bitrate == "" {
		return fmt.Errorf("transcode.bitrate is required")
	}

	// Validate sync mode
	switch c.Sync.Mode {
	case ModePlaylist, ModeFull:
		// valid
	default:
		return fmt.Errorf("invalid sync.mode: %s (must be playlist or full)", c.Sync.Mode)
	}

	return nil
}

// PlaylistsRoot returns the absolute path of the local playlists subtree
func (c *Config) PlaylistsRoot() string {
	return filepath.Join(c.Library.Root, c.Library.PlaylistsDir)
}

// ManifestPath returns the device manifest playlist for the given serial
func (c *Config) ManifestPath(serial string) string {
	return filepath.Join(c.PlaylistsRoot(), fmt.Sprintf("Sync to %s.m3u", serial))
}

// DeviceMusicRoot returns the device-absolute music directory
func (c *Config) DeviceMusicRoot() string {
	return "/" + c.Device.MusicDir
}

// MountedMusicRoot returns the music directory as seen through a local mount
// of the device filesystem
func (c *Config) MountedMusicRoot(mountDir string) string {
	return filepath.Join(mountDir, c.Device.MusicDir)
}
