package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/tunesync/internal/adb"
	"github.com/schaermu/tunesync/internal/config"
	"github.com/schaermu/tunesync/internal/convert"
	"github.com/schaermu/tunesync/internal/library"
	"github.com/schaermu/tunesync/internal/mount"
	"github.com/schaermu/tunesync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tunesync",
	Short: "Synchronize a local music library to an Android device",
	Long: `tunesync mirrors a local music library onto an Android device over adb.

It mounts the device with adbfs, compares the library with the files already
on the device, and transfers only what changed: lossless audio is transcoded
to a lossy format on the way out, playlists are rewritten so their entries
resolve on the device, and files removed from the library are removed from
the device as well.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync from the library to the device",
	Long: `Sync mounts the connected device, scans the local library, and applies the
difference to the device music directory.

In playlist mode (the default) only tracks referenced by the device's sync
manifest are transferred; in full mode the entire library is mirrored.
Orphaned device files are always removed first.`,
	RunE: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tunesync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tunesync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without touching the device")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve the connected device
	adbClient := adb.NewShellClient(cfg.Tools.ADB, cfg.Device.Serial)
	serial, err := adbClient.Serial(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve device: %w", err)
	}
	logger.Info("device connected", "serial", serial)

	// Mount the device filesystem
	mounter := mount.NewAdbfsMounter(cfg.Tools.Adbfs, cfg.Tools.Fusermount)
	mountDir, err := mounter.Mount(ctx)
	if err != nil {
		return fmt.Errorf("failed to mount device: %w", err)
	}
	defer func() {
		// The sync context may already be canceled at this point.
		if err := mounter.Unmount(context.Background(), mountDir); err != nil {
			logger.Error("failed to unmount device", "error", err)
		}
	}()
	logger.Info("device mounted", "dir", mountDir)

	// Free space is informational only; a broken mount fails the sync itself.
	if free, err := mount.FreeSpace(mountDir); err != nil {
		logger.Warn("could not determine free space", "error", err)
	} else {
		logger.Info("device free space", "free", formatBytes(free))
	}

	// In playlist mode the device's manifest decides which tracks travel
	var filter library.FilterSet
	if cfg.Sync.Mode == config.ModePlaylist {
		manifest := cfg.ManifestPath(serial)
		filter, err = library.LoadFilterSet(manifest, cfg.Library.Root)
		if err != nil {
			return fmt.Errorf("failed to load sync manifest: %w", err)
		}
		logger.Info("sync manifest loaded", "path", manifest, "tracks", len(filter))
	} else {
		logger.Info("full sync mode, transferring the entire library")
	}

	// Create sync engine
	mapper := library.NewMapper(cfg.Library.Root, cfg.PlaylistsRoot(), cfg.MountedMusicRoot(mountDir))
	scanner := library.NewScanner(mapper, filter, cfg.Transcode.SourceExt, cfg.Transcode.TargetExt)
	converter := convert.New(cfg, cfg.MountedMusicRoot(mountDir))
	engine := sync.NewEngine(cfg, mountDir, scanner, adbClient, converter, logger, dryRun)

	// Run sync
	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// An explicit config file must exist; the default location may be absent
	// because the defaults alone describe a working setup.
	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
		return config.Load(cfgFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	configPath := fmt.Sprintf("%s/.config/tunesync/config.yaml", home)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		logger.Info("no config file found, using defaults")
		return config.Default()
	}

	logger.Info("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"library", cfg.Library.Root,
		"device_music_dir", cfg.Device.MusicDir,
		"mode", cfg.Sync.Mode)

	return cfg, nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
