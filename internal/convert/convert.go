package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/schaermu/tunesync/internal/config"
	"github.com/schaermu/tunesync/internal/library"
)

// Converter materializes a single file unit at its remote path.
type Converter interface {
	Convert(ctx context.Context, unit library.Unit) error
}

// ShellConverter implements Converter by shelling out to ffmpeg for audio
// transcodes; copies and playlist rewrites happen in-process.
type ShellConverter struct {
	ffmpeg     string
	codec      string
	bitrate    string
	sourceExt  string
	targetExt  string
	remoteRoot string
}

// New creates a converter writing below the given mount-qualified remote
// music root.
func New(cfg *config.Config, remoteRoot string) *ShellConverter {
	return &ShellConverter{
		ffmpeg:     cfg.Tools.FFmpeg,
		codec:      cfg.Transcode.Codec,
		bitrate:    cfg.Transcode.Bitrate,
		sourceExt:  cfg.Transcode.SourceExt,
		targetExt:  cfg.Transcode.TargetExt,
		remoteRoot: filepath.Clean(remoteRoot),
	}
}

// Convert dispatches on the unit kind. Directory units have no file content
// and are a caller bug here.
func (c *ShellConverter) Convert(ctx context.Context, unit library.Unit) error {
	switch unit.Kind {
	case library.KindCopy:
		return c.copyFile(unit.LocalPath, unit.RemotePath)
	case library.KindTranscode:
		return c.transcode(ctx, unit.LocalPath, unit.RemotePath)
	case library.KindPlaylist:
		return c.rewritePlaylist(unit.LocalPath, unit.RemotePath)
	default:
		return fmt.Errorf("cannot convert %s unit %s", unit.Kind, unit.LocalPath)
	}
}

// copyFile duplicates file content without preserving metadata. The remote
// copy's mtime becomes the write time, which is what keeps re-runs
// convergent.
func (c *ShellConverter) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// transcode re-encodes src into the configured lossy format, dropping any
// embedded art or video stream. ffmpeg overwrites dst unconditionally.
func (c *ShellConverter) transcode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, c.ffmpeg,
		"-y",
		"-i", src,
		"-vn",
		"-c:a", c.codec,
		"-b:a", c.bitrate,
		dst)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed for %s: %w: %s", src, err, string(output))
	}
	return nil
}

// rewritePlaylist adjusts playlist entries for their new home on the device:
// every line gains the escaped relative path from the playlist's device
// directory back to the music root, and every lossless extension reference
// is rewritten to the transcoded one.
func (c *ShellConverter) rewritePlaylist(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open playlist %s: %w", src, err)
	}
	defer in.Close()

	rel, err := filepath.Rel(filepath.Dir(dst), c.remoteRoot)
	if err != nil {
		return fmt.Errorf("failed to compute playlist prefix for %s: %w", dst, err)
	}
	prefix := escapePrefix(rel + "/")

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create playlist %s: %w", dst, err)
	}

	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.ReplaceAll(sc.Text(), c.sourceExt, c.targetExt)
		if _, err := w.WriteString(prefix + line + "\n"); err != nil {
			_ = out.Close()
			return fmt.Errorf("failed to write playlist %s: %w", dst, err)
		}
	}
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to read playlist %s: %w", src, err)
	}

	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write playlist %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write playlist %s: %w", dst, err)
	}
	return nil
}

// escapePrefix backslash-escapes separators, ampersands and backslashes in a
// computed path prefix.
func escapePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `/`, `\/`, `&`, `\&`)
	return r.Replace(prefix)
}
