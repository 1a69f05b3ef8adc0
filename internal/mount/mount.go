package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Mounter exposes the device filesystem at a local path.
type Mounter interface {
	// Mount makes the device filesystem reachable and returns the mount
	// directory.
	Mount(ctx context.Context) (string, error)
	// Unmount releases the device filesystem and removes the mount
	// directory.
	Unmount(ctx context.Context, dir string) error
}

// AdbfsMounter implements Mounter with adbfs and fusermount.
type AdbfsMounter struct {
	adbfs      string
	fusermount string
}

// NewAdbfsMounter creates a new adbfs mounter.
func NewAdbfsMounter(adbfs, fusermount string) *AdbfsMounter {
	return &AdbfsMounter{adbfs: adbfs, fusermount: fusermount}
}

// Mount exposes the device filesystem under a fresh temporary directory.
// adbfs backgrounds itself once the mount is established.
func (m *AdbfsMounter) Mount(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "tunesync-*")
	if err != nil {
		return "", fmt.Errorf("failed to create mount directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.adbfs, dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dir)
		return "", fmt.Errorf("adbfs failed: %w: %s", err, string(output))
	}
	return dir, nil
}

// Unmount detaches the device filesystem and removes the mount directory.
func (m *AdbfsMounter) Unmount(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, m.fusermount, "-u", dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("fusermount failed: %w: %s", err, string(output))
	}

	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("failed to remove mount directory: %w", err)
	}
	return nil
}

// FreeSpace returns the number of bytes available to unprivileged writes on
// the filesystem containing path.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
