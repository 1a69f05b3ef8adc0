package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Entry is one filesystem entry reported by the device. MTime carries whole
// seconds only, which is all the device-side stat reports.
type Entry struct {
	Path  string
	MTime time.Time
}

// Lister enumerates the device filesystem; it is the only device capability
// the sync engine needs.
type Lister interface {
	// ListAll returns every filesystem entry (files and directories)
	// reachable under root on the device.
	ListAll(ctx context.Context, root string) ([]Entry, error)
}

// ShellClient implements device access by shelling out to the adb command
type ShellClient struct {
	adb    string
	serial string // restricts commands to one device when set
}

// NewShellClient creates a new adb client. An empty serial targets whatever
// single device adb sees.
func NewShellClient(adbPath, serial string) *ShellClient {
	return &ShellClient{adb: adbPath, serial: serial}
}

// command builds an adb invocation, scoped to the configured device when one
// is set.
func (c *ShellClient) command(ctx context.Context, args ...string) *exec.Cmd {
	if c.serial != "" {
		args = append([]string{"-s", c.serial}, args...)
	}
	return exec.CommandContext(ctx, c.adb, args...)
}

// Serial returns the serial number of the connected device. Devices attached
// over TCP report host:port; only the host part is kept so the serial stays
// usable in file names.
func (c *ShellClient) Serial(ctx context.Context) (string, error) {
	output, err := c.command(ctx, "get-serialno").Output()
	if err != nil {
		return "", fmt.Errorf("adb get-serialno failed: %w", err)
	}

	serial := strings.TrimSpace(string(output))
	serial, _, _ = strings.Cut(serial, ":")
	if serial == "" || serial == "unknown" {
		return "", fmt.Errorf("no device connected")
	}
	return serial, nil
}

// ListAll returns (mtime, path) for every entry under root on the device.
// The listing runs device-side so a full tree snapshot costs a single adb
// round trip.
func (c *ShellClient) ListAll(ctx context.Context, root string) ([]Entry, error) {
	script := fmt.Sprintf("find %s -print0 | xargs -0 stat -c '%%Y %%n'", shellQuote(root))
	output, err := c.command(ctx, "shell", script).Output()
	if err != nil {
		return nil, fmt.Errorf("adb shell listing failed: %w", err)
	}
	return parseListing(string(output))
}

// parseListing parses "epoch-seconds path" lines. Paths may contain spaces,
// so only the first field is split off.
func parseListing(output string) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		secs, path, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed device listing line %q", line)
		}
		epoch, err := strconv.ParseInt(secs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed device listing line %q: %w", line, err)
		}
		entries = append(entries, Entry{Path: path, MTime: time.Unix(epoch, 0)})
	}
	return entries, nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
