//go:build integration

package tier1

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/tunesync/internal/testutil"
)

const (
	shimSerial     = "INTEGRATION1"
	defaultTimeout = 5 * time.Minute
)

// Harness builds the real binary and runs it against shim replacements for
// adb, adbfs, fusermount and ffmpeg, so the whole pipeline is exercised
// without a connected device. The adb shim maps /sdcard onto a scratch
// directory; the ffmpeg shim records its invocations to a log file.
type Harness struct {
	t          *testing.T
	binPath    string
	phoneDir   string
	libraryDir string
	configPath string
	ffmpegLog  string
}

// NewHarness compiles tunesync, writes the tool shims and prepares an empty
// phone filesystem and library.
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	workDir := t.TempDir()
	h := &Harness{
		t:          t,
		binPath:    filepath.Join(workDir, "tunesync"),
		phoneDir:   filepath.Join(workDir, "phone"),
		libraryDir: filepath.Join(workDir, "Music"),
		configPath: filepath.Join(workDir, "config.yaml"),
		ffmpegLog:  filepath.Join(workDir, "ffmpeg.log"),
	}

	if err := os.MkdirAll(filepath.Join(h.phoneDir, "sdcard", "Music"), 0755); err != nil {
		t.Fatalf("create phone filesystem: %v", err)
	}
	if err := os.MkdirAll(h.libraryDir, 0755); err != nil {
		t.Fatalf("create library: %v", err)
	}

	h.buildBinary(ctx, projectRoot)
	shimDir := h.writeShims(workDir)
	h.writeConfig(shimDir)
	return h
}

// buildBinary compiles the tunesync command into the scratch directory.
func (h *Harness) buildBinary(ctx context.Context, projectRoot string) {
	h.t.Helper()
	h.t.Logf("Building %s", h.binPath)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binPath, "./cmd/tunesync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		h.t.Fatalf("go build: %v", err)
	}
}

// writeShims writes the fake device tools and returns their directory.
//
// The adb shim answers get-serialno with a fixed serial and executes shell
// pipelines locally, rewriting /sdcard to the phone directory on the way in
// and back on the way out. The adbfs shim replaces the fresh mount directory
// with a symlink into the phone directory; fusermount undoes that. The
// ffmpeg shim appends its arguments to a log and writes a marker to the
// output file, which is always its last argument.
func (h *Harness) writeShims(workDir string) string {
	h.t.Helper()

	shimDir := filepath.Join(workDir, "bin")
	if err := os.MkdirAll(shimDir, 0755); err != nil {
		h.t.Fatalf("create shim dir: %v", err)
	}

	shims := map[string]string{
		"adb": `case "$1" in
get-serialno)
	echo "` + shimSerial + `"
	;;
shell)
	script=$(printf '%s' "$2" | sed "s|/sdcard|$TUNESYNC_PHONE/sdcard|g")
	sh -c "$script" | sed "s|$TUNESYNC_PHONE||g"
	;;
*)
	echo "unexpected adb invocation: $*" >&2
	exit 1
	;;
esac
`,
		"adbfs": `rmdir "$1" && ln -s "$TUNESYNC_PHONE" "$1"
`,
		"fusermount": `rm "$2" && mkdir "$2"
`,
		"ffmpeg": `echo "$*" >> "$TUNESYNC_FFMPEG_LOG"
for dst; do :; done
printf 'transcoded\n' > "$dst"
`,
	}

	for name, body := range shims {
		path := filepath.Join(shimDir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
			h.t.Fatalf("write %s shim: %v", name, err)
		}
	}
	return shimDir
}

// writeConfig points tunesync at the scratch library and the shim tools.
func (h *Harness) writeConfig(shimDir string) {
	h.t.Helper()

	config := fmt.Sprintf(`library:
  root: %s
  playlists_dir: .playlists

device:
  music_dir: sdcard/Music

sync:
  mode: playlist

tools:
  adb: %s
  adbfs: %s
  fusermount: %s
  ffmpeg: %s
`,
		h.libraryDir,
		filepath.Join(shimDir, "adb"),
		filepath.Join(shimDir, "adbfs"),
		filepath.Join(shimDir, "fusermount"),
		filepath.Join(shimDir, "ffmpeg"))

	if err := os.WriteFile(h.configPath, []byte(config), 0644); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
}

// RunSync runs the binary's sync command and returns its combined output.
func (h *Harness) RunSync(ctx context.Context, extraArgs ...string) (string, error) {
	h.t.Helper()

	args := append([]string{"sync", "--config", h.configPath}, extraArgs...)
	cmd := exec.CommandContext(ctx, h.binPath, args...)
	cmd.Env = append(os.Environ(),
		"TUNESYNC_PHONE="+h.phoneDir,
		"TUNESYNC_FFMPEG_LOG="+h.ffmpegLog)

	out, err := cmd.CombinedOutput()
	return string(out), err
}

// MustSync runs the sync command and fails the test on a non-zero exit.
func (h *Harness) MustSync(ctx context.Context, extraArgs ...string) string {
	h.t.Helper()

	out, err := h.RunSync(ctx, extraArgs...)
	h.t.Logf("sync output:\n%s", out)
	if err != nil {
		h.t.Fatalf("tunesync sync %v failed: %v", extraArgs, err)
	}
	return out
}

// WriteLibrary writes a file below the library root.
func (h *Harness) WriteLibrary(rel, content string) {
	h.t.Helper()
	writeFile(h.t, filepath.Join(h.libraryDir, rel), content)
}

// WritePhone writes a file below the phone's music directory.
func (h *Harness) WritePhone(rel, content string) {
	h.t.Helper()
	writeFile(h.t, filepath.Join(h.phoneDir, "sdcard", "Music", rel), content)
}

// PhonePath returns the absolute path of an entry below the phone's music
// directory.
func (h *Harness) PhonePath(rel string) string {
	return filepath.Join(h.phoneDir, "sdcard", "Music", rel)
}

// AgeLibrary backdates every library file by an hour. Device timestamps
// carry only second precision, so a library written moments before a sync
// could otherwise look newer than its own device copies.
func (h *Harness) AgeLibrary() {
	h.t.Helper()

	past := time.Now().Add(-time.Hour)
	err := filepath.WalkDir(h.libraryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, past, past)
	})
	if err != nil {
		h.t.Fatalf("age library: %v", err)
	}
}

// PhoneTree returns the sorted relative paths of everything below the
// phone's music directory.
func (h *Harness) PhoneTree() []string {
	h.t.Helper()

	root := h.PhonePath(".")
	var tree []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." {
			tree = append(tree, rel)
		}
		return nil
	})
	if err != nil {
		h.t.Fatalf("walk phone tree: %v", err)
	}
	sort.Strings(tree)
	return tree
}

// ReadPhone returns the content of a file below the phone's music directory.
func (h *Harness) ReadPhone(rel string) string {
	h.t.Helper()

	data, err := os.ReadFile(h.PhonePath(rel))
	if err != nil {
		h.t.Fatalf("read phone file: %v", err)
	}
	return string(data)
}

// FFmpegCalls returns one entry per recorded ffmpeg invocation.
func (h *Harness) FFmpegCalls() []string {
	h.t.Helper()

	data, err := os.ReadFile(h.ffmpegLog)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		h.t.Fatalf("read ffmpeg log: %v", err)
	}

	var calls []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			calls = append(calls, line)
		}
	}
	return calls
}

// ClearFFmpegLog discards previously recorded ffmpeg invocations.
func (h *Harness) ClearFFmpegLog() {
	h.t.Helper()
	if err := os.RemoveAll(h.ffmpegLog); err != nil {
		h.t.Fatalf("clear ffmpeg log: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
