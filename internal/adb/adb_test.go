package adb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFakeADB writes an executable shell script standing in for adb and
// returns its path.
func writeFakeADB(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSerial(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    string
		wantErr bool
	}{
		{
			name:   "usb device",
			script: "echo emulator-5554\n",
			want:   "emulator-5554",
		},
		{
			name:   "tcp device keeps host only",
			script: "echo 192.168.1.40:5555\n",
			want:   "192.168.1.40",
		},
		{
			name:    "no device",
			script:  "echo unknown\n",
			wantErr: true,
		},
		{
			name:    "empty output",
			script:  "true\n",
			wantErr: true,
		},
		{
			name:    "command failure",
			script:  "echo 'error: no devices found' >&2\nexit 1\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewShellClient(writeFakeADB(t, tt.script), "")
			got, err := client.Serial(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Serial returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Serial() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSerialScopesToConfiguredDevice(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fmt.Sprintf("printf '%%s\\n' \"$@\" > %s\necho mydevice\n", argsFile)

	client := NewShellClient(writeFakeADB(t, script), "mydevice")
	if _, err := client.Serial(context.Background()); err != nil {
		t.Fatalf("Serial returned error: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "-s\nmydevice\nget-serialno\n"
	if string(args) != want {
		t.Errorf("adb args = %q, want %q", args, want)
	}
}

func TestListAll(t *testing.T) {
	script := `printf '1700000000 /sdcard/Music\n1700000100 /sdcard/Music/A B/track.flac\n'`
	client := NewShellClient(writeFakeADB(t, script), "")

	entries, err := client.ListAll(context.Background(), "/sdcard/Music")
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}

	want := []Entry{
		{Path: "/sdcard/Music", MTime: time.Unix(1700000000, 0)},
		{Path: "/sdcard/Music/A B/track.flac", MTime: time.Unix(1700000100, 0)},
	}
	if len(entries) != len(want) {
		t.Fatalf("ListAll() returned %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestListAllQuotesRoot(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fmt.Sprintf("printf '%%s\\n' \"$@\" > %s\n", argsFile)

	client := NewShellClient(writeFakeADB(t, script), "")
	if _, err := client.ListAll(context.Background(), "/sdcard/My Music"); err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(args), "find '/sdcard/My Music' -print0") {
		t.Errorf("listing command does not quote the root: %q", args)
	}
}

func TestListAllCommandFailure(t *testing.T) {
	client := NewShellClient(writeFakeADB(t, "echo 'find: no such file' >&2\nexit 1\n"), "")
	if _, err := client.ListAll(context.Background(), "/sdcard/Music"); err == nil {
		t.Fatal("expected error, got none")
	}
}

func TestParseListing(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    int
		wantErr bool
	}{
		{
			name:   "empty output",
			output: "",
			want:   0,
		},
		{
			name:   "trailing newline and CR",
			output: "1700000000 /sdcard/Music\r\n",
			want:   1,
		},
		{
			name:    "missing mtime field",
			output:  "/sdcard/Music\n",
			wantErr: true,
		},
		{
			name:    "non-numeric mtime",
			output:  "soon /sdcard/Music\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := parseListing(tt.output)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseListing returned error: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("parseListing() returned %d entries, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/sdcard/Music", "'/sdcard/Music'"},
		{"/sdcard/My Music", "'/sdcard/My Music'"},
		{"/sdcard/it's", `'/sdcard/it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
