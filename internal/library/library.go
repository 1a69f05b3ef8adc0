package library

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind classifies how a sync unit is materialized on the device.
type Kind int

const (
	// KindDir is a directory that must exist before any of its contents.
	KindDir Kind = iota
	// KindCopy is a file transferred byte for byte.
	KindCopy
	// KindTranscode is a lossless audio file re-encoded on the way out.
	KindTranscode
	// KindPlaylist is a playlist whose entries are rewritten for the device.
	KindPlaylist
)

// String returns a short name for the kind, used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindCopy:
		return "copy"
	case KindTranscode:
		return "transcode"
	case KindPlaylist:
		return "playlist"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Unit is a single directory or file scheduled for synchronization. Both
// paths are absolute; RemotePath is always derived from LocalPath by a
// Mapper and is mount-qualified.
type Unit struct {
	LocalPath  string
	RemotePath string
	Kind       Kind
}

// IsDir reports whether the unit is a directory.
func (u Unit) IsDir() bool {
	return u.Kind == KindDir
}

// RemotePlaylistsDir is the folder under the device music root that receives
// the local playlists subtree. Players expect playlists next to the music,
// not in a hidden directory.
const RemotePlaylistsDir = "Playlists"

// Mapper translates local library paths into their device-side locations.
// The playlists subtree is hidden locally but relocated to a visible folder
// on the device; everything else keeps its position below the library root.
type Mapper struct {
	localRoot     string
	playlistsRoot string
	remoteRoot    string
}

// NewMapper creates a mapper for the given local library root, playlists
// subtree and mount-qualified remote music root. All three paths must be
// absolute.
func NewMapper(localRoot, playlistsRoot, remoteRoot string) *Mapper {
	return &Mapper{
		localRoot:     filepath.Clean(localRoot),
		playlistsRoot: filepath.Clean(playlistsRoot),
		remoteRoot:    filepath.Clean(remoteRoot),
	}
}

// Map returns the remote path for a local library path. A path outside the
// library root is a caller bug; the resulting error is not recoverable.
func (m *Mapper) Map(localPath string) (string, error) {
	path := filepath.Clean(localPath)
	if rel, ok := relativeTo(m.playlistsRoot, path); ok {
		return filepath.Join(m.remoteRoot, RemotePlaylistsDir, rel), nil
	}
	if rel, ok := relativeTo(m.localRoot, path); ok {
		return filepath.Join(m.remoteRoot, rel), nil
	}
	return "", fmt.Errorf("path %s is outside the library root %s", localPath, m.localRoot)
}

// relativeTo returns the path of p relative to root when p equals root or
// lies below it.
func relativeTo(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
