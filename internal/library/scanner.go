package library

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// playlistExt marks files that are always synced and rewritten for the
// device, regardless of any filter set.
const playlistExt = ".m3u"

// artCacheDir is dropped next to album folders by some player apps and never
// belongs on the device.
const artCacheDir = ".mediaartlocal"

// FilterSet restricts a scan to an allow-list of local file paths.
// A nil FilterSet admits everything.
type FilterSet map[string]struct{}

// LoadFilterSet reads a device manifest playlist: one library-relative path
// per line, blank lines ignored.
func LoadFilterSet(manifestPath, localRoot string) (FilterSet, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device manifest: %w", err)
	}
	defer f.Close()

	set := make(FilterSet)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		set[filepath.Join(localRoot, line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device manifest: %w", err)
	}
	return set, nil
}

// Contains reports whether path is a member of the filter set.
func (s FilterSet) Contains(path string) bool {
	_, ok := s[filepath.Clean(path)]
	return ok
}

// isImage reports whether ext names a cover-art image. Art rides along even
// when a filter set would exclude it.
func isImage(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Scanner walks the local library and produces the ordered unit stream the
// sync engine consumes.
type Scanner struct {
	mapper    *Mapper
	filter    FilterSet
	sourceExt string
	targetExt string
}

// NewScanner creates a scanner. A nil filter scans the whole library;
// sourceExt and targetExt configure the transcode extension rewrite.
func NewScanner(mapper *Mapper, filter FilterSet, sourceExt, targetExt string) *Scanner {
	return &Scanner{
		mapper:    mapper,
		filter:    filter,
		sourceExt: sourceExt,
		targetExt: targetExt,
	}
}

// Scan returns every unit under dir in materialization order: each directory
// precedes its contents, and deferred cover art closes its directory's
// group. Directories that contribute no file at all are omitted entirely,
// including their own directory unit.
func (s *Scanner) Scan(dir string) ([]Unit, error) {
	return s.scanDir(filepath.Clean(dir))
}

func (s *Scanner) scanDir(dir string) ([]Unit, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var units []Unit
	var images []Unit
	for _, child := range children {
		path := filepath.Join(dir, child.Name())

		mode := child.Type()
		if mode&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
			}
			mode = info.Mode()
		}

		switch {
		case mode.IsDir():
			if child.Name() == artCacheDir {
				continue
			}
			sub, err := s.scanDir(path)
			if err != nil {
				return nil, err
			}
			units = append(units, sub...)

		case mode.IsRegular():
			remote, err := s.mapper.Map(path)
			if err != nil {
				return nil, err
			}
			ext := filepath.Ext(path)
			switch {
			case ext == playlistExt:
				units = append(units, Unit{LocalPath: path, RemotePath: remote, Kind: KindPlaylist})
			case s.filter != nil && !s.filter.Contains(path):
				if isImage(ext) {
					images = append(images, Unit{LocalPath: path, RemotePath: remote, Kind: KindCopy})
				}
			case ext == s.sourceExt:
				remote = strings.TrimSuffix(remote, ext) + s.targetExt
				units = append(units, Unit{LocalPath: path, RemotePath: remote, Kind: KindTranscode})
			default:
				units = append(units, Unit{LocalPath: path, RemotePath: remote, Kind: KindCopy})
			}

		default:
			return nil, fmt.Errorf("unsupported filesystem entry %s (mode %v)", path, mode)
		}
	}

	if len(units) == 0 && len(images) == 0 {
		return nil, nil
	}

	remote, err := s.mapper.Map(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Unit, 0, len(units)+len(images)+1)
	out = append(out, Unit{LocalPath: dir, RemotePath: remote, Kind: KindDir})
	out = append(out, units...)
	out = append(out, images...)
	return out, nil
}
