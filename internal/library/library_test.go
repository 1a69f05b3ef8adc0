package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func testMapper() *Mapper {
	return NewMapper("/home/u/Music", "/home/u/Music/.playlists", "/mnt/sdcard/Music")
}

func TestMapperMap(t *testing.T) {
	m := testMapper()

	tests := []struct {
		name  string
		local string
		want  string
	}{
		{
			name:  "library root maps to remote root",
			local: "/home/u/Music",
			want:  "/mnt/sdcard/Music",
		},
		{
			name:  "track keeps its relative position",
			local: "/home/u/Music/Artist/track.flac",
			want:  "/mnt/sdcard/Music/Artist/track.flac",
		},
		{
			name:  "nested album directory",
			local: "/home/u/Music/Artist/Album",
			want:  "/mnt/sdcard/Music/Artist/Album",
		},
		{
			name:  "playlist is relocated",
			local: "/home/u/Music/.playlists/foo.m3u",
			want:  "/mnt/sdcard/Music/Playlists/foo.m3u",
		},
		{
			name:  "playlists subtree root",
			local: "/home/u/Music/.playlists",
			want:  "/mnt/sdcard/Music/Playlists",
		},
		{
			name:  "nested playlist",
			local: "/home/u/Music/.playlists/moods/calm.m3u",
			want:  "/mnt/sdcard/Music/Playlists/moods/calm.m3u",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Map(tt.local)
			if err != nil {
				t.Fatalf("Map(%q) returned error: %v", tt.local, err)
			}
			if got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.local, got, tt.want)
			}
		})
	}
}

func TestMapperMapOutsideRoot(t *testing.T) {
	m := testMapper()

	for _, local := range []string{"/etc/passwd", "/home/u/Documents/x.txt", "/home/u"} {
		if _, err := m.Map(local); err == nil {
			t.Errorf("Map(%q) expected error, got none", local)
		}
	}
}

func TestLoadFilterSet(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Sync to phone.m3u")
	content := "Artist/track.flac\n\nArtist/Album/other.flac\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadFilterSet(manifest, "/home/u/Music")
	if err != nil {
		t.Fatalf("LoadFilterSet returned error: %v", err)
	}

	if len(set) != 2 {
		t.Fatalf("LoadFilterSet() has %d entries, want 2", len(set))
	}
	for _, want := range []string{
		"/home/u/Music/Artist/track.flac",
		"/home/u/Music/Artist/Album/other.flac",
	} {
		if !set.Contains(want) {
			t.Errorf("filter set missing %q", want)
		}
	}
	if set.Contains("/home/u/Music/Artist/absent.flac") {
		t.Error("filter set contains path that was not listed")
	}
}

func TestLoadFilterSetMissingManifest(t *testing.T) {
	_, err := LoadFilterSet(filepath.Join(t.TempDir(), "nope.m3u"), "/home/u/Music")
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

// writeTree creates the given files (with dummy content) below root,
// creating parent directories as needed.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, rel := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func scanTree(t *testing.T, root string, filter FilterSet) []Unit {
	t.Helper()
	mapper := NewMapper(root, filepath.Join(root, ".playlists"), "/mnt/sdcard/Music")
	units, err := NewScanner(mapper, filter, ".flac", ".ogg").Scan(root)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	return units
}

// remotePaths strips the remote root prefix for compact comparisons.
func remotePaths(units []Unit) []string {
	var out []string
	for _, u := range units {
		out = append(out, strings.TrimPrefix(u.RemotePath, "/mnt/sdcard/Music"))
	}
	return out
}

func assertOrder(t *testing.T, units []Unit, want []string) {
	t.Helper()
	got := remotePaths(units)
	if len(got) != len(want) {
		t.Fatalf("scan produced %d units, want %d:\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unit[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanFullLibrary(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Artist/Album/01 one.flac",
		"Artist/Album/02 two.flac",
		"Artist/Album/cover.jpg",
		"notes.txt",
	)

	units := scanTree(t, root, nil)

	// Unfiltered scans include everything in name order, images inline.
	assertOrder(t, units, []string{
		"",
		"/Artist",
		"/Artist/Album",
		"/Artist/Album/01 one.ogg",
		"/Artist/Album/02 two.ogg",
		"/Artist/Album/cover.jpg",
		"/notes.txt",
	})

	if units[0].Kind != KindDir {
		t.Errorf("unit[0].Kind = %v, want dir", units[0].Kind)
	}
	if units[3].Kind != KindTranscode {
		t.Errorf("unit[3].Kind = %v, want transcode", units[3].Kind)
	}
	if units[5].Kind != KindCopy {
		t.Errorf("unit[5].Kind = %v, want copy", units[5].Kind)
	}
}

func TestScanPreOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/b/c/track.flac")

	units := scanTree(t, root, nil)

	assertOrder(t, units, []string{"", "/a", "/a/b", "/a/b/c", "/a/b/c/track.ogg"})
	for i, u := range units[:4] {
		if u.Kind != KindDir {
			t.Errorf("unit[%d].Kind = %v, want dir", i, u.Kind)
		}
	}
}

func TestScanEmptyDirectoryElision(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Keep/track.flac",
		"Skip/unwanted.flac",
	)
	if err := os.MkdirAll(filepath.Join(root, "Empty/Deeper"), 0755); err != nil {
		t.Fatal(err)
	}

	filter := FilterSet{filepath.Join(root, "Keep/track.flac"): {}}
	units := scanTree(t, root, filter)

	// Skip/ holds only a non-member file and Empty/ holds nothing, so
	// neither may surface as a directory unit.
	assertOrder(t, units, []string{"", "/Keep", "/Keep/track.ogg"})
}

func TestScanSkipsArtCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Artist/track.flac",
		"Artist/.mediaartlocal/art.jpg",
	)

	units := scanTree(t, root, nil)

	assertOrder(t, units, []string{"", "/Artist", "/Artist/track.ogg"})
}

func TestScanPlaylistAlwaysIncluded(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		".playlists/rock.m3u",
		"Artist/track.flac",
	)

	// The filter set admits nothing; playlists ride along regardless.
	units := scanTree(t, root, FilterSet{})

	assertOrder(t, units, []string{"", "/Playlists", "/Playlists/rock.m3u"})
	if units[2].Kind != KindPlaylist {
		t.Errorf("unit[2].Kind = %v, want playlist", units[2].Kind)
	}
}

func TestScanDefersCoverArt(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Album/AAA front.JPG",
		"Album/folder.png",
		"Album/track.flac",
		"Album/z-track.flac",
	)

	filter := FilterSet{
		filepath.Join(root, "Album/track.flac"):   {},
		filepath.Join(root, "Album/z-track.flac"): {},
	}
	units := scanTree(t, root, filter)

	// Non-member art sorts before the tracks by name but is emitted after
	// them, case-insensitively on extension.
	assertOrder(t, units, []string{
		"",
		"/Album",
		"/Album/track.ogg",
		"/Album/z-track.ogg",
		"/Album/AAA front.JPG",
		"/Album/folder.png",
	})
}

func TestScanMemberImageNotDeferred(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Album/cover.jpg",
		"Album/track.flac",
	)

	filter := FilterSet{
		filepath.Join(root, "Album/cover.jpg"):  {},
		filepath.Join(root, "Album/track.flac"): {},
	}
	units := scanTree(t, root, filter)

	// A listed image is ordinary content and keeps its encounter position.
	assertOrder(t, units, []string{"", "/Album", "/Album/cover.jpg", "/Album/track.ogg"})
}

func TestScanFilteredNonMemberExcluded(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"Album/track.flac",
		"Album/other.flac",
		"Album/notes.txt",
	)

	filter := FilterSet{filepath.Join(root, "Album/track.flac"): {}}
	units := scanTree(t, root, filter)

	assertOrder(t, units, []string{"", "/Album", "/Album/track.ogg"})
}

func TestScanTranscodeRewritesExtension(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "Artist/track.flac", "Artist/keep.mp3")

	units := scanTree(t, root, nil)

	byLocal := make(map[string]Unit)
	for _, u := range units {
		byLocal[filepath.Base(u.LocalPath)] = u
	}

	flac := byLocal["track.flac"]
	if flac.Kind != KindTranscode {
		t.Errorf("track.flac Kind = %v, want transcode", flac.Kind)
	}
	if !strings.HasSuffix(flac.RemotePath, "Artist/track.ogg") {
		t.Errorf("track.flac RemotePath = %q, want .ogg suffix", flac.RemotePath)
	}

	mp3 := byLocal["keep.mp3"]
	if mp3.Kind != KindCopy {
		t.Errorf("keep.mp3 Kind = %v, want copy", mp3.Kind)
	}
	if !strings.HasSuffix(mp3.RemotePath, "Artist/keep.mp3") {
		t.Errorf("keep.mp3 RemotePath = %q, want extension preserved", mp3.RemotePath)
	}
}

func TestScanRejectsSpecialFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "Artist/track.flac")

	fifo := filepath.Join(root, "Artist", "pipe")
	if err := unix.Mkfifo(fifo, 0644); err != nil {
		t.Skipf("cannot create fifo: %v", err)
	}

	mapper := NewMapper(root, filepath.Join(root, ".playlists"), "/mnt/sdcard/Music")
	if _, err := NewScanner(mapper, nil, ".flac", ".ogg").Scan(root); err == nil {
		t.Fatal("expected error for special file, got none")
	}
}

func TestScanRejectsDanglingSymlink(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "Artist/track.flac")

	if err := os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "Artist", "dangling")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	mapper := NewMapper(root, filepath.Join(root, ".playlists"), "/mnt/sdcard/Music")
	if _, err := NewScanner(mapper, nil, ".flac", ".ogg").Scan(root); err == nil {
		t.Fatal("expected error for dangling symlink, got none")
	}
}

func TestScanFollowsFileSymlink(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "Artist/track.flac")

	target := filepath.Join(root, "Artist", "track.flac")
	if err := os.Symlink(target, filepath.Join(root, "Artist", "link.flac")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	units := scanTree(t, root, nil)

	assertOrder(t, units, []string{"", "/Artist", "/Artist/link.ogg", "/Artist/track.ogg"})
}

func TestScanEmptyLibrary(t *testing.T) {
	units := scanTree(t, t.TempDir(), nil)
	if len(units) != 0 {
		t.Fatalf("scan of empty library produced %d units, want 0", len(units))
	}
}
