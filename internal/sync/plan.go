package sync

import (
	"sort"
	"time"

	"github.com/schaermu/tunesync/internal/library"
)

// orphanedPaths returns every device path without a local counterpart,
// sorted descending so children are removed before their parent directory.
func orphanedPaths(units []library.Unit, remote map[string]time.Time) []string {
	wanted := make(map[string]struct{}, len(units))
	for _, unit := range units {
		wanted[unit.RemotePath] = struct{}{}
	}

	doomed := make([]string, 0)
	for path := range remote {
		if _, ok := wanted[path]; !ok {
			doomed = append(doomed, path)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(doomed)))
	return doomed
}
