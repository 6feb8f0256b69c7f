package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var nodeFileRe = regexp.MustCompile(`^([0-9a-f]{16})-v(\d+)\.json$`)

// ReconcileOrphans walks the current month's (and, defensively, the
// previous month's) node JSON directory and removes files with no
// corresponding index row — the crash-consistency cleanup described in
// spec.md §4.6: "a crash between JSON write and commit leaves an orphan
// file — detected and cleaned by a startup reconciliation."
func (s *Store) ReconcileOrphans(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	removed := 0
	for _, month := range []time.Time{now, now.AddDate(0, -1, 0)} {
		dir := filepath.Join(s.dataRoot, "nodes", month.Format("2006"), month.Format("01"))
		n, err := s.reconcileDir(ctx, dir)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) reconcileDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read node archive dir %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := nodeFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id := m[1]
		version, _ := strconv.Atoi(m[2])

		var count int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE id = ? AND version = ?`, id, version).Scan(&count)
		if err != nil {
			return removed, fmt.Errorf("check index row for %s: %w", entry.Name(), err)
		}
		if count == 0 {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("remove orphan node file %s: %w", path, err)
			}
			s.log.Warn("removed orphan node JSON file with no index row", "path", path)
			removed++
		}
	}
	return removed, nil
}
