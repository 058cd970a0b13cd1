package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"craftworker/logger"
)

// SweepScratch removes merge outputs in dir last modified before cutoff.
// Only files named like merge outputs (<uuid>.<ext>) are touched. It returns how many were removed.
func SweepScratch(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isMergeOutput(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to remove stale merge output", logger.String("path", path), logger.ErrorField(err))
			continue
		}
		logger.Debug("Removed stale merge output", logger.String("path", path))
		removed++
	}
	return removed, nil
}

func isMergeOutput(name string) bool {
	ext := filepath.Ext(name)
	return ext != "" && IsUUIDv4(strings.TrimSuffix(name, ext))
}
