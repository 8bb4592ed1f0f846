// Package cleanup sweeps the temp_path/{uuid}/ scratch space, removing
// directories past a configurable age on an hourly schedule driven by
// github.com/robfig/cron/v3.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes scratch directories under TempPath/<uuid> older than
// MaxAge.
type Sweeper struct {
	TempPath string
	MaxAge   time.Duration
}

// NewSweeper creates a Sweeper that removes scratch directories older
// than maxAge; no default age is applied here.
func NewSweeper(tempPath string, maxAge time.Duration) *Sweeper {
	return &Sweeper{TempPath: tempPath, MaxAge: maxAge}
}

// Run performs one sweep pass, removing every top-level entry under
// TempPath whose modification time is older than MaxAge. generated_files
// is left alone -- it is a distinct, unrelated subtree under temp_path,
// not scratch space.
func (s *Sweeper) Run() error {
	entries, err := os.ReadDir(s.TempPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-s.MaxAge)
	for _, e := range entries {
		if e.Name() == "generated_files" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Printf("cleanup: stat %s: %v", e.Name(), err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.TempPath, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("cleanup: remove %s: %v", path, err)
			continue
		}
		log.Printf("cleanup: removed stale scratch dir %s", path)
	}
	return nil
}

// Schedule registers Run to fire once per hour on c, returning the entry
// id so the caller can Remove it later if needed.
func (s *Sweeper) Schedule(c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc("@hourly", func() {
		if err := s.Run(); err != nil {
			log.Printf("cleanup: sweep failed: %v", err)
		}
	})
}
