// Package integrity cross-checks the catalog against the content store:
// rows whose payload file vanished, and payload files no row points at.
// The sweep only reports; it never deletes.
package integrity

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
)

// MissingFile is a catalog row whose payload is gone from disk.
type MissingFile struct {
	CheckID int64  `json:"check_id"`
	Path    string `json:"path"`
}

type Report struct {
	SweptAt      time.Time     `json:"swept_at"`
	CheckedRows  int           `json:"checked_rows"`
	MissingFiles []MissingFile `json:"missing_files,omitempty"`
	OrphanFiles  []string      `json:"orphan_files,omitempty"`
}

// Clean reports whether the sweep found nothing wrong.
func (r *Report) Clean() bool {
	return len(r.MissingFiles) == 0 && len(r.OrphanFiles) == 0
}

type Sweeper struct {
	store  *library.Store
	logger *slog.Logger
}

func NewSweeper(store *library.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, logger: logger}
}

// Sweep walks both directions: every row must have its file, every payload
// file must have its row.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	paths, err := s.store.ContentPaths(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{SweptAt: time.Now().UTC(), CheckedRows: len(paths)}
	cataloged := make(map[string]struct{}, len(paths))
	for id, path := range paths {
		cataloged[filepath.Clean(path)] = struct{}{}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			report.MissingFiles = append(report.MissingFiles, MissingFile{CheckID: id, Path: path})
		}
	}
	sort.Slice(report.MissingFiles, func(i, j int) bool {
		return report.MissingFiles[i].CheckID < report.MissingFiles[j].CheckID
	})

	for _, sub := range []string{"scripts", "templates", "manual"} {
		dir := filepath.Join(s.store.BaseDir(), sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fault.Wrap(fault.KindStorageFailure, err, "read content dir %s", dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Clean(filepath.Join(dir, e.Name()))
			if _, ok := cataloged[path]; !ok {
				report.OrphanFiles = append(report.OrphanFiles, path)
			}
		}
	}
	sort.Strings(report.OrphanFiles)

	if report.Clean() {
		s.logger.Info("integrity sweep clean", "checked_rows", report.CheckedRows)
	} else {
		s.logger.Warn("integrity sweep found drift",
			"checked_rows", report.CheckedRows,
			"missing_files", len(report.MissingFiles),
			"orphan_files", len(report.OrphanFiles))
	}
	return report, nil
}

// Schedule runs the sweep on a cron schedule until ctx is canceled.
func (s *Sweeper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("scheduled integrity sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "sweep schedule %q", spec)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}
