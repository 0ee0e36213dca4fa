// Package backup takes periodic timestamped copies of the sqlite database
// and prunes old ones.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/config"
)

type Runner struct {
	dbPath   string
	dir      string
	keep     int
	interval time.Duration
}

func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		dbPath:   cfg.Database.Path,
		dir:      cfg.Backup.Dir,
		keep:     cfg.Backup.Keep,
		interval: cfg.Backup.Interval,
	}
}

// Schedule registers the backup job on the shared scheduler.
func (r *Runner) Schedule(scheduler *gocron.Scheduler) error {
	_, err := scheduler.Every(r.interval).Do(func() {
		if err := r.Run(); err != nil {
			logrus.WithError(err).Errorln("Backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}
	return nil
}

// Run copies the database into the backup directory under a timestamped name
// and prunes all but the newest `keep` copies.
func (r *Runner) Run() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_1504"))
	target := filepath.Join(r.dir, name)

	if err := copyFile(r.dbPath, target); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"file": target,
	}).Infoln("Backup created")

	return r.prune()
}

// LastBackup returns the name of the newest backup, or "Never".
func (r *Runner) LastBackup() string {
	names, err := r.backupNames()
	if err != nil || len(names) == 0 {
		return "Never"
	}
	return names[len(names)-1]
}

func (r *Runner) prune() error {
	if r.keep <= 0 {
		return nil
	}

	names, err := r.backupNames()
	if err != nil {
		return err
	}

	for len(names) > r.keep {
		stale := filepath.Join(r.dir, names[0])
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("failed to prune backup %s: %w", stale, err)
		}
		names = names[1:]
	}

	return nil
}

// backupNames lists backup files sorted oldest first. The timestamped naming
// scheme makes lexical order chronological.
func (r *Runner) backupNames() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".db" {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	return out.Sync()
}
