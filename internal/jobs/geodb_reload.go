package jobs

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// GeoDBReloadSchedule checks for a refreshed GeoLite2 file once an hour.
const GeoDBReloadSchedule = "@hourly"

// Reloader reopens a database file from disk.
type Reloader interface {
	Reload()
}

// GeoDBReloadJob reloads the GeoLite2 database when the file on disk changes,
// e.g. after geoipupdate has replaced it.
type GeoDBReloadJob struct {
	path       string
	reloader   Reloader
	logger     *slog.Logger
	lastLoaded time.Time
}

func NewGeoDBReloadJob(path string, reloader Reloader, logger *slog.Logger) *GeoDBReloadJob {
	j := &GeoDBReloadJob{path: path, reloader: reloader, logger: logger}
	if info, err := os.Stat(path); err == nil {
		j.lastLoaded = info.ModTime()
	}
	return j
}

func (j *GeoDBReloadJob) Name() string {
	return "geodb_reload"
}

// Run reloads the database if its modification time moved since the last load.
func (j *GeoDBReloadJob) Run(context.Context) error {
	info, err := os.Stat(j.path)
	if os.IsNotExist(err) {
		j.logger.Debug("GeoLite2 database not present, skipping reload", slog.String("path", j.path))
		return nil
	}
	if err != nil {
		return err
	}

	if !info.ModTime().After(j.lastLoaded) {
		j.logger.Debug("GeoLite2 database is up to date",
			slog.Time("last_loaded", j.lastLoaded),
			slog.Duration("age", time.Since(info.ModTime())))
		return nil
	}

	j.logger.Info("GeoLite2 database changed on disk, reloading", slog.String("path", j.path))
	j.reloader.Reload()
	j.lastLoaded = info.ModTime()
	return nil
}
