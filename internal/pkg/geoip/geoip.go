package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Unknown is returned whenever a country cannot be resolved.
const Unknown = "unknown"

// Resolver maps IP addresses to ISO country codes using a GeoLite2 database.
// A nil Resolver is valid and resolves everything to Unknown.
type Resolver struct {
	path   string
	logger *slog.Logger

	mu sync.RWMutex
	db *geoip2.Reader
}

// Open loads the GeoLite2 database at path.
// Returns nil if the path is empty or the file is unusable (GeoIP is optional).
func Open(path string, logger *slog.Logger) *Resolver {
	if path == "" {
		logger.Debug("GeoIP database path not configured - country enrichment disabled")
		return nil
	}

	db := openDB(path, logger)
	if db == nil {
		return nil
	}

	return &Resolver{path: path, logger: logger, db: db}
}

func openDB(path string, logger *slog.Logger) *geoip2.Reader {
	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - country enrichment disabled",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", path),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", path),
			slog.Any("error", err))
		return nil
	}

	logger.Info("GeoLite2 database initialized",
		slog.String("path", path),
		slog.Int64("size_bytes", fileInfo.Size()))
	return db
}

// Country returns the ISO code for ip, or Unknown.
func (r *Resolver) Country(ip string) string {
	if r == nil || ip == "" {
		return Unknown
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Unknown
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return Unknown
	}

	record, err := r.db.Country(parsed)
	if err != nil || record.Country.IsoCode == "" {
		return Unknown
	}
	return record.Country.IsoCode
}

// Reload reopens the database from disk.
// Call this after downloading a new database file.
func (r *Resolver) Reload() {
	if r == nil {
		return
	}

	db := openDB(r.path, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if db == nil {
		r.logger.Warn("GeoLite2 reload failed, keeping current database", slog.String("path", r.path))
		return
	}
	if r.db != nil {
		r.db.Close()
	}
	r.db = db
	r.logger.Info("GeoLite2 database reloaded successfully")
}

// Close releases the underlying database.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
