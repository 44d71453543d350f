package geoip_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpulse/internal/pkg/geoip"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenWithoutPathDisablesLookup(t *testing.T) {
	r := geoip.Open("", discardLogger())
	assert.Nil(t, r)
	assert.Equal(t, geoip.Unknown, r.Country("8.8.8.8"))
	assert.NoError(t, r.Close())
}

func TestOpenMissingFile(t *testing.T) {
	r := geoip.Open(filepath.Join(t.TempDir(), "missing.mmdb"), discardLogger())
	assert.Nil(t, r)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("not a maxmind database"), 0o644))

	r := geoip.Open(path, discardLogger())
	assert.Nil(t, r)
	assert.Equal(t, geoip.Unknown, r.Country("1.1.1.1"))
}
