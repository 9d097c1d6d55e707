package sqlitestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var _ licensing.Storage = (*Store)(nil)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lic", "license.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestReadWriteDelete(t *testing.T) {
	s, path := openTemp(t)

	_, err := s.Read("license")
	assert.ErrorIs(t, err, licensing.ErrStorageNotFound)

	require.NoError(t, s.Write("license", []byte("first")))
	require.NoError(t, s.Write("license", []byte("second")))
	got, err := s.Read("license")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	updated, err := s.UpdatedAt("license")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated, time.Minute)

	require.NoError(t, s.Delete("license"))
	_, err = s.Read("license")
	assert.ErrorIs(t, err, licensing.ErrStorageNotFound)
	_, err = s.UpdatedAt("license")
	assert.ErrorIs(t, err, licensing.ErrStorageNotFound)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreRoundTripThroughLicensing(t *testing.T) {
	s, _ := openTemp(t)
	store := licensing.NewStore(s, "")

	record := licensing.Record{
		HardwareID: licensing.ComputeHardwareHash("ABC", "aa:bb:cc:dd:ee:ff"),
		Serial:     "ABC",
		MAC:        "aa:bb:cc:dd:ee:ff",
		Status:     licensing.StatusPending,
		ValidUntil: licensing.ParseDate("2026-04-30"),
		Modules:    []string{"filas"},
	}
	require.NoError(t, store.Save(record))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestWriteRejectsEmptyKey(t *testing.T) {
	s, _ := openTemp(t)
	assert.Error(t, s.Write("", []byte("x")))
}
