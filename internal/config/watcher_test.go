package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLicenseWatcherDetectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lic.json")
	changes := make(chan struct{}, 4)

	w := NewLicenseWatcher(path, func() { changes <- struct{}{} })
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"hardware_id":"X"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte(`{}`), 0o600))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestLicenseWatcherPollingFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", ".lic.json")
	changes := make(chan struct{}, 4)

	w := NewLicenseWatcher(path, func() { changes <- struct{}{} })
	w.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification from polling")
	}
}

func TestLicenseWatcherDetectsWriteAheadLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.sqlite")
	changes := make(chan struct{}, 4)

	w := NewLicenseWatcher(path, func() { changes <- struct{}{} })
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path+"-wal", []byte("frame"), 0o600))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification for the write-ahead log")
	}
}

func TestLicenseWatcherMatches(t *testing.T) {
	w := NewLicenseWatcher("/var/lib/nanosip/license.sqlite", func() {})
	require.True(t, w.matches("/var/lib/nanosip/license.sqlite"))
	require.True(t, w.matches("/var/lib/nanosip/license.sqlite-wal"))
	require.False(t, w.matches("/var/lib/nanosip/license.sqlite-shm"))
	require.False(t, w.matches("/var/lib/nanosip/other.json"))
}
