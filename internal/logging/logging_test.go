package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Shutdown()
		mu.Lock()
		defer mu.Unlock()
		baseWriter = os.Stderr
		baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
		log.Logger = baseLogger
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		nowFn = time.Now
		compressFn = compressAndRemove
	})
}

func TestParseLevel(t *testing.T) {
	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() { stderr = os.Stderr })

	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	assert.Contains(t, buf.String(), `invalid level "bogus"`)
}

func TestInitSetsLevelAndWritesFile(t *testing.T) {
	resetLoggingState(t)
	path := filepath.Join(t.TempDir(), "logs", "nanosip_license.log")

	Init(Config{Format: "json", Level: "debug", Component: "license-check", FilePath: path})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Info().Str("hardware_id", "ABC").Msg("License valid until 2026-01-01")
	Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"component":"license-check"`)
	assert.Contains(t, line, `"hardware_id":"ABC"`)
	assert.Contains(t, line, "License valid until 2026-01-01")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, logFilePerm, info.Mode().Perm())
}

func TestInitRefusesSymlinkLogFile(t *testing.T) {
	resetLoggingState(t)
	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() { stderr = os.Stderr })

	dir := t.TempDir()
	target := filepath.Join(dir, "target.log")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	link := filepath.Join(dir, "link.log")
	require.NoError(t, os.Symlink(target, link))

	Init(Config{Format: "json", FilePath: link})
	assert.Contains(t, buf.String(), "unable to configure file output")
	assert.Nil(t, fileCloser)
}

func TestRollingFileWriterRotates(t *testing.T) {
	resetLoggingState(t)
	nowFn = func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }
	compressed := make(chan string, 1)
	compressFn = func(path string) { compressed <- path }

	path := filepath.Join(t.TempDir(), "license.log")
	w, err := newRollingFileWriter(Config{FilePath: path, MaxSizeMB: 1, Compress: true})
	require.NoError(t, err)
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)

	rotated := path + ".20250615-100000"
	select {
	case got := <-compressed:
		assert.Equal(t, rotated, got)
	case <-time.After(time.Second):
		t.Fatal("rotated file was not handed to compression")
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
	_, err = os.Stat(rotated)
	assert.NoError(t, err)
}

func TestCleanupOldFiles(t *testing.T) {
	resetLoggingState(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "license.log")
	old := path + ".20200101-000000.gz"
	fresh := path + ".20250614-000000.gz"
	require.NoError(t, os.WriteFile(old, nil, 0o600))
	require.NoError(t, os.WriteFile(fresh, nil, 0o600))
	require.NoError(t, os.Chtimes(old, time.Now().AddDate(0, 0, -60), time.Now().AddDate(0, 0, -60)))

	w, err := newRollingFileWriter(Config{FilePath: path, MaxAgeDays: 30})
	require.NoError(t, err)
	defer w.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestCompressAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.log.1")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	compressAndRemove(path)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(path + ".gz")
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWithCheckID(t *testing.T) {
	resetLoggingState(t)
	var buf bytes.Buffer
	mu.Lock()
	baseLogger = zerolog.New(&buf)
	mu.Unlock()

	ctx, id := WithCheckID(context.Background(), "")
	require.NotEmpty(t, id)
	assert.Equal(t, id, CheckIDFromContext(ctx))

	zerolog.Ctx(ctx).Info().Msg("checking")
	assert.Contains(t, buf.String(), `"check_id":"`+id+`"`)

	ctx, id = WithCheckID(context.Background(), " fixed ")
	assert.Equal(t, "fixed", id)
	assert.Equal(t, "fixed", CheckIDFromContext(ctx))
	assert.Empty(t, CheckIDFromContext(context.Background()))
}

func TestComponent(t *testing.T) {
	resetLoggingState(t)
	var buf bytes.Buffer
	mu.Lock()
	baseLogger = zerolog.New(&buf)
	mu.Unlock()

	logger := Component("daemon")
	logger.Info().Msg("started")
	assert.Contains(t, buf.String(), `"component":"daemon"`)
}
