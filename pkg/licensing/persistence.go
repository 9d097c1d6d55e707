package licensing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultLicenseDir is the hidden directory used by the appliance installer.
	DefaultLicenseDir = "/opt/nanosip/venv/bin/.lic"
	// DefaultLicenseFileName is the record file inside DefaultLicenseDir.
	DefaultLicenseFileName = ".lic.json"

	persistencePrivateDirPerm  = 0o700
	persistencePrivateFilePerm = 0o600
	maxRecordFileSize          = 64 << 10 // 64 KiB
)

var errUnsafeLicensePersistencePath = errors.New("unsafe license persistence path")

// Storage is the key/value capability the Store persists through. Read
// returns ErrStorageNotFound for a missing key. Write must be atomic: a
// reader sees either the previous value or the new one, never a mix.
type Storage interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
}

// FileStorage keeps each key in its own owner-only file under dir.
type FileStorage struct {
	dir   string
	names map[string]string
}

// NewFileStorage returns file-backed storage rooted at dir. names maps
// logical keys to file names; unmapped keys are stored as "<key>.json".
func NewFileStorage(dir string, names map[string]string) (*FileStorage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("license directory cannot be empty")
	}
	copied := make(map[string]string, len(names))
	for k, v := range names {
		copied[k] = v
	}
	return &FileStorage{dir: filepath.Clean(dir), names: copied}, nil
}

// Path returns the file that backs key.
func (s *FileStorage) Path(key string) string {
	if name, ok := s.names[key]; ok && name != "" {
		return filepath.Join(s.dir, name)
	}
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStorage) Read(key string) ([]byte, error) {
	data, err := readBoundedPersistenceRegularFile(s.Path(key), maxRecordFileSize)
	if err != nil {
		if isMissingPersistencePathError(err) {
			return nil, ErrStorageNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStorage) Write(key string, data []byte) error {
	return writeOwnerOnlyPersistenceFileAtomic(s.Path(key), data)
}

// UpdatedAt returns the modification time of the file backing key.
func (s *FileStorage) UpdatedAt(key string) (time.Time, error) {
	info, err := os.Lstat(s.Path(key))
	if err != nil {
		if isMissingPersistencePathError(err) {
			return time.Time{}, ErrStorageNotFound
		}
		return time.Time{}, err
	}
	return info.ModTime().UTC(), nil
}

func (s *FileStorage) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !isMissingPersistencePathError(err) {
		return err
	}
	return nil
}

// MemoryStorage is an in-process Storage, used by tests and dry runs.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
	writes int
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

func (m *MemoryStorage) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrStorageNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Writes returns how many successful writes the storage has seen.
func (m *MemoryStorage) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func isMissingPersistencePathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func ensurePersistenceOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, persistencePrivateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, persistencePrivateDirPerm)
}

func validatePersistenceRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", errUnsafeLicensePersistencePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", errUnsafeLicensePersistencePath, path)
	}
	return nil
}

func readBoundedPersistenceRegularFile(path string, maxSize int64) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if err := validatePersistenceRegularFile(path, info); err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: file %q exceeds size limit (%d bytes)", errUnsafeLicensePersistencePath, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: file %q exceeded size limit while reading", errUnsafeLicensePersistencePath, path)
	}
	return data, nil
}

func writeOwnerOnlyPersistenceFileAtomic(path string, data []byte) error {
	if err := ensurePersistenceOwnerOnlyDir(filepath.Dir(path)); err != nil {
		return err
	}

	if info, err := os.Lstat(path); err == nil {
		if err := validatePersistenceRegularFile(path, info); err != nil {
			return err
		}
	} else if !isMissingPersistencePathError(err) {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(persistencePrivateFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return os.Chmod(path, persistencePrivateFilePerm)
}
