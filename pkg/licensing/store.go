package licensing

import (
	"encoding/json"
	"errors"
	"strings"
)

// DefaultRecordKey addresses the single license record of a host.
const DefaultRecordKey = "license"

// Store persists the license record through a Storage capability.
type Store struct {
	storage Storage
	key     string
}

// NewStore returns a Store for key. An empty key selects DefaultRecordKey.
func NewStore(storage Storage, key string) *Store {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRecordKey
	}
	return &Store{storage: storage, key: key}
}

// Key returns the logical key the record is stored under.
func (s *Store) Key() string { return s.key }

// Load returns the stored record. A missing resource yields an empty record
// and no error. An unreadable or corrupt resource yields an empty record and
// a *StoreError; the record is usable either way.
func (s *Store) Load() (Record, error) {
	if s == nil || s.storage == nil {
		return Record{}, &StoreError{Op: "read", Key: DefaultRecordKey, Err: errors.New("store not configured")}
	}

	data, err := s.storage.Read(s.key)
	if err != nil {
		if errors.Is(err, ErrStorageNotFound) {
			return Record{}, nil
		}
		return Record{}, &StoreError{Op: "read", Key: s.key, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Record{}, nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, &StoreError{Op: "read", Key: s.key, Err: err}
	}
	return record, nil
}

// Save writes the record atomically.
func (s *Store) Save(record Record) error {
	if s == nil || s.storage == nil {
		return &StoreError{Op: "write", Key: DefaultRecordKey, Err: errors.New("store not configured")}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return &StoreError{Op: "write", Key: s.key, Err: err}
	}
	if err := s.storage.Write(s.key, data); err != nil {
		return &StoreError{Op: "write", Key: s.key, Err: err}
	}
	return nil
}

// Delete removes the record. The next Load returns an empty record.
func (s *Store) Delete() error {
	if s == nil || s.storage == nil {
		return &StoreError{Op: "delete", Key: DefaultRecordKey, Err: errors.New("store not configured")}
	}
	if err := s.storage.Delete(s.key); err != nil {
		return &StoreError{Op: "delete", Key: s.key, Err: err}
	}
	return nil
}
