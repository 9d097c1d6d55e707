package licensing

import (
	"errors"
	"fmt"
)

// License engine errors
var (
	ErrHashUnavailable     = errors.New("hardware hash unavailable: serial and MAC are both required")
	ErrInvalidInstallerKey = errors.New("invalid installer key")
	ErrNotRegistered       = errors.New("no license registered for this host")
	ErrVirtualMachine      = errors.New("virtual machine detected: registration requires an installer key")
	ErrStorageNotFound     = errors.New("storage key not found")
)

// StoreError reports a failed read, write or delete against the storage capability.
type StoreError struct {
	Op  string // "read", "write" or "delete"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("license store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SyncErrorKind classifies why a remote synchronization failed.
type SyncErrorKind string

const (
	SyncErrorTransport SyncErrorKind = "transport"
	SyncErrorTimeout   SyncErrorKind = "timeout"
	SyncErrorStatus    SyncErrorKind = "status"
	SyncErrorDecode    SyncErrorKind = "decode"
	SyncErrorPersist   SyncErrorKind = "persist"
)

// SyncError is returned by ActivationClient.Sync. The stored record is left
// untouched for every kind except SyncErrorPersist, where the write itself failed.
type SyncError struct {
	Kind       SyncErrorKind
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.Kind == SyncErrorStatus {
		return fmt.Sprintf("license sync failed: HTTP %d", e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("license sync failed (%s)", e.Kind)
	}
	return fmt.Sprintf("license sync failed (%s): %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ControlError reports a failed query or command against the dependent service.
type ControlError struct {
	Action string // "query", "start" or "stop"
	Unit   string
	Err    error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("service %s %s: %v", e.Action, e.Unit, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// ProbeError reports a hardware identifier that could not be read.
type ProbeError struct {
	Field string // "serial", "mac" or "virtualization"
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("hardware probe %s: %v", e.Field, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }
