package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActivationFixture(t *testing.T, handler http.HandlerFunc) (*ActivationClient, *Store, *MemoryStorage) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	storage := NewMemoryStorage()
	store := NewStore(storage, "")
	client, err := NewActivationClient(ActivationConfig{
		Endpoint:  server.URL + "/api/ativar_licenca",
		Timeout:   2 * time.Second,
		UserAgent: "nanosip-license/test",
	}, store)
	require.NoError(t, err)
	return client, store, storage
}

func registeredRecord() Record {
	return Record{
		HardwareID: ComputeHardwareHash("4C4C4544-0042", "00:d7:6d:25:27:09"),
		Serial:     "4C4C4544-0042",
		MAC:        "00:d7:6d:25:27:09",
	}
}

func TestActivationSyncSuccess(t *testing.T) {
	var got ActivationRequest
	client, store, _ := newActivationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ativar_licenca", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "nanosip-license/test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ativo","valid_until":"2026-02-28","modulos_override":"gravacao,filas"}`))
	})

	record := registeredRecord()
	updated, err := client.Sync(context.Background(), record, false)
	require.NoError(t, err)

	assert.Equal(t, ActivationRequest{
		UUID:         "4C4C4544-0042",
		MAC:          "00:d7:6d:25:27:09",
		ChaveLicenca: record.HardwareID,
		Produto:      DefaultProductPhysical,
	}, got)

	assert.Equal(t, record.HardwareID, updated.HardwareID)
	assert.Equal(t, StatusActive, updated.Status)
	require.NotNil(t, updated.ValidUntil)
	assert.Equal(t, "2026-02-28", updated.ValidUntil.Format(DateLayout))
	assert.Equal(t, []string{"filas", "gravacao"}, updated.Modules)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestActivationSyncVirtualMachineProduct(t *testing.T) {
	var produto string
	client, store, _ := newActivationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req ActivationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		produto = req.Produto
		_, _ = w.Write([]byte(`{"status":"pendente","valid_until":null}`))
	})

	updated, err := client.Sync(context.Background(), registeredRecord(), true)
	require.NoError(t, err)
	assert.Equal(t, DefaultProductVirtual, produto)
	assert.Equal(t, StatusPending, updated.Status)
	assert.Nil(t, updated.ValidUntil)
	assert.True(t, updated.VirtualMachine)

	stored, _ := store.Load()
	assert.True(t, stored.VirtualMachine)
}

func TestActivationSyncFailureLeavesStoreUntouched(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind SyncErrorKind
		wantCode int
	}{
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantKind: SyncErrorStatus,
			wantCode: http.StatusInternalServerError,
		},
		{
			name: "not_found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":"bloqueado"}`))
			},
			wantKind: SyncErrorStatus,
			wantCode: http.StatusNotFound,
		},
		{
			name: "malformed_body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>maintenance</html>`))
			},
			wantKind: SyncErrorDecode,
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, store, storage := newActivationFixture(t, tt.handler)

			seeded := registeredRecord()
			seeded.Status = StatusActive
			seeded.ValidUntil = ParseDate("2025-12-31")
			require.NoError(t, store.Save(seeded))
			before, err := storage.Read(store.Key())
			require.NoError(t, err)

			returned, err := client.Sync(context.Background(), seeded, false)
			var syncErr *SyncError
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, tt.wantKind, syncErr.Kind)
			assert.Equal(t, tt.wantCode, syncErr.StatusCode)
			assert.Equal(t, seeded, returned)

			after, err := storage.Read(store.Key())
			require.NoError(t, err)
			assert.Equal(t, before, after, "stored bytes must be identical after a failed sync")
			assert.Equal(t, 1, storage.Writes())
		})
	}
}

func TestActivationSyncStatusErrorMessage(t *testing.T) {
	client, _, _ := newActivationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.Sync(context.Background(), registeredRecord(), false)
	require.Error(t, err)
	assert.Equal(t, "license sync failed: HTTP 503", err.Error())
}

func TestActivationSyncTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	storage := NewMemoryStorage()
	client, err := NewActivationClient(ActivationConfig{Endpoint: server.URL, Timeout: 50 * time.Millisecond}, NewStore(storage, ""))
	require.NoError(t, err)

	_, err = client.Sync(context.Background(), registeredRecord(), false)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, SyncErrorTimeout, syncErr.Kind)
	assert.Zero(t, storage.Writes())
}

func TestActivationSyncTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client, err := NewActivationClient(ActivationConfig{Endpoint: endpoint}, NewStore(NewMemoryStorage(), ""))
	require.NoError(t, err)

	_, err = client.Sync(context.Background(), registeredRecord(), false)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, SyncErrorTransport, syncErr.Kind)
}

func TestActivationSyncUnregisteredSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	client, _, _ := newActivationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.Sync(context.Background(), Record{}, false)
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Zero(t, calls.Load())
}

func TestActivationSyncPersistFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ativo"}`))
	}))
	t.Cleanup(server.Close)

	boom := errors.New("read-only filesystem")
	client, err := NewActivationClient(ActivationConfig{Endpoint: server.URL}, NewStore(failingStorage{writeErr: boom}, ""))
	require.NoError(t, err)

	_, err = client.Sync(context.Background(), registeredRecord(), false)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, SyncErrorPersist, syncErr.Kind)
	assert.ErrorIs(t, err, boom)
}

func TestNewActivationClientValidation(t *testing.T) {
	store := NewStore(NewMemoryStorage(), "")
	for _, endpoint := range []string{"", "ftp://example.com/x", "http://", "::bad"} {
		_, err := NewActivationClient(ActivationConfig{Endpoint: endpoint}, store)
		assert.Error(t, err, endpoint)
	}
	_, err := NewActivationClient(ActivationConfig{Endpoint: "https://example.com"}, nil)
	assert.Error(t, err)

	client, err := NewActivationClient(ActivationConfig{Endpoint: "https://example.com", ProductVirtual: "custom_vm"}, store)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", client.Endpoint())
	assert.Equal(t, "custom_vm", client.Product(true))
	assert.Equal(t, DefaultProductPhysical, client.Product(false))
}
