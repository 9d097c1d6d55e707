package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultActivationTimeout bounds one round trip to the licensing authority.
	DefaultActivationTimeout = 10 * time.Second
	// DefaultProductPhysical is the product tag for appliance hardware.
	DefaultProductPhysical = "nanosip_rasp"
	// DefaultProductVirtual is the product tag for virtual-machine installs.
	DefaultProductVirtual = "nanosip_vm"

	maxActivationResponseSize = 64 << 10
)

// ActivationConfig configures the remote activation client.
type ActivationConfig struct {
	Endpoint        string
	Timeout         time.Duration
	ProductPhysical string
	ProductVirtual  string
	UserAgent       string
	// HTTPClient is used as-is when set; its Timeout is left untouched.
	HTTPClient *http.Client
}

// ActivationRequest is the body POSTed to the licensing authority.
type ActivationRequest struct {
	UUID         string `json:"uuid"`
	MAC          string `json:"mac"`
	ChaveLicenca string `json:"chave_licenca"`
	Produto      string `json:"produto"`
}

// ActivationResponse is the authority's reply.
type ActivationResponse struct {
	Status          optionalString `json:"status"`
	ValidUntil      optionalString `json:"valid_until"`
	ModulesOverride moduleList     `json:"modulos_override"`
}

// ActivationClient synchronizes the local record with the licensing authority.
type ActivationClient struct {
	endpoint        string
	timeout         time.Duration
	productPhysical string
	productVirtual  string
	userAgent       string
	httpClient      *http.Client
	store           *Store
}

// NewActivationClient validates cfg and returns a client that persists
// successful responses through store.
func NewActivationClient(cfg ActivationConfig, store *Store) (*ActivationClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("activation endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid activation endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("activation endpoint must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("activation endpoint must include a host")
	}
	if store == nil {
		return nil, errors.New("activation client requires a store")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultActivationTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	c := &ActivationClient{
		endpoint:        endpoint,
		timeout:         timeout,
		productPhysical: strings.TrimSpace(cfg.ProductPhysical),
		productVirtual:  strings.TrimSpace(cfg.ProductVirtual),
		userAgent:       strings.TrimSpace(cfg.UserAgent),
		httpClient:      client,
		store:           store,
	}
	if c.productPhysical == "" {
		c.productPhysical = DefaultProductPhysical
	}
	if c.productVirtual == "" {
		c.productVirtual = DefaultProductVirtual
	}
	return c, nil
}

// Endpoint returns the configured authority URL.
func (c *ActivationClient) Endpoint() string { return c.endpoint }

// Product returns the product tag sent for a deployment kind.
func (c *ActivationClient) Product(isVirtualMachine bool) string {
	if isVirtualMachine {
		return c.productVirtual
	}
	return c.productPhysical
}

// Sync sends the record's identity to the authority and, on a 2xx reply,
// persists the returned status, expiry and module overrides. Any failure
// returns a *SyncError and leaves the stored record untouched. Sync never
// retries.
func (c *ActivationClient) Sync(ctx context.Context, record Record, isVirtualMachine bool) (Record, error) {
	if !record.Registered() {
		return record, ErrNotRegistered
	}

	payload := ActivationRequest{
		UUID:         NormalizeSerial(record.Serial),
		MAC:          NormalizeMAC(record.MAC),
		ChaveLicenca: record.HardwareID,
		Produto:      c.Product(isVirtualMachine),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return record, &SyncError{Kind: SyncErrorTransport, Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return record, &SyncError{Kind: SyncErrorTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return record, &SyncError{Kind: classifyTransportError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxActivationResponseSize))
		return record, &SyncError{Kind: SyncErrorStatus, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxActivationResponseSize+1))
	if err != nil {
		return record, &SyncError{Kind: classifyTransportError(ctx, err), StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(raw) > maxActivationResponseSize {
		return record, &SyncError{Kind: SyncErrorDecode, StatusCode: resp.StatusCode, Err: errors.New("response body too large")}
	}

	var decoded ActivationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return record, &SyncError{Kind: SyncErrorDecode, StatusCode: resp.StatusCode, Err: err}
	}

	updated := record
	updated.Status = ParseStatus(string(decoded.Status))
	updated.ValidUntil = ParseDate(string(decoded.ValidUntil))
	updated.Modules = []string(decoded.ModulesOverride)
	updated.VirtualMachine = record.VirtualMachine || isVirtualMachine

	if err := c.store.Save(updated); err != nil {
		return record, &SyncError{Kind: SyncErrorPersist, StatusCode: resp.StatusCode, Err: err}
	}
	return updated, nil
}

func classifyTransportError(ctx context.Context, err error) SyncErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return SyncErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SyncErrorTimeout
	}
	return SyncErrorTransport
}
