package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/NexusGateway/server/internal/httputil"
)

// Delivery is one signed ISO 20022 push to a participant callback endpoint.
type Delivery struct {
	UETR              string
	URL               string
	MessageType       string // ISO message family, e.g. "pacs.002"; empty means pacs.002
	TransactionStatus string // ACCC or RJCT
	Payload           []byte // ISO 20022 XML document
	Secret            string // signing secret; empty falls back to the gateway secret
}

// Notifier dispatches status report callbacks. Implementations must not
// block the caller; ordering is guaranteed per UETR only.
type Notifier interface {
	StatusReport(ctx context.Context, d Delivery)
}

// NoopNotifier discards all deliveries. Used when the instructing PSP has
// no callback URL registered.
type NoopNotifier struct{}

func (NoopNotifier) StatusReport(context.Context, Delivery) {}

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	MaxAttempts int           // Attempts per delivery (default: 3)
	BaseDelay   time.Duration // First backoff interval, doubled per attempt (default: 1s)
	Timeout     time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns the scheme defaults: three attempts spaced
// 1s then 2s apart, each capped at ten seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Timeout:     10 * time.Second,
	}
}

// backoff returns the wait after attempt failures: BaseDelay doubled per
// completed attempt, i.e. 2^(attempt-1) times the base.
func (c RetryConfig) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// DeliveredStatus reports whether an HTTP status acknowledges a callback.
func DeliveredStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return true
	}
	return false
}

// hostOf keys circuit breakers by destination host. A URL that does not
// parse falls back to the raw string so it still gets its own breaker.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// signedRequest builds the callback POST with the full header contract.
// Each attempt is stamped and signed independently so receivers can
// enforce timestamp freshness.
func signedRequest(ctx context.Context, d Delivery, now time.Time) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	messageType := d.MessageType
	if messageType == "" {
		messageType = "pacs.002"
	}

	timestamp := now.UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set(HeaderUETR, d.UETR)
	req.Header.Set(HeaderMessageType, messageType)
	req.Header.Set(HeaderTransactionStatus, d.TransactionStatus)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderVersion, SignatureVersion)
	req.Header.Set(HeaderSignature, Sign(d.Secret, timestamp, d.UETR, d.Payload))
	return req, nil
}

// SendOnce posts a delivery without retry logic (for CLI tools and tests).
func SendOnce(ctx context.Context, d Delivery, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	req, err := signedRequest(ctx, d, time.Now())
	if err != nil {
		return err
	}

	resp, err := httputil.NewClient(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if !DeliveredStatus(resp.StatusCode) {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, d.URL)
	}
	return nil
}

// lockTable serializes deliveries per UETR. Locks are reference counted
// and dropped once the last holder releases, so the table stays bounded
// by the number of in-flight UETRs.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*uetrLock
}

type uetrLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*uetrLock)}
}

// lock blocks until the UETR's slot is free and returns the release func.
func (t *lockTable) lock(uetr string) func() {
	t.mu.Lock()
	l, ok := t.locks[uetr]
	if !ok {
		l = &uetrLock{}
		t.locks[uetr] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, uetr)
		}
		t.mu.Unlock()
	}
}
