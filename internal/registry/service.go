package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/iso20022"
)

var (
	// ErrInvalidRequest wraps registration-shape failures.
	ErrInvalidRequest = errors.New("invalid actor request")

	// ErrInvalidURL occurs when a callback URL is relative, unparsable,
	// or uses a scheme the environment forbids.
	ErrInvalidURL = errors.New("invalid callback url")

	// ErrNoCallbackURL occurs when a test delivery is requested for an
	// actor without a registered endpoint.
	ErrNoCallbackURL = errors.New("actor has no callback url")
)

// Service manages participant registration and the secrets that sign
// their callbacks.
type Service struct {
	cfg  *config.Config
	repo Repository
}

// NewService constructs a registry service.
func NewService(cfg *config.Config, repo Repository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

// RegisterRequest is the actor registration input.
type RegisterRequest struct {
	Kind        ActorKind `json:"kind"`
	LegalName   string    `json:"legalName"`
	BICFI       string    `json:"bicfi,omitempty"`
	CallbackURL string    `json:"callbackUrl,omitempty"`
}

// RegisterResult carries the new actor plus the callback secret. This
// is the only response that ever includes the secret.
type RegisterResult struct {
	Actor          Actor  `json:"actor"`
	CallbackSecret string `json:"callbackSecret"`
}

// Register validates the request, mints an id and signing secret, and
// stores the actor.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if !req.Kind.IsValid() {
		return RegisterResult{}, fmt.Errorf("%w: kind must be one of FXP, IPSO, PSP, SAP, PDO", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.LegalName) == "" {
		return RegisterResult{}, fmt.Errorf("%w: legalName is required", ErrInvalidRequest)
	}
	if err := s.validateCallbackURL(req.CallbackURL); err != nil {
		return RegisterResult{}, err
	}

	secret, err := newCallbackSecret()
	if err != nil {
		return RegisterResult{}, fmt.Errorf("generate callback secret: %w", err)
	}

	now := time.Now().UTC()
	actor := Actor{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		LegalName:      strings.TrimSpace(req.LegalName),
		BICFI:          strings.ToUpper(strings.TrimSpace(req.BICFI)),
		CallbackURL:    req.CallbackURL,
		CallbackSecret: secret,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, actor); err != nil {
		return RegisterResult{}, fmt.Errorf("create actor: %w", err)
	}
	return RegisterResult{Actor: actor, CallbackSecret: secret}, nil
}

// List returns registered actors, optionally narrowed by kind.
func (s *Service) List(ctx context.Context, kind ActorKind) ([]Actor, error) {
	if kind != "" && !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
	return s.repo.List(ctx, ListFilter{Kind: kind})
}

// Get returns one actor. The secret stays out of the JSON shape.
func (s *Service) Get(ctx context.Context, id string) (Actor, error) {
	return s.repo.Get(ctx, id)
}

// GetByBIC resolves the active actor registered under a BIC.
func (s *Service) GetByBIC(ctx context.Context, bic string) (Actor, error) {
	return s.repo.GetByBIC(ctx, bic)
}

// RotateSecret replaces the actor's signing secret and returns the new
// value once. Deliveries signed with the old secret fail verification
// from this point on.
func (s *Service) RotateSecret(ctx context.Context, id string) (string, error) {
	actor, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	secret, err := newCallbackSecret()
	if err != nil {
		return "", fmt.Errorf("generate callback secret: %w", err)
	}
	actor.CallbackSecret = secret
	actor.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, actor); err != nil {
		return "", fmt.Errorf("update actor: %w", err)
	}
	return secret, nil
}

// TestCallbackResult reports a synchronous test delivery.
type TestCallbackResult struct {
	ActorID   string    `json:"actorId"`
	URL       string    `json:"url"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// TestCallback sends one signed synthetic pacs.002 to the actor's
// endpoint and waits for the outcome. Single attempt, no queueing; the
// point is to verify connectivity and signature handling end to end.
func (s *Service) TestCallback(ctx context.Context, id string) (TestCallbackResult, error) {
	actor, err := s.repo.Get(ctx, id)
	if err != nil {
		return TestCallbackResult{}, err
	}
	if actor.CallbackURL == "" {
		return TestCallbackResult{}, fmt.Errorf("%w: %s", ErrNoCallbackURL, id)
	}

	testUETR := uuid.NewString()
	payload := iso20022.BuildStatusReport(iso20022.StatusReportSpec{
		OriginalUETR:   testUETR,
		Status:         iso20022.StatusAccepted,
		AdditionalInfo: "registry connectivity test",
	})

	result := TestCallbackResult{
		ActorID: actor.ID,
		URL:     actor.CallbackURL,
		SentAt:  time.Now().UTC(),
	}
	err = callbacks.SendOnce(ctx, callbacks.Delivery{
		UETR:              testUETR,
		URL:               actor.CallbackURL,
		TransactionStatus: iso20022.StatusAccepted,
		Payload:           payload,
		Secret:            actor.CallbackSecret,
	}, s.cfg.Callbacks.AttemptTimeout.Duration)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Delivered = true
	return result, nil
}

// validateCallbackURL enforces the scheme policy: URLs must be absolute
// with a host; production restricts to https while sandbox also admits
// plain http for local receivers.
func (s *Service) validateCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if s.cfg.IsProduction() {
			return fmt.Errorf("%w: %q: https required in production", ErrInvalidURL, raw)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidURL, raw, parsed.Scheme)
	}
}

// newCallbackSecret returns 32 bytes of CSPRNG output, base64url
// encoded without padding.
func newCallbackSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
