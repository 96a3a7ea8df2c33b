package mail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/store"
)

const (
	// PendingTTL is how long the token handed to the browser after the
	// OAuth callback stays valid.
	PendingTTL = 5 * time.Minute

	// IngestLimit is how many recent emails are indexed per user.
	IngestLimit = 50

	// SearchLimit is how many emails are retrieved per question.
	SearchLimit = 5
)

// IntegrationStore persists mail credentials. *store.Store satisfies it.
type IntegrationStore interface {
	SaveIntegration(ctx context.Context, in *core.MailIntegration) error
	Integration(ctx context.Context, userID string) (*core.MailIntegration, error)
}

// Signer mints and verifies short-lived signed tokens.
// *auth.JWTAuthenticator satisfies it.
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	ParseClaims(token string, claims jwt.Claims) error
}

// pendingClaims carry an exchanged credential from the OAuth callback to the
// authenticated request that completes the integration.
type pendingClaims struct {
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
	jwt.RegisteredClaims
}

// Service ties a Provider to stored credentials and a per-user email index.
type Service struct {
	provider Provider
	store    IntegrationStore
	signer   Signer
	index    memory.DocumentIndex
	now      func() time.Time

	mu       sync.Mutex
	ingested map[string]bool
	group    singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a mail service.
func NewService(provider Provider, st IntegrationStore, signer Signer, index memory.DocumentIndex, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		store:    st,
		signer:   signer,
		index:    index,
		now:      time.Now,
		ingested: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthURL returns the provider's consent page.
func (s *Service) AuthURL() string {
	return s.provider.AuthURL(uuid.NewString())
}

// Callback exchanges code and returns a signed pending token holding the
// credential and mailbox address, valid for PendingTTL.
func (s *Service) Callback(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("no authorization code received")
	}

	tok, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	email, err := s.provider.Profile(ctx, tok)
	if err != nil {
		return "", err
	}

	now := s.now()
	return s.signer.Sign(&pendingClaims{
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(PendingTTL)),
		},
	})
}

// Complete verifies a pending token and stores its credential for userID.
// Any previously indexed mail for the user is discarded.
func (s *Service) Complete(ctx context.Context, userID, pendingToken string) error {
	claims := &pendingClaims{}
	if err := s.signer.ParseClaims(pendingToken, claims); err != nil {
		return fmt.Errorf("verify pending token: %w", err)
	}

	err := s.store.SaveIntegration(ctx, &core.MailIntegration{
		UserID:       userID,
		Email:        claims.Email,
		AccessToken:  claims.AccessToken,
		RefreshToken: claims.RefreshToken,
		Expiry:       claims.Expiry,
		UpdatedAt:    s.now(),
	})
	if err != nil {
		return fmt.Errorf("save integration: %w", err)
	}

	s.forget(userID)
	log.Printf("[GMAIL] Integration completed for user=%s mailbox=%s", userID, claims.Email)
	return nil
}

// Recent returns up to max recent emails for userID.
func (s *Service) Recent(ctx context.Context, userID string, max int) ([]Email, error) {
	in, err := s.store.Integration(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotIntegrated
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		Expiry:       in.Expiry,
		TokenType:    "Bearer",
	}
	emails, current, err := s.provider.Recent(ctx, tok, max)
	if err != nil {
		return nil, err
	}

	if current != nil && current.AccessToken != in.AccessToken {
		in.AccessToken = current.AccessToken
		in.Expiry = current.Expiry
		if current.RefreshToken != "" {
			in.RefreshToken = current.RefreshToken
		}
		in.UpdatedAt = s.now()
		if err := s.store.SaveIntegration(ctx, in); err != nil {
			log.Printf("[GMAIL] Failed to persist refreshed token for user=%s: %v", userID, err)
		}
	}
	return emails, nil
}

// Search returns the emails most relevant to question, indexing the user's
// recent mail on first use.
func (s *Service) Search(ctx context.Context, userID, question string) ([]memory.Document, error) {
	if err := s.ensureIngested(ctx, userID); err != nil {
		return nil, err
	}
	docs, err := s.index.Search(ctx, userID, question, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}
	return docs, nil
}

// ensureIngested indexes userID's mail once. Concurrent callers share one
// ingestion; a failed ingestion is retried on the next call.
func (s *Service) ensureIngested(ctx context.Context, userID string) error {
	s.mu.Lock()
	done := s.ingested[userID]
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := s.group.Do(userID, func() (interface{}, error) {
		emails, err := s.Recent(ctx, userID, IngestLimit)
		if err != nil {
			return nil, err
		}

		docs := make([]memory.Document, 0, len(emails))
		for _, e := range emails {
			docs = append(docs, memory.Document{
				ID:      e.ID,
				Content: EmailDocument(e),
				Metadata: map[string]string{
					"source":  "gmail",
					"date":    e.Date,
					"subject": e.Subject,
					"from":    e.From,
				},
			})
		}
		if err := s.index.Ingest(ctx, userID, docs); err != nil {
			return nil, fmt.Errorf("index emails: %w", err)
		}

		s.mu.Lock()
		s.ingested[userID] = true
		s.mu.Unlock()
		log.Printf("[GMAIL] Processed %d emails for user=%s", len(docs), userID)
		return nil, nil
	})
	return err
}

func (s *Service) forget(userID string) {
	s.mu.Lock()
	delete(s.ingested, userID)
	s.mu.Unlock()

	if r, ok := s.index.(interface{ Reset(ownerID string) error }); ok {
		if err := r.Reset(userID); err != nil {
			log.Printf("[GMAIL] Failed to reset email index for user=%s: %v", userID, err)
		}
	}
}

// EmailDocument renders an email as indexed text.
func EmailDocument(e Email) string {
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\nBody: %s", e.From, e.Subject, e.Date, e.Body)
}
