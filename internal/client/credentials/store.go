package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"k8s.io/utils/clock"
)

// DefaultLifetime bounds credentials whose token carries no expiry claim.
const DefaultLifetime = 7 * 24 * time.Hour

// ErrIncompleteCredential is returned by Set when the token or the subject
// is missing.
var ErrIncompleteCredential = errors.New("credential must carry both token and subject")

// tokenRecord is what is persisted under the token key.
type tokenRecord struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	FirstLogin  bool      `json:"first_login,omitempty"`
}

// Store is the credential store. It is safe for concurrent use as long as
// its Backend is.
type Store struct {
	backend    Backend
	clock      clock.PassiveClock
	logger     logging.Logger
	sealKey    []byte
	tokenCheck func(string) error
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSealKey encrypts persisted values with AES-GCM under key
// (cryptox.KeySize bytes, see cryptox.DeriveKey).
func WithSealKey(key []byte) Option {
	return func(s *Store) { s.sealKey = key }
}

// WithTokenCheck replaces the structural token check used by
// CleanupInvalid. nil disables it.
func WithTokenCheck(fn func(string) error) Option {
	return func(s *Store) { s.tokenCheck = fn }
}

// New returns a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		clock:      clock.RealClock{},
		logger:     logging.Nop(),
		tokenCheck: CheckTokenFormat,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSQLite returns a Store persisting into the client's sqlite database.
func NewSQLite(db *sql.DB, opts ...Option) *Store {
	return New(NewSQLBackend(db), opts...)
}

// NewMemory returns a Store kept in process memory.
func NewMemory(opts ...Option) *Store {
	return New(NewMemoryBackend(), opts...)
}

// Set persists c. Token and subject are written in one backend operation.
// Missing IssuedAt/ExpiresAt are taken from the token claims, falling back
// to now and now+DefaultLifetime.
func (s *Store) Set(ctx context.Context, c Credential) error {
	if !c.Complete() {
		return ErrIncompleteCredential
	}

	now := s.clock.Now()
	if info, err := InspectToken(c.AccessToken); err == nil {
		if c.IssuedAt.IsZero() {
			c.IssuedAt = info.IssuedAt
		}
		if c.ExpiresAt.IsZero() {
			c.ExpiresAt = info.ExpiresAt
		}
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = now
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(DefaultLifetime)
	}

	tokenBlob, err := s.encode(tokenRecord{
		AccessToken: c.AccessToken,
		IssuedAt:    c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
		FirstLogin:  c.FirstLogin,
	})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	subjectBlob, err := s.encode(c.Subject)
	if err != nil {
		return fmt.Errorf("encode subject: %w", err)
	}

	if err := s.backend.Save(ctx, map[string][]byte{
		common.TokenStorageKey: tokenBlob,
		common.UserStorageKey:  subjectBlob,
	}); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Get returns the stored credential, or nil when there is none. Partial or
// undecodable data is reported as absent; only backend failures are errors.
func (s *Store) Get(ctx context.Context) (*Credential, error) {
	c, _, err := s.load(ctx)
	return c, err
}

// IsValid reports whether a complete, unexpired credential is stored.
func (s *Store) IsValid(ctx context.Context) bool {
	c, err := s.Get(ctx)
	if err != nil || c == nil {
		return false
	}
	return s.clock.Now().Before(c.ExpiresAt)
}

// Clear removes the credential. It succeeds when nothing is stored.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Remove(ctx, common.TokenStorageKey, common.UserStorageKey); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// CleanupInvalid purges corrupt state: one half without the other, an
// undecodable value or a structurally broken token. It reports whether
// anything was removed.
func (s *Store) CleanupInvalid(ctx context.Context) (bool, error) {
	c, corrupt, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if !corrupt && c != nil && s.tokenCheck != nil {
		if err := s.tokenCheck(c.AccessToken); err != nil {
			corrupt = true
		}
	}
	if !corrupt {
		return false, nil
	}

	s.logger.Warn(ctx, "purging invalid credential state")
	if err := s.Clear(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// load reads both halves. corrupt is true when something is stored but it
// does not form a complete credential.
func (s *Store) load(ctx context.Context) (c *Credential, corrupt bool, err error) {
	raw, err := s.backend.Load(ctx, common.TokenStorageKey, common.UserStorageKey)
	if err != nil {
		return nil, false, fmt.Errorf("load credential: %w", err)
	}

	tokenBlob, hasToken := raw[common.TokenStorageKey]
	subjectBlob, hasSubject := raw[common.UserStorageKey]
	if !hasToken && !hasSubject {
		return nil, false, nil
	}
	if !hasToken || !hasSubject {
		return nil, true, nil
	}

	var rec tokenRecord
	var subject Subject
	if err := s.decode(tokenBlob, &rec); err != nil {
		return nil, true, nil
	}
	if err := s.decode(subjectBlob, &subject); err != nil {
		return nil, true, nil
	}

	c = &Credential{
		AccessToken: rec.AccessToken,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
		FirstLogin:  rec.FirstLogin,
		Subject:     subject,
	}
	if !c.Complete() {
		return nil, true, nil
	}
	return c, false, nil
}

func (s *Store) encode(v any) ([]byte, error) {
	if s.sealKey != nil {
		return cryptox.Seal(v, s.sealKey)
	}
	return json.Marshal(v)
}

func (s *Store) decode(b []byte, v any) error {
	if s.sealKey != nil {
		return cryptox.Open(b, s.sealKey, v)
	}
	return json.Unmarshal(b, v)
}
