// Package services contains server-side business logic. This file implements
// UserService, which handles accounts, login, and the rotation and
// revocation of server-side sessions behind issued access tokens.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/audit"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const saltSize = 16

// DefaultLogoutReason is archived when a client does not say why it logged out.
const DefaultLogoutReason = "manual"

// IssuedSession is the result of a login or refresh: a fresh access token
// bound to a server-side session.
type IssuedSession struct {
	AccessToken string
	SessionID   string
	FirstLogin  bool
	User        *models.User
}

// UserService provides authentication-related operations:
// - Register / EnsureUser: create accounts
// - Login: verify a password and open a session
// - RefreshToken: rotate the session and mint a new access token
// - Logout: close the session and archive why
type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	archive                     audit.Archive
	clock                       clock.PassiveClock
	logger                      logging.Logger
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	sessionValidityDuration     time.Duration
	newSessionID                func() string
}

// NewUserService constructs a UserService using repositories and server
// config. A nil archive discards session events; a nil clock uses the wall
// clock.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, archive audit.Archive, clk clock.PassiveClock, logger logging.Logger, cfg *config.Config) *UserService {
	if archive == nil {
		archive = audit.Nop{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &UserService{
		db:                          db,
		repomanager:                 m,
		archive:                     archive,
		clock:                       clk,
		logger:                      logger.With("module", "user_service"),
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		sessionValidityDuration:     cfg.SessionValidityDuration,
		newSessionID:                uuid.NewString,
	}
}

// Register creates a user whose password is kept only as an argon2
// verifier.
func (s *UserService) Register(ctx context.Context, username string, password []byte, role string, permissions []string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) == 0 {
		return nil, fmt.Errorf("username and password are required")
	}
	if role == "" {
		role = "user"
	}

	salt := common.GenerateRandByteArray(saltSize)
	key := cryptox.DeriveKey(password, salt)
	defer common.WipeByteArray(key)

	user := &models.User{
		UserName:    username,
		Role:        role,
		Permissions: permissions,
		Salt:        salt,
		Verifier:    cryptox.MakeVerifier(key),
	}
	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// EnsureUser registers username unless it already exists. It reports
// whether an account was created.
func (s *UserService) EnsureUser(ctx context.Context, username string, password []byte, role string, permissions []string) (bool, error) {
	_, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return false, err
	}
	if _, err := s.Register(ctx, username, password, role, permissions); err != nil {
		return false, err
	}
	return true, nil
}

// Login verifies password and opens a new session.
func (s *UserService) Login(ctx context.Context, userName string, password []byte) (*IssuedSession, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// same work as a real check
			s.checkPassword(&models.User{Salt: common.GenerateRandByteArray(saltSize)}, password)
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	if !s.checkPassword(user, password) {
		return nil, common.ErrorUnauthorized
	}

	first := user.LastLogin.IsZero()

	issued, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*IssuedSession, error) {
		return s.openSession(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	issued.FirstLogin = first
	return issued, nil
}

// RefreshToken exchanges a token for a new one. The token may have
// expired; what matters is that its session is still live. The old session
// is replaced, so each token can be refreshed once.
func (s *UserService) RefreshToken(ctx context.Context, token string) (*IssuedSession, error) {
	claims, err := auth.ParseTokenAllowExpired(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	sub := claims.Principal()

	sess, err := s.repomanager.Sessions(s.db).Find(ctx, sub.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionRevoked
		}
		return nil, fmt.Errorf("error searching session: %w", err)
	}
	if sess.UserID != sub.UserID {
		return nil, common.ErrInvalidToken
	}
	if !sess.Live(s.clock.Now()) {
		return nil, common.ErrSessionExpired
	}

	user, err := s.repomanager.Users(s.db).GetUserByID(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionRevoked
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*IssuedSession, error) {
		existed, err := s.repomanager.Sessions(tx).Delete(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("error deleting session: %w", err)
		}
		if !existed {
			// a concurrent refresh or logout got there first
			return nil, common.ErrSessionRevoked
		}
		return s.openSession(ctx, tx, user)
	})
}

// Logout closes the session sub belongs to and archives reason. Closing a
// session that is already gone is not an error and archives nothing.
func (s *UserService) Logout(ctx context.Context, sub auth.Subject, reason string) error {
	if reason == "" {
		reason = DefaultLogoutReason
	}

	existed, err := s.repomanager.Sessions(s.db).Delete(ctx, sub.SessionID)
	if err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	if !existed {
		return nil
	}

	ev := audit.Event{
		SessionID: sub.SessionID,
		UserID:    sub.UserID,
		Username:  sub.Username,
		Reason:    reason,
		At:        s.clock.Now(),
	}
	if err := s.archive.Archive(ctx, ev); err != nil {
		s.logger.Warn(ctx, "failed to archive session end", "session", sub.SessionID, "error", err)
	}
	s.logger.Info(ctx, "session closed", "user", sub.Username, "reason", reason)
	return nil
}

// PurgeExpired deletes sessions that can no longer be refreshed.
func (s *UserService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repomanager.Sessions(s.db).DeleteExpired(ctx, s.clock.Now())
}

// --- helpers below ---

func (s *UserService) checkPassword(user *models.User, password []byte) bool {
	key := cryptox.DeriveKey(password, user.Salt)
	defer common.WipeByteArray(key)
	return s.checkVerifier(user.Verifier, cryptox.MakeVerifier(key))
}

func (s *UserService) checkVerifier(verifier []byte, candidate []byte) bool {
	return subtle.ConstantTimeCompare(verifier, candidate) == 1
}

func (s *UserService) openSession(ctx context.Context, tx dbx.DBTX, user *models.User) (*IssuedSession, error) {
	now := s.clock.Now()

	sess := &models.Session{
		ID:        s.newSessionID(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.sessionValidityDuration),
	}
	if err := s.repomanager.Sessions(tx).Create(ctx, sess); err != nil {
		return nil, common.ErrorInternal
	}
	if err := s.repomanager.Users(tx).UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, common.ErrorInternal
	}

	access, err := auth.GenerateToken(auth.Subject{
		UserID:      user.ID,
		Username:    user.UserName,
		Role:        user.Role,
		Permissions: user.Permissions,
		SessionID:   sess.ID,
	}, s.jwtSecret, now, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	u := *user
	u.LastLogin = now
	return &IssuedSession{AccessToken: access, SessionID: sess.ID, User: &u}, nil
}
