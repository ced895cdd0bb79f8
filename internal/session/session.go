package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chessclient/internal/rest"
	"chessclient/internal/store"
	"chessclient/pkg/types"
)

// Store owns the authentication token and the identity derived from it. It
// is the only component that reads or writes durable token storage; everyone
// else goes through Token() / Current().
type Store struct {
	mu      sync.Mutex
	token   string
	session *types.Session

	tokens *store.TokenStore
	api    *rest.Client
	log    *zap.Logger
}

func NewStore(baseURL string, tokens *store.TokenStore, timeout time.Duration, log *zap.Logger) *Store {
	s := &Store{tokens: tokens, log: log}
	s.api = rest.NewClient(baseURL, s, timeout, log)
	return s
}

// API exposes the shared REST client, which injects this store's token into
// every authenticated call.
func (s *Store) API() *rest.Client { return s.api }

// Token implements rest.TokenSource.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Current returns a copy of the active session, or nil when logged out.
func (s *Store) Current() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// Login exchanges credentials for a token, persists it, and fetches the
// profile to populate the session. The returned AuthError message is
// user-displayable.
func (s *Store) Login(ctx context.Context, username, password string) (*types.Session, error) {
	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	s.setToken(token)
	profile, err := s.api.Me(ctx)
	if err != nil {
		// The login failed as far as the user is concerned; persisting the
		// token would silently restore this session on the next start.
		s.clearLocal()
		return nil, err
	}

	sess := &types.Session{Token: token, UserID: profile.UserID, Username: profile.Username}
	s.setSession(sess)
	if err := s.tokens.Save(token); err != nil {
		// The session still works for this run; only restarts lose it.
		s.log.Warn("could not persist token", zap.Error(err))
	}
	s.log.Info("logged in", zap.String("username", profile.Username))
	return s.Current(), nil
}

// Register creates the account and immediately logs in with the same
// credentials, so callers never need a separate login step.
func (s *Store) Register(ctx context.Context, username, password string) (*types.Session, error) {
	if _, err := s.api.Register(ctx, username, password); err != nil {
		return nil, err
	}
	return s.Login(ctx, username, password)
}

// Restore revalidates a persisted token at startup. No persisted token, or a
// token the server rejects, yields (nil, nil): logged out is a normal
// outcome, not an error. Transport failures are returned as-is so the caller
// can retry without the token having been cleared.
func (s *Store) Restore(ctx context.Context) (*types.Session, error) {
	token, err := s.tokens.Load()
	if err != nil {
		s.log.Warn("could not read persisted token", zap.Error(err))
		return nil, nil
	}
	if token == "" {
		return nil, nil
	}

	s.setToken(token)
	if err := s.api.CheckToken(ctx); err != nil {
		var authErr *rest.AuthError
		if errors.As(err, &authErr) {
			// Expired or revoked. Silent logout, no user-facing error.
			s.log.Info("persisted token rejected, clearing session")
			s.clearLocal()
			if err := s.tokens.Clear(); err != nil {
				s.log.Warn("could not clear persisted token", zap.Error(err))
			}
			return nil, nil
		}
		s.clearLocal()
		return nil, err
	}

	profile, err := s.api.Me(ctx)
	if err != nil {
		s.clearLocal()
		return nil, err
	}

	sess := &types.Session{Token: token, UserID: profile.UserID, Username: profile.Username}
	s.setSession(sess)
	s.log.Info("session restored", zap.String("username", profile.Username))
	return s.Current(), nil
}

// Logout tells the server to invalidate the token (best effort, failures are
// only logged) and then unconditionally clears all local session state.
func (s *Store) Logout(ctx context.Context) {
	if s.Token() != "" {
		if err := s.api.Logout(ctx); err != nil {
			s.log.Warn("server-side logout failed", zap.Error(err))
		}
	}
	s.clearLocal()
	if err := s.tokens.Clear(); err != nil {
		s.log.Warn("could not clear persisted token", zap.Error(err))
	}
	s.log.Info("logged out")
}

func (s *Store) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Store) setSession(sess *types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = sess.Token
	s.session = sess
}

func (s *Store) clearLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.session = nil
}
