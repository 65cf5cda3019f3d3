// Package auth keeps the signed-in session of the local device. Sessions are
// HS256 JWTs whose subject is the remote user id.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

var ErrInvalidToken = errors.New("invalid session token")

type Claims struct {
	jwt.RegisteredClaims
}

type Session struct {
	secret []byte
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	user      remote.User
	expiresAt time.Time
	signedIn  bool
	listeners map[int]func(remote.User, bool)
	nextID    int
}

var _ remote.Auth = (*Session)(nil)

func NewSession(secret string, c clock.Clock, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		secret:    []byte(secret),
		clock:     c,
		logger:    logger.With("component", "auth"),
		listeners: make(map[int]func(remote.User, bool)),
	}
}

// Issue mints a token for userID valid for ttl.
func (s *Session) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Parse validates token and returns its claims.
func (s *Session) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// SignIn validates token and makes its subject the current user. Signing in
// as the user already signed in does not notify listeners again.
func (s *Session) SignIn(token string) (remote.User, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return remote.User{}, err
	}

	user := remote.User{ID: claims.Subject}

	s.mu.Lock()
	same := s.signedIn && s.user == user
	s.user = user
	s.signedIn = true
	s.expiresAt = claims.ExpiresAt.Time
	s.mu.Unlock()

	if !same {
		s.logger.Info("signed in", "user_id", user.ID)
		s.notify(user, true)
	}

	return user, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	user, was := s.user, s.signedIn
	s.user = remote.User{}
	s.signedIn = false
	s.mu.Unlock()

	if was {
		s.logger.Info("signed out", "user_id", user.ID)
		s.notify(remote.User{}, false)
	}
}

// CurrentUser returns the signed-in user while its token is unexpired.
func (s *Session) CurrentUser() (remote.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.signedIn || !s.clock.Now().Before(s.expiresAt) {
		return remote.User{}, false
	}

	return s.user, true
}

func (s *Session) OnChange(cb func(remote.User, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = cb

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.listeners, id)
	}
}

func (s *Session) notify(user remote.User, signedIn bool) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))

	for id := range s.listeners {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	cbs := make([]func(remote.User, bool), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, s.listeners[id])
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(user, signedIn)
	}
}
