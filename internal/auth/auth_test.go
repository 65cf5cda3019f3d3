package auth_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/finnysync/internal/auth"
	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

func newSession(c clock.Clock) *auth.Session {
	return auth.NewSession("secret", c, slog.New(slog.DiscardHandler))
}

func TestSignIn_NotifiesOnce(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	s := newSession(c)

	var events []bool

	cancel := s.OnChange(func(_ remote.User, in bool) { events = append(events, in) })
	defer cancel()

	token, err := s.Issue("u1", time.Hour)
	require.NoError(t, err)

	user, err := s.SignIn(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = s.SignIn(token)
	require.NoError(t, err)

	got, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "u1", got.ID)

	s.SignOut()
	s.SignOut()

	_, ok = s.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, []bool{true, false}, events)
}

func TestCurrentUser_Expires(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	s := newSession(c)

	token, err := s.Issue("u1", time.Minute)
	require.NoError(t, err)

	_, err = s.SignIn(token)
	require.NoError(t, err)

	c.Advance(2 * time.Minute)

	_, ok := s.CurrentUser()
	assert.False(t, ok)

	_, err = s.SignIn(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSignIn_RejectsBadTokens(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	s := newSession(c)

	other, err := auth.NewSession("other", c, nil).Issue("u1", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": other,
		"no expiry":    noExp,
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.SignIn(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}

	_, err = s.Issue("", time.Hour)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
