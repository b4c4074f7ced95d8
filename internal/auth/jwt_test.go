package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("s3cret", time.Hour)
	tok, err := v.Issue("u1", "")
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: RolePlayer}, id)
	assert.False(t, id.Admin())

	tok, err = v.Issue("ops", RoleAdmin)
	require.NoError(t, err)
	id, err = v.Verify(tok)
	require.NoError(t, err)
	assert.True(t, id.Admin())
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	v := NewVerifier("s3cret", time.Hour)
	other, err := NewVerifier("different", time.Hour).Issue("u1", "")
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	raw, err = none.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewVerifier("", time.Hour).Verify("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
