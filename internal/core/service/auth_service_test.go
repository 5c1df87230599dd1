package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAuthService(sqlite.NewClientRepository(db), "test-secret", "HS256", time.Minute)
}

func TestClientCredentialsFlow(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	client, secret, err := svc.CreateClient(ctx, "ci", []string{domain.ScopeRead, domain.ScopeTrigger})
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.NotEqual(t, secret, client.Secret)

	token, expiresAt, err := svc.AuthenticateClient(ctx, client.ID, secret)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, client.ID, claims.Subject)
	assert.Equal(t, []string{domain.ScopeRead, domain.ScopeTrigger}, claims.Scopes)

	_, _, err = svc.AuthenticateClient(ctx, client.ID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.AuthenticateClient(ctx, "unknown", secret)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := newTestAuthService(t)
	other := NewAuthService(nil, "another-secret", "HS256", time.Minute)

	token, _, err := other.generateJWT("intruder", []string{domain.ScopeAll})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	hs512 := NewAuthService(nil, "test-secret", "HS512", time.Minute)
	token, _, err = hs512.generateJWT("client", []string{domain.ScopeRead})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestClientManagement(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, _, err := svc.CreateClient(ctx, "", []string{domain.ScopeRead})
	assert.True(t, IsValidation(err))
	_, _, err = svc.CreateClient(ctx, "ci", []string{"admin"})
	assert.True(t, IsValidation(err))

	client, _, err := svc.CreateClient(ctx, "ci", []string{domain.ScopeRead})
	require.NoError(t, err)

	label := "deploy"
	updated, err := svc.UpdateClient(ctx, client.ID, &label, []string{domain.ScopeAll})
	require.NoError(t, err)
	assert.Equal(t, "deploy", updated.Label)
	assert.True(t, domain.HasScope(updated.Scopes, domain.ScopeWrite))

	clients, err := svc.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	require.NoError(t, svc.DeleteClient(ctx, client.ID))
	assert.True(t, IsNotFound(svc.DeleteClient(ctx, client.ID)))
}
