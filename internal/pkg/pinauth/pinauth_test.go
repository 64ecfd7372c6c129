package pinauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

type fakeAccountStore struct {
	byLookup map[string]*models.Account
}

func (f *fakeAccountStore) GetByAccessCodeLookup(lookup string) (*models.Account, error) {
	account, ok := f.byLookup[lookup]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return account, nil
}

func newTestGate(t *testing.T, code string) (*Gate, *models.Account, func(time.Duration)) {
	t.Helper()

	account := &models.Account{ID: 3, Name: "Acme", Plan: "starter"}
	require.NoError(t, account.SetAccessCode(code))

	store := &fakeAccountStore{byLookup: map[string]*models.Account{account.AccessCodeLookup: account}}
	gate := NewGate(store)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return gate, account, advance
}

func TestAuthenticateSuccess(t *testing.T) {
	gate, account, _ := newTestGate(t, "482913")

	got, err := gate.Authenticate(context.Background(), "10.0.0.1", "482913")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestAuthenticateWrongCode(t *testing.T) {
	gate, _, _ := newTestGate(t, "482913")

	_, err := gate.Authenticate(context.Background(), "10.0.0.1", "000000")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestLockoutAfterFiveFailuresInWindow(t *testing.T) {
	gate, _, _ := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold; i++ {
		_, err := gate.Authenticate(ctx, "10.0.0.1", "000000")
		require.Error(t, err)
	}

	// Locked now, even for the correct code.
	_, err := gate.Authenticate(ctx, "10.0.0.1", "482913")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRateLimited))
	assert.Equal(t, LockDuration, apperrors.RetryAfter(err))
}

func TestLockExpires(t *testing.T) {
	gate, _, advance := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold; i++ {
		gate.Authenticate(ctx, "10.0.0.1", "000000")
	}
	advance(LockDuration + time.Second)

	got, err := gate.Authenticate(ctx, "10.0.0.1", "482913")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestFailuresOutsideWindowDoNotCount(t *testing.T) {
	gate, _, advance := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold-1; i++ {
		gate.Authenticate(ctx, "10.0.0.1", "000000")
	}
	advance(FailureWindow + time.Minute)

	// The old strikes aged out; this one is the only strike in the window.
	_, err := gate.Authenticate(ctx, "10.0.0.1", "000000")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound), "expected wrong-code error, not a lockout")

	_, err = gate.Authenticate(ctx, "10.0.0.1", "482913")
	require.NoError(t, err)
}

func TestSuccessClearsFailureCount(t *testing.T) {
	gate, _, _ := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold-1; i++ {
		gate.Authenticate(ctx, "10.0.0.1", "000000")
	}
	_, err := gate.Authenticate(ctx, "10.0.0.1", "482913")
	require.NoError(t, err)

	// A fresh failure starts counting from zero again.
	for i := 0; i < FailureThreshold-1; i++ {
		_, err := gate.Authenticate(ctx, "10.0.0.1", "000000")
		require.Error(t, err)
		assert.False(t, apperrors.IsKind(err, apperrors.KindRateLimited))
	}
}

func TestLockoutIsPerIP(t *testing.T) {
	gate, _, _ := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold; i++ {
		gate.Authenticate(ctx, "10.0.0.1", "000000")
	}

	_, err := gate.Authenticate(ctx, "10.0.0.2", "482913")
	require.NoError(t, err, "other IPs must be unaffected")
}

func TestEmptyCodeCountsAsFailure(t *testing.T) {
	gate, _, _ := newTestGate(t, "482913")
	ctx := context.Background()

	for i := 0; i < FailureThreshold; i++ {
		_, err := gate.Authenticate(ctx, "10.0.0.1", "")
		require.Error(t, err)
	}
	_, err := gate.Authenticate(ctx, "10.0.0.1", "482913")
	assert.True(t, apperrors.IsKind(err, apperrors.KindRateLimited))
}

func TestSweepEvictsStaleBuckets(t *testing.T) {
	gate, _, advance := newTestGate(t, "482913")
	ctx := context.Background()

	gate.Authenticate(ctx, "10.0.0.1", "000000")
	advance(FailureWindow + time.Minute)
	gate.sweep()

	gate.mu.Lock()
	defer gate.mu.Unlock()
	assert.Empty(t, gate.buckets)
}
