package graph

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredential struct {
	token string
	err   error
	calls int
}

func (f *fakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newBroker(t *testing.T, silent, interactive azcore.TokenCredential) *CredentialBroker {
	t.Helper()
	b, err := NewCredentialBroker(silent, interactive, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return b
}

func TestAcquireSilent(t *testing.T) {
	silent := &fakeCredential{token: "silent-token"}
	interactive := &fakeCredential{token: "interactive-token"}
	b := newBroker(t, silent, interactive)

	tok, err := b.Acquire(context.Background(), []string{DefaultScope})
	require.NoError(t, err)
	assert.Equal(t, "silent-token", tok.Value)
	assert.Equal(t, AcquireSilent, tok.Method)
	assert.Equal(t, 0, interactive.calls)
}

func TestAcquireFallsBackOnInteractionRequired(t *testing.T) {
	silent := &fakeCredential{err: &azidentity.AuthenticationRequiredError{}}
	interactive := &fakeCredential{token: "interactive-token"}
	b := newBroker(t, silent, interactive)

	tok, err := b.Acquire(context.Background(), []string{DefaultScope})
	require.NoError(t, err)
	assert.Equal(t, "interactive-token", tok.Value)
	assert.Equal(t, AcquireInteractive, tok.Method)
}

func TestAcquireDoesNotFallBackOnOtherErrors(t *testing.T) {
	silent := &fakeCredential{err: errors.New("invalid client secret")}
	interactive := &fakeCredential{token: "interactive-token"}
	b := newBroker(t, silent, interactive)

	_, err := b.Acquire(context.Background(), []string{DefaultScope})
	require.Error(t, err)
	assert.Equal(t, 0, interactive.calls)
}

func TestAcquireInteractionRequiredWithoutFallback(t *testing.T) {
	silent := &fakeCredential{err: &azidentity.AuthenticationRequiredError{}}
	b := newBroker(t, silent, nil)

	_, err := b.Acquire(context.Background(), []string{DefaultScope})
	assert.ErrorIs(t, err, ErrInteractionRequired)
}

func TestAcquireCachesPerScopeSet(t *testing.T) {
	silent := &fakeCredential{token: "tok"}
	b := newBroker(t, silent, nil)
	ctx := context.Background()

	_, err := b.Acquire(ctx, []string{"scope-a", "scope-b"})
	require.NoError(t, err)
	// Order of scopes does not matter for the cache key.
	_, err = b.Acquire(ctx, []string{"scope-b", "scope-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, silent.calls)

	_, err = b.Acquire(ctx, []string{"scope-c"})
	require.NoError(t, err)
	assert.Equal(t, 2, silent.calls)
}

func TestAcquireRefreshesNearExpiry(t *testing.T) {
	silent := &fakeCredential{token: "tok"}
	b := newBroker(t, silent, nil)
	ctx := context.Background()

	_, err := b.Acquire(ctx, []string{DefaultScope})
	require.NoError(t, err)

	// Jump to within the expiry skew of the cached token.
	b.now = func() time.Time { return time.Now().Add(time.Hour - 30*time.Second) }
	_, err = b.Acquire(ctx, []string{DefaultScope})
	require.NoError(t, err)
	assert.Equal(t, 2, silent.calls)
}

func TestNewCredentialBrokerRequiresACredential(t *testing.T) {
	_, err := NewCredentialBroker(nil, nil, nil)
	assert.Error(t, err)
}
