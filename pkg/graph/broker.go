// Package graph implements a minimal Microsoft Graph REST client: token
// acquisition, paginated collection fetches and throttling-aware retries.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	u "github.com/mpvl/unique"
)

// ErrInteractionRequired signals that silent acquisition failed and no
// interactive credential was configured to fall back to.
var ErrInteractionRequired = errors.New("interactive authentication required")

// AcquireMethod tags how a token was obtained.
type AcquireMethod string

const (
	AcquireSilent      AcquireMethod = "silent"
	AcquireInteractive AcquireMethod = "interactive"
)

// Token is an access token plus how it was acquired.
type Token struct {
	Value     string
	ExpiresOn time.Time
	Method    AcquireMethod
}

// TokenBroker acquires access tokens for Graph scopes.
type TokenBroker interface {
	Acquire(ctx context.Context, scopes []string) (Token, error)
}

// expirySkew is how early a cached token is considered stale, so a token
// cannot expire mid-request.
const expirySkew = 60 * time.Second

// CredentialBroker acquires tokens silently first and falls back to an
// interactive credential only when the identity platform demands user
// interaction. Tokens are cached per distinct scope set.
type CredentialBroker struct {
	silent      azcore.TokenCredential
	interactive azcore.TokenCredential
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]Token

	now func() time.Time
}

// NewCredentialBroker builds a broker over a silent credential and an
// optional interactive fallback. Either may be nil, but not both.
func NewCredentialBroker(silent, interactive azcore.TokenCredential, logger *slog.Logger) (*CredentialBroker, error) {
	if silent == nil && interactive == nil {
		return nil, errors.New("credential broker requires at least one credential")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialBroker{
		silent:      silent,
		interactive: interactive,
		logger:      logger,
		cache:       make(map[string]Token),
		now:         time.Now,
	}, nil
}

// Acquire returns a token covering the scopes, from cache when a fresh one
// exists. Silent acquisition is attempted first; the interactive credential
// is used only when the failure explicitly requires interaction.
func (b *CredentialBroker) Acquire(ctx context.Context, scopes []string) (Token, error) {
	key := cacheKey(scopes)

	b.mu.RLock()
	cached, found := b.cache[key]
	b.mu.RUnlock()
	if found && cached.ExpiresOn.Sub(b.now()) > expirySkew {
		return cached, nil
	}

	opts := policy.TokenRequestOptions{Scopes: scopes}

	if b.silent != nil {
		at, err := b.silent.GetToken(ctx, opts)
		if err == nil {
			return b.store(key, at, AcquireSilent), nil
		}
		if !interactionRequired(err) {
			return Token{}, fmt.Errorf("silent token acquisition failed: %w", err)
		}
		if b.interactive == nil {
			return Token{}, fmt.Errorf("%w: %s", ErrInteractionRequired, err)
		}
		b.logger.Debug("silent token acquisition requires interaction, falling back",
			"scopes", scopes)
	}

	at, err := b.interactive.GetToken(ctx, opts)
	if err != nil {
		return Token{}, fmt.Errorf("interactive token acquisition failed: %w", err)
	}
	return b.store(key, at, AcquireInteractive), nil
}

func (b *CredentialBroker) store(key string, at azcore.AccessToken, method AcquireMethod) Token {
	tok := Token{Value: at.Token, ExpiresOn: at.ExpiresOn, Method: method}
	b.mu.Lock()
	b.cache[key] = tok
	b.mu.Unlock()
	return tok
}

func interactionRequired(err error) bool {
	var authRequired *azidentity.AuthenticationRequiredError
	return errors.As(err, &authRequired)
}

// cacheKey normalizes a scope set so "a b" and "b a" share one cache entry.
func cacheKey(scopes []string) string {
	s := append([]string(nil), scopes...)
	slice := u.StringSlice{P: &s}
	u.Sort(slice)
	u.Strings(slice.P)

	key := ""
	for i, scope := range s {
		if i > 0 {
			key += " "
		}
		key += scope
	}
	return key
}
