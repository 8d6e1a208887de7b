// Package tokens is the credential provider: it owns the per-user OAuth
// token files and hands out access credentials, refreshing them as needed.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredential reports that a user has no stored token, or that the
// stored token can no longer be refreshed. The user's pipeline pauses until
// an external re-login stores a fresh token.
var ErrNoCredential = errors.New("no valid credential")

// Credential is an access credential for one user's mailbox and archive.
type Credential struct {
	AccessToken string
	Expiry      time.Time
}

// Valid reports whether the credential's expiry indicates it is usable.
// A valid-looking credential can still be rejected server-side; callers
// that reconnect should request forceRefresh.
func (c Credential) Valid() bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || time.Now().Before(c.Expiry)
}

// Provider reads, refreshes, and persists per-user OAuth tokens.
type Provider struct {
	dir  string
	conf *oauth2.Config
}

// NewProvider creates a provider over the given token directory.
func NewProvider(dir, clientID, clientSecret, tokenURL string) *Provider {
	return &Provider{
		dir: dir,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Get returns a credential for userID. With forceRefresh the token is
// refreshed even when its expiry claims it is still valid, because the
// session it authorized may have been invalidated server-side. Refreshed
// tokens are persisted back to the token file.
func (p *Provider) Get(ctx context.Context, userID string, forceRefresh bool) (*Credential, error) {
	token, err := p.load(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	if forceRefresh {
		token.Expiry = time.Now().Add(-time.Minute)
	}

	fresh, err := p.conf.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrNoCredential, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := p.save(userID, fresh); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}

	return &Credential{AccessToken: fresh.AccessToken, Expiry: fresh.Expiry}, nil
}

// Client returns an HTTP client that authenticates as userID and
// persists any token refresh performed while it is in use.
func (p *Provider) Client(ctx context.Context, userID string) (*http.Client, error) {
	token, err := p.load(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	source := &persistingSource{
		provider: p,
		userID:   userID,
		inner:    p.conf.TokenSource(ctx, token),
		last:     token,
	}
	return oauth2.NewClient(ctx, source), nil
}

// persistingSource writes refreshed tokens back to the token file so a
// restart does not lose a rotated refresh token.
type persistingSource struct {
	provider *Provider
	userID   string
	inner    oauth2.TokenSource
	last     *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := s.provider.save(s.userID, token); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
		s.last = token
	}
	return token, nil
}

// ListUsers enumerates the users with stored tokens.
func (p *Provider) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tokens dir: %w", err)
	}
	var users []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		users = append(users, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(users)
	return users, nil
}

func (p *Provider) tokenPath(userID string) string {
	return filepath.Join(p.dir, userID+".json")
}

func (p *Provider) load(userID string) (*oauth2.Token, error) {
	f, err := os.Open(p.tokenPath(userID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

func (p *Provider) save(userID string, token *oauth2.Token) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(p.tokenPath(userID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
