// Copyright 2026 The forkpilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apptoken mints short-lived installation tokens from GitHub App
// credentials. Tokens are held in memory only; they are never logged and
// never written to any cache.
package apptoken

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v48/github"

	"github.com/forkpilot/forkpilot/internal/errors"
)

const (
	// App JWTs are backdated to absorb clock skew between us and the API.
	jwtBackdate = 30 * time.Second
	// GitHub caps app JWT lifetime at ten minutes; stay under it.
	jwtLifetime = 9 * time.Minute
)

// Token is a minted installation token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Remaining reports the token's remaining life at now.
func (t Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Exchanger swaps a signed app JWT for an installation token. The production
// implementation calls the GitHub Apps API; tests substitute their own.
type Exchanger interface {
	Exchange(ctx context.Context, appJWT string, installationID int64) (Token, error)
}

// Minter signs app JWTs and exchanges them for installation tokens.
type Minter struct {
	appID     int64
	key       *rsa.PrivateKey
	exchanger Exchanger
	// minLife rejects tokens the API hands back with too little runway to
	// finish a repository's sync.
	minLife time.Duration
	now     func() time.Time
}

// Option adjusts a Minter.
type Option func(*Minter)

// WithExchanger substitutes the token exchange backend.
func WithExchanger(e Exchanger) Option {
	return func(m *Minter) { m.exchanger = e }
}

// WithClock substitutes the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) { m.now = now }
}

// WithMinLife sets the minimum acceptable remaining token life.
func WithMinLife(d time.Duration) Option {
	return func(m *Minter) { m.minLife = d }
}

// NewMinter parses the app's PEM-encoded RSA key and returns a Minter.
func NewMinter(appID int64, privateKeyPEM []byte, opts ...Option) (*Minter, error) {
	const op errors.Op = "apptoken.NewMinter"
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, errors.E(op, errors.Credential, fmt.Errorf("parsing app private key: %w", err))
	}
	m := &Minter{
		appID:   appID,
		key:     key,
		minLife: 5 * time.Minute,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.exchanger == nil {
		m.exchanger = &githubExchanger{}
	}
	return m, nil
}

// AppJWT signs a fresh RS256 app JWT.
func (m *Minter) AppJWT() (string, error) {
	const op errors.Op = "apptoken.AppJWT"
	now := m.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    fmt.Sprintf("%d", m.appID),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", errors.E(op, errors.Credential, err)
	}
	return signed, nil
}

// Mint returns an installation token for installationID. An unusable
// credential is fatal for the whole run, so every failure path carries the
// Credential kind.
func (m *Minter) Mint(ctx context.Context, installationID int64) (Token, error) {
	const op errors.Op = "apptoken.Mint"
	appJWT, err := m.AppJWT()
	if err != nil {
		return Token{}, err
	}
	tok, err := m.exchanger.Exchange(ctx, appJWT, installationID)
	if err != nil {
		return Token{}, errors.E(op, errors.Credential, err)
	}
	if remaining := tok.Remaining(m.now()); remaining < m.minLife {
		return Token{}, errors.E(op, errors.Credential,
			fmt.Errorf("installation token expires in %s, need at least %s", remaining, m.minLife))
	}
	return tok, nil
}

// githubExchanger calls the GitHub Apps API with the JWT as a bearer token.
type githubExchanger struct {
	baseURL string
}

type jwtTransport struct {
	token string
	base  http.RoundTripper
}

func (t *jwtTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

func (e *githubExchanger) Exchange(ctx context.Context, appJWT string, installationID int64) (Token, error) {
	const op errors.Op = "apptoken.Exchange"
	hc := &http.Client{
		Transport: &jwtTransport{token: appJWT},
		Timeout:   30 * time.Second,
	}
	client := github.NewClient(hc)
	if e.baseURL != "" {
		var err error
		client, err = github.NewEnterpriseClient(e.baseURL, e.baseURL, hc)
		if err != nil {
			return Token{}, errors.E(op, errors.Credential, err)
		}
	}
	it, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return Token{}, errors.E(op, errors.Credential,
			fmt.Errorf("creating installation token for installation %d: %w", installationID, err))
	}
	tok := Token{Value: it.GetToken()}
	if it.ExpiresAt != nil {
		tok.ExpiresAt = *it.ExpiresAt
	}
	return tok, nil
}
