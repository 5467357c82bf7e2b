// Package pushauth verifies ownership of push notification URLs and signs
// the notifications sent to them.
//
// A URL is trusted only after its endpoint echoes a server-issued challenge
// token. Outgoing notifications carry an RS256 JWT binding the request body
// (sha256) so receivers can authenticate them against the public key set
// served at the discovery endpoint.
package pushauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxChallengeBody = 4 << 10

type Authenticator struct {
	key *rsa.PrivateKey
	kid string

	verifyClient *http.Client
	sendClient   *http.Client
	log          zerolog.Logger
}

type Options struct {
	// VerifyTimeout bounds the challenge round trip. It is independent of
	// the webhook delivery timeout. Defaults to 10s.
	VerifyTimeout time.Duration
	// SendTimeout bounds one notification delivery. Defaults to 30s.
	SendTimeout time.Duration
	Log         zerolog.Logger
}

// New generates the process-wide signing keypair. The keypair lives for the
// process lifetime; there is no rotation.
func New(opts Options) (*Authenticator, error) {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 10 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Authenticator{
		key:          key,
		kid:          uuid.NewString(),
		verifyClient: &http.Client{Timeout: opts.VerifyTimeout},
		sendClient:   &http.Client{Timeout: opts.SendTimeout},
		log:          opts.Log,
	}, nil
}

// VerifyURL proves ownership of a claimed push URL: it issues a GET carrying
// a fresh challenge token and requires the response body to echo the exact
// token. Any mismatch, network failure, or timeout fails verification.
func (a *Authenticator) VerifyURL(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		a.log.Warn().Str("url", rawURL).Msg("push url not verifiable")
		return false
	}
	token := uuid.NewString()
	q := u.Query()
	q.Set("challenge", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := a.verifyClient.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("url", rawURL).Msg("push url challenge failed")
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return false
	}
	ok := strings.TrimSpace(string(body)) == token
	if !ok {
		a.log.Warn().Str("url", rawURL).Msg("push url challenge token mismatch")
	}
	return ok
}

// Send signs data and POSTs it to the push URL. Failures are logged by the
// caller and never retried or surfaced to the task operation that triggered
// the notification.
func (a *Authenticator) Send(ctx context.Context, pushURL string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	sum := sha256.Sum256(body)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iat":                 time.Now().Unix(),
		"request_body_sha256": hex.EncodeToString(sum[:]),
	})
	tok.Header["kid"] = a.kid
	signed, err := tok.SignedString(a.key)
	if err != nil {
		return fmt.Errorf("sign notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := a.sendClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	a.log.Info().Str("url", pushURL).Int("status", resp.StatusCode).Msg("push notification sent")
	return nil
}

// PublicKey exposes the verification half of the signing keypair.
func (a *Authenticator) PublicKey() *rsa.PublicKey { return &a.key.PublicKey }

// JWK is the public signing key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the key set external consumers use to validate signed
// notifications.
func (a *Authenticator) JWKS() JWKSet {
	pub := a.key.PublicKey
	return JWKSet{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: a.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}
