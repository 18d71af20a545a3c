package trust

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/maareksillamae/mock-bank/internal/models"
)

// ErrUntrustedSigner is returned when a token validates against none of
// the keys in the sending bank's published key set.
var ErrUntrustedSigner = errors.New("signature does not match any trusted key")

// ErrKeyDiscoveryFailed is returned when a peer's key-discovery URL is
// unreachable or serves an unusable key set.
var ErrKeyDiscoveryFailed = errors.New("key discovery failed")

// ErrMalformedToken is returned when a token cannot even be decoded.
var ErrMalformedToken = errors.New("malformed token")

const discoveryTimeout = 10 * time.Second

// transferClaims is the transfer payload as it travels inside a token.
type transferClaims struct {
	models.TransferPayload
	jwt.RegisteredClaims
}

// Trust holds this bank's signing key for the lifetime of the process.
// It signs outbound transfer payloads and verifies inbound ones against
// the sending bank's discovered public keys.
type Trust struct {
	key    *rsa.PrivateKey
	kid    string
	client *http.Client
	log    *logrus.Logger
}

// New loads the bank's RSA private key from the given PEM file. The key
// is read once; there is no rotation.
func New(keyPath string, log *logrus.Logger) (*Trust, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing key %s is not PEM encoded", keyPath)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s is not an RSA key", keyPath)
		}
		key = rsaKey
	}

	kid, err := keyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Trust{
		key:    key,
		kid:    kid,
		client: &http.Client{Timeout: discoveryTimeout},
		log:    log,
	}, nil
}

// keyID derives a stable identifier from the public key material.
func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to derive key id: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

// Sign serializes the payload into a compact RS256 token. The payload
// itself rides unencrypted in the token body for the receiver to read.
func (t *Trust) Sign(payload models.TransferPayload) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, transferClaims{TransferPayload: payload})
	token.Header["kid"] = t.kid
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer payload: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature against every key in the sending
// bank's freshly fetched key set and returns the verified payload. The
// key set is scoped to this one call and never cached.
func (t *Trust) Verify(ctx context.Context, token string, bank *models.RemoteBank) (*models.TransferPayload, error) {
	keys, err := t.discoverKeys(ctx, bank.JwksURL)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		claims := &transferClaims{}
		_, err := jwt.ParseWithClaims(token, claims,
			func(*jwt.Token) (interface{}, error) { return key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		if err == nil {
			return &claims.TransferPayload, nil
		}
	}

	return nil, fmt.Errorf("%w (bank %s)", ErrUntrustedSigner, bank.BankPrefix)
}

// discoverKeys fetches and parses the peer's published key set.
func (t *Trust) discoverKeys(ctx context.Context, jwksURL string) ([]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	t.log.Debugf("Fetching peer key set from %s", jwksURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDiscoveryFailed, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrKeyDiscoveryFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDiscoveryFailed, err)
	}

	keys, err := parseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDiscoveryFailed, err)
	}
	return keys, nil
}

// DecodePayload extracts the embedded payload without verifying the
// signature. Verification happens separately once the sending bank's
// keys are known.
func DecodePayload(token string) (*models.TransferPayload, error) {
	claims := &transferClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return &claims.TransferPayload, nil
}

// JWKS returns this bank's public key set for peers to verify our
// outbound signatures against.
func (t *Trust) JWKS() KeySet {
	return publicKeySet(&t.key.PublicKey, t.kid)
}
