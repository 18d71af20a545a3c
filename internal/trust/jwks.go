package trust

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// golang-jwt carries no JWK support, so the key-set document is encoded
// and decoded here directly over crypto/rsa.

// KeySet is a JSON Web Key set document.
type KeySet struct {
	Keys []Key `json:"keys"`
}

// Key is a single JSON Web Key. Only RSA signing keys are used.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// publicKeySet wraps a single RSA public key into a key set.
func publicKeySet(pub *rsa.PublicKey, kid string) KeySet {
	return KeySet{Keys: []Key{{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// parseKeySet decodes a key-set document into usable RSA public keys.
// Non-RSA entries are skipped; a set yielding no usable key is an error.
func parseKeySet(data []byte) ([]*rsa.PublicKey, error) {
	var set KeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("invalid key set document: %v", err)
	}

	var keys []*rsa.PublicKey
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys = append(keys, &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		})
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("key set contains no usable RSA keys")
	}
	return keys, nil
}
