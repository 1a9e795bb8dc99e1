// Package toolkeys holds the tool's own RSA signing key and publishes its
// public half as a JWK set for platform registration.
package toolkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// KeyManager manages the tool signing key and its JWKS representation.
type KeyManager struct {
	privateKey *rsa.PrivateKey
	kid        string
	ephemeral  bool
}

// LoadFromEnv loads an RSA private key from LTI_TOOL_PRIVATE_KEY_PEM or
// LTI_TOOL_PRIVATE_KEY_PATH. Without either, an ephemeral key is generated;
// its kid changes on every restart.
func LoadFromEnv() (*KeyManager, error) {
	pemValue := os.Getenv("LTI_TOOL_PRIVATE_KEY_PEM")
	if pemValue == "" {
		if path := os.Getenv("LTI_TOOL_PRIVATE_KEY_PATH"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read LTI_TOOL_PRIVATE_KEY_PATH: %w", err)
			}
			pemValue = string(data)
		}
	}
	if pemValue == "" {
		log.Warn().Msg("no tool private key configured, generating an ephemeral key")
		return Generate()
	}
	return ParsePEM(pemValue)
}

// Generate creates a manager around a fresh 2048-bit key.
func Generate() (*KeyManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating tool key: %w", err)
	}
	m, err := newKeyManager(key)
	if err != nil {
		return nil, err
	}
	m.ephemeral = true
	return m, nil
}

// ParsePEM accepts PKCS#1 or PKCS#8 RSA private keys. Literal "\n"
// sequences are unescaped so keys can travel through single-line env vars.
func ParsePEM(pemValue string) (*KeyManager, error) {
	pemValue = strings.ReplaceAll(pemValue, `\n`, "\n")

	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("unable to parse RSA private key")
	}

	return newKeyManager(key)
}

func newKeyManager(key *rsa.PrivateKey) (*KeyManager, error) {
	kid, err := computeKID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyManager{privateKey: key, kid: kid}, nil
}

func (k *KeyManager) PrivateKey() *rsa.PrivateKey {
	return k.privateKey
}

func (k *KeyManager) PublicKey() *rsa.PublicKey {
	return &k.privateKey.PublicKey
}

func (k *KeyManager) KID() string {
	return k.kid
}

// Ephemeral reports whether the key was generated at startup.
func (k *KeyManager) Ephemeral() bool {
	return k.ephemeral
}

// PublicSet returns the public key as a single-entry JWK set.
func (k *KeyManager) PublicSet() (jwk.Set, error) {
	key, err := jwk.FromRaw(k.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("building public jwk: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return set, nil
}

// computeKID is the base64url SHA-256 of the DER public key.
func computeKID(pub *rsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
