package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeyRing holds Ed25519 signing keys indexed by key ID.
//
// The active key signs new tokens; every key in the ring verifies, which is
// what makes zero-downtime rotation possible: add the new key, switch the
// active ID, retire the old key once outstanding tokens expire.
type KeyRing struct {
	active string
	keys   map[string]ed25519.PrivateKey
}

type keyRingJSON struct {
	Active string            `json:"active"`
	Keys   map[string]string `json:"keys"`
}

// ParseKeyRing decodes a key ring from its JSON configuration form.
//
// Key material is the base64 Ed25519 seed (32 bytes) or full private key
// (64 bytes).
func ParseKeyRing(raw string) (KeyRing, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return KeyRing{}, errors.New("key ring json is required")
	}
	var decoded keyRingJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return KeyRing{}, fmt.Errorf("decode key ring json: %w", err)
	}
	if decoded.Active == "" {
		return KeyRing{}, errors.New("key ring active kid is required")
	}
	if len(decoded.Keys) == 0 {
		return KeyRing{}, errors.New("key ring must contain at least one key")
	}

	keys := make(map[string]ed25519.PrivateKey, len(decoded.Keys))
	for kid, material := range decoded.Keys {
		keyBytes, err := decodeBase64(material)
		if err != nil {
			return KeyRing{}, fmt.Errorf("decode key %s: %w", kid, err)
		}
		switch len(keyBytes) {
		case ed25519.SeedSize:
			keys[kid] = ed25519.NewKeyFromSeed(keyBytes)
		case ed25519.PrivateKeySize:
			keys[kid] = ed25519.PrivateKey(keyBytes)
		default:
			return KeyRing{}, fmt.Errorf("key %s must be %d or %d bytes", kid, ed25519.SeedSize, ed25519.PrivateKeySize)
		}
	}
	if _, ok := keys[decoded.Active]; !ok {
		return KeyRing{}, fmt.Errorf("active kid %q is not in the ring", decoded.Active)
	}
	return KeyRing{active: decoded.Active, keys: keys}, nil
}

// NewEphemeralKeyRing generates a single-key ring for development setups
// where no signing keys are configured. Tokens do not survive restarts.
func NewEphemeralKeyRing() (KeyRing, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return KeyRing{}, fmt.Errorf("generate ephemeral seed: %w", err)
	}
	return KeyRing{
		active: "ephemeral",
		keys:   map[string]ed25519.PrivateKey{"ephemeral": ed25519.NewKeyFromSeed(seed)},
	}, nil
}

// ActiveKID returns the key ID used to sign new tokens.
func (r KeyRing) ActiveKID() string {
	return r.active
}

// SigningKey returns the private key for the active key ID.
func (r KeyRing) SigningKey() (ed25519.PrivateKey, error) {
	key, ok := r.keys[r.active]
	if !ok {
		return nil, errors.New("key ring has no active key")
	}
	return key, nil
}

// PublicKey returns the verification key for a key ID.
func (r KeyRing) PublicKey(kid string) (ed25519.PublicKey, error) {
	key, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key.Public().(ed25519.PublicKey), nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
