package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
)

// LoadKeyFile reads a wallet file holding the key as a JSON byte array,
// either the 64-byte keypair form or a bare 32-byte seed.
func LoadKeyFile(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	b := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse key file %s: byte %d out of range", path, i)
		}
		b[i] = byte(v)
	}

	switch len(b) {
	case ed25519.PrivateKeySize:
		key := ed25519.PrivateKey(b)
		// the trailing half must be the public key of the seed
		if !key.Equal(ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])) {
			return nil, fmt.Errorf("key file %s: public half does not match seed", path)
		}
		return key, nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	}
	return nil, fmt.Errorf("key file %s: expected %d or %d bytes, got %d", path, ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
}

// GenerateKeyFile creates a fresh keypair and writes it in the 64-byte form.
// It refuses to overwrite an existing file.
func GenerateKeyFile(path string) (ed25519.PublicKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key file %s already exists", path)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	ints := make([]int, len(priv))
	for i, v := range priv {
		ints[i] = int(v)
	}
	b, err := json.Marshal(ints)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, err
	}
	return pub, nil
}
