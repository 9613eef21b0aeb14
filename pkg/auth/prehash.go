package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
)

// Client-side pre-hash derivation. The server never calls DeriveHash
// with a real password; it lives here so clients and tests share one
// implementation of the format the Manager validates.

const (
	saltBytes = 16 // encodes to 22 base64 characters
	keyBytes  = 32 // encodes to 43 base64 characters

	minClientCost = 4
	maxClientCost = 31
)

var b64 = base64.RawStdEncoding

// NewPrefix generates a fresh cost/salt prefix for account creation.
func NewPrefix(cost int) (string, error) {
	if cost < minClientCost || cost > maxClientCost {
		return "", fmt.Errorf("client hash cost %d out of range [%d, %d]", cost, minClientCost, maxClientCost)
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return fmt.Sprintf("$p5$%02d$%s", cost, b64.EncodeToString(salt)), nil
}

// DeriveHash computes the deterministic pre-hash of a password under the
// given prefix: PBKDF2-SHA256 with 2^cost iterations, keyed on the
// prefix's salt characters.
func DeriveHash(password, prefix string) (string, error) {
	if !ValidPrefix(prefix) {
		return "", ErrMalformedHash
	}
	cost, err := strconv.Atoi(prefix[4:6])
	if err != nil || cost < minClientCost || cost > maxClientCost {
		return "", ErrMalformedHash
	}
	salt := prefix[7:]
	key := pbkdf2.Key([]byte(password), []byte(salt), 1<<cost, keyBytes, sha256.New)
	return prefix + b64.EncodeToString(key), nil
}
