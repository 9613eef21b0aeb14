// Package auth implements the two-stage password-hashing protocol: the
// client derives a pre-hash from the real password with a self-chosen
// cost and salt, and the server stores only a bcrypt hash of that
// pre-hash. The server never observes a plaintext password.
package auth

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PrefixLen is the fixed width of the cost/salt prefix ("$p5$CC$"
	// plus a 22-character salt) that is stored at account creation and
	// returned verbatim by lookup.
	PrefixLen = 29

	// DefaultServerCost is the bcrypt cost applied to the client
	// pre-hash before storage. It is deliberately higher than the work
	// factor clients typically choose for the pre-hash.
	DefaultServerCost = 12

	// DefaultClientCost is the PBKDF2 cost (log2 iterations) clients
	// pick when creating an account.
	DefaultClientCost = 12
)

// ErrMalformedHash indicates a client-supplied value that is not a
// validly formatted pre-hash. Surfaced to clients as an account-creation
// failure.
var ErrMalformedHash = errors.New("malformed client password hash")

// A client pre-hash is a modular-crypt string: "$p5$" cost "$" salt hash,
// where cost is two decimal digits (log2 PBKDF2 iterations), salt is 22
// base64 characters, and hash is the 43-character base64 PBKDF2-SHA256
// output.
var clientHashPattern = regexp.MustCompile(`^\$p5\$[0-9]{2}\$[A-Za-z0-9+/]{22}[A-Za-z0-9+/]{43}$`)

var clientPrefixPattern = regexp.MustCompile(`^\$p5\$[0-9]{2}\$[A-Za-z0-9+/]{22}$`)

// Credential is the stored server-side view of an account's password.
type Credential struct {
	// ServerHash is the bcrypt hash of the client pre-hash. Never
	// transmitted.
	ServerHash []byte

	// ClientPrefix is the cost/salt prefix the client must reuse to
	// re-derive the same pre-hash on every future login.
	ClientPrefix string
}

// Manager creates and verifies stored credentials.
type Manager struct {
	serverCost int
}

// NewManager returns a Manager hashing at the given bcrypt cost. Costs
// outside bcrypt's supported range fall back to DefaultServerCost.
func NewManager(serverCost int) *Manager {
	if serverCost < bcrypt.MinCost || serverCost > bcrypt.MaxCost {
		serverCost = DefaultServerCost
	}
	return &Manager{serverCost: serverCost}
}

// CreateCredential validates a client pre-hash and produces the stored
// credential: the pre-hash's embedded cost/salt prefix, plus a server
// bcrypt hash of the full pre-hash string.
func (m *Manager) CreateCredential(clientHash string) (Credential, error) {
	if !clientHashPattern.MatchString(clientHash) {
		return Credential{}, ErrMalformedHash
	}
	serverHash, err := bcrypt.GenerateFromPassword([]byte(clientHash), m.serverCost)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		ServerHash:   serverHash,
		ClientPrefix: clientHash[:PrefixLen],
	}, nil
}

// Verify reports whether a client pre-hash matches the stored server
// hash. bcrypt's comparison is constant-time; callers must collapse
// unknown-username and failed-verification into the same failure outcome.
func (m *Manager) Verify(serverHash []byte, clientHash string) bool {
	return bcrypt.CompareHashAndPassword(serverHash, []byte(clientHash)) == nil
}

// ValidPrefix reports whether s is a well-formed cost/salt prefix.
func ValidPrefix(s string) bool {
	return clientPrefixPattern.MatchString(s)
}
