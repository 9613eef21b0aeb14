package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low costs keep the bcrypt work in tests negligible.
const testServerCost = 4
const testClientCost = 4

func TestNewPrefixFormat(t *testing.T) {
	prefix, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	assert.Len(t, prefix, PrefixLen)
	assert.True(t, strings.HasPrefix(prefix, "$p5$04$"))
	assert.True(t, ValidPrefix(prefix))
}

func TestNewPrefixCostOutOfRange(t *testing.T) {
	_, err := NewPrefix(3)
	assert.Error(t, err)
	_, err = NewPrefix(32)
	assert.Error(t, err)
}

func TestNewPrefixUniqueSalts(t *testing.T) {
	a, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	b, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveHashDeterministic(t *testing.T) {
	prefix, err := NewPrefix(testClientCost)
	require.NoError(t, err)

	first, err := DeriveHash("correct horse battery staple", prefix)
	require.NoError(t, err)
	second, err := DeriveHash("correct horse battery staple", prefix)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The derived hash embeds its own prefix, so a later login can
	// recompute it from the lookup response alone.
	assert.True(t, strings.HasPrefix(first, prefix))
	assert.Len(t, first, PrefixLen+43)
}

func TestDeriveHashDependsOnPasswordAndSalt(t *testing.T) {
	prefixA, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	prefixB, err := NewPrefix(testClientCost)
	require.NoError(t, err)

	fromA, err := DeriveHash("hunter2", prefixA)
	require.NoError(t, err)
	fromB, err := DeriveHash("hunter2", prefixB)
	require.NoError(t, err)
	assert.NotEqual(t, fromA, fromB, "different salts must derive different hashes")

	other, err := DeriveHash("hunter3", prefixA)
	require.NoError(t, err)
	assert.NotEqual(t, fromA, other, "different passwords must derive different hashes")
}

func TestDeriveHashRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{
		"",
		"$p5$04$tooshort",
		"$2b$12$abcdefghijklmnopqrstuv",       // wrong scheme tag
		"$p5$xx$AAAAAAAAAAAAAAAAAAAAAA",       // non-numeric cost
		"$p5$04$AAAAAAAAAAAAAAAAAAAAAA$extra", // trailing garbage
		"$p5$04$AAAAAAAAAAAAAAAAAAAA!A",       // invalid base64 character
	} {
		_, err := DeriveHash("pw", prefix)
		assert.ErrorIs(t, err, ErrMalformedHash, "prefix %q", prefix)
	}
}

func TestCreateCredentialAndVerify(t *testing.T) {
	m := NewManager(testServerCost)

	prefix, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	preHash, err := DeriveHash("s3cret", prefix)
	require.NoError(t, err)

	cred, err := m.CreateCredential(preHash)
	require.NoError(t, err)
	assert.Equal(t, prefix, cred.ClientPrefix)
	assert.NotContains(t, string(cred.ServerHash), preHash, "server hash must not embed the pre-hash")

	assert.True(t, m.Verify(cred.ServerHash, preHash))

	wrong, err := DeriveHash("not-s3cret", prefix)
	require.NoError(t, err)
	assert.False(t, m.Verify(cred.ServerHash, wrong))
}

func TestCreateCredentialRejectsMalformedHash(t *testing.T) {
	m := NewManager(testServerCost)
	// A bare prefix, a plaintext password, and a hash one character
	// short are all rejected before any bcrypt work happens.
	for _, clientHash := range []string{
		"",
		"plaintext password",
		"$p5$04$AAAAAAAAAAAAAAAAAAAAAA",
		"$p5$04$AAAAAAAAAAAAAAAAAAAAAA" + strings.Repeat("B", 42),
	} {
		_, err := m.CreateCredential(clientHash)
		assert.ErrorIs(t, err, ErrMalformedHash, "hash %q", clientHash)
	}
}

func TestNewManagerClampsCost(t *testing.T) {
	// Out-of-range costs fall back rather than failing every credential.
	m := NewManager(99)
	prefix, err := NewPrefix(testClientCost)
	require.NoError(t, err)
	preHash, err := DeriveHash("pw", prefix)
	require.NoError(t, err)
	_, err = m.CreateCredential(preHash)
	assert.NoError(t, err)
}
