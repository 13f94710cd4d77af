package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Secp256k1} {
		t.Run(string(scheme), func(t *testing.T) {
			key, err := GeneratePrivateKey(scheme)
			require.NoError(t, err)

			content, err := DigestJSON(map[string]any{"hello": "world"})
			require.NoError(t, err)

			sig, err := Sign(key, content)
			require.NoError(t, err)
			require.NoError(t, Verify(key.KeyIdentifier(), content, sig))

			other, err := GeneratePrivateKey(scheme)
			require.NoError(t, err)
			require.Error(t, Verify(other.KeyIdentifier(), content, sig))
		})
	}
}

func TestDigestEquality(t *testing.T) {
	a, err := DigestJSON([]int{1, 2, 3})
	require.NoError(t, err)
	b, err := DigestJSON([]int{1, 2, 3})
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	c, err := DigestJSON([]int{1, 2, 4})
	require.NoError(t, err)
	require.False(t, a.Equal(c))
	require.NotEqual(t, 0, a.Compare(c))
}

func TestKeystoreRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Secp256k1} {
		t.Run(string(scheme), func(t *testing.T) {
			key, err := GeneratePrivateKey(scheme)
			require.NoError(t, err)

			path := t.TempDir() + "/key.json"
			require.NoError(t, SaveToKeystore(path, key, "passphrase"))

			loaded, err := LoadFromKeystore(path, "passphrase")
			require.NoError(t, err)
			require.Equal(t, key.KeyIdentifier(), loaded.KeyIdentifier())
		})
	}
}
