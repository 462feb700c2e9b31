package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveChildPublicKeyIsDeterministic(t *testing.T) {
	masterPub := make([]byte, ed25519.PublicKeySize)
	for i := range masterPub {
		masterPub[i] = byte(i + 1)
	}
	chainCode := make([]byte, 32)
	for i := range chainCode {
		chainCode[i] = byte(i * 3)
	}

	first, err := DeriveChildPublicKey(masterPub, chainCode)
	require.NoError(t, err)
	second, err := DeriveChildPublicKey(masterPub, chainCode)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, ed25519.PublicKeySize)
}

func TestDeriveChildPublicKeyVariesWithChainCode(t *testing.T) {
	masterPub := make([]byte, ed25519.PublicKeySize)
	for i := range masterPub {
		masterPub[i] = byte(i + 1)
	}

	a, err := DeriveChildPublicKey(masterPub, []byte{0x01})
	require.NoError(t, err)
	b, err := DeriveChildPublicKey(masterPub, []byte{0x02})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveChildKeyRejectsEmptyInputs(t *testing.T) {
	_, err := DeriveChildPublicKey(nil, []byte{0x01})
	require.Error(t, err)

	_, err = DeriveChildPublicKey([]byte{0x01}, nil)
	require.Error(t, err)
}

func TestDeriveChildPrivateKeySize(t *testing.T) {
	masterPriv := make([]byte, ed25519.SeedSize)
	chainCode := make([]byte, 32)

	child, err := DeriveChildPrivateKey(masterPriv, chainCode)
	require.NoError(t, err)
	assert.Len(t, child, ed25519.SeedSize)
}
