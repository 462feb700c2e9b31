package escrow

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKeyPair(t *testing.T) (pub []byte, priv []byte, chainCode []byte) {
	t.Helper()
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	chainCode = make([]byte, 32)
	for i := range chainCode {
		chainCode[i] = byte(i + 1)
	}
	return privKey.PubKey().SerializeCompressed(), privKey.Serialize(), chainCode
}

func TestChildPublicKeyRejectsWrongSizes(t *testing.T) {
	deriver := NewKeyDeriver(true)

	_, err := deriver.ChildPublicKey(make([]byte, 10), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "33 bytes")

	_, err = deriver.ChildPublicKey(make([]byte, 33), make([]byte, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestChildPrivateKeyRejectsWrongSizes(t *testing.T) {
	deriver := NewKeyDeriver(true)

	_, err := deriver.ChildPrivateKey(make([]byte, 10), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	_, err = deriver.ChildPrivateKey(make([]byte, 32), make([]byte, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestChildKeyDerivationIsDeterministic(t *testing.T) {
	masterPub, masterPriv, chainCode := testMasterKeyPair(t)
	deriver := NewKeyDeriver(true)

	childPub1, err := deriver.ChildPublicKey(masterPub, chainCode)
	require.NoError(t, err)
	childPub2, err := deriver.ChildPublicKey(masterPub, chainCode)
	require.NoError(t, err)
	assert.Equal(t, childPub1, childPub2)
	assert.Len(t, childPub1, 33)

	childPriv, err := deriver.ChildPrivateKey(masterPriv, chainCode)
	require.NoError(t, err)
	assert.Equal(t, childPub1, childPriv.PubKey().SerializeCompressed(),
		"the public child key derived from the master pubkey must match the "+
			"public key of the private child key derived from the master privkey")
}

func TestChildKeyDerivationVariesWithChainCode(t *testing.T) {
	masterPub, _, _ := testMasterKeyPair(t)
	deriver := NewKeyDeriver(true)

	chainCodeA := make([]byte, 32)
	chainCodeB := make([]byte, 32)
	chainCodeB[0] = 0xff

	childA, err := deriver.ChildPublicKey(masterPub, chainCodeA)
	require.NoError(t, err)
	childB, err := deriver.ChildPublicKey(masterPub, chainCodeB)
	require.NoError(t, err)
	assert.NotEqual(t, childA, childB)
}

func TestNewKeyDeriverSelectsNetworkParams(t *testing.T) {
	mainnet := NewKeyDeriver(false)
	testnet := NewKeyDeriver(true)
	assert.NotEqual(t, mainnet.params.Net, testnet.params.Net)
}
