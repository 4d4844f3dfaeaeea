package crypto

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/optimachain/optimachain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyGeneration(t *testing.T) {
	privKey, err := NewPrivateKey()
	require.NoError(t, err)
	require.NotNil(t, privKey)
	assert.False(t, privKey.PublicKey().IsZero())
}

func TestSignAndVerify(t *testing.T) {
	privKey, err := NewPrivateKey()
	require.NoError(t, err)
	svc := NewService()

	msg := []byte("block header")
	sig := svc.Sign(privKey, msg)

	assert.True(t, svc.Verify(privKey.PublicKey(), msg, sig))
	assert.False(t, svc.Verify(privKey.PublicKey(), []byte("tampered"), sig))

	other, err := NewPrivateKey()
	require.NoError(t, err)
	assert.False(t, svc.Verify(other.PublicKey(), msg, sig))
}

func TestPrivateKeyFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, SeedSize)
	a, err := PrivateKeyFromSeed(seed)
	require.NoError(t, err)
	b, err := PrivateKeyFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, seed, a.Seed())

	_, err = PrivateKeyFromSeed([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFixedSizeDecoding(t *testing.T) {
	t.Run("public key round trip", func(t *testing.T) {
		privKey, err := NewPrivateKey()
		require.NoError(t, err)
		data, err := cbor.Marshal(privKey.PublicKey())
		require.NoError(t, err)

		var decoded PublicKey
		require.NoError(t, cbor.Unmarshal(data, &decoded))
		assert.Equal(t, privKey.PublicKey(), decoded)
	})

	t.Run("short public key rejected", func(t *testing.T) {
		data, err := cbor.Marshal(make([]byte, 31))
		require.NoError(t, err)
		var decoded PublicKey
		err = cbor.Unmarshal(data, &decoded)
		assert.ErrorIs(t, err, shared.ErrSerializationFailure)
	})

	t.Run("long signature rejected", func(t *testing.T) {
		data, err := cbor.Marshal(make([]byte, 65))
		require.NoError(t, err)
		var decoded Signature
		err = cbor.Unmarshal(data, &decoded)
		assert.ErrorIs(t, err, shared.ErrSerializationFailure)
	})

	t.Run("hex text", func(t *testing.T) {
		privKey, err := NewPrivateKey()
		require.NoError(t, err)
		text, err := privKey.PublicKey().MarshalText()
		require.NoError(t, err)
		var decoded PublicKey
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, privKey.PublicKey(), decoded)
	})
}

func TestPublicKeyCompare(t *testing.T) {
	low := PublicKey{0x01}
	high := PublicKey{0x02}
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))
}
