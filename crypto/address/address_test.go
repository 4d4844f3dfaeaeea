package address

import (
	"strings"
	"testing"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	priv, err := crypto.PrivateKeyFromSeed(make([]byte, crypto.SeedSize))
	require.NoError(t, err)
	id := FromPublicKey(priv.PublicKey())
	assert.Equal(t, id, FromPublicKey(priv.PublicKey()))

	addr, err := Encode(id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, HRP+"1"))
	assert.True(t, Validate(addr))

	decoded, err := Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	upper, err := Parse(strings.ToUpper(addr))
	require.NoError(t, err)
	assert.Equal(t, id, upper)
}

func TestParseHex(t *testing.T) {
	id := types.AccountID{7}
	got, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeErrors(t *testing.T) {
	addr, err := Encode(types.AccountID{1})
	require.NoError(t, err)

	tests := []struct {
		name string
		addr string
	}{
		{"bad checksum", addr[:len(addr)-1] + flip(addr[len(addr)-1])},
		{"foreign prefix", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"},
		{"garbage", "not-an-address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.addr)
			assert.ErrorIs(t, err, shared.ErrSerializationFailure)
			assert.False(t, Validate(tt.addr))
		})
	}
}

func flip(c byte) string {
	if c == 'q' {
		return "p"
	}
	return "q"
}
