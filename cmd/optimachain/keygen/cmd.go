package keygen

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/crypto/address"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generates a validator key pair",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return generate(c.OutOrStdout())
		},
	}
}

// generate writes a fresh key pair. The public key goes into the genesis
// section of the config; the seed must be kept secret.
func generate(w io.Writer) error {
	priv, err := crypto.NewPrivateKey()
	if err != nil {
		return err
	}
	addr, err := address.Encode(address.FromPublicKey(priv.PublicKey()))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "address: %s\npublic_key: %s\nseed: %s\n", addr, priv.PublicKey(), hex.EncodeToString(priv.Seed()))
	return err
}
