package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/sound-tender/credentials"
	"github.com/onnwee/sound-tender/crypto"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage twitch_config.json",
	}
	cmd.AddCommand(newCredentialsSealCommand(ctx))
	return cmd
}

func newCredentialsSealCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Encrypt plaintext tokens with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				if d.env.EncryptionKey == "" {
					return errors.New("ENCRYPTION_KEY is not set")
				}
				enc, err := crypto.NewAESEncryptor(d.env.EncryptionKey)
				if err != nil {
					return err
				}
				s := credentials.NewStore(d.files, enc)
				c, err := s.Load(cmd.Context())
				if errors.Is(err, credentials.ErrMissing) {
					return fmt.Errorf("no credentials in %s", d.env.DataDir)
				}
				if err != nil {
					return err
				}
				if err := s.Save(cmd.Context(), c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Credentials sealed (access token %s)\n", credentials.Mask(c.AccessToken))
				return nil
			})
		},
	}
}
