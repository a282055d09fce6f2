package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var dataDirFlag string
	ctx := newCommandContext(&dataDirFlag)

	rootCmd := &cobra.Command{
		Use:           "soundctl",
		Short:         "Offline maintenance for a sound-tender data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureEnv()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&dataDirFlag, "data-dir", "d", "", "Data directory (default $DATA_DIR or ./data)")

	rootCmd.AddCommand(newCommandsCommand(ctx))
	rootCmd.AddCommand(newBackupsCommand(ctx))
	rootCmd.AddCommand(newUsersCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))
	return rootCmd
}
