package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onnwee/sound-tender/backup"
)

func newBackupsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Browse and restore command snapshots",
	}
	cmd.AddCommand(newBackupsListCommand(ctx))
	cmd.AddCommand(newBackupsRestoreCommand(ctx))
	return cmd
}

func newBackupsListCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" && kind != backup.KindCommands && kind != backup.KindUsers {
				return fmt.Errorf("--kind must be %s or %s", backup.KindCommands, backup.KindUsers)
			}
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				snaps, err := d.rotator().List(kind)
				if err != nil {
					return err
				}
				if asJSON {
					if snaps == nil {
						snaps = []backup.Snapshot{}
					}
					return writeJSON(cmd, snaps)
				}
				if len(snaps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No backups")
					return nil
				}
				rows := make([][]string, 0, len(snaps))
				for _, s := range snaps {
					rows = append(rows, []string{
						s.Name,
						s.Kind,
						s.Time.Format("2006-01-02 15:04:05"),
						humanize.Time(s.Time),
						humanize.IBytes(uint64(max(s.Size, 0))),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Kind", "Taken", "Age", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only commands or users snapshots")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newBackupsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore NAME",
		Short: "Replace the command list with a commands snapshot",
		Long:  "The current list is kept in command_history/commands_before_restore.json.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				reg, err := d.registry(cmd.Context())
				if err != nil {
					return err
				}
				cmds, err := d.saver(reg).Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %d commands from %s\n", len(cmds), args[0])
				return nil
			})
		},
	}
}
