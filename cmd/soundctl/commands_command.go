package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/commands"
)

func newCommandsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List, import and export chat commands",
	}
	cmd.AddCommand(newCommandsListCommand(ctx))
	cmd.AddCommand(newCommandsImportCommand(ctx))
	cmd.AddCommand(newCommandsExportCommand(ctx))
	return cmd
}

func newCommandsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the command list in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				reg, err := d.registry(cmd.Context())
				if err != nil {
					return err
				}
				cmds := reg.List()
				if asJSON {
					return writeJSON(cmd, cmds)
				}
				if len(cmds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No commands defined")
					return nil
				}
				rows := make([][]string, 0, len(cmds))
				for _, c := range cmds {
					rows = append(rows, []string{
						c.Command,
						string(c.Permission),
						c.Group,
						strconv.Itoa(c.Cost),
						cooldownText(c.Cooldown, c.UserCooldown),
						strconv.Itoa(c.Count),
						c.SoundFile,
						enabledText(c.Enabled),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Command", "Permission", "Group", "Cost", "Cooldown", "Uses", "Sound", "Enabled"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func cooldownText(global, user int) string {
	if global == 0 && user == 0 {
		return "-"
	}
	return fmt.Sprintf("%dm / %dm", global, user)
}

func enabledText(on bool) string {
	if on {
		return "yes"
	}
	return "no"
}

func newCommandsImportCommand(ctx *commandContext) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import commands from a commands.json or .abcomg file",
		Long: "Import reads a command list in the commands.json schema. Missing fields get defaults.\n" +
			"Without --replace only commands whose name is not taken are added.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			incoming, err := commands.ImportLegacy(f)
			if err != nil {
				return err
			}
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				reg, err := d.registry(cmd.Context())
				if err != nil {
					return err
				}
				added, skipped := 0, 0
				if replace {
					if err := reg.Replace(incoming); err != nil {
						return err
					}
					added = len(incoming)
				} else {
					for _, c := range incoming {
						if _, ok := reg.Lookup(c.Command); ok {
							skipped++
							continue
						}
						c.Count = 0
						if err := reg.Add(c); err != nil {
							return err
						}
						added++
					}
				}
				res, err := d.saver(reg).Save(cmd.Context(), backup.ModeManual)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d commands, skipped %d\n", added, skipped)
				if res.Backup != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Backup %s\n", res.Backup)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the whole list instead of merging")
	return cmd
}

func newCommandsExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the command list to FILE, or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				reg, err := d.registry(cmd.Context())
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if len(args) == 1 && args[0] != "-" {
					f, err := os.Create(args[0])
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				return commands.ExportLegacy(w, reg.List())
			})
		},
	}
}
