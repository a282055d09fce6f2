package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/onnwee/sound-tender/currency"
)

type rankedUser struct {
	Name string `json:"name"`
	currency.User
}

func newUsersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect the points economy",
	}
	cmd.AddCommand(newUsersTopCommand(ctx))
	return cmd
}

func newUsersTopCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank viewers by points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withData(cmd.Context(), func(d *dataset) error {
				m := currency.NewManager(d.backend, nil)
				if err := m.Load(cmd.Context()); err != nil {
					return err
				}
				top := topUsers(m.Users(), limit)
				if asJSON {
					return writeJSON(cmd, top)
				}
				if len(top) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No users")
					return nil
				}
				name := m.Settings().CurrencyName
				rows := make([][]string, 0, len(top))
				for i, u := range top {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						u.Name,
						humanize.CommafWithDigits(u.Points, 2),
						currency.FormatHours(u.Hours),
						u.Rank,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"#", "User", name, "Watched", "Rank"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of users to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// topUsers orders by points, then hours, then name.
func topUsers(users map[string]currency.User, limit int) []rankedUser {
	out := make([]rankedUser, 0, len(users))
	for name, u := range users {
		out = append(out, rankedUser{Name: name, User: u})
	}
	slices.SortFunc(out, func(a, b rankedUser) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Hours, a.Hours); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
