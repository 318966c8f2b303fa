package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldnotes/internal/store"
)

func newPersonasCommand(ctx *commandContext) *cobra.Command {
	var owner string

	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage personas",
	}
	personasCmd.PersistentFlags().StringVar(&owner, "owner", "", "Persona owner (default from config)")

	var jsonOutput bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				personas, err := st.ListPersonas(cmd.Context(), ctx.ownerOrDefault(owner))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, personas)
				}
				out := cmd.OutOrStdout()
				if len(personas) == 0 {
					fmt.Fprintln(out, "No personas yet")
					return nil
				}
				rows := make([][]string, 0, len(personas))
				for _, p := range personas {
					rows = append(rows, []string{
						strconv.FormatInt(p.ID, 10),
						p.Name,
						p.Color,
						p.CreatedAt.Local().Format("2006-01-02"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Name", "Color", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print personas as JSON")

	var color string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a persona",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return ctx.withStore(func(st *store.Store) error {
				persona, err := st.CreatePersona(cmd.Context(), ctx.ownerOrDefault(owner), name, color)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created persona %d %q (%s)\n", persona.ID, persona.Name, persona.Color)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&color, "color", "", "Display colour as #RRGGBB (default picked from the palette)")

	personasCmd.AddCommand(listCmd, addCmd)
	return personasCmd
}
