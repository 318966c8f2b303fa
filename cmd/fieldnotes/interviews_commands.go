package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldnotes/internal/store"
)

func newInterviewsCommand(ctx *commandContext) *cobra.Command {
	interviewsCmd := &cobra.Command{
		Use:     "interviews",
		Aliases: []string{"interview"},
		Short:   "Browse saved interviews",
	}
	interviewsCmd.AddCommand(newInterviewsListCommand(ctx))
	interviewsCmd.AddCommand(newInterviewsShowCommand(ctx))
	return interviewsCmd
}

func newInterviewsListCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent interviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				interviews, err := st.ListInterviews(cmd.Context(), ctx.ownerOrDefault(owner), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, interviews)
				}
				out := cmd.OutOrStdout()
				if len(interviews) == 0 {
					fmt.Fprintln(out, "No interviews saved")
					return nil
				}
				rows := make([][]string, 0, len(interviews))
				for _, iv := range interviews {
					date := iv.InterviewDate
					if date == "" {
						date = iv.CreatedAt.Local().Format("2006-01-02")
					}
					rows = append(rows, []string{
						strconv.FormatInt(iv.ID, 10),
						iv.Title,
						date,
						strconv.Itoa(iv.ProblemCount),
						strconv.Itoa(iv.ExcerptCount),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Date", "Problems", "Excerpts"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner to list (default from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum interviews to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print interviews as JSON")
	return cmd
}

func newInterviewsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one interview with its problem areas and excerpts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid interview id %q", args[0])
			}
			return ctx.withStore(func(st *store.Store) error {
				tree, err := st.InterviewTree(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, tree)
				}
				printInterviewTree(cmd.OutOrStdout(), tree, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the stored tree as JSON")
	return cmd
}

func printInterviewTree(out io.Writer, tree *store.InterviewTree, colorize bool) {
	iv := tree.Interview
	fmt.Fprintln(out, renderHeading(fmt.Sprintf("%d. %s", iv.ID, iv.Title), colorize))
	if iv.Interviewer != "" {
		fmt.Fprintf(out, "  Interviewer: %s\n", iv.Interviewer)
	}
	if iv.InterviewDate != "" {
		fmt.Fprintf(out, "  Date: %s\n", iv.InterviewDate)
	}
	fmt.Fprintf(out, "  Chunks: %d\n", iv.TranscriptLength)
	if len(tree.Personas) > 0 {
		names := make([]string, 0, len(tree.Personas))
		for _, p := range tree.Personas {
			names = append(names, p.Name)
		}
		fmt.Fprintf(out, "  Personas: %s\n", strings.Join(names, ", "))
	}

	for _, pa := range tree.ProblemAreas {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderHeading(pa.Title, colorize))
		if pa.Description != "" {
			fmt.Fprintf(out, "  %s\n", pa.Description)
		}
		for _, ex := range pa.Excerpts {
			fmt.Fprintf(out, "  [%d] %q (%s)\n", ex.ChunkNumber, ex.Quote, strings.Join(ex.Categories, ", "))
		}
	}
}
