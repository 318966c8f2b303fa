package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/pipeline"
	"fieldnotes/internal/store"
	"fieldnotes/internal/transcript"
)

type analyzeFlags struct {
	owner           string
	project         int64
	interviewer     string
	date            string
	title           string
	format          string
	personaIDs      []int64
	suggestPersonas bool
	dryRun          bool
	jsonOutput      bool
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Analyze an interview transcript and save the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, name, err := readTranscriptArg(cmd, args[0])
			if err != nil {
				return err
			}
			req, err := buildAnalyzeRequest(ctx, cmd, flags, content, name)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, _ *store.Store) error {
				resp, runErr := svc.Analyze(cmd.Context(), req)
				if flags.jsonOutput {
					if resp != nil && resp.Result != nil {
						if err := writeJSON(cmd, resp); err != nil {
							return err
						}
					}
					return runErr
				}
				if resp != nil && resp.Result != nil {
					printAnalysis(cmd.OutOrStdout(), resp, shouldColorize(cmd.OutOrStdout()))
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&flags.owner, "owner", "", "Owner the interview is saved under (default from config)")
	cmd.Flags().Int64Var(&flags.project, "project", 0, "Project id to attach the interview to")
	cmd.Flags().StringVar(&flags.interviewer, "interviewer", "", "Interviewer name")
	cmd.Flags().StringVar(&flags.date, "date", "", "Interview date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.title, "title", "", "Interview title (default derived from the analysis)")
	cmd.Flags().StringVar(&flags.format, "format", "auto", "Transcript format: auto, vtt or plain")
	cmd.Flags().Int64SliceVar(&flags.personaIDs, "persona", nil, "Persona id to link (repeatable)")
	cmd.Flags().BoolVar(&flags.suggestPersonas, "suggest-personas", false, "Ask the model to match or suggest personas")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Analyze without saving")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the full result as JSON")
	return cmd
}

func readTranscriptArg(cmd *cobra.Command, arg string) ([]byte, string, error) {
	if strings.TrimSpace(arg) == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		return content, "", nil
	}
	content, err := os.ReadFile(arg)
	if err != nil {
		return nil, "", fmt.Errorf("read transcript: %w", err)
	}
	return content, filepath.Base(arg), nil
}

func buildAnalyzeRequest(ctx *commandContext, cmd *cobra.Command, flags analyzeFlags, content []byte, name string) (pipeline.Request, error) {
	format, err := transcript.ParseFormat(flags.format)
	if err != nil {
		return pipeline.Request{}, err
	}
	if format == transcript.FormatAuto && strings.EqualFold(filepath.Ext(name), ".vtt") {
		format = transcript.FormatVTT
	}

	suggest := flags.suggestPersonas
	if !cmd.Flags().Changed("suggest-personas") {
		if cfg, err := ctx.ensureConfig(); err == nil {
			suggest = cfg.Analysis.SuggestPersonas
		}
	}

	req := pipeline.Request{
		Content:         content,
		Format:          format,
		OwnerID:         ctx.ownerOrDefault(flags.owner),
		Interviewer:     strings.TrimSpace(flags.interviewer),
		InterviewDate:   strings.TrimSpace(flags.date),
		Title:           strings.TrimSpace(flags.title),
		PersonaIDs:      flags.personaIDs,
		SuggestPersonas: suggest,
		DryRun:          flags.dryRun,
	}
	if flags.project > 0 {
		project := flags.project
		req.ProjectID = &project
	} else if flags.project < 0 {
		return pipeline.Request{}, errors.New("--project must be a positive id")
	}
	return req, nil
}

func printAnalysis(out io.Writer, resp *pipeline.Response, colorize bool) {
	result := resp.Result

	rows := make([][]string, 0, len(result.ProblemAreas))
	for _, pa := range result.ProblemAreas {
		rows = append(rows, []string{pa.ProblemID, pa.Title, strconv.Itoa(len(pa.Excerpts))})
	}
	fmt.Fprintln(out, renderHeading("Problem areas", colorize))
	fmt.Fprintln(out, renderTable([]string{"ID", "Title", "Excerpts"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))

	if result.Synthesis != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderHeading("Background", colorize))
		fmt.Fprintln(out, result.Synthesis.Background)
		if len(result.Synthesis.NextSteps) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderHeading("Next steps", colorize))
			for _, step := range result.Synthesis.NextSteps {
				fmt.Fprintf(out, "  - %s\n", step)
			}
		}
	}

	if resp.Personas != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderHeading("Personas", colorize))
		fmt.Fprintf(out, "  Matched: %s\n", joinIDs(resp.Personas.ExistingPersonaIDs))
		fmt.Fprintf(out, "  Suggested: %s\n", strings.Join(resp.Personas.SuggestedNewPersonas, ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, summaryLine(resp, colorize))
}

func summaryLine(resp *pipeline.Response, colorize bool) string {
	result := resp.Result
	detail := fmt.Sprintf("%d problem areas, %d excerpts from %d chunks",
		result.Metadata.ProblemAreasCount, result.Metadata.ExcerptsCount, result.Metadata.TranscriptLength)
	if resp.Truncated {
		detail += " (transcript truncated)"
	}
	switch {
	case result.Storage != nil:
		return renderStatusLine("Saved", statusOK, fmt.Sprintf("interview %d: %s", result.Storage.ID, detail), colorize)
	case resp.Outcome == analysis.OutcomeSuccess:
		return renderStatusLine("Not saved", statusInfo, detail, colorize)
	default:
		return renderStatusLine("Incomplete", statusWarn, detail, colorize)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}
