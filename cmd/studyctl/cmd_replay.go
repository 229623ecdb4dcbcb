package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/studyguide"
)

func newReplayCmd() *cobra.Command {
	var chunk int
	var finalOnly bool

	cmd := &cobra.Command{
		Use:   "replay [FILE]",
		Short: "Replay recorded model output through the reconstructor",
		Long: `Split a recorded model response into fragments and feed them through
the same consume loop the API uses, printing one line per snapshot.

Examples:
  studyctl replay capture.txt --chunk 8
  studyctl replay capture.txt --final`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return runReplay(cmd, string(data), chunk, finalOnly)
		},
	}

	cmd.Flags().IntVarP(&chunk, "chunk", "c", 24, "fragment size in bytes")
	cmd.Flags().BoolVar(&finalOnly, "final", false, "print only the final snapshot")
	return cmd
}

type replayLine struct {
	Fragment    int    `json:"fragment"`
	Summary     bool   `json:"summary"`
	KeyConcepts int    `json:"keyConcepts"`
	Questions   int    `json:"questions"`
	Title       string `json:"title,omitempty"`
}

func runReplay(cmd *cobra.Command, text string, chunk int, finalOnly bool) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	stream := llm.SliceStream(studyguide.SplitFragments(text, chunk), nil)
	defer stream.Close()

	final, err := studyguide.Consume(cmd.Context(), stream, func(snapshot studyguide.AnalysisResult, fragments int) {
		if finalOnly {
			return
		}
		_ = enc.Encode(replayLine{
			Fragment:    fragments,
			Summary:     snapshot.Summary != "",
			KeyConcepts: len(snapshot.KeyConcepts),
			Questions:   len(snapshot.Questions),
		})
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	enc.SetIndent("", "  ")
	return enc.Encode(final)
}
