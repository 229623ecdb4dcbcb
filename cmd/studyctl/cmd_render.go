package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"studyguide-backend/internal/render"
	"studyguide-backend/internal/studyguide"
)

func newRenderCmd() *cobra.Command {
	var guide bool

	cmd := &cobra.Command{
		Use:   "render [FILE]",
		Short: "Render markdown to sanitized HTML",
		Long: `Render markdown input to sanitized HTML.

With --guide the input is a study guide JSON document and every markdown
field is rendered the way the API serves it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if guide {
				return renderGuide(cmd.OutOrStdout(), data)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), render.Markdown(string(data)))
			return err
		},
	}

	cmd.Flags().BoolVar(&guide, "guide", false, "input is a study guide JSON document")
	return cmd
}

func renderGuide(w io.Writer, data []byte) error {
	var result studyguide.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("decode study guide: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(render.Result(result))
}
