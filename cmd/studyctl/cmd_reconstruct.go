package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"studyguide-backend/internal/studyguide"
)

func newReconstructCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "reconstruct [FILE]",
		Short: "Reconstruct a study guide from partial model output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			result := studyguide.Reconstruct(string(data))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(result)
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "single-line JSON")
	return cmd
}
