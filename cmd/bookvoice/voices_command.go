package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookvoice/internal/services/speech"
)

func newVoicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "voices",
		Short:       "List the prebuilt narration voices",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices := speech.Voices()
			if ctx.jsonOutput() {
				return writeJSON(cmd, voices)
			}
			def := speech.DefaultVoice
			if cfg, err := ctx.ensureConfig(); err == nil && cfg.Speech.DefaultVoice != "" {
				def = speech.CanonicalVoice(cfg.Speech.DefaultVoice)
			}
			out := cmd.OutOrStdout()
			for _, v := range voices {
				if v == def {
					fmt.Fprintf(out, "%s (default)\n", v)
					continue
				}
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
}
