package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var digitalOutCmd = &cobra.Command{
	Use:   "digital_out <song-file>",
	Short: "Decrypt a song into a .dout file",
	Long: `digital_out drives the same chunk pipeline as play, but collects the
decrypted chunks in an in-memory capture sink instead of an audio device
and then writes them to <digital_out_dir>/<song-file>.dout. The decrypted
PCM does not pass through the channel's payload buffer. The preview cap
is never enforced, regardless of policy verdict.`,
	Args: cobra.ExactArgs(1),
	RunE: runDigitalOut,
}

func init() {
	rootCmd.AddCommand(digitalOutCmd)
}

func runDigitalOut(cmd *cobra.Command, args []string) error {
	if err := app.play(args[0], true); err != nil {
		return fmt.Errorf("digital_out failed: %w", err)
	}
	return nil
}
