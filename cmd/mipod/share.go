package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share <song-file> <username>",
	Short: "Grant another provisioned user full playback rights to a song",
	Long: `share sends ENC_SHARE. Only the song's owner may share it, and only to a
provisioned user who does not already hold it; on success the song's
metadata block is re-sealed under a freshly derived nonce and rewritten
to disk in place.`,
	Args: cobra.ExactArgs(2),
	RunE: runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	songFile, target := args[0], args[1]
	if err := app.share(songFile, target); err != nil {
		return fmt.Errorf("share failed: %w", err)
	}
	fmt.Printf("shared %s with %s\n", songFile, target)
	return nil
}
