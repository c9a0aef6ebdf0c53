package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <song-file>",
	Short: "Decrypt and stream a song's PCM to the audio sink",
	Long: `play drives the full chunk pipeline: it authenticates the file's header
and metadata, asks the secure module for a policy verdict, then decrypts
and streams chunks until end of file or a control signal interrupts it.
While playing, type pause, resume (or play), restart, or stop on stdin to
control the session; a Preview verdict caps playback at the 30-second
preview window.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := app.play(args[0], false); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}
	return nil
}
