package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <song-file>",
	Short: "List a song's owner, provisioned regions, and shared users",
	Long: `query sends QUERY_ENC_SONG after reading the song's header and metadata.
It reports nothing beyond what the currently logged-in session is entitled
to see; with no active session the result is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	res, err := app.query(args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("owner: %s\n", res.Owner)
	fmt.Printf("regions: %v\n", res.Regions)
	fmt.Printf("shared users: %v\n", res.Users)
	return nil
}
