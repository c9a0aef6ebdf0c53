package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	Long:  `logout sends LOGOUT through the command channel, clearing the secure module's session and zeroizing the channel's credential fields.`,
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := app.logout(); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	fmt.Println("logged out")
	return nil
}
