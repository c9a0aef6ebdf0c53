package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <pin>",
	Short: "Authenticate a provisioned user against the secure module",
	Long: `login sends LOGIN through the command channel. The secure module
verifies the pin against the provisioned salted hash in constant time; on
failure the channel's username and pin fields are zeroized before the
error is reported.`,
	Args: cobra.ExactArgs(2),
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	username, pin := args[0], args[1]
	if err := app.login(username, pin); err != nil {
		return fmt.Errorf("login denied: %w", err)
	}
	fmt.Printf("logged in as %s\n", username)
	return nil
}
