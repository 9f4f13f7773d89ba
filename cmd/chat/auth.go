package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(registerCmd, loginCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register [username] [password]",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPI().Register(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✅ registered %s\n", args[0])
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [username] [password]",
	Short: "Log in and print an access token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPI().Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("export CHAT_TOKEN=%s\n", resp.AccessToken)
		return nil
	},
}
