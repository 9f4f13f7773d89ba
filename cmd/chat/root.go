package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"llm-chat/internal/client"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for the llm-chat server",
	Long: `chat talks to an llm-chat server: it loads your conversation through
the same cache and conditional revalidation a browser tab uses, streams
replies, and exposes the cache counters for debugging.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("CHAT_SERVER", "http://localhost:8080"), "chat server base url")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("CHAT_TOKEN"), "access token (or CHAT_TOKEN)")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newAPI() *client.API {
	return client.NewAPI(serverURL, token)
}

func requireToken(cmd *cobra.Command, _ []string) error {
	if token == "" {
		return fmt.Errorf("no access token: run `chat login` and export CHAT_TOKEN")
	}
	return nil
}
