package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"llm-chat/internal/client"
)

var (
	historyHeight int
	historyOffset int
)

func init() {
	historyCmd.Flags().IntVar(&historyHeight, "height", 20, "number of messages to show")
	historyCmd.Flags().IntVar(&historyOffset, "offset", -1, "index of the first message to show (default: the last page)")
	rootCmd.AddCommand(historyCmd, deleteAllCmd)
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show the active conversation",
	PreRunE: requireToken,
	RunE: func(cmd *cobra.Command, args []string) error {
		session := client.NewSession(newAPI())
		msgs, err := session.Load(cmd.Context(), false)
		if err != nil {
			return err
		}
		v := client.Tail(len(msgs), historyHeight, 1)
		if historyOffset >= 0 {
			v = client.Viewport{Offset: historyOffset, Height: historyHeight, RowHeight: 1}
		}
		printWindow(msgs, v)
		return nil
	},
}

var deleteAllCmd = &cobra.Command{
	Use:     "delete-all",
	Short:   "Delete every conversation on the server",
	PreRunE: requireToken,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewSession(newAPI()).DeleteAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("🗑️  history deleted")
		return nil
	},
}

// printWindow renders only the messages inside v.
func printWindow(msgs []client.Message, v client.Viewport) {
	if len(msgs) == 0 {
		fmt.Println("(no messages)")
		return
	}
	r := client.Window(len(msgs), v)
	if r.Start > 0 {
		fmt.Printf("… %d earlier\n", r.Start)
	}
	for _, m := range client.Visible(msgs, r) {
		fmt.Println(formatMessage(m))
	}
	if rest := len(msgs) - r.End; rest > 0 {
		fmt.Printf("… %d later\n", rest)
	}
}

func formatMessage(m client.Message) string {
	var b strings.Builder
	if m.Timestamp != nil {
		b.WriteString(m.Timestamp.Local().Format("15:04 "))
	}
	fmt.Fprintf(&b, "%-9s %s", m.Role+":", m.Content)
	switch m.Status {
	case client.StatusPending:
		b.WriteString("  ⏳")
	case client.StatusFailed:
		b.WriteString("  ❌ failed")
	}
	return b.String()
}
