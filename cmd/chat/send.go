package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"llm-chat/internal/client"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:     "send [message]",
	Short:   "Send one message and stream the reply",
	Args:    cobra.MinimumNArgs(1),
	PreRunE: requireToken,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &streamPrinter{}
		session := client.NewSession(newAPI(), client.WithOnChange(p.update))
		if _, err := session.Load(cmd.Context(), false); err != nil {
			return err
		}
		err := session.Send(cmd.Context(), strings.Join(args, " "))
		p.end()
		return err
	},
}

// streamPrinter writes the growing streaming placeholder to stdout as
// new text arrives.
type streamPrinter struct {
	printed int
	active  bool
}

func (p *streamPrinter) update(list []client.Message) {
	for _, m := range list {
		if m.ID != client.StreamingID {
			continue
		}
		if !p.active {
			fmt.Print("assistant: ")
			p.active = true
		}
		if len(m.Content) > p.printed {
			fmt.Print(m.Content[p.printed:])
			p.printed = len(m.Content)
		}
		return
	}
}

func (p *streamPrinter) end() {
	if p.active {
		fmt.Println()
	}
	p.printed = 0
	p.active = false
}
