package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"llm-chat/internal/chat"
	"llm-chat/internal/client"
)

func init() {
	rootCmd.AddCommand(replCmd)
}

var replCmd = &cobra.Command{
	Use:     "repl",
	Short:   "Interactive chat with debug commands",
	Long: `Type a message to send it. Lines starting with / are commands:

  /history      show the last page of the conversation
  /stats        cache hits, misses, state and fingerprint
  /refresh      reload history, bypassing the cache
  /clear-cache  forget the cached history and its fingerprint
  /delete-all   delete every conversation on the server
  /quit         exit`,
	PreRunE: requireToken,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p := &streamPrinter{}
		session := client.NewSession(newAPI(), client.WithOnChange(p.update))

		go watchInvalidations(ctx, session)

		if msgs, err := session.Load(ctx, false); err != nil {
			fmt.Printf("❌ %v\n", err)
		} else {
			printWindow(msgs, client.Tail(len(msgs), 10, 1))
		}

		in := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !in.Scan() {
				return in.Err()
			}
			line := strings.TrimSpace(in.Text())
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "/") {
				err := session.Send(ctx, line)
				p.end()
				if err != nil {
					fmt.Printf("❌ %v\n", err)
				}
				continue
			}
			if quit := runCommand(ctx, session, line); quit {
				return nil
			}
		}
	},
}

func runCommand(ctx context.Context, session *client.Session, line string) bool {
	switch line {
	case "/quit", "/exit":
		return true
	case "/history":
		msgs := session.Messages()
		printWindow(msgs, client.Tail(len(msgs), 20, 1))
	case "/stats":
		printStats(session.Stats())
	case "/refresh":
		msgs, err := session.Load(ctx, true)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return false
		}
		fmt.Printf("🔄 %d messages\n", len(msgs))
	case "/clear-cache":
		session.ClearCache()
		fmt.Println("🧹 cache cleared")
	case "/delete-all":
		if err := session.DeleteAll(ctx); err != nil {
			fmt.Printf("❌ %v\n", err)
			return false
		}
		fmt.Println("🗑️  history deleted")
	default:
		fmt.Printf("unknown command %q\n", line)
	}
	return false
}

func printStats(st client.Stats) {
	fmt.Println("📊 Cache")
	fmt.Printf("  state:      %s\n", st.State)
	fmt.Printf("  hits:       %d\n", st.Hits)
	fmt.Printf("  misses:     %d\n", st.Misses)
	fmt.Printf("  hit rate:   %.0f%%\n", st.HitRate*100)
	fmt.Printf("  etag:       %s\n", orNone(st.ETag))
	fmt.Printf("  age:        %s\n", st.Age.Truncate(time.Second))
	fmt.Printf("  messages:   %d\n", st.MessageCount)
	fmt.Printf("  empty acct: %t\n", st.EmptyAccount)
	fmt.Printf("  sending:    %t\n", st.Sending)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// watchInvalidations marks the cache stale whenever another client of the
// same user changes the history.
func watchInvalidations(ctx context.Context, session *client.Session) {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var ev chat.Invalidation
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		session.InvalidateCache()
	}
}
