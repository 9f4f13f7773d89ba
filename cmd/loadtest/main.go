package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"llm-chat/internal/chat"
	"llm-chat/internal/client"
	"llm-chat/internal/logger"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "chat server base url")
	userCount = flag.Int("users", 50, "number of concurrent users") // ⚠️ Start small; every message is an upstream completion.
	msgCount  = flag.Int("msgs", 5, "messages per user")
	parallel  = flag.Int("parallel", 20, "users running at once")
)

type counters struct {
	sent, failed, pushes, notModified atomic.Int64
}

func main() {
	flag.Parse()
	log, err := logger.New("dev")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("🔥 starting load test", "users", *userCount, "msgs", *msgCount)
	start := time.Now()

	var c counters
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*parallel)
	for i := 0; i < *userCount; i++ {
		id := i
		g.Go(func() error {
			if err := runUser(ctx, id, &c); err != nil {
				log.Warn("❌ user failed", "user", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("✅ load test complete",
		"duration", time.Since(start),
		"sent", c.sent.Load(),
		"failed", c.failed.Load(),
		"ws_pushes", c.pushes.Load(),
		"not_modified", c.notModified.Load(),
	)
}

// runUser registers (ignoring "taken"), logs in, watches its websocket and
// sends msgCount messages, then checks that history revalidates to a 304.
func runUser(ctx context.Context, id int, c *counters) error {
	username := fmt.Sprintf("lt_user_%d", id)
	const pass = "password123"

	api := client.NewAPI(*baseURL, "")
	_ = api.Register(ctx, username, pass)
	if _, err := api.Login(ctx, username, pass); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + api.Token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	defer conn.Close()
	go func() {
		for {
			var ev chat.Invalidation
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			c.pushes.Add(1)
		}
	}()

	session := client.NewSession(api)
	for i := 0; i < *msgCount; i++ {
		if err := session.Send(ctx, fmt.Sprintf("LoadTest msg %d from %s", i, username)); err != nil {
			c.failed.Add(1)
			continue
		}
		c.sent.Add(1)
	}

	page, err := api.History(ctx, "")
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	again, err := api.History(ctx, page.ETag)
	if err != nil {
		return fmt.Errorf("history revalidate: %w", err)
	}
	if again.NotModified {
		c.notModified.Add(1)
	}
	return nil
}
