// Command benchmark drives a running server with concurrent sessions
// and measures relay throughput: every client sends a batch of messages
// and the run completes when every client has observed every message.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codehive-dev/codehive/pkg/client"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:3000", "Server base URL")
		projectID  = flag.String("project", "", "Project id to join")
		tokens     = flag.String("tokens", "", "Comma-separated credentials, one session per token")
		messages   = flag.Int("messages", 100, "Messages sent per session")
		timeout    = flag.Duration("timeout", 2*time.Minute, "Overall run timeout")
		jsonOutput = flag.Bool("json", false, "Emit the report as JSON")
	)
	flag.Parse()

	if *projectID == "" || *tokens == "" {
		fmt.Fprintln(os.Stderr, "both -project and -tokens are required")
		os.Exit(2)
	}

	creds := splitTokens(*tokens)
	if len(creds) < 2 {
		fmt.Fprintln(os.Stderr, "at least two tokens are needed to measure relay")
		os.Exit(2)
	}

	report, err := run(*serverURL, *projectID, creds, *messages, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	fmt.Printf("sessions:        %d\n", report.Sessions)
	fmt.Printf("messages sent:   %d\n", report.MessagesSent)
	fmt.Printf("deliveries:      %d\n", report.Deliveries)
	fmt.Printf("elapsed:         %s\n", report.Elapsed)
	fmt.Printf("throughput:      %.1f msg/s\n", report.Throughput)
}

// Report summarizes one load run.
type Report struct {
	Sessions     int           `json:"sessions"`
	MessagesSent int           `json:"messagesSent"`
	Deliveries   int           `json:"deliveries"`
	Elapsed      time.Duration `json:"elapsed"`
	Throughput   float64       `json:"throughputPerSecond"`
}

func run(serverURL, projectID string, creds []string, perSession int, timeout time.Duration) (*Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clients := make([]*client.Client, 0, len(creds))
	for i, cred := range creds {
		c, err := client.Dial(ctx, serverURL, projectID, cred)
		if err != nil {
			return nil, fmt.Errorf("dial session %d: %w", i, err)
		}
		defer c.Close()
		clients = append(clients, c)
	}

	start := time.Now()

	g, _ := errgroup.WithContext(ctx)
	for i, c := range clients {
		g.Go(func() error {
			for n := 0; n < perSession; n++ {
				if err := c.Send(fmt.Sprintf("bench %d/%d", i, n)); err != nil {
					return fmt.Errorf("session %d send: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Every ledger converges on the full message count: a session's own
	// sends plus everyone else's relayed messages.
	total := len(clients) * perSession
	for i, c := range clients {
		for len(c.Messages()) < total {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("session %d saw %d/%d messages before timeout", i, len(c.Messages()), total)
			case <-time.After(20 * time.Millisecond):
			}
		}
	}

	elapsed := time.Since(start)
	sent := total
	deliveries := sent * (len(clients) - 1)
	return &Report{
		Sessions:     len(clients),
		MessagesSent: sent,
		Deliveries:   deliveries,
		Elapsed:      elapsed,
		Throughput:   float64(sent) / elapsed.Seconds(),
	}, nil
}

func splitTokens(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
