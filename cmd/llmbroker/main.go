// Command llmbroker is an interactive REPL over the broker: streamed chat
// against the configured providers with provider switching, tool execution
// confirmation, and optional Prometheus metrics exposure.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"llmbroker/pkg/broker"
	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/logx"
	"llmbroker/pkg/middleware/metrics"
	"llmbroker/pkg/persistence"
	"llmbroker/pkg/tools"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "llmbroker.yaml", "Path to YAML config file")
		dbPath      = flag.String("db", "", "SQLite conversation store path (default: in-memory)")
		metricsAddr = flag.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
		projectDir  = flag.String("projectdir", ".", "Directory holding the encrypted secrets file")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("llmbroker %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebugEnabled(true)
	}

	os.Exit(run(*configPath, *dbPath, *metricsAddr, *projectDir))
}

// run contains the main application logic and returns an exit code, so
// defers execute before the process exits.
func run(configPath, dbPath, metricsAddr, projectDir string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if err := unlockSecrets(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}

	var store persistence.Store
	if dbPath != "" {
		store, err = persistence.NewSQLiteStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open conversation store: %v\n", err)
			return 1
		}
	}

	recorder := metrics.Recorder(metrics.Nop())
	if metricsAddr != "" {
		recorder = metrics.NewPrometheusRecorder()
		go serveMetrics(metricsAddr)
	}

	b, err := broker.NewFromConfig(ctx, cfg, nil, store, recorder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize broker: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", closeErr)
		}
	}()

	fmt.Printf("llmbroker %s — provider %s. Type /help for commands.\n", version, b.ActiveProvider())
	repl(ctx, b)
	return 0
}

// unlockSecrets loads the encrypted secrets file when one exists, prompting
// for the password. Absence is fine; keys may come from the environment.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	fmt.Print("Secrets file found. Password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, string(password))
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	fmt.Printf("Unlocked %d secret(s).\n", len(secrets))
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Metrics server failed: %v\n", err)
	}
}

func repl(ctx context.Context, b *broker.Broker) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	conversationID := uuid.NewString()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, b, line, &conversationID); quit {
				return
			}
			continue
		}

		chat(ctx, b, scanner, conversationID, line)

		if ctx.Err() != nil {
			return
		}
	}
}

// command handles a slash command; the bool reports whether to exit the REPL.
func command(ctx context.Context, b *broker.Broker, line string, conversationID *string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /status           show provider health")
		fmt.Println("  /switch <name>    make a provider active")
		fmt.Println("  /new              start a fresh conversation")
		fmt.Println("  /clear            delete the current conversation")
		fmt.Println("  /history          print the conversation so far")
		fmt.Println("  /quit             exit")

	case "/status":
		status := b.GetProviderStatus(ctx)
		for name, s := range status {
			marker := " "
			if s.Active {
				marker = "*"
			}
			health := "healthy"
			if !s.Healthy {
				health = "unhealthy: " + s.Error
			}
			fmt.Printf("%s %-12s %-28s %s\n", marker, name, s.Model, health)
		}

	case "/switch":
		if len(fields) < 2 {
			fmt.Println("Usage: /switch <provider>")
			break
		}
		if err := b.SwitchProvider(ctx, fields[1]); err != nil {
			fmt.Printf("Switch failed: %v\n", err)
			break
		}
		fmt.Printf("Active provider is now %s.\n", fields[1])

	case "/new":
		*conversationID = uuid.NewString()
		fmt.Println("Started a new conversation.")

	case "/clear":
		if err := b.ClearConversation(ctx, *conversationID); err != nil {
			fmt.Printf("Clear failed: %v\n", err)
			break
		}
		fmt.Println("Conversation cleared.")

	case "/history":
		history, err := b.GetConversation(*conversationID)
		if err != nil {
			fmt.Println("No conversation yet.")
			break
		}
		for i := range history {
			msg := &history[i]
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
			for j := range msg.ToolCalls {
				fmt.Printf("  tool call: %s %s\n", msg.ToolCalls[j].Name, msg.ToolCalls[j].Arguments)
			}
		}

	default:
		fmt.Printf("Unknown command %s. Type /help.\n", fields[0])
	}
	return false
}

// chat streams one turn to stdout, then drives the tool loop until the model
// stops requesting calls.
func chat(ctx context.Context, b *broker.Broker, scanner *bufio.Scanner, conversationID, message string) {
	ch, err := b.StreamChat(ctx, broker.Turn{
		ConversationID: conversationID,
		UserMessage:    message,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	var calls []tools.ToolCall
	if !drain(ch, &calls) {
		return
	}

	for len(calls) > 0 {
		resp, results, err := b.ExecuteToolCalls(ctx, conversationID, calls, tools.ExecuteOptions{
			Confirm: confirmTool(scanner),
		})
		for i := range results {
			r := &results[i]
			if r.Success {
				fmt.Printf("[tool %s ok in %s]\n", r.ToolName, r.Duration.Round(time.Millisecond))
			} else {
				fmt.Printf("[tool %s failed: %s]\n", r.ToolName, r.Error)
			}
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if resp.Content != "" {
			fmt.Println(resp.Content)
		}
		calls = resp.ToolCalls
	}
}

// drain prints stream content as it arrives and collects tool calls. The
// bool reports whether the stream completed without error.
func drain(ch <-chan llm.StreamChunk, calls *[]tools.ToolCall) bool {
	type aggCall struct {
		id   string
		name string
		args strings.Builder
	}
	agg := make(map[int]*aggCall)
	var order []int
	printed := false

	for chunk := range ch {
		if chunk.Error != nil {
			if printed {
				fmt.Println()
			}
			fmt.Printf("Stream error: %v\n", chunk.Error)
			return false
		}
		if chunk.Content != "" {
			fmt.Print(chunk.Content)
			printed = true
		}
		if chunk.ToolCall != nil {
			ac, ok := agg[chunk.ToolCall.Index]
			if !ok {
				ac = &aggCall{}
				agg[chunk.ToolCall.Index] = ac
				order = append(order, chunk.ToolCall.Index)
			}
			if chunk.ToolCall.ID != "" {
				ac.id = chunk.ToolCall.ID
			}
			if chunk.ToolCall.Name != "" {
				ac.name = chunk.ToolCall.Name
			}
			ac.args.WriteString(chunk.ToolCall.ArgumentsFragment)
		}
	}
	if printed {
		fmt.Println()
	}

	for _, idx := range order {
		ac := agg[idx]
		*calls = append(*calls, tools.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args.String()})
	}
	return true
}

// confirmTool prompts before running confirmation-gated tools.
func confirmTool(scanner *bufio.Scanner) tools.ConfirmFunc {
	return func(call tools.ToolCall) bool {
		fmt.Printf("Run tool %s with %s? [y/N] ", call.Name, call.Arguments)
		if !scanner.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
}
