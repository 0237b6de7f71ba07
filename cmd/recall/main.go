// Recall is a conversational agent with durable per-client memory.
//
// It exposes an HTTP chat API with a WebSocket event stream, and a CLI
// for one-shot questions, an interactive REPL, and memory imports.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	recall serve                      Start the API server
//	recall init [dir]                 Initialize a working directory with defaults
//	recall ask [-client id] <text>    Ask a single question
//	recall chat [-client id]          Interactive chat on one thread
//	recall ingest -client id <file>   Import markdown notes as memories
//	recall version                    Print version and build information
//	recall -o json version            Output version information as JSON
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/marlowe/recall-agent/internal/agent"
	"github.com/marlowe/recall-agent/internal/buildinfo"
	"github.com/marlowe/recall-agent/internal/config"
	"github.com/marlowe/recall-agent/internal/events"
	"github.com/marlowe/recall-agent/internal/ingest"
	"github.com/marlowe/recall-agent/internal/llm"
	"github.com/marlowe/recall-agent/internal/memory"
	"github.com/marlowe/recall-agent/internal/mqtt"
	"github.com/marlowe/recall-agent/internal/profile"
	"github.com/marlowe/recall-agent/internal/thread"
	"github.com/marlowe/recall-agent/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the recall command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than bringing in a CLI framework.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		clientID, rest, err := splitClientFlag(cmdArgs)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return fmt.Errorf("usage: recall ask [-client id] <question>")
		}
		return runAsk(ctx, stdout, configPath, clientID, strings.Join(rest, " "))
	case "chat":
		clientID, rest, err := splitClientFlag(cmdArgs)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return fmt.Errorf("usage: recall chat [-client id]")
		}
		return runChat(ctx, stdin, stdout, configPath, clientID)
	case "ingest":
		clientID, rest, err := splitClientFlag(cmdArgs)
		if err != nil {
			return err
		}
		if clientID == "" || len(rest) != 1 {
			return fmt.Errorf("usage: recall ingest -client <id> <file.md>")
		}
		return runIngest(ctx, stdout, configPath, clientID, rest[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// splitClientFlag extracts a -client flag from subcommand arguments and
// returns the remaining positional arguments.
func splitClientFlag(args []string) (string, []string, error) {
	var clientID string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-client" && i+1 < len(args):
			clientID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-client="):
			clientID = strings.TrimPrefix(args[i], "-client=")
		case args[i] == "-client":
			return "", nil, fmt.Errorf("-client requires a value")
		default:
			rest = append(rest, args[i])
		}
	}
	return clientID, rest, nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Recall - Conversational agent with durable client memory")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: recall [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                     Start the API server")
	fmt.Fprintln(w, "  init [dir]                Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask [-client id] <text>   Ask a single question")
	fmt.Fprintln(w, "  chat [-client id]         Interactive chat on a single thread")
	fmt.Fprintln(w, "  ingest -client id <file>  Import markdown list items as memories")
	fmt.Fprintln(w, "  version                   Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/recall/config.yaml, /etc/recall/config.yaml")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// buildGateway constructs the model gateway from configuration. A model
// routed to a provider whose credentials are missing is a startup
// error, not a per-request one.
func buildGateway(cfg *config.Config, logger *slog.Logger) (*llm.Gateway, error) {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	gw := llm.NewGateway(cfg.Models.Default, ollamaClient)
	gw.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.Configured() {
		gw.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}

	for _, m := range cfg.Models.Available {
		if m.Provider == "anthropic" && !cfg.Anthropic.Configured() {
			return nil, fmt.Errorf("model %q routes to anthropic but anthropic.api_key is not set", m.Name)
		}
		if err := gw.AddModel(m.Name, m.Provider); err != nil {
			return nil, err
		}
	}

	return gw, nil
}

// buildProfileSource constructs the configured profile source. Returns
// nil when profile lookup is disabled.
func buildProfileSource(cfg *config.Config, logger *slog.Logger) (profile.Source, error) {
	switch cfg.Profile.Source {
	case "":
		return nil, nil
	case "static":
		return profile.NewDevSource(), nil
	case "vcard":
		return profile.NewDirSource(cfg.Profile.Dir, logger)
	case "carddav":
		return profile.NewCardDAVSource(cfg.Profile.URL, cfg.Profile.Username, cfg.Profile.Password, logger)
	default:
		return nil, fmt.Errorf("unknown profile source %q (expected static, vcard, or carddav)", cfg.Profile.Source)
	}
}

// openStores opens the SQLite-backed memory store and thread container
// under cfg.DataDir. An empty DataDir runs fully ephemeral: no durable
// memories and an in-process thread container. The returned closer is
// non-nil only when a database was opened.
func openStores(cfg *config.Config, logger *slog.Logger) (memory.Store, thread.Container, io.Closer, error) {
	if cfg.DataDir == "" {
		logger.Warn("data_dir not set, running ephemeral: memories will not be stored")
		return nil, thread.NewMemoryContainer(), nil, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "recall.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	store, err := memory.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("init memory store: %w", err)
	}

	threads, err := thread.NewSQLiteContainer(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("init thread container: %w", err)
	}

	logger.Info("database opened", "path", dbPath)
	return store, threads, db, nil
}

// runServe handles the "recall serve" subcommand: loads config, opens
// the database, builds the gateway and nodes, starts the HTTP server
// and optional MQTT publisher, and blocks until a shutdown signal.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Recall", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	source, err := buildProfileSource(cfg, logger)
	if err != nil {
		return err
	}

	store, threads, closer, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	bus := events.New()
	profileNode := agent.NewProfileFetchNode(source, bus, logger)
	convNode := agent.NewConversationNode(gateway, store, cfg.Instruction, bus, logger)
	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, profileNode, convNode, threads, bus, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		publisher = mqtt.New(cfg.MQTT, bus, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Warn("mqtt publisher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt shutdown", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runAsk handles one-shot questions. The thread is ephemeral but the
// memory store is the configured one, so "remember" requests from the
// CLI persist like any other.
func runAsk(ctx context.Context, stdout io.Writer, configPath, clientID, question string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	source, err := buildProfileSource(cfg, logger)
	if err != nil {
		return err
	}

	store, _, closer, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	acfg := agent.Config{ClientID: clientID}
	state := thread.State{
		Messages: []thread.Message{{Role: thread.RoleUser, Content: question}},
	}

	profileNode := agent.NewProfileFetchNode(source, nil, logger)
	state = thread.Merge(state, profileNode.Run(ctx, state, acfg))

	convNode := agent.NewConversationNode(gateway, store, cfg.Instruction, nil, logger)
	delta, err := convNode.Run(ctx, state, acfg)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	for _, m := range delta.Messages {
		fmt.Fprintln(stdout, m.Content)
	}
	return nil
}

// runChat is a line-oriented REPL over a single persistent thread.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath, clientID string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	source, err := buildProfileSource(cfg, logger)
	if err != nil {
		return err
	}

	store, threads, closer, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	profileNode := agent.NewProfileFetchNode(source, nil, logger)
	convNode := agent.NewConversationNode(gateway, store, cfg.Instruction, nil, logger)

	threadID := uuid.New().String()
	acfg := agent.Config{ClientID: clientID}

	fmt.Fprintf(stdout, "%s\nType a message, Ctrl-D to exit.\n\n", buildinfo.String())

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		state, err := threads.Apply(ctx, threadID, thread.Delta{
			Messages: []thread.Message{{Role: thread.RoleUser, Content: line}},
		})
		if err != nil {
			return fmt.Errorf("thread: %w", err)
		}

		if delta := profileNode.Run(ctx, state, acfg); delta.Profile != nil {
			if state, err = threads.Apply(ctx, threadID, delta); err != nil {
				return fmt.Errorf("thread: %w", err)
			}
		}

		delta, err := convNode.Run(ctx, state, acfg)
		if err != nil {
			fmt.Fprintf(stdout, "error: %s\n", err)
			continue
		}
		if _, err := threads.Apply(ctx, threadID, delta); err != nil {
			return fmt.Errorf("thread: %w", err)
		}

		for _, m := range delta.Messages {
			fmt.Fprintf(stdout, "%s\n", m.Content)
		}
	}
}

// runIngest imports the top-level markdown list items of a file as
// memories for one client.
func runIngest(ctx context.Context, stdout io.Writer, configPath, clientID, filePath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, _, closer, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("ingest requires data_dir to be set")
	}
	defer closer.Close()

	ingester := ingest.NewMarkdownIngester(store, logger)
	count, err := ingester.IngestFile(ctx, clientID, filePath)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Fprintf(stdout, "Imported %d memories for %s from %s\n", count, clientID, filePath)
	return nil
}
