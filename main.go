package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/dispatch"
	"github.com/isaacmorgado/clauded/internal/pipeline"
	"github.com/isaacmorgado/clauded/internal/ratelimit"
	"github.com/isaacmorgado/clauded/internal/server"
	"github.com/isaacmorgado/clauded/internal/upstream"
	"github.com/isaacmorgado/clauded/internal/usage"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: clauded <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, info")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	host := fs.String("host", "", "Listen host (overrides config)")
	port := fs.Int("port", 0, "Listen port (overrides config)")
	verbose := fs.Bool("verbose", false, "Debug logging and upstream request tracing")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *verbose {
		cfg.Server.Verbose = true
	}
	setupLogging(cfg.Server.Verbose)

	var store *usage.Store
	if cfg.UsageDB != "" {
		store, err = usage.Open(cfg.UsageDB)
		if err != nil {
			return fmt.Errorf("open usage ledger: %w", err)
		}
		defer store.Close()
	}

	pipe := &pipeline.Pipeline{
		Config:   cfg,
		Limiter:  ratelimit.New(cfg.Quotas()),
		Upstream: upstream.NewClient(cfg.Providers, cfg.Server.Verbose),
		Usage:    store,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, pipe).Start(ctx)
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tBASE URL\tCONTEXT\tMAX OUT\tQUOTA/MIN\tKEY")
	for _, p := range dispatch.All() {
		pc := cfg.Providers[p]
		keyState := "missing"
		if pc.APIKey() != "" {
			keyState = "set"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			p, pc.BaseURL, cfg.ContextWindow(p), dispatch.MaxOutputTokens(p), pc.QuotaPerMinute, keyState)
	}
	w.Flush()

	if cfg.UsageDB == "" {
		return nil
	}
	store, err := usage.Open(cfg.UsageDB)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer store.Close()

	summaries, err := store.Summaries()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("\nNo usage recorded.")
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCALLS\tERRORS\tINPUT TOK\tOUTPUT TOK")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			s.Provider, s.Calls, s.Errors, s.InputTokens, s.OutputTokens)
	}
	return w.Flush()
}
