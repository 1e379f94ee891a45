package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docqa/internal/assistant"
	"docqa/internal/config"
	"docqa/internal/loader"
	"docqa/internal/logging"
	"docqa/internal/observability"
	"docqa/internal/service"
	"docqa/internal/tui"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Answer questions about a folder of PDF documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (optional; uses ./docqa.yaml or ~/.config/docqa/config.yaml if not provided)")

	var watch bool
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index new PDFs and record them in the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, watch, cmd.OutOrStdout())
		},
	}
	ingestCmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the PDF directory and ingest new files as they appear")

	askCmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a single question",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath)
		},
	}

	rootCmd.AddCommand(ingestCmd, askCmd, chatCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type runEnv struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	tracing *observability.TracerProvider
	app     *app
}

// setup loads configuration and builds every component. logOut receives the
// structured log.
func setup(ctx context.Context, configPath string, logOut io.Writer) (*runEnv, error) {
	_ = godotenv.Load()

	var (
		cfg *config.AppConfig
		err error
	)
	if configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Log, logOut)
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return &runEnv{cfg: cfg, logger: logger, tracing: tp, app: a}, nil
}

func (r *runEnv) close() {
	_ = r.app.svc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.logger.Warn("tracing shutdown failed", "err", err)
	}
}

func runIngest(ctx context.Context, configPath string, watch bool, out io.Writer) error {
	rt, err := setup(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.app.svc.Ingest(ctx)
	if err != nil {
		return err
	}
	printReport(out, report)
	if !watch {
		return nil
	}

	w := &loader.Watcher{
		Dir:     rt.cfg.Documents.Dir,
		Pattern: rt.cfg.Documents.Pattern,
		Logger:  rt.logger,
	}
	return w.Run(ctx, func(ctx context.Context) error {
		report, err := rt.app.svc.Ingest(ctx)
		if err != nil {
			return err
		}
		if len(report.NewFiles) > 0 {
			printReport(out, report)
		}
		return nil
	})
}

func printReport(out io.Writer, r service.IngestReport) {
	fmt.Fprintf(out, "Ingested %d new file(s), %d new chunk(s); index holds %d chunk(s).\n", len(r.NewFiles), r.Chunks, r.Total)
	for _, p := range r.NewFiles {
		fmt.Fprintf(out, "  + %s\n", p)
	}
	if r.Summary != "" {
		fmt.Fprintf(out, "\nSummary: %s\n", r.Summary)
	}
}

func runAsk(ctx context.Context, configPath, question string, out io.Writer) error {
	rt, err := setup(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.app.svc.Ingest(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, rt.app.assistant.Ask(ctx, question))
	return nil
}

func runChat(ctx context.Context, configPath string) error {
	// The chat window owns the terminal, so logs go to a file.
	logFile, err := os.OpenFile("docqa.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	rt, err := setup(ctx, configPath, logFile)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.app.svc.Ingest(ctx)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("%d chunk(s) indexed.", report.Total)
	if report.Summary != "" {
		header += " New: " + report.Summary
	}

	m := tui.New(ctx, rt.app.assistant, header)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

var _ service.DocumentLoader = (*loader.Loader)(nil)
var _ assistant.Answerer = (*service.RAGService)(nil)
