package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/openrecords/foiabuddy/internal/agent"
	"github.com/openrecords/foiabuddy/internal/gateway"
	"github.com/openrecords/foiabuddy/internal/llm"
	"github.com/openrecords/foiabuddy/internal/observability"
	"github.com/openrecords/foiabuddy/internal/pipeline"
	"github.com/openrecords/foiabuddy/internal/redaction"
	"github.com/openrecords/foiabuddy/internal/server"
	"github.com/openrecords/foiabuddy/internal/store"
	"github.com/openrecords/foiabuddy/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	request := flag.String("i", "", "FOIA request text, or @path to read it from a file")
	outputDir := flag.String("o", "", "output directory (overrides config)")
	serveFlag := flag.Bool("serve", false, "run the HTTP API instead of a single request")
	flag.Parse()
	serve := *serveFlag || flag.Arg(0) == "serve"

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *outputDir != "" {
		cfg.Paths.OutputDir = *outputDir
	}

	logger := observability.NewLogger()

	client, err := llm.New(cfg, llm.WithTracer(logger))
	if err != nil {
		log.Fatalf("inference client: %v", err)
	}

	runs, err := store.NewRunStore(cfg.Paths.DatabasePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer runs.Close()

	driver, err := buildDriver(cfg, client, runs, logger)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	if cfg.Notifications.Telegram.Enabled {
		notifier, err := gateway.NewTelegramNotifier(cfg.Notifications.Telegram.Token, cfg.Notifications.Telegram.ChatID)
		if err != nil {
			log.Printf("warning: telegram notifier disabled: %v", err)
		} else {
			driver.Hub().Attach(notifier)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serve {
		runServer(ctx, cfg, driver, runs, logger)
		return
	}
	runOnce(ctx, cfg, driver, *request)
}

// buildDriver assembles the worker registry and the pipeline around it.
func buildDriver(cfg *config.Config, client llm.Client, runs *store.RunStore, logger *observability.Logger) (*pipeline.Driver, error) {
	registry := agent.NewRegistry()

	publicSearch, err := agent.NewPublicLibrarySearcher(cfg.Pipeline.MaxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("public search: %w", err)
	}

	registry.MustRegister(agent.NewPDFSearcher(client, cfg.Paths.PDFDir, cfg.Pipeline.MaxPDFs))
	registry.MustRegister(agent.NewPDFParser())
	registry.MustRegister(agent.NewDocumentResearcher(cfg.Paths.DocumentsDir, cfg.Pipeline.MaxSearchResults))
	registry.MustRegister(publicSearch)
	registry.MustRegister(agent.NewReportGenerator(client, redaction.DefaultPolicy()))
	registry.MustRegister(agent.NewHTMLPresenter())

	coordinator := agent.NewCoordinator(client, registry, runSink{runs, logger})
	driver := pipeline.NewDriver(coordinator, registry,
		pipeline.WithLogger(logger),
		pipeline.WithContextCharLimit(cfg.Pipeline.ContextCharLimit),
	)
	driver.Hub().Attach(observability.NewEventLog(logger))
	return driver, nil
}

// runSink routes coordinator decisions into the run store and the
// structured log.
type runSink struct {
	runs   *store.RunStore
	logger *observability.Logger
}

func (s runSink) AppendDecision(runID string, d agent.Decision) error {
	s.logger.LogDecision(runID, d.AgentName, d.Decision, d.Reasoning, d.Confidence)
	return s.runs.AppendDecision(runID, d)
}

func runServer(ctx context.Context, cfg *config.Config, driver *pipeline.Driver, runs *store.RunStore, logger *observability.Logger) {
	srv := server.New(driver, runs, cfg.Paths.OutputDir, logger)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	log.Printf("listening on %s", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, driver *pipeline.Driver, request string) {
	text, err := requestText(request)
	if err != nil {
		log.Fatalf("request: %v", err)
	}

	observability.PrintBanner()
	log.SetOutput(observability.TermWriter{})
	driver.Hub().Attach(observability.NewProgressBar())

	state := driver.Run(ctx, pipeline.Input{
		FOIARequest: text,
		OutputDir:   cfg.Paths.OutputDir,
	})

	snap := state.Snapshot()
	if snap.Status != pipeline.StatusCompleted {
		log.Fatalf("run %s failed: %s", snap.RunID, snap.Error)
	}
	if err := writeOutputs(cfg.Paths.OutputDir, snap); err != nil {
		log.Fatalf("write outputs: %v", err)
	}
	fmt.Printf("run %s complete, outputs in %s\n", snap.RunID, cfg.Paths.OutputDir)
}

// requestText resolves -i: literal text, @file indirection, or stdin-less
// usage error.
func requestText(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("no FOIA request given, use -i")
	}
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return arg, nil
}

// writeOutputs materializes the synthesis stage's sections as files next to
// the presenter's report.html.
func writeOutputs(dir string, snap pipeline.Snapshot) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	report, ok := snap.Results[agent.NameReportGenerator]
	if !ok {
		return fmt.Errorf("run has no synthesis result")
	}

	files := map[string]string{
		"final_report.md":      stringField(report.Data, "report_content"),
		"executive_summary.md": stringField(report.Data, "executive_summary"),
		"compliance_notes.md":  stringField(report.Data, "compliance_notes"),
	}
	for name, content := range files {
		if content == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return err
		}
	}

	if flags, ok := report.Data["redaction_flags"].([]string); ok && len(flags) > 0 {
		review := "Potential redaction issues found:\n\n- " + strings.Join(flags, "\n- ") + "\n"
		if err := os.WriteFile(filepath.Join(dir, "redaction_review.txt"), []byte(review), 0644); err != nil {
			return err
		}
	}

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "processing_metadata.json"), meta, 0644)
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
