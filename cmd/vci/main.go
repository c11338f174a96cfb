// Command vci serves the visual inspection tool: a reverse proxy that
// frames the target application, instruments its pages with the in-page
// inspector, and exposes the export, vision, edit, and snapshot APIs a
// coding agent consumes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visualctx/vci/exporter"
	"github.com/visualctx/vci/inspect"
	"github.com/visualctx/vci/proxyd"
	"github.com/visualctx/vci/runstate"
	"github.com/visualctx/vci/snapshotstore"
	"github.com/visualctx/vci/sourceedit"
	"github.com/visualctx/vci/vision"
)

func main() {
	configPath := flag.String("config", "", "path to vci.yaml (optional)")
	openBrowser := flag.Bool("open", false, "open the proxied app in a capture browser")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn, or error")
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := inspect.DefaultConfig()
	if *configPath != "" {
		loaded, err := inspect.LoadConfigFile(*configPath)
		if err != nil {
			slog.Error("load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	state := runstate.New()

	var exp *exporter.Exporter
	if _, err := os.Stat(cfg.Export.Dir); err == nil {
		exp, err = exporter.New(cfg.Export.Dir,
			exporter.WithHistoryLimit(cfg.Export.HistoryLimit),
			exporter.WithAgentTrigger(cfg.Agent.URL+"/agent/run"),
			exporter.WithLogger(logger),
		)
		if err != nil {
			slog.Error("exporter", "error", err)
			os.Exit(1)
		}
		defer exp.Close()
	} else {
		slog.Warn("export dir missing, export endpoints disabled", "dir", cfg.Export.Dir)
	}

	var edits *sourceedit.Engine
	var snapshots *snapshotstore.Store
	if exp != nil {
		var err error
		if edits, err = sourceedit.New(cfg.Export.Dir); err != nil {
			slog.Error("source editor", "error", err)
			os.Exit(1)
		}
		if snapshots, err = snapshotstore.New(cfg.Export.Dir); err != nil {
			slog.Error("snapshot store", "error", err)
			os.Exit(1)
		}
	}

	var analyzer proxyd.ImageAnalyzer
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		analyzer = vision.New(vision.Config{
			APIKey:    key,
			Model:     cfg.Vision.Model,
			MaxTokens: int64(cfg.Vision.MaxTokens),
		})
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, image analysis disabled")
	}

	poller := runstate.NewPoller(agentStatusFetcher(cfg.Agent.URL, state),
		runstate.WithInterval(cfg.Agent.PollInterval),
		runstate.WithMaxAttempts(cfg.Agent.MaxAttempts),
		runstate.WithIdleGrace(cfg.Agent.IdleGrace),
		runstate.WithUnavailableLimit(cfg.Agent.UnavailableLimit),
		runstate.WithPollerLogger(logger),
	)
	defer poller.Stop()

	var watchedExporter proxyd.ContextExporter
	if exp != nil {
		watchedExporter = &watchingExporter{
			inner:  exp,
			state:  state,
			poller: poller,
			ctx:    ctx,
			log:    logger,
		}
	}

	srv, err := proxyd.New(proxyd.Config{
		Target:       cfg.Server.Target,
		HostOrigin:   cfg.Origins.Host,
		InspectorDir: env("VCI_INSPECTOR_DIR", "inspector"),
		Analyzer:     analyzer,
		Exporter:     watchedExporter,
		Edits:        edits,
		Snapshots:    snapshots,
		Status:       state,
		OnChannel: func(t inspect.Transport) {
			inspect.NewRemoteHost(t, cfg.Origins.Agent, logger)
			slog.Info("inspector channel connected", "origin", cfg.Origins.Agent)
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("proxy", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if *openBrowser {
		go func() {
			pageURL := fmt.Sprintf("%s/proxy/", cfg.Origins.Host)
			browser, err := inspect.ConnectBrowser(ctx, pageURL, cfg.Browser.Remote, cfg.Browser.Headless, logger)
			if err != nil {
				slog.Error("capture browser", "error", err)
				return
			}
			slog.Info("capture browser opened", "url", pageURL)
			<-ctx.Done()
			browser.Close()
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("vci listening", "addr", cfg.Server.Listen, "target", cfg.Server.Target)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("serve", "error", err)
		os.Exit(1)
	}
}

// watchingExporter wraps the on-disk exporter: each export begins a run
// and starts watching the agent service until that run terminates.
type watchingExporter struct {
	inner  *exporter.Exporter
	state  *runstate.State
	poller *runstate.Poller
	ctx    context.Context
	log    *slog.Logger
}

func (w *watchingExporter) Export(ctx context.Context, p inspect.Payload) (*exporter.Result, error) {
	res, err := w.inner.Export(ctx, p)
	if err != nil {
		return nil, err
	}
	runID := w.state.Begin()
	w.log.Info("agent run started", "run_id", runID, "context", res.Path)
	w.poller.Watch(w.ctx, func(st runstate.Status, err error) {
		if err != nil {
			w.state.SetStatus(runstate.StatusError, err.Error())
			return
		}
		w.log.Info("agent run finished", "run_id", runID, "status", string(st))
	})
	return res, nil
}

// agentStatusFetcher reads the agent service's status endpoint and mirrors
// what it reports into the run state.
func agentStatusFetcher(baseURL string, state *runstate.State) runstate.StatusFunc {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) (runstate.Status, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/agent/status", nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var body struct {
			Status       string   `json:"status"`
			Message      string   `json:"message"`
			Turns        int      `json:"turns"`
			FilesChanged []string `json:"filesChanged"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", err
		}

		st := runstate.Status(body.Status)
		if !st.Valid() {
			return "", fmt.Errorf("unknown agent status %q", body.Status)
		}
		state.SetStatus(st, body.Message)
		state.SetTurns(body.Turns)
		state.AddFilesChanged(body.FilesChanged...)
		return st, nil
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
