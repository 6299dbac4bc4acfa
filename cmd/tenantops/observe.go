package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tenantops/pkg/metrics"
)

func runServeMetrics(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "serve-metrics", "[--addr host:port]")
	addr := fs.String("addr", e.cfg.Metrics.Addr, "listen address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(e.app.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := e.app.store.WithRetry(r.Context(), "health check", func(ctx context.Context) error {
			_, err := e.app.store.SchemaVersion(ctx)
			return err
		}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	e.app.logger.Info("📈 Serving metrics on %s/metrics", *addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		e.app.logger.Info("🛑 Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}

func runStats(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "stats", "--prometheus URL [--window 24h]")
	url := fs.String("prometheus", "http://localhost:9090", "Prometheus server URL")
	window := fs.Duration("window", 24*time.Hour, "aggregation window")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *window <= 0 {
		return usageErrorf("--window must be positive")
	}

	q, err := metrics.NewQueryService(*url)
	if err != nil {
		return fmt.Errorf("failed to create metrics client: %w", err)
	}
	summary, err := q.Summarize(ctx, *window)
	if err != nil {
		return fmt.Errorf("failed to query metrics: %w", err)
	}
	if *asJSON {
		return printJSON(e.out, summary)
	}

	fmt.Fprintf(e.out, "📊 Activity over the last %s\n", summary.Window)
	printCounts(e, "Agent runs", summary.AgentRuns)
	printCounts(e, "Workflow transitions", summary.Transitions)
	printCounts(e, "Tool failures", summary.ToolFailures)
	if len(summary.PromptTokens) > 0 {
		fmt.Fprintln(e.out, "\nTokens by model:")
		for model, prompt := range summary.PromptTokens {
			fmt.Fprintf(e.out, "  %-24s prompt %.0f, completion %.0f\n", model, prompt, summary.CompletionTokens[model])
		}
	}
	return nil
}

func printCounts(e *env, title string, counts []metrics.Count) {
	fmt.Fprintf(e.out, "\n%s:\n", title)
	if len(counts) == 0 {
		fmt.Fprintln(e.out, "  (none)")
		return
	}
	for _, c := range counts {
		fmt.Fprintf(e.out, "  %-32s %.0f\n", c.Label, c.Value)
	}
}
