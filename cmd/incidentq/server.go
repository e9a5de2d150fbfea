package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/incidentq/internal/api"
	"github.com/kalambet/incidentq/internal/config"
	"github.com/kalambet/incidentq/internal/connectivity"
	"github.com/kalambet/incidentq/internal/delivery"
	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/payload"
	"github.com/kalambet/incidentq/internal/pending"
	"github.com/kalambet/incidentq/internal/storage"
	"github.com/kalambet/incidentq/internal/syncer"
	"github.com/kalambet/incidentq/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the incidentq daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running incidentq daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, connectivity and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "incidentq.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// daemon is the wired queue stack.
type daemon struct {
	store     *storage.Store
	telemetry *telemetry.Provider
	orch      *syncer.Orchestrator
	monitor   *connectivity.Monitor
	board     *api.StatusBoard
	handler   http.Handler
	mcp       *server.MCPServer
}

// buildDaemon opens storage and wires every component from cfg.
func buildDaemon(ctx context.Context, cfg config.Config, token string, logger *slog.Logger) (*daemon, error) {
	policy, err := connectivity.ParsePolicy(cfg.Attachments.Policy)
	if err != nil {
		return nil, err
	}
	f, err := form.Load(cfg.Form.SchemaPath)
	if err != nil {
		return nil, err
	}
	enc, err := payload.NewEncoder(f)
	if err != nil {
		return nil, fmt.Errorf("building encoder: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tel)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	d := &daemon{store: store, telemetry: tel, board: api.NewStatusBoard(0)}
	notifier := syncer.MultiNotifier{d.board, syncer.LogNotifier{Logger: logger}}

	// The monitor is created after the orchestrator, so status is read
	// through a closure.
	status := syncer.StatusFunc(func() bool { return d.monitor.Online() })
	sender := delivery.NewClient(cfg.Webhook.URL, cfg.Webhook.Timeout).WithUserAgent(cfg.Webhook.UserAgent)
	d.orch = syncer.New(syncer.Deps{
		Queue:    store,
		Encoder:  enc,
		Sender:   sender,
		Status:   status,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger,
	})

	var prober connectivity.Prober
	if cfg.Connectivity.ForceOffline {
		prober = connectivity.ProberFunc(func(context.Context) bool { return false })
	} else {
		target := cfg.Connectivity.ProbeURL
		if target == "" {
			if target, err = connectivity.Origin(cfg.Webhook.URL); err != nil {
				store.Close()
				tel.Shutdown(ctx)
				return nil, fmt.Errorf("deriving probe URL: %w", err)
			}
		}
		prober = connectivity.NewHTTPProber(target, cfg.Connectivity.Interval)
	}
	d.monitor = connectivity.NewMonitor(prober, policy, notifier, d.orch.OnOnline, cfg.Connectivity.Interval)

	submitter := syncer.NewSubmitter(d.orch)
	projector := pending.NewProjector(store, f, d.monitor)

	d.handler = api.NewAppHandler(api.AppDeps{
		Form:         f,
		Submitter:    submitter,
		Syncer:       d.orch,
		Pending:      projector,
		Connectivity: d.monitor,
		Board:        d.board,
		Token:        token,
		RateLimit:    cfg.Server.RateLimit,
		Logger:       logger,
	})
	d.mcp = api.NewMCPServer(api.MCPDeps{
		Form:         f,
		Submitter:    submitter,
		Syncer:       d.orch,
		Pending:      projector,
		Connectivity: d.monitor,
		Board:        d.board,
		Version:      version,
	})
	return d, nil
}

func (d *daemon) Close(ctx context.Context) error {
	return errors.Join(d.store.Close(), d.telemetry.Shutdown(ctx))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "incidentq version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("incidentq is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("incidentq is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(ctx, cfg, apiToken, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: shutting down: %v\n", err)
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "incidentq listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		d.monitor.Run(gctx)
		return nil
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(d.mcp)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("incidentq is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop incidentq (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to incidentq (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	hc := &http.Client{Timeout: 2 * time.Second}

	resp, err := hc.Get(serverURL + "/health")
	running := err == nil && resp.StatusCode == http.StatusOK
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case running:
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	if cfg.Webhook.URL == "" {
		printStatus("Webhook", "%s", colorize(colorYellow, "not configured"))
	} else {
		printStatus("Webhook", "%s", cfg.Webhook.URL)
	}

	if running {
		token, tokenErr := config.GetAPIToken(config.NewKeychain())
		if tokenErr == nil {
			client := &apiClient{baseURL: serverURL, token: token, httpClient: hc}
			printDaemonStatus(ctx, client)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printDaemonStatus(ctx context.Context, client *apiClient) {
	resp, err := client.get(ctx, "/status")
	if err != nil {
		return
	}
	var st api.StatusResponse
	if err := decodeJSON(resp, &st); err != nil {
		printError("reading status: %v", err)
		return
	}

	if st.Online {
		printStatus("Connectivity", "%s", colorize(colorGreen, "online"))
	} else {
		printStatus("Connectivity", "%s", colorize(colorYellow, "offline"))
	}
	printStatus("Sync", "%s", st.State)
	printStatus("Attachments", "%s", st.Attachments.Note)
	if st.LastRun != nil {
		printStatus("Last run", "%s (%s, %s)", reportLine(*st.LastRun), st.LastRun.Trigger, st.LastRun.FinishedAt.Local().Format(time.DateTime))
	}
	if n := len(st.Board.Messages); n > 0 {
		printStatus("Latest", "%s", st.Board.Messages[n-1].Text)
	}

	if presp, err := client.get(ctx, "/pending"); err == nil {
		var v pending.View
		if decodeJSON(presp, &v) == nil {
			printStatus("Pending", "%d", len(v.Rows))
		}
	}
}
