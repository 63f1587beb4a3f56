package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomhq/loom/internal/config"
	appendsvc "github.com/loomhq/loom/internal/domain/append"
	"github.com/loomhq/loom/internal/domain/branch"
	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/contextbuild"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/project"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/llmprovider/gemini"
	"github.com/loomhq/loom/internal/llmprovider/openaichat"
	"github.com/loomhq/loom/internal/llmprovider/openairesp"
	"github.com/loomhq/loom/internal/mcp"
	"github.com/loomhq/loom/internal/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("LOOM_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	projectRepo := sqlite.NewProjectStore(db)
	refRepo := sqlite.NewRefStore(db)
	ledgerRepo := sqlite.NewLedgerStore(db)
	artefactRepo := sqlite.NewArtefactStore(db)
	leaseRepo := sqlite.NewLeaseStore(db)
	activityRepo := sqlite.NewActivityStore(db)
	starRepo := sqlite.NewStarStore(db)
	userPrefsRepo := sqlite.NewUserPrefsStore(db)

	locks := lease.NewManager()
	lockWait := time.Duration(cfg.Lease.WaitBoundSeconds) * time.Second

	projectSvc := project.NewService(projectRepo, refRepo, logger)
	appendSvc := appendsvc.NewService(ledgerRepo, activityRepo, locks, lockWait, logger)
	branchSvc := branch.NewService(refRepo, ledgerRepo, activityRepo, locks, lockWait, logger)
	canvasSvc := canvas.NewService(refRepo, artefactRepo, ledgerRepo, activityRepo, locks, lockWait, logger)
	leaseSvc := lease.NewService(leaseRepo, logger)
	contextSvc := contextbuild.NewService(refRepo, ledgerRepo, logger)

	providers := llm.NewRegistry()
	if cfg.LLM.OpenAIAPIKey != "" {
		providers.Register(string(llm.ProviderOpenAIChat), openaichat.New(cfg.LLM.OpenAIAPIKey, llm.DefaultModel(llm.ProviderOpenAIChat), logger))
	}
	if cfg.LLM.OpenAIRespAPIKey != "" {
		providers.Register(string(llm.ProviderOpenAIResponses), openairesp.New(cfg.LLM.OpenAIRespAPIKey, llm.DefaultModel(llm.ProviderOpenAIResponses), logger))
	}
	if cfg.LLM.GeminiAPIKey != "" {
		geminiAdapter, err := gemini.New(context.Background(), cfg.LLM.GeminiAPIKey, llm.DefaultModel(llm.ProviderGemini), logger)
		if err != nil {
			logger.Error("failed to initialize gemini adapter", "error", err)
			os.Exit(1)
		}
		providers.Register(string(llm.ProviderGemini), geminiAdapter)
	}

	streamSvc := stream.NewService(refRepo, appendSvc, contextSvc, leaseSvc, providers, stream.Defaults{
		LeaseTTL:       time.Duration(cfg.Lease.TTLSeconds) * time.Second,
		LeaseWaitBound: lockWait,
		ContextLimit:   cfg.Context.HistoryLimit,
		TokenLimit:     cfg.Context.TokenLimit,
		MergeRole:      cfg.Context.MergeSummaryRole,
	}, logger)

	resolver := &apiKeyResolver{db: db}
	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Projects:  projectSvc,
			Refs:      refRepo,
			History:   ledgerRepo,
			Activity:  activityRepo,
			Stars:     starRepo,
			UserPrefs: userPrefsRepo,
			Branch:    branchSvc,
			Canvas:    canvasSvc,
			Leases:    leaseSvc,
			Stream:    streamSvc,
		},
		Resolver:      resolver,
		AuthEnabled:   cfg.Auth.Enabled,
		TransportMode: cfg.Transport.Mode,
		Logger:        logger,
	})

	if cfg.Transport.Mode == "stdio" {
		runStdioMode(logger, mcpServer)
	} else {
		runHTTPMode(logger, mcpServer, cfg.Server.Host, cfg.Server.Port)
	}
}

func runStdioMode(logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport", "auth", "disabled")

	transport := &sdkmcp.StdioTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	if err := mcpServer.Run(ctx, transport); err != nil {
		logger.Error("stdio server error", "error", err)
		os.Exit(1)
	}
}

func runHTTPMode(logger *slog.Logger, mcpServer *sdkmcp.Server, host string, port int) {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)

	router := http.NewServeMux()
	router.Handle("/mcp", mcpHandler)
	router.Handle("/mcp/", mcpHandler)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}
	if size <= keepLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}

// apiKeyResolver resolves (tenant, user) pairs from the api_keys table
// populated out-of-band by an operator.
type apiKeyResolver struct {
	db *sqlite.DB
}

func (r *apiKeyResolver) Resolve(ctx context.Context, token string) (string, string, error) {
	hash := hashToken(token)
	var tenantID, userID string
	err := r.db.QueryRowContext(ctx, `SELECT tenant_id, user_id FROM api_keys WHERE token_hash = ?`, hash).Scan(&tenantID, &userID)
	if err != nil || tenantID == "" {
		return "", "", fmt.Errorf("unauthorized: invalid token")
	}
	return tenantID, userID, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
