package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pmpcoach/internal/chat"
	"github.com/pavelanni/pmpcoach/internal/exam"
	"github.com/pavelanni/pmpcoach/internal/handler"
	appI18n "github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/levels"
	"github.com/pavelanni/pmpcoach/internal/llm"
	"github.com/pavelanni/pmpcoach/internal/llm/prompts"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/progress"
	"github.com/pavelanni/pmpcoach/internal/question"
	"github.com/pavelanni/pmpcoach/internal/store"
)

const cleanupInterval = time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pmpcoach",
		Short: "PMP exam preparation server with an AI tutor",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), userAddCmd())

	// "serve" is the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "pmpcoach.db", "SQLite database path")
	f.StringP("lang", "l", "es", "Default UI language (es, en)")
	f.String("llm-url", llm.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM (or set GOOGLE_API_KEY)")
	f.String("llm-model", llm.DefaultModel, "LLM model name")
	f.Duration("llm-timeout", 2*time.Minute, "Timeout for non-streaming LLM calls")
	f.Int("llm-max-concurrent", 4, "Concurrent non-streaming LLM calls")
	f.Int("rate-limit", 2, "LLM requests per user per second (0 disables)")
	f.Int("rate-burst", 0, "Rate limiter burst (0 means three times the rate)")
	f.StringSlice("allowed-origins", nil, "Browser origins allowed for CORS and websockets")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam simulation results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "pmpcoach.db", "SQLite database path")
	f.StringP("user", "u", "", "Only export this username's attempts")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func userAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "useradd USERNAME",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	}
	f := cmd.Flags()
	f.String("db", "pmpcoach.db", "SQLite database path")
	f.String("display-name", "", "Display name (defaults to the username)")
	f.String("password", "", "Password (or set PMPCOACH_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags, the PMPCOACH_* environment and an
// optional pmpcoach config file to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PMPCOACH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm-key", "PMPCOACH_LLM_KEY", "GOOGLE_API_KEY")

	v.SetConfigName("pmpcoach")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/pmpcoach")
	v.AddConfigPath("/etc/pmpcoach")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	catalog, err := levels.Load()
	if err != nil {
		return fmt.Errorf("load levels: %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:       v.GetString("llm-url"),
		APIKey:        v.GetString("llm-key"),
		Model:         v.GetString("llm-model"),
		MaxConcurrent: v.GetInt("llm-max-concurrent"),
		Timeout:       v.GetDuration("llm-timeout"),
	})
	if !llmClient.Configured() {
		slog.Warn("no LLM API key configured, AI features will answer 503")
	} else {
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		if err := llmClient.Ping(pingCtx); err != nil {
			slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())
		}
		cancel()
	}

	prog := progress.NewService(db, catalog)
	questions := question.NewGenerator(llmClient)
	exams := exam.New(db, questions, prog)
	defer exams.Close()
	chats := chat.NewController(llmClient, db, prog)

	cfg := model.AppConfig{
		SecureCookies:  v.GetBool("secure-cookies"),
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		RateLimit:      v.GetInt("rate-limit"),
		RateBurst:      v.GetInt("rate-burst"),
	}
	h, err := handler.New(handler.Deps{
		Store:     db,
		Exams:     exams,
		Chats:     chats,
		Progress:  prog,
		Questions: questions,
	}, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(handler.CORS(cfg.AllowedOrigins))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go cleanupSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", llmClient.Model(),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"rate_limit", cfg.RateLimit,
			"allowed_origins", cfg.AllowedOrigins,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// cleanupSessions deletes expired auth sessions until ctx is done.
func cleanupSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupExpiredSessions(ctx)
			if err != nil {
				slog.Warn("failed to clean up auth sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("cleaned up auth sessions", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	user := v.GetString("user")
	results, err := db.ExportAttempts(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}
	if results == nil {
		results = []model.AttemptResult{}
	}

	data, err := json.MarshalIndent(model.ExamExport{
		GeneratedAt: time.Now().UTC(),
		User:        user,
		Attempts:    len(results),
		Results:     results,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer = os.Stdout
	if out := v.GetString("output"); out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	username := strings.TrimSpace(args[0])
	password := v.GetString("password")
	if username == "" {
		return errors.New("username is required")
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters: set --password or PMPCOACH_PASSWORD")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}
	id, err := db.CreateUser(cmd.Context(), model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user", "username", username, "id", id)
	return nil
}
