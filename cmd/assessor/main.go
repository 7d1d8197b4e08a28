package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/assessor/internal/assembly"
	"github.com/pavelanni/assessor/internal/catalog"
	"github.com/pavelanni/assessor/internal/codeexec"
	"github.com/pavelanni/assessor/internal/handler"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
	"github.com/pavelanni/assessor/internal/submission"
	"github.com/pavelanni/assessor/internal/templates"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "assessor",
		Short:        "Skill assessment platform with oracle-generated questions and grading",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importTemplatesCmd(), auditCmd())

	// Make "serve" the default when no subcommand is given.
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
	addStoreFlags(cmd)
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 90*time.Second, "Timeout of a single LLM call")
	f.Bool("llm-ping", true, "Check the LLM endpoint at startup")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Short-answer grading prompt variant (strict, standard, lenient)")
	f.String("session-store", "file", "Where in-progress sessions are kept (file, sqlite, redis)")
	f.String("session-dir", "sessions", "Directory of the file session store")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis session store")
	f.String("redis-password", "", "Redis password")
	f.Duration("session-staleness", session.DefaultStaleness, "Age after which a saved session is discarded")
	f.String("default-language", session.DefaultLanguage, "Language preset on coding answers")
	f.Duration("request-timeout", 3*time.Minute, "HTTP request timeout")
	f.String("admin-password", "", "Admin password (or set ASSESSOR_ADMIN_PASSWORD); stored hashed")
	addLogFlags(cmd)
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "assessor.db", "SQLite database path")
	cmd.Flags().Int("in-query-limit", store.DefaultMaxInQuery, "Maximum ids per batched lookup")
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	err := v.ReadInConfig()
	setupLogging(v)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db"), store.WithMaxInQuery(v.GetInt("in-query-limit")))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}

	oracle := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), v.GetDuration("llm-timeout"))
	if v.GetBool("llm-ping") {
		if err := oracle.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	persister, closePersister, err := sessionPersister(v, db)
	if err != nil {
		return err
	}
	defer closePersister()

	asm := assembly.New(db, db, oracle)
	engine := scoring.New(oracle,
		scoring.WithVariant(prompts.PromptVariant(variant)),
		scoring.WithFallbackFeedback(appI18n.Lookup(lang, "FeedbackFallback")),
	)
	sub := submission.New(engine, db)
	registry := session.NewRegistry(persister, time.Second, sub.AutoSubmit,
		session.WithStaleness(v.GetDuration("session-staleness")),
		session.WithDefaultLanguage(v.GetString("default-language")),
	)
	defer registry.Close()

	h := handler.New(handler.Deps{
		Store:      db,
		Sessions:   registry,
		Assembler:  asm,
		Templates:  templates.New(db, asm),
		Roles:      catalog.NewGenerator(db, oracle),
		Submission: sub,
		Simulator:  codeexec.New(oracle),
	}, v.GetDuration("request-timeout"))

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           h.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"session_store", v.GetString("session-store"),
			"prompt_variant", variant,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("assessor stopped")
	return nil
}

func sessionPersister(v *viper.Viper, db *store.Store) (session.Persister, func(), error) {
	switch kind := strings.ToLower(v.GetString("session-store")); kind {
	case "file":
		dir := v.GetString("session-dir")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create session dir: %w", err)
		}
		return session.FilePersister{Dir: dir}, func() {}, nil
	case "sqlite":
		return session.KVPersister{KV: db}, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close redis client", "error", err)
			}
		}
		return session.NewRedisPersister(client, v.GetDuration("session-staleness")), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q (want file, sqlite or redis)", kind)
	}
}

// seedAdmin stores the bcrypt hash of password. An empty password keeps the
// stored hash; with neither, the admin API is disabled.
func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	if password == "" {
		hash, err := db.AdminPasswordHash(ctx)
		if err != nil {
			return err
		}
		if hash == "" {
			slog.Warn("no admin password configured, admin API disabled")
		}
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.SetAdminPasswordHash(ctx, string(hash)); err != nil {
		return err
	}
	slog.Info("admin password set", "username", handler.AdminUser)
	return nil
}
