package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/handler"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/llm"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/pdf"
	"github.com/pavelanni/quizbank/internal/store"
)

func main() {
	// Deployments keep secrets in a .env file next to the binary.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizbank",
		Short: "Question bank, exam simulator and printable test generator",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), printCmd(), statsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizbank --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "quizbank.db", "SQLite database path")
	f.String("uploads-dir", "uploads", "Directory for question images")
	f.StringP("lang", "l", "pl", "Default language (pl, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /exams)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set QUIZBANK_ADMIN_PASSWORD)")
	f.StringSlice("default-professions", []string{"Maszynista", "Kierownik pociągu", "Konduktor", "Rewident"},
		"Profession groups created on first start")
	f.String("default-test-type", "Ogólny", "Test type created on first start")
	f.Duration("session-idle", 2*time.Hour, "Discard unfinished exams idle for longer than this")
	f.String("chrome-path", "", "Chrome/Chromium executable used for PDF rendering (default: autodetect)")
	f.String("logo", "", "Logo image printed on exam sheets")
	f.String("llm-url", "", "OpenAI-compatible API base URL for drafting comments (empty disables)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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

	v.SetEnvPrefix("QUIZBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizbank")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizbank")
	v.AddConfigPath("/etc/quizbank")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// normalizeBasePath turns "exams/" into "/exams" and "/" into "".
func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// newComposer builds the PDF composer shared by the server and the print command.
func newComposer(v *viper.Viper) (*pdf.Composer, error) {
	printer := &pdf.ChromePrinter{ExecPath: v.GetString("chrome-path")}
	return pdf.NewComposer(printer, v.GetString("uploads-dir"), v.GetString("logo"))
}

// newDrafter returns an LLM client, or nil when none is configured or the
// endpoint does not answer.
func newDrafter(v *viper.Viper) handler.CommentDrafter {
	url := v.GetString("llm-url")
	if url == "" {
		return nil
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
	if err != nil {
		slog.Warn("LLM disabled", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Warn("LLM health check failed, comment drafting disabled", "url", url, "error", err)
		return nil
	}
	slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	return client
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := seedCategories(ctx, db, v.GetStringSlice("default-professions"), v.GetString("default-test-type")); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	composer, err := newComposer(v)
	if err != nil {
		return fmt.Errorf("create PDF composer: %w", err)
	}
	sampler := exam.NewRandomSampler()
	sessions := exam.NewRegistry()
	uploadsDir := v.GetString("uploads-dir")
	basePath := normalizeBasePath(v.GetString("base-path"))

	drafter := newDrafter(v)
	deps := handler.Deps{
		Store:     db,
		Engine:    exam.NewEngine(db, db, sampler),
		Sessions:  sessions,
		Importer:  importer.New(db, uploadsDir),
		Generator: pdf.NewGenerator(exam.NewBalancer(db, sampler), composer),
		Drafter:   drafter,
	}
	h, err := handler.New(deps, model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		UploadsDir:    uploadsDir,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	idle := v.GetDuration("session-idle")
	jobs := cron.New()
	if _, err := jobs.AddFunc("@every 10m", func() {
		if n := sessions.EvictIdle(idle); n > 0 {
			slog.Info("evicted idle exam sessions", "count", n)
		}
		if n, err := db.CleanupExpiredSessions(); err != nil {
			slog.Error("failed to clean up auth sessions", "error", err)
		} else if n > 0 {
			slog.Info("removed expired auth sessions", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(v.GetBool("secure-cookies")))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"base_path", basePath,
		"session_idle", idle,
		"llm", drafter != nil,
	)
	return http.ListenAndServe(addr, r)
}
