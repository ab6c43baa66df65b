package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/pdf"
	"github.com/pavelanni/quizbank/internal/store"
)

// CommentDrafter drafts explanatory comments for questions.
type CommentDrafter interface {
	DraftComment(ctx context.Context, lang string, q model.Question) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	engine    *exam.Engine
	sessions  *exam.Registry
	importer  *importer.Importer
	generator *pdf.Generator
	drafter   CommentDrafter
	config    model.AppConfig
	validate  *validator.Validate
}

// Deps groups the services a Handler needs. Drafter may be nil.
type Deps struct {
	Store     *store.Store
	Engine    *exam.Engine
	Sessions  *exam.Registry
	Importer  *importer.Importer
	Generator *pdf.Generator
	Drafter   CommentDrafter
}

// New creates a new Handler.
func New(d Deps, cfg model.AppConfig) (*Handler, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, err
	}
	cfg.LLMEnabled = d.Drafter != nil
	return &Handler{
		store:     d.Store,
		engine:    d.Engine,
		sessions:  d.Sessions,
		importer:  d.Importer,
		generator: d.Generator,
		drafter:   d.Drafter,
		config:    cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)

	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.handleLogout)
		r.Handle("/uploads/*", http.StripPrefix(h.path("/uploads/"), http.FileServer(http.Dir(h.config.UploadsDir))))

		r.Get("/", h.handleHome)
		r.Route("/exam", func(r chi.Router) {
			r.Get("/", h.handleExamPage)
			r.Post("/start", h.handleStartExam)
			r.Post("/answer", h.handleAnswer)
			r.Post("/skip", h.examAction((*exam.Session).Skip))
			r.Post("/review", h.examAction((*exam.Session).EnterReview))
			r.Post("/prev", h.examAction((*exam.Session).Prev))
			r.Post("/next", h.examAction((*exam.Session).Next))
			r.Post("/finish", h.handleFinish)
			r.Post("/exit", h.handleExit)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin, model.UserRoleEditor))
			r.Get("/questions", h.handleQuestionsPage)
			r.Get("/questions/new", h.handleNewQuestionPage)
			r.Post("/questions/new", h.handleSaveQuestion)
			r.Get("/questions/import", h.handleImportPage)
			r.Post("/questions/import", h.handleImport)
			r.Get("/questions/{questionID}", h.handleEditQuestionPage)
			r.Post("/questions/{questionID}", h.handleSaveQuestion)
			r.Post("/questions/{questionID}/delete", h.handleDeleteQuestion)
			r.Post("/questions/{questionID}/draft-comment", h.handleDraftComment)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleAdminUsersPage)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.Get("/admin/categories", h.handleCategoriesPage)
			r.Post("/admin/categories/professions", h.handleAddProfession)
			r.Post("/admin/categories/test-types", h.handleAddTestType)
			r.Get("/admin/print", h.handlePrintPage)
			r.Post("/admin/print", h.handlePrint)
		})
	})
}

// BasePathMiddleware makes the configured prefix available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes an absolute application path with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "path", r.URL.Path, "error", err)
	}
}

func serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func parseIDs(values []string) []int64 {
	var ids []int64
	for _, v := range values {
		if id, ok := parseID(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
