package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/handler/views"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/pdf"
	"github.com/pavelanni/quizbank/internal/store"
)

type newUserForm struct {
	Username    string         `validate:"required,max=64"`
	DisplayName string         `validate:"max=128"`
	Password    string         `validate:"required,min=6"`
	Role        model.UserRole `validate:"required,oneof=admin editor user"`
}

func (h *Handler) renderUsers(w http.ResponseWriter, r *http.Request, status int, flash views.Flash) {
	users, err := h.store.ListUsers()
	if err != nil {
		serverError(w, r, "failed to list users", err)
		return
	}
	profs, err := h.store.ListProfessions(r.Context())
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	render(w, r, status, views.AdminUsersPage(views.UsersData{Flash: flash, Users: users, Professions: profs}))
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	h.renderUsers(w, r, http.StatusOK, views.Flash{})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := newUserForm{
		Username:    strings.TrimSpace(r.FormValue("username")),
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Password:    r.FormValue("password"),
		Role:        model.UserRole(r.FormValue("role")),
	}
	if err := h.validate.Struct(form); err != nil {
		slog.Info("user form rejected", "error", err)
		h.renderUsers(w, r, http.StatusUnprocessableEntity, views.Flash{Text: appI18n.T(ctx, "InvalidForm"), Error: true})
		return
	}
	if existing, err := h.store.GetUserByUsername(form.Username); err != nil {
		serverError(w, r, "failed to look up user", err)
		return
	} else if existing != nil {
		h.renderUsers(w, r, http.StatusConflict, views.Flash{Text: appI18n.T(ctx, "DuplicateName"), Error: true})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		serverError(w, r, "failed to hash password", err)
		return
	}
	if form.DisplayName == "" {
		form.DisplayName = form.Username
	}

	_, err = h.store.CreateUser(model.User{
		Username:      form.Username,
		DisplayName:   form.DisplayName,
		PasswordHash:  string(hash),
		Role:          form.Role,
		Active:        true,
		ProfessionIDs: parseIDs(r.PostForm["profession_ids"]),
	})
	if err != nil {
		serverError(w, r, "failed to create user", err)
		return
	}
	h.renderUsers(w, r, http.StatusOK, views.Flash{Text: appI18n.T(ctx, "UserCreated")})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "userID"))
	if !ok {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}
	if me := model.UserFromContext(r.Context()); me != nil && me.ID == id {
		http.Error(w, appI18n.T(r.Context(), "ActionNotAllowed"), http.StatusConflict)
		return
	}
	u, err := h.store.GetUserByID(id)
	if err != nil {
		serverError(w, r, "failed to get user", err)
		return
	}
	if u == nil {
		http.NotFound(w, r)
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		serverError(w, r, "failed to toggle user active", err)
		return
	}
	if u.Active {
		if err := h.store.DeleteUserSessions(id); err != nil {
			slog.Error("failed to drop sessions of deactivated user", "id", id, "error", err)
		}
		h.sessions.Discard(id)
	}
	slog.Info("user active toggled", "id", id, "active", !u.Active)
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) renderCategories(w http.ResponseWriter, r *http.Request, status int, flash views.Flash) {
	profs, err := h.store.ListProfessions(r.Context())
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	tts, err := h.store.ListTestTypes(r.Context())
	if err != nil {
		serverError(w, r, "failed to list test types", err)
		return
	}
	render(w, r, status, views.CategoriesPage(views.CategoriesData{Flash: flash, Professions: profs, TestTypes: tts}))
}

func (h *Handler) handleCategoriesPage(w http.ResponseWriter, r *http.Request) {
	h.renderCategories(w, r, http.StatusOK, views.Flash{})
}

func (h *Handler) addCategory(create func(context.Context, string) (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			h.renderCategories(w, r, http.StatusUnprocessableEntity, views.Flash{Text: appI18n.T(ctx, "InvalidForm"), Error: true})
			return
		}
		_, err := create(ctx, name)
		switch {
		case errors.Is(err, store.ErrDuplicateName):
			h.renderCategories(w, r, http.StatusConflict, views.Flash{Text: appI18n.T(ctx, "DuplicateName"), Error: true})
		case err != nil:
			serverError(w, r, "failed to add category", err)
		default:
			slog.Info("category added", "path", r.URL.Path, "name", name)
			h.renderCategories(w, r, http.StatusOK, views.Flash{Text: appI18n.T(ctx, "CategoryAdded")})
		}
	}
}

func (h *Handler) handleAddProfession(w http.ResponseWriter, r *http.Request) {
	h.addCategory(h.store.CreateProfession)(w, r)
}

func (h *Handler) handleAddTestType(w http.ResponseWriter, r *http.Request) {
	h.addCategory(h.store.CreateTestType)(w, r)
}

func (h *Handler) renderPrint(w http.ResponseWriter, r *http.Request, status int, req model.PrintRequest, flash views.Flash) {
	profs, err := h.store.ListProfessions(r.Context())
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	tts, err := h.store.ListTestTypes(r.Context())
	if err != nil {
		serverError(w, r, "failed to list test types", err)
		return
	}
	render(w, r, status, views.PrintPage(views.PrintData{Flash: flash, Professions: profs, TestTypes: tts, Request: req}))
}

func (h *Handler) handlePrintPage(w http.ResponseWriter, r *http.Request) {
	h.renderPrint(w, r, http.StatusOK, model.PrintRequest{Count: exam.ExamLength}, views.Flash{})
}

// PDFLabels returns the localized fixed texts for printed documents.
func PDFLabels(ctx context.Context) pdf.Labels {
	return pdf.Labels{
		NameLine: appI18n.T(ctx, "PDFNameLine"),
		KeyTitle: appI18n.T(ctx, "PDFKeyTitle"),
	}
}

func (h *Handler) handlePrint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	req := model.PrintRequest{
		TopicIDs: parseIDs(r.PostForm["topic_ids"]),
		Title:    strings.TrimSpace(r.PostFormValue("title")),
	}
	req.ProfessionID, _ = parseID(r.PostFormValue("profession_id"))
	req.Count, _ = strconv.Atoi(r.PostFormValue("count"))
	if err := h.validate.Struct(req); err != nil {
		h.renderPrint(w, r, http.StatusUnprocessableEntity, req,
			views.Flash{Text: appI18n.T(ctx, "InvalidSelection"), Error: true})
		return
	}

	profName, _ := h.selectionNames(ctx, req.ProfessionID, 0)
	if req.Title == "" {
		req.Title = appI18n.Td(ctx, "PDFSheetTitle", map[string]any{"Profession": profName})
	}

	docs, err := h.generator.Generate(ctx, req, PDFLabels(ctx))
	var short *exam.InsufficientTopicPoolError
	switch {
	case errors.As(err, &short):
		_, topic := h.selectionNames(ctx, 0, short.TopicID)
		h.renderPrint(w, r, http.StatusUnprocessableEntity, req, views.Flash{
			Text:  appI18n.Td(ctx, "NotEnoughQuestionsInTopic", map[string]any{"Name": topic}),
			Error: true,
		})
		return
	case err != nil:
		slog.Error("print failed", "profession_id", req.ProfessionID, "topics", req.TopicIDs, "error", err)
		h.renderPrint(w, r, http.StatusInternalServerError, req,
			views.Flash{Text: appI18n.T(ctx, "PrintFailed"), Error: true})
		return
	}

	slog.Info("print generated", "profession", profName, "topics", req.TopicIDs, "count", req.Count)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="exam.zip"`)
	if err := docs.WriteZip(w); err != nil {
		slog.Error("failed to write print archive", "error", err)
	}
}
