package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/handler/views"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/model"
)

// allowedProfessions returns the profession groups the user may sit exams for.
func (h *Handler) allowedProfessions(ctx context.Context, u *model.User) ([]model.ProfessionGroup, error) {
	all, err := h.store.ListProfessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ProfessionGroup
	for _, p := range all {
		if u.CanUseProfession(p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// selectionNames resolves the names shown in the exam header.
func (h *Handler) selectionNames(ctx context.Context, professionID, testTypeID int64) (string, string) {
	var prof, tt string
	if ps, err := h.store.ListProfessions(ctx); err == nil {
		for _, p := range ps {
			if p.ID == professionID {
				prof = p.Name
			}
		}
	}
	if ts, err := h.store.ListTestTypes(ctx); err == nil {
		for _, t := range ts {
			if t.ID == testTypeID {
				tt = t.Name
			}
		}
	}
	return prof, tt
}

func (h *Handler) renderHome(w http.ResponseWriter, r *http.Request, status int, d views.HomeData) {
	u := model.UserFromContext(r.Context())
	profs, err := h.allowedProfessions(r.Context(), u)
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	tts, err := h.store.ListTestTypes(r.Context())
	if err != nil {
		serverError(w, r, "failed to list test types", err)
		return
	}
	d.Professions = profs
	d.TestTypes = tts
	render(w, r, status, views.HomePage(d))
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	u := model.UserFromContext(r.Context())
	_, s := h.sessions.ForUser(u.ID)
	if s.Phase() != exam.PhaseSetup {
		http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
		return
	}
	h.renderHome(w, r, http.StatusOK, views.HomeData{})
}

// renderExam shows whatever the session's phase calls for.
func (h *Handler) renderExam(w http.ResponseWriter, r *http.Request, status int, s *exam.Session, flash views.Flash) {
	profID, ttID := s.Selection()
	prof, tt := h.selectionNames(r.Context(), profID, ttID)

	switch s.Phase() {
	case exam.PhaseSetup:
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
	case exam.PhaseFinished:
		res := s.Result()
		render(w, r, status, views.ResultPage(views.ResultData{Result: *res, Profession: prof, TestType: tt}))
	default:
		view, err := s.Current()
		if err != nil {
			// The session moved on between the phase check and the read.
			http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
			return
		}
		render(w, r, status, views.ExamPage(views.ExamData{
			Flash:      flash,
			View:       view,
			Reviewing:  s.Phase() == exam.PhaseReview,
			Profession: prof,
			TestType:   tt,
		}))
	}
}

func (h *Handler) session(r *http.Request) *exam.Session {
	u := model.UserFromContext(r.Context())
	_, s := h.sessions.ForUser(u.ID)
	return s
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	h.renderExam(w, r, http.StatusOK, h.session(r), views.Flash{})
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := model.UserFromContext(ctx)
	profID, ok1 := parseID(r.FormValue("profession_id"))
	ttID, ok2 := parseID(r.FormValue("test_type_id"))
	data := views.HomeData{ProfessionID: profID, TestTypeID: ttID}
	if !ok1 || !ok2 {
		data.Flash = views.Flash{Text: appI18n.T(ctx, "InvalidSelection"), Error: true}
		h.renderHome(w, r, http.StatusBadRequest, data)
		return
	}
	if !u.CanUseProfession(profID) {
		slog.Warn("exam start for foreign profession", "user", u.Username, "profession_id", profID)
		data.Flash = views.Flash{Text: appI18n.T(ctx, "ProfessionNotAllowed"), Error: true}
		h.renderHome(w, r, http.StatusForbidden, data)
		return
	}

	sessionID, s := h.sessions.ForUser(u.ID)
	err := h.engine.Start(ctx, s, profID, ttID)
	switch {
	case err == nil:
		slog.Info("exam started", "session_id", sessionID, "user", u.Username,
			"profession_id", profID, "test_type_id", ttID)
		http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
	case errors.Is(err, exam.ErrEmptyPool):
		data.Flash = views.Flash{Text: appI18n.T(ctx, "NoQuestionsForSelection"), Error: true}
		h.renderHome(w, r, http.StatusOK, data)
	case errors.Is(err, exam.ErrInvalidTransition):
		h.conflict(w, r, s, err)
	default:
		serverError(w, r, "failed to start exam", err)
	}
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	pos, err := strconv.Atoi(r.FormValue("position"))
	if err != nil {
		h.conflict(w, r, s, exam.ErrPositionOutOfRange)
		return
	}
	var opt model.Option
	if v := r.FormValue("answer"); v != "" {
		if opt, err = model.ParseOption(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	err = s.Answer(pos-1, opt)
	switch {
	case err == nil:
		http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
	case errors.Is(err, exam.ErrNoAnswer):
		h.renderExam(w, r, http.StatusUnprocessableEntity, s,
			views.Flash{Text: appI18n.T(r.Context(), "AnswerRequired"), Error: true})
	default:
		h.conflict(w, r, s, err)
	}
}

// examAction adapts a no-argument session transition to a POST handler.
func (h *Handler) examAction(fn func(*exam.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.session(r)
		if err := fn(s); err != nil {
			h.conflict(w, r, s, err)
			return
		}
		http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
	}
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if _, err := h.engine.Finish(r.Context(), s); err != nil {
		h.conflict(w, r, s, err)
		return
	}
	http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
}

// handleExit abandons the exam, whatever its phase, without statistics.
func (h *Handler) handleExit(w http.ResponseWriter, r *http.Request) {
	u := model.UserFromContext(r.Context())
	h.sessions.Discard(u.ID)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

// conflict reports a disallowed transition with 409 and re-renders the
// current screen when there is one.
func (h *Handler) conflict(w http.ResponseWriter, r *http.Request, s *exam.Session, err error) {
	slog.Info("exam action rejected", "phase", s.Phase(), "error", err)
	if p := s.Phase(); p == exam.PhaseTesting || p == exam.PhaseReview {
		h.renderExam(w, r, http.StatusConflict, s,
			views.Flash{Text: appI18n.T(r.Context(), "ActionNotAllowed"), Error: true})
		return
	}
	http.Error(w, appI18n.T(r.Context(), "ActionNotAllowed"), http.StatusConflict)
}
