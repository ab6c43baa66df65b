package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/quizbank/internal/handler/views"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/store"
)

const maxUploadSize = 64 << 20

var errInvalidImage = errors.New("invalid image type")

// questionForm carries the editable fields of a question for validation.
type questionForm struct {
	Content       string                `validate:"required_without=ImagePath,max=2000"`
	ImagePath     string                `validate:"max=255"`
	Answers       [3]model.AnswerOption `validate:"dive"`
	Correct       model.Option          `validate:"required,oneof=A B C"`
	ProfessionIDs []int64               `validate:"min=1"`
	TestTypeIDs   []int64               `validate:"min=1"`
	Comment       string                `validate:"max=2000"`
}

func formOf(q model.Question) questionForm {
	return questionForm{
		Content:       q.Content,
		ImagePath:     q.ImagePath,
		Answers:       q.Answers,
		Correct:       q.Correct,
		ProfessionIDs: q.ProfessionIDs,
		TestTypeIDs:   q.TestTypeIDs,
		Comment:       q.Comment,
	}
}

func (h *Handler) handleQuestionsPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qs, err := h.store.ListQuestions(ctx)
	if err != nil {
		serverError(w, r, "failed to list questions", err)
		return
	}
	profs, err := h.store.ListProfessions(ctx)
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	tts, err := h.store.ListTestTypes(ctx)
	if err != nil {
		serverError(w, r, "failed to list test types", err)
		return
	}
	profNames := make(map[int64]string, len(profs))
	for _, p := range profs {
		profNames[p.ID] = p.Name
	}
	ttNames := make(map[int64]string, len(tts))
	for _, t := range tts {
		ttNames[t.ID] = t.Name
	}

	rows := make([]views.QuestionRow, 0, len(qs))
	for _, q := range qs {
		row := views.QuestionRow{Question: q}
		for _, id := range q.ProfessionIDs {
			row.Professions = append(row.Professions, profNames[id])
		}
		for _, id := range q.TestTypeIDs {
			row.TestTypes = append(row.TestTypes, ttNames[id])
		}
		rows = append(rows, row)
	}

	var flash views.Flash
	if r.URL.Query().Get("deleted") != "" {
		flash.Text = appI18n.T(ctx, "QuestionDeleted")
	}
	render(w, r, http.StatusOK, views.QuestionsPage(views.QuestionsData{Flash: flash, Questions: rows}))
}

func (h *Handler) renderQuestionForm(w http.ResponseWriter, r *http.Request, status int, q model.Question, flash views.Flash) {
	ctx := r.Context()
	profs, err := h.store.ListProfessions(ctx)
	if err != nil {
		serverError(w, r, "failed to list professions", err)
		return
	}
	tts, err := h.store.ListTestTypes(ctx)
	if err != nil {
		serverError(w, r, "failed to list test types", err)
		return
	}
	render(w, r, status, views.QuestionFormPage(views.QuestionFormData{
		Flash:       flash,
		Question:    q,
		Professions: profs,
		TestTypes:   tts,
		LLMEnabled:  h.config.LLMEnabled,
	}))
}

func (h *Handler) handleNewQuestionPage(w http.ResponseWriter, r *http.Request) {
	h.renderQuestionForm(w, r, http.StatusOK, model.Question{Correct: model.OptionA}, views.Flash{})
}

// loadQuestion fetches the question named in the URL, writing a 404 when
// it is missing. A zero ID with ok means a new question.
func (h *Handler) loadQuestion(w http.ResponseWriter, r *http.Request) (model.Question, bool) {
	idStr := chi.URLParam(r, "questionID")
	if idStr == "" {
		return model.Question{}, true
	}
	id, ok := parseID(idStr)
	if !ok {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return model.Question{}, false
	}
	q, err := h.store.GetQuestion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return model.Question{}, false
	}
	if err != nil {
		serverError(w, r, "failed to get question", err)
		return model.Question{}, false
	}
	return q, true
}

func (h *Handler) handleEditQuestionPage(w http.ResponseWriter, r *http.Request) {
	q, ok := h.loadQuestion(w, r)
	if !ok {
		return
	}
	var flash views.Flash
	if r.URL.Query().Get("saved") != "" {
		flash.Text = appI18n.T(r.Context(), "QuestionSaved")
	}
	h.renderQuestionForm(w, r, http.StatusOK, q, flash)
}

// applyForm copies the submitted text fields onto q.
func applyForm(r *http.Request, q *model.Question) {
	q.Content = strings.TrimSpace(r.FormValue("content"))
	for i, o := range model.Options {
		q.Answers[i].Text = strings.TrimSpace(r.FormValue("answer_" + string(o)))
	}
	q.Correct, _ = model.ParseOption(r.FormValue("correct"))
	q.ProfessionIDs = parseIDs(r.Form["profession_ids"])
	q.TestTypeIDs = parseIDs(r.Form["test_type_ids"])
	q.Comment = strings.TrimSpace(r.FormValue("comment"))
	if r.FormValue("remove_image") != "" {
		q.ImagePath = ""
	}
}

// saveUpload stores an uploaded image under a fresh name and returns that
// name, or "" when the field was left empty.
func (h *Handler) saveUpload(r *http.Request, field string) (string, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !importer.AllowedImageExts[ext] {
		return "", fmt.Errorf("%w: %s", errInvalidImage, hdr.Filename)
	}
	name := uuid.NewString() + ext
	out, err := os.Create(filepath.Join(h.config.UploadsDir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	slog.Info("image uploaded", "name", name, "original", hdr.Filename)
	return name, nil
}

func (h *Handler) saveUploads(r *http.Request, q *model.Question) error {
	name, err := h.saveUpload(r, "image")
	if err != nil {
		return err
	}
	if name != "" {
		q.ImagePath = name
	}
	for i, o := range model.Options {
		name, err := h.saveUpload(r, "image_"+string(o))
		if err != nil {
			return err
		}
		if name != "" {
			q.Answers[i].ImagePath = name
		}
	}
	return nil
}

func (h *Handler) handleSaveQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	q, ok := h.loadQuestion(w, r)
	if !ok {
		return
	}
	applyForm(r, &q)

	if err := h.saveUploads(r, &q); err != nil {
		if errors.Is(err, errInvalidImage) {
			h.renderQuestionForm(w, r, http.StatusUnprocessableEntity, q,
				views.Flash{Text: appI18n.T(ctx, "InvalidImage"), Error: true})
			return
		}
		serverError(w, r, "failed to save upload", err)
		return
	}
	if err := h.validate.Struct(formOf(q)); err != nil {
		slog.Info("question form rejected", "error", err)
		h.renderQuestionForm(w, r, http.StatusUnprocessableEntity, q,
			views.Flash{Text: appI18n.T(ctx, "InvalidForm"), Error: true})
		return
	}

	if q.ID == 0 {
		id, err := h.store.InsertQuestion(ctx, q)
		if err != nil {
			serverError(w, r, "failed to insert question", err)
			return
		}
		q.ID = id
		slog.Info("question created", "id", id)
	} else {
		if err := h.store.UpdateQuestion(ctx, q); err != nil {
			serverError(w, r, "failed to update question", err)
			return
		}
		slog.Info("question updated", "id", q.ID)
	}
	http.Redirect(w, r, h.path(fmt.Sprintf("/questions/%d?saved=1", q.ID)), http.StatusSeeOther)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "questionID"))
	if !ok {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return
	}
	err := h.store.DeleteQuestion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, r, "failed to delete question", err)
		return
	}
	slog.Info("question deleted", "id", id)
	http.Redirect(w, r, h.path("/questions?deleted=1"), http.StatusSeeOther)
}

// handleDraftComment fills the comment field from the language model using
// the form as submitted. Nothing is saved.
func (h *Handler) handleDraftComment(w http.ResponseWriter, r *http.Request) {
	if h.drafter == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	q, ok := h.loadQuestion(w, r)
	if !ok {
		return
	}
	applyForm(r, &q)

	comment, err := h.drafter.DraftComment(ctx, appI18n.Lang(ctx), q)
	if err != nil {
		slog.Error("failed to draft comment", "question_id", q.ID, "error", err)
		h.renderQuestionForm(w, r, http.StatusOK, q,
			views.Flash{Text: appI18n.T(ctx, "CommentDraftFailed"), Error: true})
		return
	}
	q.Comment = comment
	h.renderQuestionForm(w, r, http.StatusOK, q, views.Flash{Text: appI18n.T(ctx, "CommentDrafted")})
}

func (h *Handler) handleImportPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.ImportPage(views.ImportData{}))
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, hdr.Filename, err
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sheet, name, err := readFormFile(r, "sheet")
	if err != nil {
		render(w, r, http.StatusBadRequest, views.ImportPage(views.ImportData{
			Flash: views.Flash{Text: appI18n.T(ctx, "InvalidForm"), Error: true},
		}))
		return
	}
	images, _, err := readFormFile(r, "images")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		serverError(w, r, "failed to read image archive", err)
		return
	}

	report, err := h.importer.Import(ctx, importer.Bundle{Name: name, Sheet: sheet, Images: images})
	switch {
	case errors.Is(err, importer.ErrAlreadyImported):
		render(w, r, http.StatusConflict, views.ImportPage(views.ImportData{
			Flash: views.Flash{Text: appI18n.T(ctx, "AlreadyImported"), Error: true},
		}))
	case err != nil:
		slog.Error("import failed", "file", name, "error", err)
		render(w, r, http.StatusUnprocessableEntity, views.ImportPage(views.ImportData{
			Flash: views.Flash{Text: appI18n.T(ctx, "ImportFailed") + " " + err.Error(), Error: true},
		}))
	default:
		render(w, r, http.StatusOK, views.ImportPage(views.ImportData{Report: &report}))
	}
}
