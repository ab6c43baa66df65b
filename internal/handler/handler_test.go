package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/quizbank/internal/exam"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/pdf"
	"github.com/pavelanni/quizbank/internal/store"
)

type fakePrinter struct{}

func (fakePrinter) PrintPDF(_ context.Context, _ string) ([]byte, error) {
	return []byte("%PDF-1.4"), nil
}

type fixture struct {
	h       *Handler
	srv     *httptest.Server
	store   *store.Store
	driver  int64
	guard   int64
	signals int64
	empty   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	f := &fixture{store: st}
	mustID := func(id int64, err error) int64 {
		t.Helper()
		if err != nil {
			t.Fatalf("create category: %v", err)
		}
		return id
	}
	f.driver = mustID(st.CreateProfession(ctx, "Driver"))
	f.guard = mustID(st.CreateProfession(ctx, "Guard"))
	f.signals = mustID(st.CreateTestType(ctx, "Signals"))
	f.empty = mustID(st.CreateTestType(ctx, "Empty"))

	for i := range exam.ExamLength {
		_, err := st.InsertQuestion(ctx, model.Question{
			Content:       fmt.Sprintf("Signal question %d", i+1),
			Answers:       [3]model.AnswerOption{{Text: "stop"}, {Text: "go"}, {Text: "slow"}},
			Correct:       model.OptionA,
			ProfessionIDs: []int64{f.driver, f.guard},
			TestTypeIDs:   []int64{f.signals},
		})
		if err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []model.User{
		{Username: "admin", PasswordHash: string(hash), Role: model.UserRoleAdmin, Active: true},
		{Username: "anna", PasswordHash: string(hash), Role: model.UserRoleUser, Active: true, ProfessionIDs: []int64{f.driver}},
	} {
		if _, err := st.CreateUser(u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	uploads := t.TempDir()
	sampler := exam.NewSampler(42)
	composer, err := pdf.NewComposer(fakePrinter{}, uploads, "")
	if err != nil {
		t.Fatal(err)
	}
	h, err := New(Deps{
		Store:     st,
		Engine:    exam.NewEngine(st, st, sampler),
		Sessions:  exam.NewRegistry(),
		Importer:  importer.New(st, uploads),
		Generator: pdf.NewGenerator(exam.NewBalancer(st, sampler), composer),
	}, model.AppConfig{UploadsDir: uploads})
	if err != nil {
		t.Fatal(err)
	}

	f.h = h

	r := chi.NewRouter()
	r.Use(appI18n.Middleware(false))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func (f *fixture) client(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: f.srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) csrf() string {
	c.t.Helper()
	u, _ := url.Parse(c.base)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == csrfCookieName {
			return ck.Value
		}
	}
	// No token yet: any GET issues one.
	c.get("/login")
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == csrfCookieName {
			return ck.Value
		}
	}
	c.t.Fatal("no csrf cookie issued")
	return ""
}

func (c *client) get(path string) (int, string) {
	c.t.Helper()
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		c.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (c *client) postRaw(path string, form url.Values) *http.Response {
	c.t.Helper()
	resp, err := c.http.Post(c.base+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (c *client) post(path string, form url.Values) (int, string) {
	c.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", c.csrf())
	resp := c.postRaw(path, form)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (c *client) login(username string) {
	c.t.Helper()
	status, body := c.post("/login", url.Values{"username": {username}, "password": {"secret"}})
	if status != http.StatusOK || strings.Contains(body, "Invalid username") {
		c.t.Fatalf("login %s: status %d", username, status)
	}
}

func TestRequiresLogin(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	status, body := c.get("/")
	if status != http.StatusOK || !strings.Contains(body, `name="password"`) {
		t.Fatalf("expected login page, got %d", status)
	}
}

func TestCSRFRejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.get("/login")
	resp := c.postRaw("/login", url.Values{"username": {"admin"}, "password": {"secret"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestWrongPassword(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	status, body := c.post("/login", url.Values{"username": {"admin"}, "password": {"nope"}})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if !strings.Contains(body, "Invalid username or password") {
		t.Error("expected login error message")
	}
}

func TestExamFlow(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.login("anna")

	status, body := c.post("/exam/start", url.Values{
		"profession_id": {fmt.Sprint(f.driver)},
		"test_type_id":  {fmt.Sprint(f.signals)},
	})
	if status != http.StatusOK || !strings.Contains(body, "Question 1 / 30") {
		t.Fatalf("start: status %d", status)
	}

	// Finishing with unanswered questions is a conflict.
	if status, _ := c.post("/exam/finish", nil); status != http.StatusConflict {
		t.Fatalf("early finish: expected 409, got %d", status)
	}
	if status, body := c.post("/exam/answer", url.Values{"position": {"1"}}); status != http.StatusUnprocessableEntity ||
		!strings.Contains(body, "Choose an answer first") {
		t.Fatalf("empty answer: status %d", status)
	}

	for pos := 1; pos <= exam.ExamLength; pos++ {
		answer := "A"
		if pos%3 == 0 {
			answer = "B"
		}
		status, _ := c.post("/exam/answer", url.Values{"position": {fmt.Sprint(pos)}, "answer": {answer}})
		if status != http.StatusOK {
			t.Fatalf("answer %d: status %d", pos, status)
		}
	}

	status, body = c.post("/exam/review", nil)
	if status != http.StatusOK || !strings.Contains(body, "Question 1 / 30") {
		t.Fatalf("review: status %d", status)
	}
	status, body = c.post("/exam/finish", nil)
	if status != http.StatusOK || !strings.Contains(body, "20 / 30") {
		t.Fatalf("finish: status %d body %q", status, body)
	}
	if status, _ := c.post("/exam/finish", nil); status != http.StatusConflict {
		t.Fatalf("second finish: expected 409, got %d", status)
	}

	qs, err := f.store.ListQuestions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, q := range qs {
		total += q.TotalAttempts
	}
	if total != exam.ExamLength {
		t.Errorf("expected %d recorded attempts, got %d", exam.ExamLength, total)
	}

	status, body = c.post("/exam/exit", nil)
	if status != http.StatusOK || !strings.Contains(body, `name="profession_id"`) {
		t.Errorf("exit: expected the setup page, got %d", status)
	}
}

func TestExamStartErrors(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.login("anna")

	tests := []struct {
		name       string
		profession int64
		testType   int64
		wantStatus int
		wantText   string
	}{
		{"foreign profession", f.guard, f.signals, http.StatusForbidden, "You cannot take exams"},
		{"empty pool", f.driver, f.empty, http.StatusOK, "No questions available for this selection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := c.post("/exam/start", url.Values{
				"profession_id": {fmt.Sprint(tt.profession)},
				"test_type_id":  {fmt.Sprint(tt.testType)},
			})
			if status != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, status)
			}
			if !strings.Contains(body, tt.wantText) {
				t.Errorf("expected body to contain %q", tt.wantText)
			}
		})
	}

	if status, _ := c.post("/exam/review", nil); status != http.StatusConflict {
		t.Errorf("review in setup: expected 409, got %d", status)
	}
}

func TestRoleGuard(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.login("anna")
	for _, path := range []string{"/admin/users", "/questions", "/admin/print"} {
		if status, _ := c.get(path); status != http.StatusForbidden {
			t.Errorf("GET %s: expected 403, got %d", path, status)
		}
	}
}

func TestAdminCategoriesAndPrint(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.login("admin")

	if status, _ := c.post("/admin/categories/test-types", url.Values{"name": {"Brakes"}}); status != http.StatusOK {
		t.Fatalf("add test type: status %d", status)
	}
	if status, body := c.post("/admin/categories/test-types", url.Values{"name": {"Brakes"}}); status != http.StatusConflict ||
		!strings.Contains(body, "already exists") {
		t.Fatalf("duplicate test type: status %d", status)
	}

	status, body := c.post("/admin/print", url.Values{
		"profession_id": {fmt.Sprint(f.driver)},
		"topic_ids":     {fmt.Sprint(f.signals), fmt.Sprint(f.empty)},
		"count":         {"10"},
	})
	if status != http.StatusUnprocessableEntity || !strings.Contains(body, "Not enough questions in category Empty") {
		t.Fatalf("print with empty topic: status %d", status)
	}

	form := url.Values{
		"profession_id": {fmt.Sprint(f.driver)},
		"topic_ids":     {fmt.Sprint(f.signals)},
		"count":         {"10"},
		"csrf_token":    {c.csrf()},
	}
	resp := c.postRaw("/admin/print", form)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("print: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("unexpected content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("expected a zip archive")
	}
}

func TestEditorQuestionLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.login("admin")

	status, body := c.post("/questions/new", url.Values{
		"content":        {"What does a green flag mean?"},
		"answer_A":       {"Proceed"},
		"answer_B":       {"Stop"},
		"answer_C":       {"Reverse"},
		"correct":        {"A"},
		"profession_ids": {fmt.Sprint(f.driver)},
		"test_type_ids":  {fmt.Sprint(f.signals)},
	})
	if status != http.StatusOK || !strings.Contains(body, "Question saved") {
		t.Fatalf("create question: status %d", status)
	}

	status, _ = c.post("/questions/new", url.Values{
		"content": {"Missing answers"},
		"correct": {"A"},
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("invalid question: expected 422, got %d", status)
	}

	count, err := f.store.QuestionCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != exam.ExamLength+1 {
		t.Errorf("expected %d questions, got %d", exam.ExamLength+1, count)
	}

	status, body = c.post(fmt.Sprintf("/questions/%d/delete", count), nil)
	if status != http.StatusOK || !strings.Contains(body, "Question deleted") {
		t.Fatalf("delete: status %d", status)
	}
	if status, _ := c.get("/questions/9999"); status != http.StatusNotFound {
		t.Errorf("missing question: expected 404, got %d", status)
	}
}

// Handlers that read multi-valued fields parse the form themselves rather
// than relying on earlier middleware.
func TestFormHandlersParseTheirOwnForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, err := f.store.GetUserByUsername("admin")
	if err != nil || admin == nil {
		t.Fatalf("admin: %v", err)
	}

	post := func(form url.Values) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req.WithContext(model.ContextWithUser(appI18n.WithLanguage(ctx, "en"), admin))
	}

	rec := httptest.NewRecorder()
	f.h.handlePrint(rec, post(url.Values{
		"profession_id": {fmt.Sprint(f.driver)},
		"topic_ids":     {fmt.Sprint(f.signals)},
		"count":         {"5"},
	}))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("print: status %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	f.h.handleCreateUser(rec, post(url.Values{
		"username":       {"marek"},
		"password":       {"secret1"},
		"role":           {"user"},
		"profession_ids": {fmt.Sprint(f.driver), fmt.Sprint(f.guard)},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create user: status %d", rec.Code)
	}
	u, err := f.store.GetUserByUsername("marek")
	if err != nil || u == nil {
		t.Fatalf("user not created: %v", err)
	}
	if len(u.ProfessionIDs) != 2 {
		t.Errorf("expected 2 professions, got %v", u.ProfessionIDs)
	}
}
