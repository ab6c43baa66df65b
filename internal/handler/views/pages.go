package views

import (
	"github.com/a-h/templ"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/model"
)

// Flash is a one-off message shown above page content. Text is already
// translated.
type Flash struct {
	Text  string
	Error bool
}

func LoginPage(errMsg string) templ.Component {
	return page("login", "Login", struct{ Error string }{errMsg})
}

// HomeData drives the exam setup page.
type HomeData struct {
	Flash        Flash
	Professions  []model.ProfessionGroup
	TestTypes    []model.TestType
	ProfessionID int64
	TestTypeID   int64
}

func HomePage(d HomeData) templ.Component {
	return page("home", "ExamSetup", d)
}

// ExamData drives the question page during testing and review.
type ExamData struct {
	Flash      Flash
	View       exam.View
	Reviewing  bool
	Profession string
	TestType   string
}

// Complete reports whether every question has an answer.
func (d ExamData) Complete() bool {
	return d.View.Answered == d.View.Total
}

func ExamPage(d ExamData) templ.Component {
	return page("exam", "Exam", d)
}

// ResultData drives the results page.
type ResultData struct {
	Result     exam.Result
	Profession string
	TestType   string
}

func ResultPage(d ResultData) templ.Component {
	return page("result", "Results", d)
}

// QuestionRow is a question in the editor list with category names resolved.
type QuestionRow struct {
	Question    model.Question
	Professions []string
	TestTypes   []string
}

type QuestionsData struct {
	Flash     Flash
	Questions []QuestionRow
}

func QuestionsPage(d QuestionsData) templ.Component {
	return page("questions", "Questions", d)
}

type QuestionFormData struct {
	Flash       Flash
	Question    model.Question
	Professions []model.ProfessionGroup
	TestTypes   []model.TestType
	LLMEnabled  bool
}

// IsNew reports whether the form creates a question.
func (d QuestionFormData) IsNew() bool {
	return d.Question.ID == 0
}

func QuestionFormPage(d QuestionFormData) templ.Component {
	return page("question_form", "EditQuestion", d)
}

type ImportData struct {
	Flash  Flash
	Report *importer.Report
}

func ImportPage(d ImportData) templ.Component {
	return page("import", "Import", d)
}

type UsersData struct {
	Flash       Flash
	Users       []model.User
	Professions []model.ProfessionGroup
}

func AdminUsersPage(d UsersData) templ.Component {
	return page("users", "Users", d)
}

type CategoriesData struct {
	Flash       Flash
	Professions []model.ProfessionGroup
	TestTypes   []model.TestType
}

func CategoriesPage(d CategoriesData) templ.Component {
	return page("categories", "Categories", d)
}

type PrintData struct {
	Flash       Flash
	Professions []model.ProfessionGroup
	TestTypes   []model.TestType
	Request     model.PrintRequest
}

func PrintPage(d PrintData) templ.Component {
	return page("print", "Print", d)
}
