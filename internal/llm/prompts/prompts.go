package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/quizbank/internal/model"
)

//go:embed templates/*.txt
var FS embed.FS

var questionTagRegex = regexp.MustCompile(`(?i)</?\s*question\b[^>]*>`)

// Language selects the prompt template.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguagePolish  Language = "pl"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Language]*template.Template
)

// IsValidLanguage reports whether a prompt template exists for lang.
func IsValidLanguage(lang string) bool {
	switch Language(lang) {
	case LanguageEnglish, LanguagePolish:
		return true
	}
	return false
}

// CommentData holds template data for comment prompts.
type CommentData struct {
	Content      string
	AnswerA      string
	AnswerB      string
	AnswerC      string
	Correct      model.Option
	Existing     string
	MaxSentences int
}

// Load parses the comment templates from fsys. Only the first call does work.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Language]*template.Template)
		for _, lang := range []Language{LanguageEnglish, LanguagePolish} {
			file := "templates/comment_" + string(lang) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New("comment").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[lang] = tmpl
		}
	})
	return loadErr
}

// BuildCommentPrompt renders the prompt asking for an explanatory comment.
func BuildCommentPrompt(lang Language, q model.Question) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[lang]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt language: " + string(lang))
	}

	data := CommentData{
		Content:      sanitize(q.Content, 4000),
		AnswerA:      answerText(q.Answers[0]),
		AnswerB:      answerText(q.Answers[1]),
		AnswerC:      answerText(q.Answers[2]),
		Correct:      q.Correct,
		Existing:     sanitize(q.Comment, 2000),
		MaxSentences: 3,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func answerText(a model.AnswerOption) string {
	if a.Text == "" && a.ImagePath != "" {
		return "[image]"
	}
	return sanitize(a.Text, 500)
}

// sanitize strips tags that could close the question block and caps length.
func sanitize(s string, limit int) string {
	s = questionTagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit]) + " [truncated]"
	}
	return s
}
