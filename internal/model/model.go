package model

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleAdmin manages users, categories and printable sheets.
	UserRoleAdmin UserRole = "admin"
	// UserRoleEditor curates the question bank.
	UserRoleEditor UserRole = "editor"
	// UserRoleUser sits exams for the professions assigned to them.
	UserRoleUser UserRole = "user"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleEditor, UserRoleUser:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID            int64
	Username      string
	DisplayName   string
	PasswordHash  string
	Role          UserRole
	Active        bool
	ProfessionIDs []int64
	CreatedAt     time.Time
}

// CanUseProfession reports whether the user may sit exams for the profession.
// Admins and editors are not restricted.
func (u *User) CanUseProfession(id int64) bool {
	if u.Role != UserRoleUser {
		return true
	}
	for _, p := range u.ProfessionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Option is one of the three answer letters.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
)

// Options lists the answer letters in display order.
var Options = [3]Option{OptionA, OptionB, OptionC}

// ParseOption parses a letter, case-insensitively and ignoring surrounding space.
func ParseOption(s string) (Option, error) {
	o := Option(strings.ToUpper(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("invalid answer option %q", s)
	}
	return o, nil
}

// Valid reports whether o is A, B or C.
func (o Option) Valid() bool {
	return o == OptionA || o == OptionB || o == OptionC
}

// Index returns 0 for A, 1 for B, 2 for C and -1 otherwise.
func (o Option) Index() int {
	switch o {
	case OptionA:
		return 0
	case OptionB:
		return 1
	case OptionC:
		return 2
	}
	return -1
}

// AnswerOption is the text and/or image of a single answer.
type AnswerOption struct {
	Text      string `json:"text" validate:"required_without=ImagePath,max=500"`
	ImagePath string `json:"image_path,omitempty" validate:"required_without=Text"`
}

// ProfessionGroup is a profession category such as "Driver" or "Conductor".
type ProfessionGroup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TestType is a topic category questions are tagged with.
type TestType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Question represents a multiple-choice question with its statistics.
type Question struct {
	ID              int64           `json:"id"`
	Content         string          `json:"content"`
	ImagePath       string          `json:"image_path,omitempty"`
	Answers         [3]AnswerOption `json:"answers"`
	Correct         Option          `json:"correct"`
	Comment         string          `json:"comment,omitempty"`
	ProfessionIDs   []int64         `json:"profession_ids,omitempty"`
	TestTypeIDs     []int64         `json:"test_type_ids,omitempty"`
	TotalAttempts   int             `json:"total_attempts"`
	CorrectAttempts int             `json:"correct_attempts"`
	PassRate        float64         `json:"pass_rate"`
}

// Answer returns the answer option for the given letter.
func (q Question) Answer(o Option) AnswerOption {
	if i := o.Index(); i >= 0 {
		return q.Answers[i]
	}
	return AnswerOption{}
}

// PassRate is the percentage of correct attempts rounded to two decimals,
// or 0 when there are no attempts.
func PassRate(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(correct) / float64(total) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PrintRequest asks for a balanced printable sheet.
type PrintRequest struct {
	ProfessionID int64   `validate:"required,gt=0"`
	TopicIDs     []int64 `validate:"required,min=1,dive,gt=0"`
	Count        int     `validate:"required,min=1,max=500"`
	Title        string  `validate:"max=200"`
}

// QuestionImport is a question record produced by bulk import, with
// categories given by name.
type QuestionImport struct {
	Content     string          `json:"content" validate:"required_without=ImagePath"`
	ImagePath   string          `json:"image_path,omitempty"`
	Answers     [3]AnswerOption `json:"answers" validate:"dive"`
	Correct     Option          `json:"correct" validate:"required,oneof=A B C"`
	Comment     string          `json:"comment,omitempty"`
	Professions []string        `json:"professions" validate:"dive,required,max=100"`
	TestTypes   []string        `json:"test_types" validate:"dive,required,max=100"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath      string // URL prefix for sub-path deployments
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	UploadsDir    string // Where question images are stored
	LLMEnabled    bool   // Editors may request drafted comments
}
