// Package views renders HTML pages as templ components.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages holds one parsed set per page: the layout plus the page's "content".
var pages = mustParsePages()

// baseFuncs are replaced per render with request-bound versions.
var baseFuncs = template.FuncMap{
	"t":       func(id string) string { return id },
	"tp":      func(id string, n int) string { return id },
	"url":     func(p string) string { return p },
	"csrf":    func() string { return "" },
	"user":    func() *model.User { return nil },
	"lang":    func() string { return "" },
	"isAdmin": func() bool { return false },
	"isStaff": func() bool { return false },
	"letter":  func(i int) model.Option { return model.Options[i] },
	"upload": func(name string) string {
		return name
	},
	"hasID": func(ids []int64, id int64) bool {
		for _, x := range ids {
			if x == id {
				return true
			}
		}
		return false
	},
	"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", v) },
	"add": func(a, b int) int { return a + b },
}

func mustParsePages() map[string]*template.Template {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*template.Template)
	for _, n := range names {
		base := path.Base(n)
		if base == "layout.html" {
			continue
		}
		t := template.Must(template.New("layout.html").Funcs(baseFuncs).
			ParseFS(templateFS, "templates/layout.html", n))
		out[strings.TrimSuffix(base, ".html")] = t
	}
	return out
}

// page wraps a parsed page so it renders with the request's language,
// user, base path and CSRF token.
func page(name, title string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		base, ok := pages[name]
		if !ok {
			return fmt.Errorf("unknown page %q", name)
		}
		t, err := base.Clone()
		if err != nil {
			return err
		}
		bp := model.BasePathFromContext(ctx)
		u := model.UserFromContext(ctx)
		t.Funcs(template.FuncMap{
			"t":    func(id string) string { return appI18n.T(ctx, id) },
			"tp":   func(id string, n int) string { return appI18n.Tp(ctx, id, n) },
			"url":  func(p string) string { return bp + p },
			"csrf": func() string { return model.CSRFTokenFromContext(ctx) },
			"user": func() *model.User { return u },
			"lang": func() string { return appI18n.Lang(ctx) },
			"isAdmin": func() bool {
				return u != nil && u.Role == model.UserRoleAdmin
			},
			"isStaff": func() bool {
				return u != nil && (u.Role == model.UserRoleAdmin || u.Role == model.UserRoleEditor)
			},
			"upload": func(name string) string { return bp + "/uploads/" + path.Base(name) },
		})
		return t.ExecuteTemplate(w, "layout.html", struct {
			Title string
			Data  any
		}{Title: title, Data: data})
	})
}
