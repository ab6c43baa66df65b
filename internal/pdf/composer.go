// Package pdf renders exam sheets and answer keys to PDF.
package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/pavelanni/quizbank/internal/layout"
	"github.com/pavelanni/quizbank/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Printer turns a self-contained HTML document into PDF bytes.
type Printer interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// Labels are the fixed texts printed on the documents.
type Labels struct {
	NameLine string
	KeyTitle string
}

// DefaultLabels are used when the caller does not localize.
var DefaultLabels = Labels{
	NameLine: "Name: ............................................................ Date: ....................",
	KeyTitle: "ANSWER KEY",
}

// Documents is the output of one print job.
type Documents struct {
	Sheet []byte
	Key   []byte
}

// WriteZip packs both documents as exam.pdf and key.pdf.
func (d Documents) WriteZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, f := range []struct {
		name string
		data []byte
	}{{"exam.pdf", d.Sheet}, {"key.pdf", d.Key}} {
		fw, err := zw.Create(f.name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Composer paginates questions and prints the sheet and key.
type Composer struct {
	printer    Printer
	uploadsDir string
	logoPath   string
	sheet      layout.SheetMetrics
	key        layout.KeyMetrics
	tmpl       *template.Template
}

// NewComposer builds a composer. Image paths on questions are resolved
// against uploadsDir; logoPath may be empty.
func NewComposer(printer Printer, uploadsDir, logoPath string) (*Composer, error) {
	c := &Composer{
		printer:    printer,
		uploadsDir: uploadsDir,
		logoPath:   logoPath,
		sheet:      layout.DefaultSheetMetrics,
		key:        layout.DefaultKeyMetrics,
	}
	tmpl, err := template.New("pdf").Funcs(template.FuncMap{
		"imageFor": c.imageURL,
		"letter":   func(i int) model.Option { return model.Options[i] },
		"columnLeft": func(i int) float64 {
			return 2 + float64(i)*3.5
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	c.tmpl = tmpl
	return c, nil
}

// RenderSheet returns the HTML for the exam sheet.
func (c *Composer) RenderSheet(title string, labels Labels, questions []model.Question) (string, error) {
	data := struct {
		Title    string
		NameLine string
		Logo     template.URL
		Pages    []layout.Page
	}{
		Title:    title,
		NameLine: labels.NameLine,
		Logo:     c.logoURL(),
		Pages:    layout.PaginateSheet(questions, c.sheet),
	}
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, "sheet.html", data); err != nil {
		return "", fmt.Errorf("render sheet: %w", err)
	}
	return buf.String(), nil
}

// RenderKey returns the HTML for the answer key.
func (c *Composer) RenderKey(labels Labels, questions []model.Question) (string, error) {
	data := struct {
		Title string
		Pages []layout.KeyPage
	}{
		Title: labels.KeyTitle,
		Pages: layout.PaginateKey(questions, c.key),
	}
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, "key.html", data); err != nil {
		return "", fmt.Errorf("render key: %w", err)
	}
	return buf.String(), nil
}

// Compose renders and prints both documents for the given questions, in order.
func (c *Composer) Compose(ctx context.Context, title string, labels Labels, questions []model.Question) (Documents, error) {
	var docs Documents
	sheetHTML, err := c.RenderSheet(title, labels, questions)
	if err != nil {
		return docs, err
	}
	keyHTML, err := c.RenderKey(labels, questions)
	if err != nil {
		return docs, err
	}
	if docs.Sheet, err = c.printer.PrintPDF(ctx, sheetHTML); err != nil {
		return docs, fmt.Errorf("print sheet: %w", err)
	}
	if docs.Key, err = c.printer.PrintPDF(ctx, keyHTML); err != nil {
		return docs, fmt.Errorf("print key: %w", err)
	}
	slog.Info("composed exam documents",
		"title", title, "questions", len(questions), "sheet_bytes", len(docs.Sheet), "key_bytes", len(docs.Key))
	return docs, nil
}

func (c *Composer) logoURL() template.URL {
	if c.logoPath == "" {
		return ""
	}
	return dataURL(c.logoPath)
}

// imageURL inlines an uploaded image so the printed document needs no file
// access. Missing images are logged and left out.
func (c *Composer) imageURL(name string) template.URL {
	if name == "" {
		return ""
	}
	return dataURL(filepath.Join(c.uploadsDir, filepath.Base(name)))
}

func dataURL(path string) template.URL {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("skipping image", "path", path, "error", err)
		return ""
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "application/octet-stream"
	}
	return template.URL("data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data))
}
