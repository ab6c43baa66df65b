// Package importer loads questions in bulk from a spreadsheet and an
// optional zip archive of images.
package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/quizbank/internal/model"
)

// ErrAlreadyImported is returned when the same bundle was imported before.
var ErrAlreadyImported = errors.New("bundle already imported")

// AllowedImageExts lists the image types accepted in archives and uploads.
var AllowedImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Store is the persistence the importer needs.
type Store interface {
	ImportQuestion(ctx context.Context, qi model.QuestionImport) (int64, error)
	HasImportedHash(hash string) (bool, error)
	SetImportedFileHash(path, hash string) error
}

// Bundle is one import upload.
type Bundle struct {
	Name   string // spreadsheet file name, used as the import key
	Sheet  []byte // xlsx contents
	Images []byte // optional zip contents
}

// RowError describes a spreadsheet row that was not imported.
type RowError struct {
	Row int // 1-based, as shown in the spreadsheet
	Err error
}

// Report summarizes an import.
type Report struct {
	Imported       int
	Failed         int
	Errors         []RowError
	Images         int
	RejectedImages []string
}

type column int

const (
	colContent column = iota
	colAnsA
	colAnsB
	colAnsC
	colCorrect
	colImage
	colImageA
	colImageB
	colImageC
	colTestTypes
	colProfessions
	colComment
	numColumns
)

// headerAliases maps normalized header names to columns. Both the original
// Polish headers and English ones are accepted.
var headerAliases = map[string]column{
	"tresc": colContent, "treść": colContent, "content": colContent, "question": colContent,
	"odp_a": colAnsA, "answer_a": colAnsA,
	"odp_b": colAnsB, "answer_b": colAnsB,
	"odp_c": colAnsC, "answer_c": colAnsC,
	"poprawna": colCorrect, "correct": colCorrect,
	"grafika_glowna": colImage, "grafika_główna": colImage, "image": colImage,
	"grafika_a": colImageA, "image_a": colImageA,
	"grafika_b": colImageB, "image_b": colImageB,
	"grafika_c": colImageC, "image_c": colImageC,
	"rodzaje": colTestTypes, "test_types": colTestTypes, "topics": colTestTypes,
	"grupy": colProfessions, "professions": colProfessions, "groups": colProfessions,
	"komentarz": colComment, "comment": colComment,
}

var requiredColumns = map[column]string{
	colContent: "Tresc",
	colAnsA:    "Odp_A",
	colAnsB:    "Odp_B",
	colAnsC:    "Odp_C",
	colCorrect: "Poprawna",
}

type Importer struct {
	store      Store
	uploadsDir string
	validate   *validator.Validate
}

func New(store Store, uploadsDir string) *Importer {
	return &Importer{
		store:      store,
		uploadsDir: uploadsDir,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Import extracts images, then inserts every valid spreadsheet row in its own
// transaction. Bad rows are counted and reported, not fatal.
func (im *Importer) Import(ctx context.Context, b Bundle) (Report, error) {
	var rep Report

	sum := sha256.New()
	sum.Write(b.Sheet)
	sum.Write(b.Images)
	hash := hex.EncodeToString(sum.Sum(nil))
	seen, err := im.store.HasImportedHash(hash)
	if err != nil {
		return rep, fmt.Errorf("check import hash: %w", err)
	}
	if seen {
		return rep, fmt.Errorf("%s: %w", b.Name, ErrAlreadyImported)
	}

	if len(b.Images) > 0 {
		n, rejected, err := im.extractImages(b.Images)
		if err != nil {
			return rep, fmt.Errorf("extract images: %w", err)
		}
		rep.Images, rep.RejectedImages = n, rejected
	}

	rows, err := readRows(b.Sheet)
	if err != nil {
		return rep, err
	}
	if len(rows) == 0 {
		return rep, fmt.Errorf("spreadsheet is empty")
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return rep, err
	}

	for i, row := range rows[1:] {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rowNum := i + 2
		if blank(row) {
			continue
		}
		qi, err := im.parseRow(row, cols)
		if err == nil {
			_, err = im.store.ImportQuestion(ctx, qi)
		}
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, RowError{Row: rowNum, Err: err})
			slog.Warn("import row failed", "file", b.Name, "row", rowNum, "error", err)
			continue
		}
		rep.Imported++
	}

	if err := im.store.SetImportedFileHash(b.Name, hash); err != nil {
		return rep, fmt.Errorf("record import: %w", err)
	}
	slog.Info("import finished", "file", b.Name,
		"imported", rep.Imported, "failed", rep.Failed, "images", rep.Images, "rejected_images", len(rep.RejectedImages))
	return rep, nil
}

func readRows(sheet []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(sheet))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

func mapHeader(header []string) ([numColumns]int, error) {
	var cols [numColumns]int
	for i := range cols {
		cols[i] = -1
	}
	for i, h := range header {
		if c, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[c] = i
		}
	}
	var missing []string
	for c := colContent; c < numColumns; c++ {
		if name, ok := requiredColumns[c]; ok && cols[c] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("spreadsheet header is missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (im *Importer) parseRow(row []string, cols [numColumns]int) (model.QuestionImport, error) {
	cell := func(c column) string {
		i := cols[c]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	qi := model.QuestionImport{
		Content:   cell(colContent),
		ImagePath: imageName(cell(colImage)),
		Answers: [3]model.AnswerOption{
			{Text: cell(colAnsA), ImagePath: imageName(cell(colImageA))},
			{Text: cell(colAnsB), ImagePath: imageName(cell(colImageB))},
			{Text: cell(colAnsC), ImagePath: imageName(cell(colImageC))},
		},
		Comment:     cell(colComment),
		Professions: splitList(cell(colProfessions)),
		TestTypes:   splitList(cell(colTestTypes)),
	}
	correct, err := model.ParseOption(cell(colCorrect))
	if err != nil {
		return qi, err
	}
	qi.Correct = correct
	if err := im.validate.Struct(qi); err != nil {
		return qi, fmt.Errorf("invalid row: %w", err)
	}
	return qi, nil
}

func imageName(s string) string {
	if s == "" {
		return ""
	}
	return filepath.Base(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// extractImages writes allowed images from the archive into the uploads
// directory under their base names. Entries that would escape the
// directory or have another extension are rejected.
func (im *Importer) extractImages(data []byte) (int, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, nil, err
	}
	if err := os.MkdirAll(im.uploadsDir, 0o755); err != nil {
		return 0, nil, err
	}

	n := 0
	var rejected []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			rejected = append(rejected, f.Name)
			continue
		}
		if !AllowedImageExts[strings.ToLower(path.Ext(clean))] {
			rejected = append(rejected, f.Name)
			continue
		}
		if err := im.writeEntry(f, path.Base(clean)); err != nil {
			return n, rejected, fmt.Errorf("%s: %w", f.Name, err)
		}
		n++
	}
	return n, rejected, nil
}

func (im *Importer) writeEntry(f *zip.File, name string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(filepath.Join(im.uploadsDir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
