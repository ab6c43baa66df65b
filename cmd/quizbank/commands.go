package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/handler"
	appI18n "github.com/pavelanni/quizbank/internal/i18n"
	"github.com/pavelanni/quizbank/internal/importer"
	"github.com/pavelanni/quizbank/internal/model"
	"github.com/pavelanni/quizbank/internal/pdf"
	"github.com/pavelanni/quizbank/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import questions from an xlsx spreadsheet and an optional zip of images",
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("sheet", "", "Path to the .xlsx spreadsheet (required)")
	f.String("images", "", "Path to a .zip archive with the images the sheet references")
	_ = cmd.MarkFlagRequired("sheet")
	return cmd
}

func printCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Generate a balanced exam sheet and answer key as PDF",
		RunE:  runPrint,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("profession", "", "Profession group name (required)")
	f.StringSlice("topics", nil, "Test type names to balance across (required)")
	f.IntP("count", "n", exam.ExamLength, "Number of questions")
	f.String("title", "", "Sheet title (default: localized title with the profession name)")
	f.String("chrome-path", "", "Chrome/Chromium executable (default: autodetect)")
	f.String("logo", "", "Logo image printed on the sheet")
	f.StringP("output", "o", "exam.zip", "Output zip with exam.pdf and key.pdf")
	_ = cmd.MarkFlagRequired("profession")
	_ = cmd.MarkFlagRequired("topics")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Export question statistics as JSON",
		RunE:  runStats,
	}
	addCommonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sheetPath := v.GetString("sheet")
	sheet, err := os.ReadFile(sheetPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", sheetPath, err)
	}
	var images []byte
	if p := v.GetString("images"); p != "" {
		if images, err = os.ReadFile(p); err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
	}
	uploadsDir := v.GetString("uploads-dir")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	im := importer.New(db, uploadsDir)
	report, err := im.Import(cmd.Context(), importer.Bundle{
		Name:   filepath.Base(sheetPath),
		Sheet:  sheet,
		Images: images,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", sheetPath, err)
	}
	for _, re := range report.Errors {
		fmt.Fprintf(cmd.OutOrStdout(), "row %d: %v\n", re.Row, re.Err)
	}
	if len(report.RejectedImages) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped archive entries: %s\n", strings.Join(report.RejectedImages, ", "))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d, failed %d, images %d\n", report.Imported, report.Failed, report.Images)
	return nil
}

// lookupIDs resolves category names, case-insensitively.
func lookupIDs(names []string, all map[string]int64) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := all[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown category %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runPrint(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLanguage(ctx, lang)

	profs, err := db.ListProfessions(ctx)
	if err != nil {
		return err
	}
	profByName := make(map[string]int64, len(profs))
	for _, p := range profs {
		profByName[strings.ToLower(p.Name)] = p.ID
	}
	tts, err := db.ListTestTypes(ctx)
	if err != nil {
		return err
	}
	ttByName := make(map[string]int64, len(tts))
	ttNames := make(map[int64]string, len(tts))
	for _, t := range tts {
		ttByName[strings.ToLower(t.Name)] = t.ID
		ttNames[t.ID] = t.Name
	}

	profName := v.GetString("profession")
	profIDs, err := lookupIDs([]string{profName}, profByName)
	if err != nil {
		return err
	}
	topicIDs, err := lookupIDs(v.GetStringSlice("topics"), ttByName)
	if err != nil {
		return err
	}

	req := model.PrintRequest{
		ProfessionID: profIDs[0],
		TopicIDs:     topicIDs,
		Count:        v.GetInt("count"),
		Title:        v.GetString("title"),
	}
	if req.Title == "" {
		req.Title = appI18n.Td(ctx, "PDFSheetTitle", map[string]any{"Profession": profName})
	}

	composer, err := newComposer(v)
	if err != nil {
		return fmt.Errorf("create PDF composer: %w", err)
	}
	gen := pdf.NewGenerator(exam.NewBalancer(db, exam.NewRandomSampler()), composer)
	docs, err := gen.Generate(ctx, req, handler.PDFLabels(ctx))
	var short *exam.InsufficientTopicPoolError
	if errors.As(err, &short) {
		return fmt.Errorf("not enough questions in category %s", ttNames[short.TopicID])
	}
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	out := v.GetString("output")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if err := docs.WriteZip(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("printed exam", "output", out, "profession", profName, "topics", len(topicIDs), "count", req.Count)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportStats(context.Background())
	if err != nil {
		return fmt.Errorf("export stats: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or QUIZBANK_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}

// seedCategories creates the default profession groups and test type when
// the respective table is empty.
func seedCategories(ctx context.Context, db *store.Store, professions []string, testType string) error {
	profs, err := db.ListProfessions(ctx)
	if err != nil {
		return err
	}
	if len(profs) == 0 {
		for _, name := range professions {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if _, err := db.EnsureProfession(ctx, name); err != nil {
				return fmt.Errorf("profession %q: %w", name, err)
			}
		}
		slog.Info("seeded profession groups", "count", len(professions))
	}

	tts, err := db.ListTestTypes(ctx)
	if err != nil {
		return err
	}
	if len(tts) == 0 && strings.TrimSpace(testType) != "" {
		if _, err := db.EnsureTestType(ctx, testType); err != nil {
			return fmt.Errorf("test type %q: %w", testType, err)
		}
		slog.Info("seeded test type", "name", testType)
	}
	return nil
}
