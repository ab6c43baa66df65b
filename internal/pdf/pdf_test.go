package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizbank/internal/exam"
	"github.com/pavelanni/quizbank/internal/model"
)

type fakePrinter struct {
	docs []string
}

func (f *fakePrinter) PrintPDF(_ context.Context, html string) ([]byte, error) {
	f.docs = append(f.docs, html)
	return []byte("%PDF-" + string(rune('0'+len(f.docs)))), nil
}

func questions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:      int64(i + 1),
			Content: "Question text",
			Answers: [3]model.AnswerOption{{Text: "yes"}, {Text: "no"}, {Text: "maybe"}},
			Correct: model.Options[i%3],
		}
	}
	return qs
}

func TestCompose(t *testing.T) {
	p := &fakePrinter{}
	c, err := NewComposer(p, t.TempDir(), "")
	require.NoError(t, err)

	docs, err := c.Compose(context.Background(), "Driver exam", DefaultLabels, questions(30))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), docs.Sheet)
	assert.Equal(t, []byte("%PDF-2"), docs.Key)
	require.Len(t, p.docs, 2)

	sheet := p.docs[0]
	assert.Contains(t, sheet, "Driver exam")
	assert.Contains(t, sheet, "30. Question text")
	assert.Contains(t, sheet, "C) maybe")
	assert.Equal(t, 5, strings.Count(sheet, `<div class="page">`))
	// The header repeats on every page, so each page's capacity is the same.
	assert.Equal(t, 5, strings.Count(sheet, `<div class="title">Driver exam</div>`))
	assert.Equal(t, 5, strings.Count(sheet, `<div class="name-line">`))

	key := p.docs[1]
	assert.Contains(t, key, "ANSWER KEY")
	assert.Contains(t, key, "1: [ A ]")
	assert.Contains(t, key, "30: [ C ]")
	assert.Equal(t, 1, strings.Count(key, `<div class="page">`))
}

func TestComposeInlinesImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q.png"), []byte("png-bytes"), 0o644))

	c, err := NewComposer(&fakePrinter{}, dir, "")
	require.NoError(t, err)

	qs := questions(2)
	qs[0].ImagePath = "q.png"
	qs[1].ImagePath = "missing.png"
	html, err := c.RenderSheet("t", DefaultLabels, qs)
	require.NoError(t, err)
	assert.Contains(t, html, "data:image/png;base64,")
	assert.Equal(t, 1, strings.Count(html, `<img class="main"`))
}

func TestDocumentsWriteZip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Documents{Sheet: []byte("s"), Key: []byte("k")}.WriteZip(&buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "exam.pdf", zr.File[0].Name)
	assert.Equal(t, "key.pdf", zr.File[1].Name)
}

type fakeBalancer struct {
	qs  []model.Question
	err error
}

func (f *fakeBalancer) Balance(context.Context, int64, []int64, int) ([]model.Question, error) {
	return f.qs, f.err
}

func TestGenerateValidates(t *testing.T) {
	p := &fakePrinter{}
	c, err := NewComposer(p, t.TempDir(), "")
	require.NoError(t, err)
	g := NewGenerator(&fakeBalancer{qs: questions(3)}, c)

	tests := []struct {
		name string
		req  model.PrintRequest
	}{
		{"no profession", model.PrintRequest{TopicIDs: []int64{1}, Count: 3}},
		{"no topics", model.PrintRequest{ProfessionID: 1, Count: 3}},
		{"zero count", model.PrintRequest{ProfessionID: 1, TopicIDs: []int64{1}}},
		{"too many", model.PrintRequest{ProfessionID: 1, TopicIDs: []int64{1}, Count: 501}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(context.Background(), tt.req, DefaultLabels)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, p.docs)

	docs, err := g.Generate(context.Background(),
		model.PrintRequest{ProfessionID: 1, TopicIDs: []int64{1}, Count: 3, Title: "ok"}, DefaultLabels)
	require.NoError(t, err)
	assert.NotEmpty(t, docs.Sheet)
}

func TestGenerateStopsOnEmptyTopic(t *testing.T) {
	p := &fakePrinter{}
	c, err := NewComposer(p, t.TempDir(), "")
	require.NoError(t, err)
	g := NewGenerator(&fakeBalancer{err: &exam.InsufficientTopicPoolError{TopicID: 4}}, c)

	_, err = g.Generate(context.Background(),
		model.PrintRequest{ProfessionID: 1, TopicIDs: []int64{4}, Count: 10}, DefaultLabels)
	var ite *exam.InsufficientTopicPoolError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, int64(4), ite.TopicID)
	assert.Empty(t, p.docs, "nothing should be printed")
}
