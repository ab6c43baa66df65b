package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizbank/internal/model"
)

func TestParseComment(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", `{"comment": "Red means stop."}`, "Red means stop.", false},
		{"fenced", "```json\n{\"comment\": \"Fenced.\"}\n```", "Fenced.", false},
		{"whitespace", `  {"comment": "  padded  "}  `, "padded", false},
		{"empty comment", `{"comment": ""}`, "", true},
		{"not json", `Sure! Here is a comment.`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseComment(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDraftComment(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "x",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"comment": "Because."}`}}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/v1", "test", "test-model")
	require.NoError(t, err)

	q := model.Question{
		Content: "Q?",
		Answers: [3]model.AnswerOption{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		Correct: model.OptionC,
	}
	comment, err := c.DraftComment(context.Background(), "pl", q)
	require.NoError(t, err)
	assert.Equal(t, "Because.", comment)
	assert.Contains(t, gotPrompt, "Poprawna odpowiedź: C")
}
