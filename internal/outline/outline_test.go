package outline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memtech/internal/config"
)

const sample = `Voici la structure proposée :

1. Moyens humains (30 points)
   1.1. Organisation du chantier (10 points)
      1.1.1. Encadrement (5 points)
      1.1.2. Sous-traitance
   1.2. Qualifications
3. Méthodologie (40,5 points)
   3.1. Phasage
      - Planning détaillé
`

func TestParse(t *testing.T) {
	o := Parse(sample)
	require.Len(t, o.Chapters, 2)

	c1 := o.Chapters[0]
	assert.Equal(t, "1. Moyens humains", c1.Title)
	require.NotNil(t, c1.Points)
	assert.Equal(t, 30.0, *c1.Points)
	require.Len(t, c1.Sections, 2)
	assert.Equal(t, "1.1. Organisation du chantier", c1.Sections[0].Title)
	require.Len(t, c1.Sections[0].Items, 2)
	assert.Equal(t, "1.1.1. Encadrement", c1.Sections[0].Items[0].Title)
	assert.Equal(t, 5.0, *c1.Sections[0].Items[0].Points)
	assert.Nil(t, c1.Sections[0].Items[1].Points)
	assert.Equal(t, "1.2. Qualifications", c1.Sections[1].Title)

	c2 := o.Chapters[1]
	assert.Equal(t, "2. Méthodologie", c2.Title, "chapters are renumbered")
	assert.Equal(t, 40.5, *c2.Points)
	require.Len(t, c2.Sections, 1)
	assert.Equal(t, "2.1. Phasage", c2.Sections[0].Title)
	require.Len(t, c2.Sections[0].Items, 1)
	assert.Equal(t, "2.1.1. Planning détaillé", c2.Sections[0].Items[0].Title)
}

func TestParseIgnoresOrphansAndProse(t *testing.T) {
	o := Parse("1.1. Orphan section\n      stray item\n2024 budget line\n1. Real chapter\n")
	require.Len(t, o.Chapters, 1)
	assert.Equal(t, "1. Real chapter", o.Chapters[0].Title)
	assert.Empty(t, o.Chapters[0].Sections)
}

func TestParseEmpty(t *testing.T) {
	o := Parse("")
	assert.NotNil(t, o.Chapters)
	assert.Empty(t, o.Chapters)
}

func TestRenderRoundTrip(t *testing.T) {
	o := Parse(sample)
	again := Parse(Render(o))
	assert.Equal(t, o, again)
	assert.Contains(t, Render(o), "      1.1.1. Encadrement (5 points)\n")
}

func TestHeadings(t *testing.T) {
	text := "ARTICLE\n1 Objet de la consultation\n2.1 Critères\n2.1.3 Valeur technique\nprose line\n"
	hs := Headings(text)
	require.Len(t, hs, 3)
	assert.Equal(t, Heading{Number: "1", Title: "Objet de la consultation", Level: 1}, hs[0])
	assert.Equal(t, 2, hs[1].Level)
	assert.Equal(t, 3, hs[2].Level)

	o := FromHeadings(hs)
	require.Len(t, o.Chapters, 1)
	assert.Equal(t, "1. Objet de la consultation", o.Chapters[0].Title)
	require.Len(t, o.Chapters[0].Sections, 1)
	assert.Equal(t, "1.1. Critères", o.Chapters[0].Sections[0].Title)
	require.Len(t, o.Chapters[0].Sections[0].Items, 1)
}

type fakeCompleter struct {
	reply string
	err   error
	got   openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}}}}, nil
}

func TestAnalyzerUsesModel(t *testing.T) {
	fc := &fakeCompleter{reply: sample}
	a := Analyzer{Client: fc, Model: "test-model", MaxTokens: 100}
	res, err := a.Analyze(context.Background(), "Règlement de consultation")
	require.NoError(t, err)
	assert.Equal(t, "llm", res.Source)
	assert.Equal(t, 3, res.TokenCount)
	assert.Len(t, res.Outline.Chapters, 2)
	assert.Equal(t, "test-model", fc.got.Model)
	require.Len(t, fc.got.Messages, 2)
	assert.Contains(t, fc.got.Messages[1].Content, "Règlement de consultation")
}

func TestAnalyzerErrors(t *testing.T) {
	_, err := Analyzer{}.Analyze(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	boom := errors.New("boom")
	_, err = Analyzer{Client: &fakeCompleter{err: boom}}.Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzerFallsBackToHeadings(t *testing.T) {
	a := NewAnalyzer(config.LLMConfig{})
	assert.Nil(t, a.Client)
	res, err := a.Analyze(context.Background(), "1 Présentation\n1.1 Equipe\n")
	require.NoError(t, err)
	assert.Equal(t, "headings", res.Source)
	require.Len(t, res.Outline.Chapters, 1)
}

func TestNewAnalyzerTalksToOpenAICompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "1. Chapitre unique (10 points)\n"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	a := NewAnalyzer(config.LLMConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	res, err := a.Analyze(context.Background(), "texte du RC")
	require.NoError(t, err)
	require.Len(t, res.Outline.Chapters, 1)
	assert.Equal(t, "1. Chapitre unique", res.Outline.Chapters[0].Title)
}

func TestExtractTextFromPlainText(t *testing.T) {
	text, err := ExtractTextFrom(strings.NewReader("1 Objet\n"))
	require.NoError(t, err)
	assert.Equal(t, "1 Objet\n", text)

	_, err = ExtractTextFrom(strings.NewReader("%PDF-1.4 broken"))
	assert.Error(t, err)
}
