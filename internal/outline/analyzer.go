package outline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"memtech/internal/config"
)

const systemPrompt = "Tu es un expert en rédaction de mémoires techniques. Ta tâche est de proposer une structure claire et logique pour le mémoire technique basée sur le RC fourni."

const userPrompt = `En tant qu'expert en marchés publics, analyse le règlement de consultation suivant et propose une structure détaillée pour le mémoire technique.

Document RC :
%s

Format de réponse attendu (avec numérotation claire) :
1. [Titre du chapitre] ([Nombre de points] points)
   1.1. [Sous-titre] ([Nombre de points] points)
      1.1.1. [Sous-sous-titre] ([Nombre de points] points)

Important :
- Reproduire exactement les intitulés des critères de jugement du mémoire technique exigés dans le RC
- Inclure les points pour chaque critère
- Ne pas reformuler les intitulés
- Ne pas inventer de sections non mentionnées dans le RC
- Utiliser une numérotation claire et hiérarchique (1, 1.1, 1.1.1)
`

// maxPromptRunes bounds the RC text sent to the model.
const maxPromptRunes = 60000

var ErrEmptyText = errors.New("document text is empty")

// Result is what an analysis returns to callers.
type Result struct {
	Outline    Outline `json:"outline"`
	TokenCount int     `json:"token_count"`
	Source     string  `json:"source" enum:"llm,headings"`
	Raw        string  `json:"raw,omitempty"`
}

// Completer is the slice of the OpenAI client the analyzer uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer asks a chat model for an outline. With no client it falls back to the
// numbered headings found in the text.
type Analyzer struct {
	Client      Completer
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewAnalyzer returns an analyzer wired to an OpenAI-compatible endpoint, or a
// headings-only analyzer when no API key is configured.
func NewAnalyzer(cfg config.LLMConfig) Analyzer {
	a := Analyzer{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	if a.Model == "" {
		a.Model = openai.GPT4oMini
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return a
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	a.Client = openai.NewClientWithConfig(oc)
	return a
}

func (a Analyzer) Analyze(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyText
	}
	res := Result{TokenCount: len(strings.Fields(text))}
	if a.Client == nil {
		res.Outline = FromHeadings(Headings(text))
		res.Source = "headings"
		return res, nil
	}
	resp, err := a.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, truncateRunes(text, maxPromptRunes))},
		},
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("llm completion returned no choices")
	}
	res.Raw = resp.Choices[0].Message.Content
	res.Outline = Parse(res.Raw)
	res.Source = "llm"
	return res, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
