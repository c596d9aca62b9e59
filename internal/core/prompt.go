package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gwi.com/wellbeing-companion/internal/store"
)

//go:embed prompts/chat_prompt.txt
var defaultChatTemplate string

const (
	placeholderContext  = "{context}"
	placeholderHistory  = "{chat_history}"
	placeholderQuestion = "{question}"
)

// Role tags who produced a history turn.
type Role int

const (
	RoleHuman Role = iota
	RoleModel
)

func (r Role) prefix() string {
	if r == RoleModel {
		return "AI"
	}
	return "Human"
}

// Turn is one entry of conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Exchange is a question/answer pair as clients send it.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TurnsFromExchanges flattens client-supplied exchanges into turns.
// Empty sides are skipped.
func TurnsFromExchanges(exchanges []Exchange) []Turn {
	turns := make([]Turn, 0, 2*len(exchanges))
	for _, ex := range exchanges {
		if ex.Question != "" {
			turns = append(turns, Turn{Role: RoleHuman, Content: ex.Question})
		}
		if ex.Answer != "" {
			turns = append(turns, Turn{Role: RoleModel, Content: ex.Answer})
		}
	}
	return turns
}

// TurnsFromMessages converts stored chat messages into turns.
func TurnsFromMessages(msgs []store.ChatMessage) []Turn {
	exchanges := make([]Exchange, 0, len(msgs))
	for _, m := range msgs {
		exchanges = append(exchanges, Exchange{Question: m.Query, Answer: m.Response})
	}
	return TurnsFromExchanges(exchanges)
}

// FormatHistory renders turns as "Human: ..." / "AI: ..." lines.
func FormatHistory(history []Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, t.Role.prefix()+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// PromptAssembler fills the chat template.
type PromptAssembler struct {
	template string
}

// NewPromptAssembler uses template, or the built-in template when empty.
func NewPromptAssembler(template string) *PromptAssembler {
	if strings.TrimSpace(template) == "" {
		template = defaultChatTemplate
	}
	return &PromptAssembler{template: template}
}

// LoadPromptAssembler reads a template override from path. An empty path
// selects the built-in template.
func LoadPromptAssembler(path string) (*PromptAssembler, error) {
	if path == "" {
		return NewPromptAssembler(""), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}
	tmpl := string(raw)
	for _, p := range []string{placeholderContext, placeholderHistory, placeholderQuestion} {
		if !strings.Contains(tmpl, p) {
			return nil, fmt.Errorf("prompt template %s is missing placeholder %s", path, p)
		}
	}
	return NewPromptAssembler(tmpl), nil
}

// Render substitutes the three placeholders in a single literal pass, so
// placeholder text inside user input is never expanded.
func (p *PromptAssembler) Render(context string, history []Turn, question string) string {
	return strings.NewReplacer(
		placeholderContext, context,
		placeholderHistory, FormatHistory(history),
		placeholderQuestion, question,
	).Replace(p.template)
}
