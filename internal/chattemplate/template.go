// Package chattemplate renders a chat message sequence into a single prompt
// string. Rendering is modeled as an injected pure function (§9): the core
// never embeds a template engine, only this package's DefaultRenderer and a
// model-family default used when rendering yields empty output.
package chattemplate

import (
	"strings"

	"github.com/infercore/infercore/internal/domain"
)

// Render is a domain.ChatTemplateRenderer selecting a per-family template.
// Unknown families fall back to the ChatML-style default.
func Render(modelFamily string, messages []domain.Message) (string, error) {
	switch strings.ToLower(modelFamily) {
	case "llama", "llama2", "mistral":
		return renderInstruct(messages), nil
	default:
		return renderChatML(messages), nil
	}
}

// Default returns the model-family-agnostic fallback template, used by the
// generation loop when an injected renderer yields empty output (§4.6).
func Default(messages []domain.Message) string { return renderChatML(messages) }

func renderChatML(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func renderInstruct(messages []domain.Message) string {
	var b strings.Builder
	var system string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = m.Content
			break
		}
	}
	if system != "" {
		b.WriteString("<<SYS>>\n")
		b.WriteString(system)
		b.WriteString("\n<</SYS>>\n\n")
	}
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		if m.Role == domain.RoleUser {
			b.WriteString("[INST] ")
			b.WriteString(m.Content)
			b.WriteString(" [/INST]")
		} else {
			b.WriteString(m.Content)
		}
	}
	return b.String()
}
