package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"lumen.app/relay/internal/model"
)

const citationInstructions = `You answer questions using the numbered course excerpts provided with each question.
Cite the excerpts you rely on inline as <cite>N</cite>, or <cite>N, M</cite> for several, where N is the excerpt number.
If a statement comes from a specific page, write <cite>N, p. P</cite>.
When you list sources at the end, write each one as "N. [filename](#)" on its own line.
If the excerpts do not contain the answer, say so instead of guessing.`

// applyPrompt engineers the final prompt for the trailing user message from its retrieved
// contexts and tool results. A prompt computed upstream is left alone.
func applyPrompt(msg *model.Message) {
	if msg.FinalPrompt != "" || (len(msg.Contexts) == 0 && !hasToolResults(msg.Tools)) {
		return
	}

	var b strings.Builder
	if len(msg.Contexts) > 0 {
		b.WriteString("Course excerpts, numbered for citation:\n\n")
		for i, c := range msg.Contexts {
			fmt.Fprintf(&b, "%d. %s", i+1, c.Title())
			if c.PageNumber != nil {
				fmt.Fprintf(&b, ", page: %d", *c.PageNumber)
			}
			fmt.Fprintf(&b, "\n%s\n\n", strings.TrimSpace(c.Text))
		}
	}

	if hasToolResults(msg.Tools) {
		b.WriteString("Tool results:\n\n")
		for _, t := range msg.Tools {
			writeToolResult(&b, t)
		}
	}

	b.WriteString("Question: ")
	b.WriteString(msg.Content.PlainText())
	msg.FinalPrompt = b.String()

	if msg.SystemPrompt == "" && len(msg.Contexts) > 0 {
		msg.SystemPrompt = citationInstructions
	}
}

func writeToolResult(b *strings.Builder, t model.ToolInvocation) {
	name := t.ReadableName
	if name == "" {
		name = t.Name
	}
	switch {
	case t.Error != "":
		fmt.Fprintf(b, "- %s failed: %s\n\n", name, t.Error)
	case t.Output != nil:
		fmt.Fprintf(b, "- %s:\n", name)
		if t.Output.Text != "" {
			fmt.Fprintf(b, "%s\n", t.Output.Text)
		}
		if len(t.Output.Data) > 0 {
			if data, err := json.Marshal(t.Output.Data); err == nil {
				fmt.Fprintf(b, "%s\n", data)
			}
		}
		if len(t.Output.ImageURLs) > 0 {
			fmt.Fprintf(b, "(%d image(s) attached)\n", len(t.Output.ImageURLs))
		}
		b.WriteString("\n")
	}
}

func hasToolResults(tools []model.ToolInvocation) bool {
	for _, t := range tools {
		if t.Done() {
			return true
		}
	}
	return false
}
