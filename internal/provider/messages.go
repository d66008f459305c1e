package provider

import (
	"lumen.app/relay/internal/model"
)

// BuildMessages strips bookkeeping from the conversation and produces the wire history.
//
// The trailing user message is rendered from its engineered prompt when one was computed,
// images produced by its tools are attached as image content when toolImages is set, and
// its latest system prompt replaces any system message in the history.
func BuildMessages(conv *model.Conversation, toolImages bool) []WireMessage {
	last := lastUserIndex(conv.Messages)

	var (
		out    []WireMessage
		system string
	)
	for i, msg := range conv.Messages {
		if msg.Role == model.RoleSystem {
			system = msg.Content.PlainText()
			continue
		}

		wm := WireMessage{Role: msg.Role, Text: msg.Content.PlainText()}
		for _, p := range msg.Content.Parts {
			if p.Type == model.ContentImage && p.ImageURL != "" {
				wm.ImageURLs = append(wm.ImageURLs, p.ImageURL)
			}
		}

		if i == last {
			if msg.FinalPrompt != "" {
				wm.Text = msg.FinalPrompt
			}
			if msg.SystemPrompt != "" {
				system = msg.SystemPrompt
			}
			for _, t := range msg.Tools {
				if toolImages && t.Output != nil {
					wm.ImageURLs = append(wm.ImageURLs, t.Output.ImageURLs...)
				}
			}
		}
		out = append(out, wm)
	}

	if system != "" {
		out = append([]WireMessage{{Role: model.RoleSystem, Text: system}}, out...)
	}
	return out
}

func lastUserIndex(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return i
		}
	}
	return -1
}

// splitSystem separates the system prompt for providers that take it out of band.
func splitSystem(msgs []WireMessage) (string, []WireMessage) {
	if len(msgs) > 0 && msgs[0].Role == model.RoleSystem {
		return msgs[0].Text, msgs[1:]
	}
	return "", msgs
}
