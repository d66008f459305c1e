package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation is the ordered message history for one chat, plus the model selection.
// The trailing assistant message is appended or replaced while a turn runs.
type Conversation struct {
	ID          string    `json:"id"`
	ProjectName string    `json:"project_name"`
	Messages    []Message `json:"messages"`
	Model       ModelRef  `json:"model"`
	Temperature float64   `json:"temperature"`
}

// ModelRef identifies the selected model. Only ID is used for routing.
type ModelRef struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	TokenLimit int    `json:"token_limit,omitempty"`
}

// LastUserMessage returns the trailing user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return &c.Messages[i]
		}
	}
	return nil
}

// SetAssistantMessage replaces the trailing assistant message, or appends one.
func (c *Conversation) SetAssistantMessage(msg Message) {
	msg.Role = RoleAssistant
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == RoleAssistant {
		c.Messages[n-1] = msg
		return
	}
	c.Messages = append(c.Messages, msg)
}

// Message is one conversation entry.
type Message struct {
	ID       string           `json:"id,omitempty"`
	Role     Role             `json:"role"`
	Content  Content          `json:"content"`
	Contexts []Context        `json:"contexts,omitempty"`
	Tools    []ToolInvocation `json:"tools,omitempty"`
	Feedback *Feedback        `json:"feedback,omitempty"`

	// FinalPrompt is the engineered prompt that replaces the user's raw text on the wire.
	FinalPrompt string `json:"final_prompt_engineered_message,omitempty"`
	// SystemPrompt is the latest system prompt computed for this turn.
	SystemPrompt string `json:"latest_system_message,omitempty"`
}

type Feedback struct {
	IsPositive *bool  `json:"is_positive,omitempty"`
	Category   string `json:"category,omitempty"`
	Details    string `json:"details,omitempty"`
}

// ContentPartType is the kind of a typed content unit.
type ContentPartType string

const (
	ContentText  ContentPartType = "text"
	ContentImage ContentPartType = "image_url"
	ContentFile  ContentPartType = "file"
)

// ContentPart is one typed unit of message content.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	FileName string          `json:"file_name,omitempty"`
	FileType string          `json:"file_type,omitempty"`
}

// Content is either plain text or a list of typed parts. On the wire it is a JSON string
// or a JSON array; Parts is nil for plain text.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain-text content.
func TextContent(s string) Content {
	return Content{Text: s}
}

// IsParts reports whether content was given as typed parts.
func (c Content) IsParts() bool {
	return c.Parts != nil
}

// PlainText joins all text parts.
func (c Content) PlainText() string {
	if !c.IsParts() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == ContentText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImages reports whether any part is an image.
func (c Content) HasImages() bool {
	for _, p := range c.Parts {
		if p.Type == ContentImage {
			return true
		}
	}
	return false
}

// WithText returns a copy whose text is replaced by s. Non-text parts are kept.
func (c Content) WithText(s string) Content {
	if !c.IsParts() {
		return Content{Text: s}
	}
	parts := make([]ContentPart, 0, len(c.Parts))
	replaced := false
	for _, p := range c.Parts {
		if p.Type == ContentText {
			if replaced {
				continue
			}
			p.Text = s
			replaced = true
		}
		parts = append(parts, p)
	}
	if !replaced {
		parts = append([]ContentPart{{Type: ContentText, Text: s}}, parts...)
	}
	return Content{Parts: parts}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = Content{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []ContentPart{}
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}
