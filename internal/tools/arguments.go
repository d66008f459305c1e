package tools

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"lumen.app/relay/internal/model"
)

var (
	codeFence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseArguments decodes tool-call arguments into an object. Malformed JSON gets exactly
// one repair attempt before it is rejected.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	if args, err := decodeObject(raw); err == nil {
		return args, nil
	}

	repaired := RepairArguments(raw)
	if !gjson.Valid(repaired) {
		return nil, &model.ParseError{What: "tool arguments", Err: errors.New("invalid JSON after repair")}
	}
	args, err := decodeObject(repaired)
	if err != nil {
		return nil, &model.ParseError{What: "tool arguments", Err: err}
	}
	return args, nil
}

// RepairArguments fixes the damage models most often do to argument JSON: code fences,
// trailing commas and a dropped leading or trailing brace.
func RepairArguments(raw string) string {
	s := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = trailingComma.ReplaceAllString(s, "$1")
	if !strings.HasPrefix(s, "{") {
		s = "{" + s
	}
	if !strings.HasSuffix(s, "}") {
		s += "}"
	}
	return s
}

func decodeObject(s string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errors.New("arguments are not an object")
	}
	return args, nil
}
