package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Models disagree on how to wrap JSON: some emit it bare, some inside a
// markdown fence, some with prose around it. jsonBlock finds the outermost
// object either way.
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON pulls the JSON object out of a raw model reply.
func ExtractJSON(raw string) ([]byte, error) {
	content := strings.TrimSpace(raw)

	if strings.HasPrefix(content, "```json") {
		content = content[7:]
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if m := jsonBlock.FindString(content); m != "" {
		content = m
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, fmt.Errorf("no JSON object in model reply: %w", err)
	}
	return []byte(content), nil
}

// decodeInto extracts a JSON object from raw and unmarshals it into v.
func decodeInto(raw string, v any) error {
	data, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
