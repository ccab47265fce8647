package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the JSON object out of a model answer that may be wrapped
// in markdown code fences or prose
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoResponse
	}

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("%w: no JSON object found in response", ErrInvalidResponse)
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("%w: unterminated JSON object in response", ErrInvalidResponse)
	}
	return text[startIdx : endIdx+1], nil
}

// decodeJSON extracts and unmarshals a model answer into out
func decodeJSON(text string, out any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: unmarshaling json: %w", ErrInvalidResponse, err)
	}
	return nil
}
