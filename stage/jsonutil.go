package stage

import "encoding/json"

// parseJSONArray decodes a JSON array of arbitrary values, used to parse
// the LLM's constructor-argument response.
func parseJSONArray(raw string) ([]any, error) {
	var out []any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
