package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"contract_name": "Token"}`,
			wantKey: "contract_name",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"contract_name\": \"Token\"}\n```",
			wantKey: "contract_name",
		},
		{
			name:    "markdown block with trailing prose",
			input:   "```json\n{\"contract_name\": \"Token\"}\n```\n\nThis contract implements an ERC-20 token.",
			wantKey: "contract_name",
		},
		{
			name:    "JS comments in values",
			input:   "```json\n{\n  \"constructor_args\": [\n    100000,          // initial supply\n    \"0xabc\"  // owner address\n  ]\n}\n```",
			wantKey: "constructor_args",
		},
		{
			name:    "trailing comma before closing brace",
			input:   "```json\n{\n  \"contract_name\": \"Token\",\n  \"decimals\": 18,\n}\n```",
			wantKey: "contract_name",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"explorer_url": "http://example.com/path"}`,
			wantKey: "explorer_url",
		},
		{
			name:    "URL in string with trailing comment",
			input:   "{\"explorer_url\": \"http://example.com/path\"} // trailing",
			wantKey: "explorer_url",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "I couldn't determine suitable constructor arguments.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}

			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v\nresult: %s", err, result)
			}

			if tt.wantKey != "" {
				if _, ok := parsed[tt.wantKey]; !ok {
					t.Errorf("expected key %q in parsed JSON, got keys: %v", tt.wantKey, keysOf(parsed))
				}
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
	}{
		{
			name:    "plain array",
			input:   `[100000, "0xabc"]`,
			wantLen: 2,
		},
		{
			name:    "markdown code block array",
			input:   "```json\n[100000, \"0xabc\"]\n```",
			wantLen: 2,
		},
		{
			name:    "array with trailing comments",
			input:   "```json\n[\n  100000,  // initial supply\n  \"0xabc\"  // owner\n]\n```",
			wantLen: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSONArray(tt.input)
			if result == "" {
				t.Fatal("expected result, got empty string")
			}

			var parsed []any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON array: %v\nresult: %s", err, result)
			}
			if len(parsed) != tt.wantLen {
				t.Errorf("expected array length %d, got %d", tt.wantLen, len(parsed))
			}
		})
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no comment",
			input:    `  "decimals": 18,`,
			expected: `  "decimals": 18,`,
		},
		{
			name:     "trailing comment",
			input:    `  "decimals": 18,  // ERC-20 default`,
			expected: `  "decimals": 18,`,
		},
		{
			name:     "URL in string preserved",
			input:    `  "explorer_url": "http://example.com",`,
			expected: `  "explorer_url": "http://example.com",`,
		},
		{
			name:     "URL with trailing comment",
			input:    `  "explorer_url": "http://example.com",  // block explorer`,
			expected: `  "explorer_url": "http://example.com",`,
		},
		{
			name:     "whole line comment",
			input:    `  // initial supply argument`,
			expected: ``,
		},
		{
			name:     "escaped quote in string",
			input:    `  "symbol": "a\"b//c",  // comment`,
			expected: `  "symbol": "a\"b//c",`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripLineComment(tt.input)
			if got != tt.expected {
				t.Errorf("stripLineComment(%q)\ngot:  %q\nwant: %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "trailing comma in array",
			input: `{"constructor_args": [100000, "0xabc",]}`,
		},
		{
			name:  "trailing comma in object",
			input: `{"decimals": 18, "supply": 100000,}`,
		},
		{
			name:  "comments and trailing commas together",
			input: "{\n  \"constructor_args\": [\n    100000,  // supply\n    \"0xabc\",  // owner\n  ]\n}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanJSON(tt.input)
			var parsed any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("cleaned JSON is invalid: %v\nresult: %s", err, result)
			}
		})
	}
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
