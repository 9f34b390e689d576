package llmjson

import (
	"testing"
)

// =============================================================================
// Test Types
// =============================================================================

type simpleRecord struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type extractedVulnerability struct {
	CVEID    string  `json:"cve_id"`
	Severity string  `json:"severity"`
	CVSS     float64 `json:"cvss_score"`
	Products []struct {
		Vendor  string `json:"vendor"`
		Product string `json:"product"`
	} `json:"products"`
	Confidence float64 `json:"confidence"`
}

// =============================================================================
// ExtractJSON Tests
// =============================================================================

func TestExtractJSON_DirectParsing(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantVer  int
	}{
		{
			name:     "clean JSON object",
			input:    `{"name": "test-record", "version": 1}`,
			wantName: "test-record",
			wantVer:  1,
		},
		{
			name:     "JSON with whitespace",
			input:    `  { "name" : "whitespace-record" , "version" : 2 }  `,
			wantName: "whitespace-record",
			wantVer:  2,
		},
		{
			name: "multiline JSON",
			input: `{
				"name": "multiline-record",
				"version": 3
			}`,
			wantName: "multiline-record",
			wantVer:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON[simpleRecord](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Method != ParseMethodDirect {
				t.Errorf("expected method %s, got %s", ParseMethodDirect, result.Method)
			}

			if result.Value.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, result.Value.Name)
			}

			if result.Value.Version != tt.wantVer {
				t.Errorf("expected version %d, got %d", tt.wantVer, result.Value.Version)
			}

			if result.Warning != "" {
				t.Errorf("expected no warning, got %q", result.Warning)
			}
		})
	}
}

func TestExtractJSON_MarkdownCodeBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantVer  int
	}{
		{
			name:     "json code block with language tag",
			input:    "Here's the record:\n\n```json\n{\"name\": \"markdown-record\", \"version\": 1}\n```\n\nLet me know!",
			wantName: "markdown-record",
			wantVer:  1,
		},
		{
			name:     "code block without language tag",
			input:    "Here's the record:\n\n```\n{\"name\": \"no-tag-record\", \"version\": 2}\n```",
			wantName: "no-tag-record",
			wantVer:  2,
		},
		{
			name:     "multiple code blocks (first is used)",
			input:    "First:\n```json\n{\"name\": \"first-record\", \"version\": 3}\n```\n\nSecond:\n```json\n{\"name\": \"second-record\", \"version\": 4}\n```",
			wantName: "first-record",
			wantVer:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON[simpleRecord](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Method != ParseMethodExtracted {
				t.Errorf("expected method %s, got %s", ParseMethodExtracted, result.Method)
			}

			if result.Value.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, result.Value.Name)
			}

			if result.Value.Version != tt.wantVer {
				t.Errorf("expected version %d, got %d", tt.wantVer, result.Value.Version)
			}

			if result.Warning == "" {
				t.Error("expected warning for extracted JSON")
			}
		})
	}
}

func TestExtractJSON_SurroundingText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantVer  int
	}{
		{
			name:     "JSON with prefix text",
			input:    "Based on my analysis, here is the record: {\"name\": \"prefixed-record\", \"version\": 1}",
			wantName: "prefixed-record",
			wantVer:  1,
		},
		{
			name:     "JSON with suffix text",
			input:    "{\"name\": \"suffixed-record\", \"version\": 2} Please review this record.",
			wantName: "suffixed-record",
			wantVer:  2,
		},
		{
			name:     "JSON with both prefix and suffix",
			input:    "Analysis: {\"name\": \"wrapped-record\", \"version\": 3} End of analysis.",
			wantName: "wrapped-record",
			wantVer:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON[simpleRecord](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Method != ParseMethodExtracted {
				t.Errorf("expected method %s, got %s", ParseMethodExtracted, result.Method)
			}

			if result.Value.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, result.Value.Name)
			}

			if result.Value.Version != tt.wantVer {
				t.Errorf("expected version %d, got %d", tt.wantVer, result.Value.Version)
			}
		})
	}
}

func TestExtractJSON_LenientParsing(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantVer  int
	}{
		{
			name:     "trailing comma in object",
			input:    `{"name": "trailing-comma", "version": 1,}`,
			wantName: "trailing-comma",
			wantVer:  1,
		},
		{
			name:     "single quotes instead of double",
			input:    `{'name': 'single-quotes', 'version': 2}`,
			wantName: "single-quotes",
			wantVer:  2,
		},
		{
			name:     "trailing comma in array",
			input:    `{"name": "array-comma", "version": 3, "items": [1, 2,]}`,
			wantName: "array-comma",
			wantVer:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON[simpleRecord](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Method != ParseMethodLenient {
				t.Errorf("expected method %s, got %s", ParseMethodLenient, result.Method)
			}

			if result.Value.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, result.Value.Name)
			}

			if result.Value.Version != tt.wantVer {
				t.Errorf("expected version %d, got %d", tt.wantVer, result.Value.Version)
			}

			if result.Warning == "" {
				t.Error("expected warning for lenient parsing")
			}
		})
	}
}

func TestExtractJSON_ExtractedVulnerability(t *testing.T) {
	input := `{
		"cve_id": "CVE-2024-12345",
		"severity": "HIGH",
		"cvss_score": 7.5,
		"products": [
			{"vendor": "acme", "product": "widget-server"}
		],
		"confidence": 0.82
	}`

	result, err := ExtractJSON[extractedVulnerability](input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Method != ParseMethodDirect {
		t.Errorf("expected direct parsing, got %s", result.Method)
	}

	if result.Value.CVEID != "CVE-2024-12345" {
		t.Errorf("expected cve_id 'CVE-2024-12345', got %q", result.Value.CVEID)
	}

	if len(result.Value.Products) != 1 {
		t.Errorf("expected 1 product, got %d", len(result.Value.Products))
	}

	if result.Value.Products[0].Vendor != "acme" {
		t.Errorf("expected vendor 'acme', got %q", result.Value.Products[0].Vendor)
	}

	if result.Value.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %f", result.Value.Confidence)
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "empty string",
			input: "",
		},
		{
			name:  "plain text no JSON",
			input: "This is just plain text without any JSON.",
		},
		{
			name:  "truncated JSON",
			input: `{"name": "truncated", "version": `,
		},
		{
			name:  "invalid JSON structure",
			input: `{"name": "invalid" "version": 1}`, // missing comma
		},
		{
			name:  "wrong type for required field",
			input: `{"name": 123, "version": "not-a-number"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractJSON[simpleRecord](tt.input)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// =============================================================================
// MustExtractJSON Tests
// =============================================================================

func TestMustExtractJSON_Success(t *testing.T) {
	input := `{"name": "must-record", "version": 1}`
	result := MustExtractJSON[simpleRecord](input)

	if result.Name != "must-record" {
		t.Errorf("expected name 'must-record', got %q", result.Name)
	}
}

func TestMustExtractJSON_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic, but didn't get one")
		}
	}()

	MustExtractJSON[simpleRecord]("invalid json")
}

// =============================================================================
// extractFromCodeBlock Tests
// =============================================================================

func TestExtractFromCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json tag",
			input:    "```json\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "no tag",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "no code block",
			input:    `{"key": "value"}`,
			expected: "",
		},
		{
			name:     "empty code block",
			input:    "```json\n```",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFromCodeBlock(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// findJSONSegment Tests
// =============================================================================

func TestFindJSONSegment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "object",
			input:    `prefix {"key": "value"} suffix`,
			expected: `{"key": "value"}`,
		},
		{
			name:     "array",
			input:    `prefix [1, 2, 3] suffix`,
			expected: `[1, 2, 3]`,
		},
		{
			name:     "nested object",
			input:    `prefix {"outer": {"inner": "value"}} suffix`,
			expected: `{"outer": {"inner": "value"}}`,
		},
		{
			name:     "object with string containing braces",
			input:    `prefix {"key": "value with { and }"} suffix`,
			expected: `{"key": "value with { and }"}`,
		},
		{
			name:     "no JSON",
			input:    "just plain text",
			expected: "",
		},
		{
			name:     "unclosed brace",
			input:    `{"key": "value"`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := findJSONSegment(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// attemptJSONRecovery Tests
// =============================================================================

func TestAttemptJSONRecovery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON bool
	}{
		{
			name:     "trailing comma",
			input:    `{"key": "value",}`,
			wantJSON: true,
		},
		{
			name:     "single quotes",
			input:    `{'key': 'value'}`,
			wantJSON: true,
		},
		{
			name:     "line comment",
			input:    `{"key": "value"} // comment`,
			wantJSON: true,
		},
		{
			name:     "block comment",
			input:    `{"key": /* comment */ "value"}`,
			wantJSON: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := attemptJSONRecovery(tt.input)
			if tt.wantJSON && !IsValidJSON(result) {
				t.Errorf("expected valid JSON after recovery, got %q", result)
			}
		})
	}
}

// =============================================================================
// IsValidJSON Tests
// =============================================================================

func TestIsValidJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "valid object", input: `{"key": "value"}`, expected: true},
		{name: "valid array", input: `[1, 2, 3]`, expected: true},
		{name: "valid string", input: `"hello"`, expected: true},
		{name: "valid number", input: `42`, expected: true},
		{name: "valid null", input: `null`, expected: true},
		{name: "invalid", input: `{invalid}`, expected: false},
		{name: "empty", input: ``, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidJSON(tt.input)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// PrettyPrint Tests
// =============================================================================

func TestPrettyPrint(t *testing.T) {
	input := map[string]any{
		"cve_id": "CVE-2024-1",
		"score":  9.8,
	}

	result, err := PrettyPrint(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result == "" {
		t.Error("expected non-empty result")
	}

	if !IsValidJSON(result) {
		t.Error("expected valid JSON output")
	}
}

// =============================================================================
// ExtractField Tests
// =============================================================================

func TestExtractField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		field    string
		expected string
		found    bool
	}{
		{
			name:     "simple field",
			input:    `{"cve_id": "CVE-2024-1", "severity": "HIGH"}`,
			field:    "cve_id",
			expected: "CVE-2024-1",
			found:    true,
		},
		{
			name:     "nested field",
			input:    `{"vuln": {"cve_id": "CVE-2024-2"}}`,
			field:    "cve_id",
			expected: "CVE-2024-2",
			found:    true,
		},
		{
			name:     "field not found",
			input:    `{"cve_id": "CVE-2024-1"}`,
			field:    "severity",
			expected: "",
			found:    false,
		},
		{
			name:     "numeric value (not extracted as string)",
			input:    `{"cve_id": "CVE-2024-1", "count": 42}`,
			field:    "count",
			expected: "",
			found:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, found := ExtractField(tt.input, tt.field)
			if found != tt.found {
				t.Errorf("expected found=%v, got %v", tt.found, found)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// ExtractIntField Tests
// =============================================================================

func TestExtractIntField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		field    string
		expected int
		found    bool
	}{
		{name: "positive integer", input: `{"attempt": 2}`, field: "attempt", expected: 2, found: true},
		{name: "negative integer", input: `{"offset": -10}`, field: "offset", expected: -10, found: true},
		{name: "zero", input: `{"attempt": 0}`, field: "attempt", expected: 0, found: true},
		{name: "string value", input: `{"attempt": "2"}`, field: "attempt", expected: 0, found: false},
		{name: "field not found", input: `{"name": "test"}`, field: "attempt", expected: 0, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, found := ExtractIntField(tt.input, tt.field)
			if found != tt.found {
				t.Errorf("expected found=%v, got %v", tt.found, found)
			}
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// ExtractFloatField Tests
// =============================================================================

func TestExtractFloatField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		field    string
		expected float64
		found    bool
	}{
		{name: "float with decimal", input: `{"cvss_score": 8.5}`, field: "cvss_score", expected: 8.5, found: true},
		{name: "integer as float", input: `{"cvss_score": 10}`, field: "cvss_score", expected: 10.0, found: true},
		{name: "negative float", input: `{"delta": -0.05}`, field: "delta", expected: -0.05, found: true},
		{name: "field not found", input: `{"name": "test"}`, field: "cvss_score", expected: 0, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, found := ExtractFloatField(tt.input, tt.field)
			if found != tt.found {
				t.Errorf("expected found=%v, got %v", tt.found, found)
			}
			if found && (result-tt.expected > 0.0001 || tt.expected-result > 0.0001) {
				t.Errorf("expected %f, got %f", tt.expected, result)
			}
		})
	}
}

// =============================================================================
// Real-World LLM Response Simulation Tests
// =============================================================================

func TestExtractJSON_RealWorldLLMResponses(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantMethod  ParseMethod
		wantSuccess bool
	}{
		{
			name: "Claude-style response with explanation",
			input: `I'll extract the vulnerability details from this advisory.

Here's the record:

` + "```json" + `
{
  "name": "advisory-record",
  "version": 1
}
` + "```" + `

This advisory affects a single product version.`,
			wantMethod:  ParseMethodExtracted,
			wantSuccess: true,
		},
		{
			name: "GPT-style response with thinking",
			input: `Let me analyze the advisory text...

Based on my analysis:
{"name": "gpt-record", "version": 2}

I recommend flagging this as high confidence.`,
			wantMethod:  ParseMethodExtracted,
			wantSuccess: true,
		},
		{
			name:        "direct JSON response (well-behaved model)",
			input:       `{"name": "direct-record", "version": 3}`,
			wantMethod:  ParseMethodDirect,
			wantSuccess: true,
		},
		{
			name: "response with trailing text after JSON",
			input: `{"name": "trailing-record", "version": 4}

Note: This record requires reviewer confirmation.`,
			wantMethod:  ParseMethodExtracted,
			wantSuccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON[simpleRecord](tt.input)

			if tt.wantSuccess {
				if err != nil {
					t.Fatalf("expected success, got error: %v", err)
				}
				if result.Method != tt.wantMethod {
					t.Errorf("expected method %s, got %s", tt.wantMethod, result.Method)
				}
			} else {
				if err == nil {
					t.Error("expected error, got nil")
				}
			}
		})
	}
}

// =============================================================================
// Benchmark Tests
// =============================================================================

func BenchmarkExtractJSON_Direct(b *testing.B) {
	input := `{"name": "benchmark-record", "version": 1}`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ExtractJSON[simpleRecord](input)
	}
}

func BenchmarkExtractJSON_Extracted(b *testing.B) {
	input := "Here's the record:\n```json\n{\"name\": \"benchmark-record\", \"version\": 1}\n```"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ExtractJSON[simpleRecord](input)
	}
}

func BenchmarkExtractJSON_Lenient(b *testing.B) {
	input := `{"name": "benchmark-record", "version": 1,}`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ExtractJSON[simpleRecord](input)
	}
}
