package llm

import "testing"

func TestCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model       string
		window      int
		maxOut      int
		temperature bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"GPT-4o", 128_000, 16_384, true},
		{"gpt-4.1-mini", 1_047_576, 32_768, true},
		{"gpt-5-mini", 400_000, 128_000, false},
		{"o3-mini", 200_000, 100_000, false},
		{"claude-3-5-haiku-latest", 200_000, 8_192, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true},
		{"qwen2.5-7b-instruct", 32_768, 4_096, true},
		{"my-custom-model", 128_000, 4_096, true},
	}
	for _, tc := range tests {
		got := Capabilities(tc.model)
		if got.ContextWindow != tc.window || got.MaxOutputTokens != tc.maxOut || got.SupportsTemperature != tc.temperature {
			t.Errorf("Capabilities(%q) = %+v", tc.model, got)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateTokens("hello world"); got != 3 {
		t.Errorf("hello world = %d, want 3", got)
	}
}
