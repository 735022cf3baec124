package llmclient

import "testing"

func TestEstimateTokensEmptyIsZero(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", got)
	}
}

func TestEstimateTokensNonEmpty(t *testing.T) {
	if got := EstimateTokens("hello world"); got <= 0 {
		t.Fatalf("expected positive token estimate, got %d", got)
	}
}
