package files

import "testing"

func TestDetectLanguageByExtension(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"main.go", "go"},
		{"app.js", "javascript"},
		{"component.tsx", "typescriptreact"},
		{"script.PY", "python"},
		{"styles.css", "css"},
		{"config.yaml", "yaml"},
		{"notes.txt", "plaintext"},
		{"Makefile", "plaintext"},
		{"", "plaintext"},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.name); got != tt.expected {
			t.Fatalf("DetectLanguage(%q) = %q, expected %q", tt.name, got, tt.expected)
		}
	}
}
