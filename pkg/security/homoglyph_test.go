package security

import "testing"

func TestFoldHomoglyphs_FoldsCyrillicAndGreekLookalikes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"ignore", "ignore"},
		{"ignоre", "ignore"},   // Cyrillic о
		{"ехfiltrate", "exfiltrate"}, // Cyrillic е and x stays Latin
		{"РRIVATE", "PRIVATE"}, // Cyrillic Р
	}
	for _, tt := range tests {
		if got := FoldHomoglyphs(tt.input); got != tt.want {
			t.Errorf("FoldHomoglyphs(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFoldHomoglyphs_LeavesPlainASCIIUnchanged(t *testing.T) {
	s := "the quick brown fox jumps over the lazy dog"
	if got := FoldHomoglyphs(s); got != s {
		t.Errorf("FoldHomoglyphs(%q) = %q, want unchanged", s, got)
	}
}
