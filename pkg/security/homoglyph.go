package security

import "strings"

// homoglyphFolds maps common Cyrillic/Greek lookalikes to their Latin
// equivalents so a pattern match isn't defeated by spelling a phrase with
// visually-identical characters from another script. Shared by the prompt
// guard's injection matching, the writeback guard's poison-phrase matching,
// and the prompt-leak detector's fingerprint matching — anywhere a phrase
// comparison would otherwise be trivial to evade with a lookalike substitution.
var homoglyphFolds = map[rune]rune{
	'е': 'e', 'а': 'a', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'Е': 'E', 'А': 'A', 'О': 'O', 'Р': 'P', 'С': 'C', 'Х': 'X', 'У': 'Y',
	'α': 'a', 'ο': 'o', 'ρ': 'p', 'υ': 'y',
	'ѕ': 's', 'і': 'i',
}

// FoldHomoglyphs replaces lookalike runes with their Latin equivalents.
func FoldHomoglyphs(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := homoglyphFolds[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
