package extract

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords are dropped from keyword sets. Government boilerplate ("canada",
// "government", "minister") is included because nearly every record carries it.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"been": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "our": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "was": true, "we": true, "will": true, "with": true, "which": true,
	"who": true, "all": true, "more": true, "new": true, "also": true, "other": true,
	"canada": true, "canadian": true, "canadians": true, "government": true,
	"minister": true, "federal": true, "today": true, "announced": true, "act": true,
	"les": true, "des": true, "une": true, "pour": true, "dans": true,
}

// Tokens splits folded text into words. Hyphens and apostrophes inside words are
// treated as separators, digits are kept so bill numbers survive ("c-50" -> "c", "50").
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the distinct non-stopword tokens of s (length >= 3, or any
// number), sorted.
func Keywords(s string) []string {
	set := make(map[string]bool)
	for _, tok := range Tokens(s) {
		if stopwords[tok] {
			continue
		}
		if len([]rune(tok)) < 3 && !isNumber(tok) {
			continue
		}
		set[tok] = true
	}
	return sortedKeys(set)
}

// KeywordSet folds a list of keyword phrases into a set of single tokens
func KeywordSet(phrases []string) map[string]bool {
	set := make(map[string]bool)
	for _, phrase := range phrases {
		for _, tok := range Keywords(phrase) {
			set[tok] = true
		}
	}
	return set
}

// ContainsPhrase reports whether phrase occurs in text on token boundaries.
// Both are folded first.
func ContainsPhrase(text, phrase string) bool {
	want := Tokens(phrase)
	if len(want) == 0 {
		return false
	}
	have := Tokens(text)
	for i := 0; i+len(want) <= len(have); i++ {
		match := true
		for j := range want {
			if have[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
