package rules

import (
	"regexp"
	"sort"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type sign struct {
	symbol  string
	pattern *regexp.Regexp
}

// Patterns run against folded, accent-free text, so "Géminis" and
// "GEMINIS" both hit the same expression.
var signs = []sign{
	{"♈", regexp.MustCompile(`\baries\b`)},
	{"♉", regexp.MustCompile(`\btauro\b`)},
	{"♊", regexp.MustCompile(`\bgeminis\b`)},
	{"♋", regexp.MustCompile(`\bcancer\b`)},
	{"♌", regexp.MustCompile(`\bleo\b`)},
	{"♍", regexp.MustCompile(`\bvirgo\b`)},
	{"♎", regexp.MustCompile(`\blibra\b`)},
	{"♏", regexp.MustCompile(`\bescorpi(?:o|on)\b`)},
	{"♐", regexp.MustCompile(`\bsagitario\b`)},
	{"♑", regexp.MustCompile(`\bcapricornio\b`)},
	{"♒", regexp.MustCompile(`\bacuario\b`)},
	{"♓", regexp.MustCompile(`\bpiscis\b`)},
}

// normalize strips diacritics and case-folds. Removing combining marks also
// turns "ñ" into "n", which keeps \b boundaries ASCII-only.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(out)
}

// DetectZodiacSigns returns the symbol of every zodiac sign named in text,
// each once, ordered by where the sign is first mentioned. Every pattern is
// evaluated; there is no short-circuit on the first hit.
func DetectZodiacSigns(text string) []string {
	n := normalize(text)

	type hit struct {
		symbol string
		pos    int
	}
	var hits []hit
	for _, s := range signs {
		if loc := s.pattern.FindStringIndex(n); loc != nil {
			hits = append(hits, hit{s.symbol, loc[0]})
		}
	}
	// Normalization only drops or folds runes, so relative order in n
	// matches the original text.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.symbol)
	}
	return out
}

// Personal.AI order the ending
