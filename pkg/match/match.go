// Package match provides fuzzy title matching for reconciling stored
// release names against the names a download client reports.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// numberRegex extracts sequence numbers (book/series numbers) from titles.
var numberRegex = regexp.MustCompile(`\b(\d+)\b`)

// romanNumeralRegex matches Roman numerals II-IX when preceded by a space.
// Standalone "I" and "X" are left alone ("I, Robot", "Book X of ...").
var romanNumeralRegex = regexp.MustCompile(`(?i) (ii|iii|iv|v|vi|vii|viii|ix)\b`)

var romanToArabic = map[string]string{
	"II": "2", "III": "3", "IV": "4", "V": "5",
	"VI": "6", "VII": "7", "VIII": "8", "IX": "9",
}

// Confidence buckets a similarity score.
type Confidence int

const (
	ConfidenceNone   Confidence = iota // score < 0.70
	ConfidenceLow                      // score >= 0.70
	ConfidenceMedium                   // score >= 0.85
	ConfidenceHigh                     // score >= 0.95
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// Result is the outcome of matching a name against candidates.
type Result struct {
	Name       string  // the matched candidate, verbatim
	Score      float64 // Jaro-Winkler similarity (0.0-1.0)
	Confidence Confidence
}

// BestMatch finds the candidate most similar to name. Jaro-Winkler favors
// prefix matches, which suits release names that append group/format tags
// after the title. Series numbers that agree earn a small bonus; numbers
// that disagree are penalized so "Dune 2" does not claim "Dune 3".
func BestMatch(name string, candidates []string) Result {
	if len(candidates) == 0 {
		return Result{Confidence: ConfidenceNone}
	}

	normalized := CleanTitle(name)
	numbers := extractNumbers(normalized)

	best := Result{Confidence: ConfidenceNone}
	for _, candidate := range candidates {
		normalizedCandidate := CleanTitle(candidate)

		score := float64(edlib.JaroWinklerSimilarity(normalized, normalizedCandidate))
		score = adjustScoreForNumbers(score, numbers, extractNumbers(normalizedCandidate))

		if score > best.Score {
			best.Name = candidate
			best.Score = score
		}
	}

	switch {
	case best.Score >= 0.95:
		best.Confidence = ConfidenceHigh
	case best.Score >= 0.85:
		best.Confidence = ConfidenceMedium
	case best.Score >= 0.70:
		best.Confidence = ConfidenceLow
	default:
		best.Confidence = ConfidenceNone
		best.Name = ""
	}

	return best
}

// CleanTitle normalizes a title for matching: lowercase, Roman numerals to
// Arabic, accents folded, punctuation stripped, leading articles removed.
func CleanTitle(title string) string {
	s := strings.ToLower(title)

	// Roman numerals first, before accent removal touches the text.
	s = romanNumeralRegex.ReplaceAllStringFunc(s, func(m string) string {
		roman := strings.TrimSpace(m)
		if arabic, ok := romanToArabic[strings.ToUpper(roman)]; ok {
			return " " + arabic
		}
		return m
	})

	s = RemoveAccents(s)

	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, "_", " ")

	// Subtitles after a colon get their own article stripping
	// ("The Hobbit: The Desolation of Smaug").
	parts := strings.Split(s, ":")
	for i, part := range parts {
		parts[i] = stripLeadingArticle(strings.TrimSpace(part))
	}
	s = strings.Join(parts, " ")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// RemoveAccents folds accented characters to their base form.
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

func stripLeadingArticle(s string) string {
	s = strings.TrimSpace(s)
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(s, art) {
			return strings.TrimPrefix(s, art)
		}
	}
	return s
}

func extractNumbers(title string) []string {
	return numberRegex.FindAllString(title, -1)
}

func adjustScoreForNumbers(score float64, nums, candidateNums []string) float64 {
	if len(nums) == 0 {
		return score
	}

	if len(candidateNums) == 0 {
		return score * 0.85
	}

	candidateSet := make(map[string]bool)
	for _, n := range candidateNums {
		candidateSet[n] = true
	}
	for _, n := range nums {
		if candidateSet[n] {
			return min(score*1.05, 1.0)
		}
	}

	return score * 0.90
}
