package scorer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultScore = 5.0
	MinScore     = 0.0
	MaxScore     = 10.0
)

// Tried in order. Digits from any script match, so fullwidth and other
// decimal digits judges sometimes emit are read as their ASCII values. The
// first pattern whose first match parses to a value in
// [MinScore, MaxScore] wins.
var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)score:\s*(\p{Nd}+\.?\p{Nd}*)`),
	regexp.MustCompile(`^\s*(\p{Nd}+\.\p{Nd}+)\s*$`),
	regexp.MustCompile(`^\s*(\p{Nd}+)\s*$`),
	regexp.MustCompile(`评分[:：]\s*(\p{Nd}+\.?\p{Nd}*)`),
	regexp.MustCompile(`分数[:：]\s*(\p{Nd}+\.?\p{Nd}*)`),
	regexp.MustCompile(`得分[:：]\s*(\p{Nd}+\.?\p{Nd}*)`),
	regexp.MustCompile(`(?:总分|综合评分)[:：]\s*(\p{Nd}+\.?\p{Nd}*)`),
	regexp.MustCompile(`(\p{Nd}+\.\p{Nd}+)`),
	regexp.MustCompile(`(\p{Nd}+)`),
}

// ExtractScore pulls a numeric score out of free-form judge output. ok is
// false when nothing usable was found, in which case score is DefaultScore.
func ExtractScore(text string) (score float64, ok bool) {
	for _, pattern := range scorePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		value, err := strconv.ParseFloat(asciiDigits(match[1]), 64)
		if err != nil {
			continue
		}

		if value >= MinScore && value <= MaxScore {
			return value, true
		}
	}

	return DefaultScore, false
}

// asciiDigits maps decimal digits of any script to 0-9. Unicode assigns
// each script's digits as contiguous runs of ten starting at zero.
func asciiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x80 || !unicode.Is(unicode.Nd, r) {
			return r
		}
		zero := r
		for unicode.Is(unicode.Nd, zero-1) {
			zero--
		}
		return '0' + (r-zero)%10
	}, s)
}
