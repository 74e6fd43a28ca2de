// Package tokens provides the character-based token heuristics used to price
// a request before it is fulfilled.
package tokens

import (
	"regexp"
	"unicode/utf8"
)

// CharsPerToken is the fixed character-to-token ratio.
const CharsPerToken = 4

const (
	quantitativeMultiplier = 3
	quantitativeCap        = 1000
	defaultMultiplier      = 2
	defaultCap             = 800
)

var quantitativePattern = regexp.MustCompile(`(?i)\b(solve|equation|calculate|derivative|integral|limit|matrix|algebra|geometry|calculus|statistics|probability)\b`)

// CountTokens approximates the number of tokens in text.
func CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// IsQuantitative reports whether text reads like a math or quantitative task.
func IsQuantitative(text string) bool {
	return quantitativePattern.MatchString(text)
}

// EstimateOutputTokens projects the size of the answer to inputText.
// Quantitative tasks get longer worked explanations, so they use a larger
// multiplier and cap.
func EstimateOutputTokens(inputText string) int {
	inputTokens := CountTokens(inputText)

	if IsQuantitative(inputText) {
		return min(inputTokens*quantitativeMultiplier, quantitativeCap)
	}

	return min(inputTokens*defaultMultiplier, defaultCap)
}

// TruncateResponse caps text at roughly maxTokens tokens. It prefers to end on
// the last period or newline when that break falls within the final 20% of the
// limit, and otherwise cuts hard at the character limit.
func TruncateResponse(text string, maxTokens int) string {
	targetLength := maxTokens * CharsPerToken
	if targetLength < 0 {
		targetLength = 0
	}

	runes := []rune(text)
	if len(runes) <= targetLength {
		return text
	}

	truncated := runes[:targetLength]
	breakPoint := -1
	for i := len(truncated) - 1; i >= 0; i-- {
		if truncated[i] == '.' || truncated[i] == '\n' {
			breakPoint = i
			break
		}
	}

	// breakPoint > 0.8 * targetLength, kept in integers
	if breakPoint >= 0 && breakPoint*5 > targetLength*4 {
		return string(truncated[:breakPoint+1])
	}

	return string(truncated)
}
