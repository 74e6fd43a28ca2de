package paywall

import "strings"

// Boundary search constants, in characters.
const (
	// sentenceWindow is how far past the target a terminator may lie, and
	// how far before it a terminator must not.
	sentenceWindow = 100
	// tailGuard keeps a sentence cut from returning nearly the whole text.
	tailGuard = 50
	// degenerateGuard marks a cutoff that is effectively the end of the text.
	degenerateGuard = 10
	// wordWindow is how far before the target a space may lie.
	wordWindow = 50
)

var terminators = []rune{'.', '?', '!'}

// Preview returns the first ~30% of content cut at a natural boundary,
// trimmed and without the upsell notice. Positions count characters, not
// bytes.
func Preview(content string) string {
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:previewCutoff(runes)]))
}

// DecoratedPreview is Preview followed by UpsellNotice.
func DecoratedPreview(content string) string {
	return Preview(content) + UpsellNotice
}

// previewCutoff returns the exclusive end index of the preview.
//
// A sentence terminator (. ? !) at or before target+100 is used when it lies
// strictly between target-100 and len-50; the cut goes just after it. Text
// with no terminator anywhere is cut at the last space at or before target
// if it lies after target-50. Otherwise the cut is at target. A cut within
// 10 characters of the end gets one more word-boundary attempt.
func previewCutoff(runes []rune) int {
	n := len(runes)
	target := (n*PreviewPercent + 99) / 100
	cutoff := target

	nb := lastIndexAny(runes, target+sentenceWindow, terminators...)
	switch {
	case nb >= 0 && nb > target-sentenceWindow && nb < n-tailGuard:
		cutoff = nb + 1
	case nb < 0 && lastIndexAny(runes, n-1, terminators...) < 0:
		if sp, ok := wordBoundary(runes, target); ok {
			cutoff = sp
		}
	}

	if cutoff >= n-degenerateGuard {
		if sp, ok := wordBoundary(runes, target); ok {
			cutoff = sp
		}
	}
	return cutoff
}

// wordBoundary finds the last space at or before target that lies after
// target-50.
func wordBoundary(runes []rune, target int) (int, bool) {
	sp := lastIndexAny(runes, target, ' ')
	if sp >= 0 && sp > target-wordWindow {
		return sp, true
	}
	return 0, false
}

// lastIndexAny returns the highest index <= from holding any of chars, or -1.
func lastIndexAny(runes []rune, from int, chars ...rune) int {
	if from >= len(runes) {
		from = len(runes) - 1
	}
	for i := from; i >= 0; i-- {
		for _, c := range chars {
			if runes[i] == c {
				return i
			}
		}
	}
	return -1
}
