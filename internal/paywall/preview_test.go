package paywall

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// doc builds an n-character document of fill with the given characters
// placed at fixed positions.
func doc(n int, fill rune, marks map[int]rune) string {
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = fill
	}
	for pos, c := range marks {
		runes[pos] = c
	}
	return string(runes)
}

func TestPreviewCutoff(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		marks map[int]rune
		want  int
	}{
		{
			name:  "period inside window",
			n:     1000,
			marks: map[int]rune{310: '.'},
			want:  311,
		},
		{
			name:  "latest terminator of any kind wins",
			n:     1000,
			marks: map[int]rune{310: '.', 320: '?', 330: '!'},
			want:  331,
		},
		{
			name:  "terminator at window end",
			n:     1000,
			marks: map[int]rune{400: '.'},
			want:  401,
		},
		{
			name:  "terminator past window is ignored",
			n:     1000,
			marks: map[int]rune{401: '.'},
			want:  300,
		},
		{
			name:  "terminator exactly target-100 is too early",
			n:     1000,
			marks: map[int]rune{200: '.'},
			want:  300,
		},
		{
			name:  "terminator just after target-100",
			n:     1000,
			marks: map[int]rune{201: '!'},
			want:  202,
		},
		{
			name:  "early terminator falls back to target, not to a space",
			n:     1000,
			marks: map[int]rune{150: '.', 280: ' '},
			want:  300,
		},
		{
			name:  "terminator too close to the end",
			n:     200,
			marks: map[int]rune{155: '.'},
			want:  60,
		},
		{
			name:  "terminator just inside the tail guard",
			n:     200,
			marks: map[int]rune{149: '.'},
			want:  150,
		},
		{
			name:  "no terminator uses last space near target",
			n:     1000,
			marks: map[int]rune{280: ' ', 350: ' '},
			want:  280,
		},
		{
			name:  "terminator only past the window keeps target over a space",
			n:     1000,
			marks: map[int]rune{280: ' ', 600: '.'},
			want:  300,
		},
		{
			name: "short text without terminators cuts at target",
			n:    100,
			want: 30,
		},
		{
			name:  "no terminator and space too far back",
			n:     1000,
			marks: map[int]rune{240: ' '},
			want:  300,
		},
		{
			name:  "space exactly target-50 does not qualify",
			n:     1000,
			marks: map[int]rune{250: ' '},
			want:  300,
		},
		{
			name: "no terminator and no space",
			n:    1000,
			want: 300,
		},
		{
			name: "target rounds up",
			n:    1001,
			want: 301,
		},
		{
			name: "empty",
			n:    0,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runes := []rune(doc(tt.n, 'a', tt.marks))
			assert.Equal(t, tt.want, previewCutoff(runes))
		})
	}
}

func TestPreview_ExactBoundary(t *testing.T) {
	content := doc(1000, 'a', map[int]rune{310: '.'})

	preview := Preview(content)
	assert.Equal(t, 311, utf8.RuneCountInString(preview))
	assert.True(t, strings.HasSuffix(preview, "."))
	assert.Equal(t, content[:311], preview)
}

func TestPreview_CountsCharactersNotBytes(t *testing.T) {
	content := doc(1000, 'é', map[int]rune{310: '.'})

	preview := Preview(content)
	assert.Equal(t, 311, utf8.RuneCountInString(preview))
	assert.True(t, utf8.ValidString(preview))
}

func TestPreview_DegenerateShortText(t *testing.T) {
	// target 3; the period is too close to the end, so the cut lands at
	// target, within 10 characters of the end, and moves back to the space.
	assert.Equal(t, "Hi", Preview("Hi there."))
	assert.Equal(t, "", Preview(""))
}

func TestPreview_TrimsWhitespace(t *testing.T) {
	content := doc(1000, 'a', map[int]rune{0: ' ', 1: '\n', 309: ' ', 310: '.'})

	preview := Preview(content)
	assert.False(t, strings.HasPrefix(preview, " "))
	assert.False(t, strings.HasPrefix(preview, "\n"))
	assert.Equal(t, 309, utf8.RuneCountInString(preview))
}

func TestPreview_ProseParagraphs(t *testing.T) {
	sentence := "The derivative of x squared is two x. "
	content := strings.Repeat(sentence, 30)

	preview := Preview(content)
	assert.True(t, strings.HasSuffix(preview, "."), preview)
	assert.Less(t, len(preview), len(content))

	target := (utf8.RuneCountInString(content)*30 + 99) / 100
	assert.InDelta(t, target, utf8.RuneCountInString(preview), 100)
}

func TestDecoratedPreview(t *testing.T) {
	content := doc(1000, 'a', map[int]rune{310: '.'})

	decorated := DecoratedPreview(content)
	assert.True(t, strings.HasSuffix(decorated, UpsellNotice))
	assert.Equal(t, Preview(content), strings.TrimSuffix(decorated, UpsellNotice))
}

func TestPreview_Deterministic(t *testing.T) {
	content := strings.Repeat("Solve for x! Then check the answer? ", 50)
	assert.Equal(t, Preview(content), Preview(content))
}
