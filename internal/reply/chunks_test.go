// ABOUTME: Tests for reply chunking
// ABOUTME: Checks chunk counts, size limits and lossless reassembly

package reply

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks_Lengths(t *testing.T) {
	cases := map[string]struct {
		text string
		want int
	}{
		"empty":         {"", 1},
		"short":         {"Our pricing starts at ...", 1},
		"exactly max":   {strings.Repeat("a", MaxChunk), 1},
		"one over":      {strings.Repeat("a", MaxChunk+1), 2},
		"three chunks":  {strings.Repeat("b", 2*MaxChunk+10), 3},
		"multibyte max": {strings.Repeat("ж", MaxChunk), 1},
		"multibyte":     {strings.Repeat("ж", MaxChunk*2+1), 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := slices.Collect(Chunks(tc.text, MaxChunk))
			require.Len(t, got, tc.want)
			assert.Equal(t, tc.want, Count(tc.text, MaxChunk))
			assert.Equal(t, tc.text, strings.Join(got, ""))
			for _, c := range got {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), MaxChunk)
				assert.True(t, utf8.ValidString(c))
			}
		})
	}
}

func TestChunks_ExactBoundaries(t *testing.T) {
	got := slices.Collect(Chunks("abcdefg", 3))
	assert.Equal(t, []string{"abc", "def", "g"}, got)

	got = slices.Collect(Chunks("привет", 4))
	assert.Equal(t, []string{"прив", "ет"}, got)
}

func TestChunks_StopsEarly(t *testing.T) {
	var seen []string
	for c := range Chunks(strings.Repeat("x", 10), 2) {
		seen = append(seen, c)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"xx", "xx"}, seen)
}

func TestChunks_NonPositiveSize(t *testing.T) {
	got := slices.Collect(Chunks(strings.Repeat("a", MaxChunk+1), 0))
	assert.Len(t, got, 2)
}
