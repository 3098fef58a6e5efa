// ABOUTME: Splits reply text into transport-sized chunks
// ABOUTME: Splits on exact character boundaries and yields chunks lazily

package reply

import (
	"iter"
	"unicode/utf8"
)

// MaxChunk is the largest message Telegram accepts, in characters.
const MaxChunk = 4096

// Chunks yields text in pieces of at most size characters (runes). Splits do
// not respect words or markup. Empty text yields a single empty chunk; a
// non-positive size falls back to MaxChunk.
func Chunks(text string, size int) iter.Seq[string] {
	if size <= 0 {
		size = MaxChunk
	}
	return func(yield func(string) bool) {
		if text == "" {
			yield("")
			return
		}
		rest := text
		for rest != "" {
			end, n := 0, 0
			for end < len(rest) && n < size {
				_, w := utf8.DecodeRuneInString(rest[end:])
				end += w
				n++
			}
			if !yield(rest[:end]) {
				return
			}
			rest = rest[end:]
		}
	}
}

// Count returns how many chunks Chunks would yield.
func Count(text string, size int) int {
	if size <= 0 {
		size = MaxChunk
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 1
	}
	return (n + size - 1) / size
}
