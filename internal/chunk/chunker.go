// Package chunk produces deterministic line-window chunks of textual
// assets and the stable vector point IDs derived from them.
package chunk

import (
	"fmt"
	"strings"
)

const (
	// TokensPerLine is an approximation for token counting (~4 tokens per line).
	TokensPerLine = 4
	// MinLinesPerChunk is the smallest window ever emitted.
	MinLinesPerChunk = 30

	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Params controls the window size and overlap of the chunker.
type Params struct {
	TargetTokens int
	OverlapLines int
}

// ScriptParams returns the default chunking parameters for script assets.
func ScriptParams() Params {
	return Params{TargetTokens: 500, OverlapLines: 20}
}

// SceneParams returns the default chunking parameters for scene documents.
func SceneParams() Params {
	return Params{TargetTokens: 700, OverlapLines: 30}
}

// LinesPerChunk returns the window height implied by the target token budget.
func (p Params) LinesPerChunk() int {
	lines := p.TargetTokens / TokensPerLine
	if lines < MinLinesPerChunk {
		lines = MinLinesPerChunk
	}
	return lines
}

// Chunk is one contiguous line window of a textual asset. Line numbers are
// 1-based and inclusive.
type Chunk struct {
	Index       int
	StartLine   int
	EndLine     int
	Text        string
	Fingerprint string
}

// Split cuts text into overlapping line windows. An empty input yields no
// chunks; a file shorter than the minimum window yields a single chunk
// spanning the whole file.
func Split(text string, p Params) []Chunk {
	if text == "" {
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	n := len(lines)

	linesPerChunk := p.LinesPerChunk()
	step := linesPerChunk - p.OverlapLines
	if step < 1 {
		step = 1
	}

	var chunks []Chunk
	for i := 0; i < n; i += step {
		end := i + linesPerChunk
		if end > n {
			end = n
		}

		body := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			StartLine:   i + 1,
			EndLine:     end,
			Text:        body,
			Fingerprint: fnv32aHex(body),
		})

		if end == n {
			break
		}
	}

	return chunks
}

// Key builds the stable chunk-key string used as the UUIDv5 name for the
// point ID. The absolute path keeps chunks of identical content in distinct
// files from colliding.
func Key(absPath string, c Chunk) string {
	return fmt.Sprintf("%s#%d-%d#%s", absPath, c.StartLine, c.EndLine, c.Fingerprint)
}

// Range renders the chunk's line span as "start-end" for the point payload.
func (c Chunk) Range() string {
	return fmt.Sprintf("%d-%d", c.StartLine, c.EndLine)
}

// fnv32aHex computes the FNV-1a 32-bit fingerprint of s, rendered hex.
func fnv32aHex(s string) string {
	var h uint32 = fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return fmt.Sprintf("%08x", h)
}
