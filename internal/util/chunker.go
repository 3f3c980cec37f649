package util

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultChunkTargetWords  = 300
	DefaultChunkOverlapWords = 50
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// Chunker splits text into word-bounded chunks. Paragraphs are packed whole
// while they fit; a paragraph longer than the target is cut into overlapping
// windows.
type Chunker struct {
	targetWords  int
	overlapWords int
}

func NewChunker(targetWords, overlapWords int) (*Chunker, error) {
	if targetWords <= 0 {
		return nil, fmt.Errorf("%w: chunk target must be positive, got %d", ErrValidation, targetWords)
	}
	if overlapWords < 0 || overlapWords >= targetWords {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0,%d), got %d", ErrValidation, targetWords, overlapWords)
	}
	return &Chunker{targetWords: targetWords, overlapWords: overlapWords}, nil
}

func (c *Chunker) TargetWords() int  { return c.targetWords }
func (c *Chunker) OverlapWords() int { return c.overlapWords }

// Split returns the chunks of text in document order. The result depends only
// on text and the chunker settings.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	out := make([]string, 0)
	buf := make([]string, 0, c.targetWords)
	for _, para := range paragraphBreak.Split(text, -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if len(buf)+len(words) <= c.targetWords {
			buf = append(buf, words...)
			continue
		}
		out = appendChunk(out, buf)
		buf = buf[:0]
		if len(words) > c.targetWords {
			out = append(out, c.windows(words)...)
			continue
		}
		buf = append(buf, words...)
	}
	return appendChunk(out, buf)
}

func (c *Chunker) windows(words []string) []string {
	step := c.targetWords - c.overlapWords
	out := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := start + c.targetWords
		if end > len(words) {
			end = len(words)
		}
		out = appendChunk(out, words[start:end])
		if end == len(words) {
			break
		}
	}
	return out
}

func appendChunk(out []string, words []string) []string {
	part := strings.TrimSpace(strings.Join(words, " "))
	if part == "" {
		return out
	}
	return append(out, part)
}
