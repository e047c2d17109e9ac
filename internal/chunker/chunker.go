package chunker

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoStructuralMarkers indicates the document contains no recognizable
// numbered or bulleted criteria. The caller decides whether to fall back to
// paragraph chunking or reject the document.
var ErrNoStructuralMarkers = errors.New("document contains no structural criterion markers")

// Metadata describes the marking-scheme document a chunk was cut from.
type Metadata struct {
	Subject    string
	QuestionID string
	TotalMarks float64
}

// Chunk is a retrievable fragment of a marking scheme tied to one criterion
// or a coherent sub-unit of it. Chunks are immutable after creation.
type Chunk struct {
	Text           string
	Index          int
	Criterion      string
	CriterionMarks float64
	Metadata       Metadata
}

// CriterionChunker splits marking schemes on structural criterion markers,
// sub-splitting oversized criteria on sentence boundaries with an overlap
// window. Identical input always yields the identical chunk sequence.
type CriterionChunker struct {
	maxChars         int
	overlapSentences int
	marker           *regexp.Regexp
	sentence         *regexp.Regexp
	marks            *regexp.Regexp
}

// New builds a chunker with the given maximum chunk size in characters and
// sentence overlap window for oversized criteria.
func New(maxChars, overlapSentences int) *CriterionChunker {
	if maxChars <= 0 {
		maxChars = 500
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}

	return &CriterionChunker{
		maxChars:         maxChars,
		overlapSentences: overlapSentences,
		marker:           regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+`),
		sentence:         regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		marks:            regexp.MustCompile(`(?i)[\[(]\s*(\d+(?:\.\d+)?)\s*marks?\s*[\])]`),
	}
}

// Chunk splits the document on structural criterion markers. It returns at
// least one chunk per marker and never an empty chunk.
func (c *CriterionChunker) Chunk(text string, meta Metadata) ([]Chunk, error) {
	if c.marker.FindStringIndex(text) == nil {
		return nil, ErrNoStructuralMarkers
	}

	sections := c.marker.Split(text, -1)

	units := make([]string, 0, len(sections))
	for _, section := range sections {
		if trimmed := strings.TrimSpace(section); trimmed != "" {
			units = append(units, trimmed)
		}
	}

	if len(units) == 0 {
		return nil, ErrNoStructuralMarkers
	}

	return c.assemble(units, meta), nil
}

// ChunkParagraphs is the fallback strategy for documents without structural
// markers: one chunk per paragraph, or the whole text when it has none.
func (c *CriterionChunker) ChunkParagraphs(text string, meta Metadata) []Chunk {
	paragraphs := strings.Split(text, "\n\n")

	units := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			units = append(units, trimmed)
		}
	}

	if len(units) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		units = []string{trimmed}
	}

	return c.assemble(units, meta)
}

func (c *CriterionChunker) assemble(units []string, meta Metadata) []Chunk {
	var chunks []Chunk
	for _, unit := range units {
		label := criterionLabel(unit)
		marks := c.criterionMarks(unit)

		for _, piece := range c.split(unit) {
			chunks = append(chunks, Chunk{
				Text:           piece,
				Index:          len(chunks),
				Criterion:      label,
				CriterionMarks: marks,
				Metadata:       meta,
			})
		}
	}

	return chunks
}

// split cuts an oversized unit on sentence boundaries, carrying the configured
// overlap window so retrieval keeps local context across the cut.
func (c *CriterionChunker) split(unit string) []string {
	if len(unit) <= c.maxChars {
		return []string{unit}
	}

	sentences := c.sentence.FindAllString(unit, -1)
	if len(sentences) == 0 {
		return []string{unit}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	var pieces []string
	i := 0
	for i < len(sentences) {
		end := i
		length := 0
		for end < len(sentences) {
			next := length + len(sentences[end])
			if end > i && next > c.maxChars {
				break
			}
			length = next + 1
			end++
		}

		pieces = append(pieces, strings.Join(sentences[i:end], " "))
		if end == len(sentences) {
			break
		}

		// The rewind must always move past the previous start or the
		// loop never terminates.
		next := end - c.overlapSentences
		if next <= i {
			next = end
		}
		i = next
	}

	return pieces
}

// criterionMarks extracts an explicit mark allocation such as "(2 marks)".
// Zero means the allocation is not resolvable from the text.
func (c *CriterionChunker) criterionMarks(unit string) float64 {
	match := c.marks.FindStringSubmatch(unit)
	if match == nil {
		return 0
	}

	marks, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}

	return marks
}

func criterionLabel(unit string) string {
	label := unit
	if idx := strings.IndexAny(unit, "\n"); idx > 0 {
		label = unit[:idx]
	}
	label = strings.TrimSpace(label)
	if len(label) > 120 {
		label = strings.TrimSpace(label[:120])
	}
	return label
}
