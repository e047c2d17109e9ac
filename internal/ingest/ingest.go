package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examgrade/examgrade-api/internal/chunker"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

// ErrBadFilename indicates a marking scheme file does not follow the
// {subject}_{question}.md naming convention.
var ErrBadFilename = errors.New("filename must follow subject_question naming")

var totalMarksPattern = regexp.MustCompile(`(?im)^\s*total\s+marks?\s*[:=]\s*(\d+(?:\.\d+)?)\s*$`)

// Report summarises one ingestion run over a marking scheme directory.
type Report struct {
	DocumentsProcessed int      `json:"documents_processed"`
	DocumentsFailed    int      `json:"documents_failed"`
	ChunksIndexed      int      `json:"chunks_indexed"`
	Errors             []string `json:"errors,omitempty"`
}

// Ingestor loads marking scheme documents, chunks them per criterion, embeds
// the chunks, and replaces the indexed entries for each document's
// subject/question pair.
type Ingestor struct {
	chunker  *chunker.CriterionChunker
	embedder ai.Embedder
	store    vectorstore.Store
	logger   zerolog.Logger
}

// New builds an ingestor over the given chunker, embedder, and index.
func New(ch *chunker.CriterionChunker, embedder ai.Embedder, store vectorstore.Store, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		chunker:  ch,
		embedder: embedder,
		store:    store,
		logger:   logger.With().Str("component", "ingestor").Logger(),
	}
}

// Run ingests every markdown and plain-text file under dir. A failure in one
// document is recorded and does not stop the run; only an unreadable directory
// or an uninitialisable index fails the whole run.
func (in *Ingestor) Run(ctx context.Context, dir string) (Report, error) {
	report := Report{}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".md" || ext == ".txt" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", dir, err)
	}

	if len(paths) == 0 {
		return report, fmt.Errorf("no marking scheme documents found under %s", dir)
	}

	initialized := false
	for _, path := range paths {
		chunks, err := in.ingestFile(ctx, path, &initialized)
		if err != nil {
			report.DocumentsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			in.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("document ingestion failed")
			continue
		}

		report.DocumentsProcessed++
		report.ChunksIndexed += chunks
	}

	in.logger.Info().
		Int("processed", report.DocumentsProcessed).
		Int("failed", report.DocumentsFailed).
		Int("chunks", report.ChunksIndexed).
		Msg("ingestion run complete")

	return report, nil
}

func (in *Ingestor) ingestFile(ctx context.Context, path string, initialized *bool) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	if kind := mimetype.Detect(raw); !kind.Is("text/plain") && !strings.HasPrefix(kind.String(), "text/") {
		return 0, fmt.Errorf("unsupported content type %s", kind.String())
	}

	subject, questionID, err := parseFilename(filepath.Base(path))
	if err != nil {
		return 0, err
	}

	text := string(raw)
	meta := chunker.Metadata{
		Subject:    subject,
		QuestionID: questionID,
		TotalMarks: extractTotalMarks(text),
	}

	chunks, err := in.chunker.Chunk(text, meta)
	if errors.Is(err, chunker.ErrNoStructuralMarkers) {
		in.logger.Debug().Str("file", filepath.Base(path)).Msg("no criterion markers, falling back to paragraphs")
		chunks = in.chunker.ChunkParagraphs(text, meta)
	} else if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	if !*initialized {
		if err := in.store.Init(ctx, len(vectors[0])); err != nil {
			return 0, fmt.Errorf("init vector index: %w", err)
		}
		*initialized = true
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Text:   chunk.Text,
			Metadata: vectorstore.Metadata{
				Subject:        chunk.Metadata.Subject,
				QuestionID:     chunk.Metadata.QuestionID,
				Criterion:      chunk.Criterion,
				ChunkIndex:     chunk.Index,
				CriterionMarks: chunk.CriterionMarks,
				TotalMarks:     chunk.Metadata.TotalMarks,
			},
		}
	}

	// Re-ingesting a document replaces its entries rather than stacking
	// duplicates next to them.
	filter := vectorstore.Filter{Subject: subject, QuestionID: questionID}
	if err := in.store.Reset(ctx, filter); err != nil {
		return 0, fmt.Errorf("reset existing entries: %w", err)
	}

	if err := in.store.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}

	in.logger.Info().
		Str("subject", subject).
		Str("question_id", questionID).
		Int("chunks", len(points)).
		Float64("total_marks", meta.TotalMarks).
		Msg("document indexed")

	return len(points), nil
}

// parseFilename splits {subject}_{question}.{ext} on the last underscore so
// subjects may themselves contain underscores.
func parseFilename(name string) (subject, questionID string, err error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(base, "_")
	if idx <= 0 || idx == len(base)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrBadFilename, name)
	}

	return base[:idx], base[idx+1:], nil
}

// extractTotalMarks reads an explicit "Total Marks: N" declaration. Zero means
// the document declares none.
func extractTotalMarks(text string) float64 {
	match := totalMarksPattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}

	marks, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}

	return marks
}
