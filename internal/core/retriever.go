package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gwi.com/wellbeing-companion/internal/chunker"
	"gwi.com/wellbeing-companion/internal/utils"
)

const DefaultTopK = 3

// Document is one retrievable chunk of corpus text.
type Document struct {
	Content  string
	Metadata map[string]any
}

// EmbeddedDocument pairs a Document with its vector.
type EmbeddedDocument struct {
	Document Document
	Vector   []float32
}

// BuildStats summarizes a retriever build.
type BuildStats struct {
	Embedded int
	Failed   int
}

// Retriever ranks an in-memory set of embedded chunks by cosine similarity.
// The set is published once by Build and only read afterwards.
type Retriever struct {
	gateway  *EmbeddingGateway
	splitter *chunker.Splitter
	limiter  *rate.Limiter
	logger   *zap.Logger

	docs atomic.Pointer[[]EmbeddedDocument]
}

// NewRetriever creates an empty, not yet ready retriever. ratePerSec bounds
// embedding calls during Build; zero or less means unlimited.
func NewRetriever(gateway *EmbeddingGateway, splitter *chunker.Splitter, ratePerSec float64, logger *zap.Logger) *Retriever {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Retriever{
		gateway:  gateway,
		splitter: splitter,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// LoadDocuments reads a plain text corpus and splits it into Documents.
func LoadDocuments(path string, splitter *chunker.Splitter) ([]Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file %s: %w", path, err)
	}
	chunks, err := splitter.Split(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to split corpus: %w", err)
	}
	docs := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, Document{
			Content:  c,
			Metadata: map[string]any{"source": path, "chunk": i},
		})
	}
	return docs, nil
}

// Build embeds every document and publishes the result. Documents larger than
// the splitter's byte ceiling are re-split first. A failed chunk is logged and
// skipped; only context cancellation aborts the build.
func (r *Retriever) Build(ctx context.Context, docs []Document) (BuildStats, error) {
	var stats BuildStats
	embedded := make([]EmbeddedDocument, 0, len(docs))

	for i, doc := range docs {
		pieces := []Document{doc}
		if len(doc.Content) > r.splitter.MaxBytes() {
			parts, err := r.splitter.Split(doc.Content)
			if err != nil {
				r.logger.Warn("failed to re-split oversized document, skipping",
					zap.Int("doc", i), zap.Error(err))
				stats.Failed++
				continue
			}
			pieces = pieces[:0]
			for j, p := range parts {
				meta := make(map[string]any, len(doc.Metadata)+1)
				for k, v := range doc.Metadata {
					meta[k] = v
				}
				meta["part"] = j
				pieces = append(pieces, Document{Content: p, Metadata: meta})
			}
		}

		for _, piece := range pieces {
			if err := r.limiter.Wait(ctx); err != nil {
				return stats, fmt.Errorf("retriever build interrupted: %w", err)
			}
			vec, err := r.gateway.Embed(ctx, piece.Content)
			if err != nil {
				r.logger.Warn("failed to embed chunk, skipping",
					zap.Int("doc", i), zap.String("preview", preview(piece.Content, 50)), zap.Error(err))
				stats.Failed++
				continue
			}
			embedded = append(embedded, EmbeddedDocument{Document: piece, Vector: vec})
			stats.Embedded++
			if stats.Embedded%50 == 0 {
				r.logger.Info("embedding progress", zap.Int("embedded", stats.Embedded))
			}
		}
	}

	r.docs.Store(&embedded)
	r.logger.Info("retriever ready", zap.Int("embedded", stats.Embedded), zap.Int("failed", stats.Failed))
	return stats, nil
}

// BuildFromFile loads the corpus at path and builds it. A corpus that cannot
// be read is logged and an empty index is published, so chat still answers.
func (r *Retriever) BuildFromFile(ctx context.Context, path string) (BuildStats, error) {
	docs, err := LoadDocuments(path, r.splitter)
	if err != nil {
		r.logger.Error("failed to load retriever corpus, serving without context", zap.String("path", path), zap.Error(err))
		docs = nil
	}
	r.logger.Info("building retriever", zap.Int("documents", len(docs)))
	return r.Build(ctx, docs)
}

// Ready reports whether Build has completed.
func (r *Retriever) Ready() bool {
	return r.docs.Load() != nil
}

// Len returns the number of embedded chunks.
func (r *Retriever) Len() int {
	if p := r.docs.Load(); p != nil {
		return len(*p)
	}
	return 0
}

type scoredDocument struct {
	doc   Document
	score float64
	valid bool
}

// Query returns the k documents most similar to text, best first. Ties keep
// insertion order. Vectors whose similarity is undefined score 0 and rank
// after every well-defined score.
func (r *Retriever) Query(ctx context.Context, text string, k int) ([]Document, error) {
	p := r.docs.Load()
	if p == nil {
		return nil, ErrNotReady
	}
	if k <= 0 {
		k = DefaultTopK
	}

	queryVec, err := r.gateway.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	docs := *p
	scored := make([]scoredDocument, 0, len(docs))
	for _, ed := range docs {
		sim, err := utils.CosineSimilarity(queryVec, ed.Vector)
		scored = append(scored, scoredDocument{doc: ed.Document, score: sim, valid: err == nil})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].valid != scored[j].valid {
			return scored[i].valid
		}
		return scored[i].score > scored[j].score
	})

	if k > len(scored) {
		k = len(scored)
	}
	out := make([]Document, 0, k)
	for _, s := range scored[:k] {
		out = append(out, s.doc)
	}
	return out, nil
}

// FormatDocuments joins document contents into a prompt context block.
func FormatDocuments(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
