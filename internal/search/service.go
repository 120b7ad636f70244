package search

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexwrite/api/internal/logger"
)

const reindexBatchSize = 500

type documentIndex interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(documents []DocumentRecord) error
	DeleteDocument(id string) error
}

type fallbackSearcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, error)
}

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	meili documentIndex
	pgfts fallbackSearcher
	async bool
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{async: true}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logger.Log.Warn("search: meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		logger.Log.Error("search: pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument pushes a document to Meilisearch without blocking the caller.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.indexReady() {
		return
	}
	s.run(func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			logger.Log.Warn("search: index document", zap.String("document_id", doc.ID), zap.Error(err))
		}
	})
}

func (s *Service) DeleteDocument(id string) {
	if !s.indexReady() {
		return
	}
	s.run(func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			logger.Log.Warn("search: delete document", zap.String("document_id", id), zap.Error(err))
		}
	})
}

func (s *Service) run(fn func()) {
	if s.async {
		go fn()
		return
	}
	fn()
}

// ReindexAllFromPG copies every document from Postgres into Meilisearch in
// batches, two at a time.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if !s.indexReady() || s.pgfts == nil {
		return nil
	}
	documents, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for start := 0; start < len(documents); start += reindexBatchSize {
		end := min(start+reindexBatchSize, len(documents))
		batch := documents[start:end]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.meili.IndexDocuments(batch)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Log.Info("search: reindexed documents", zap.Int("count", len(documents)))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
