package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lexwrite/api/internal/autosave"
	"lexwrite/api/internal/export"
	"lexwrite/api/internal/history"
	"lexwrite/api/internal/richtext"
	"lexwrite/api/internal/search"
	"lexwrite/api/internal/store"
	"lexwrite/api/internal/util"
)

const defaultDocumentTitle = "Untitled Document"

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, session.UserID)
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.UserID, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, notFound()
		}
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, title, content string) (store.Document, error) {
	content = richtext.Sanitize(content)
	doc, err := s.store.CreateDocument(ctx, store.Document{
		ID:      util.NewUUID(),
		UserID:  session.UserID,
		Title:   trimmedOr(title, defaultDocumentTitle),
		Content: content,
	}, richtext.PlainText(content))
	if err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}
	s.afterSave(doc, session.Email, "Create document")
	return doc, nil
}

// SaveDocument is the explicit save. It supersedes any pending autosave for
// the same document. A nil title keeps the stored one.
func (s *Service) SaveDocument(ctx context.Context, session Session, documentID string, title *string, content string) (store.Document, error) {
	if s.autosave != nil {
		s.autosave.Cancel(documentID)
	}
	doc, err := s.updateDocument(ctx, session.UserID, documentID, title, content)
	if err != nil {
		return store.Document{}, err
	}
	s.afterSave(doc, session.Email, "Save document")
	return doc, nil
}

// SaveEdit persists a debounced editor update.
func (s *Service) SaveEdit(ctx context.Context, edit autosave.Edit) (time.Time, error) {
	doc, err := s.updateDocument(ctx, edit.Editor.UserID, edit.DocumentID, edit.Title, edit.Content)
	if err != nil {
		return time.Time{}, err
	}
	s.afterSave(doc, edit.Editor.Email, "Autosave")
	return doc.UpdatedAt, nil
}

func (s *Service) updateDocument(ctx context.Context, userID, documentID string, title *string, content string) (store.Document, error) {
	if title != nil {
		normalized := trimmedOr(*title, defaultDocumentTitle)
		title = &normalized
	}
	content = richtext.Sanitize(content)
	doc, err := s.store.UpdateDocument(ctx, userID, documentID, title, content, richtext.PlainText(content))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, notFound()
		}
		return store.Document{}, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// afterSave records a revision and refreshes the search entry. Both are
// best effort.
func (s *Service) afterSave(doc store.Document, author, message string) {
	if s.history != nil {
		if _, _, err := s.history.Commit(doc.ID, history.Content{Title: doc.Title, Content: doc.Content}, author, message); err != nil {
			s.logger.Warn("history commit failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:        doc.ID,
			UserID:    doc.UserID,
			Title:     doc.Title,
			Body:      richtext.PlainText(doc.Content),
			UpdatedAt: doc.UpdatedAt.Unix(),
		})
	}
}

// DeleteDocument removes the row and everything derived from it. Pending
// autosaves are dropped first so they cannot resurrect the content.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if _, err := s.GetDocument(ctx, session, documentID); err != nil {
		return err
	}
	if s.autosave != nil {
		s.autosave.Cancel(documentID)
	}
	if s.hub != nil {
		s.hub.CloseDocument(documentID)
	}
	if err := s.store.DeleteDocument(ctx, session.UserID, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound()
		}
		return fmt.Errorf("delete document: %w", err)
	}

	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	if s.history != nil {
		if err := s.history.Remove(documentID); err != nil {
			s.logger.Warn("history removal failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	if s.exports != nil {
		if err := s.exports.Purge(ctx, session.UserID, documentID); err != nil {
			s.logger.Warn("export purge failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.GetDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []store.CommitInfo{}, nil
	}
	commits, err := s.history.History(documentID, limit)
	if err != nil {
		if errors.Is(err, history.ErrNoHistory) {
			return []store.CommitInfo{}, nil
		}
		return nil, err
	}
	return commits, nil
}

func (s *Service) DocumentRevision(ctx context.Context, session Session, documentID, hash string) (history.Content, store.CommitInfo, error) {
	if _, err := s.GetDocument(ctx, session, documentID); err != nil {
		return history.Content{}, store.CommitInfo{}, err
	}
	if s.history == nil {
		return history.Content{}, store.CommitInfo{}, notFound()
	}
	content, info, err := s.history.GetContentByHash(documentID, hash)
	if err != nil {
		if errors.Is(err, history.ErrNoHistory) || errors.Is(err, history.ErrUnknownCommit) {
			return history.Content{}, store.CommitInfo{}, notFound()
		}
		return history.Content{}, store.CommitInfo{}, err
	}
	return content, info, nil
}

// ExportOutcome carries either a presigned URL or the rendered file.
type ExportOutcome struct {
	URL    string
	Result *export.Result
}

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, rawFormat string) (ExportOutcome, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return ExportOutcome{}, validationError("format must be pdf or docx")
	}
	doc, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return ExportOutcome{}, err
	}
	if s.exports == nil {
		return ExportOutcome{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not available", nil)
	}

	req := export.Request{
		DocumentID:  doc.ID,
		UserID:      doc.UserID,
		Title:       doc.Title,
		ContentHTML: doc.Content,
		Author:      session.Email,
		UpdatedAt:   doc.UpdatedAt,
		Format:      format,
	}
	result, err := s.exports.Export(ctx, req)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return ExportOutcome{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
		}
		return ExportOutcome{}, fmt.Errorf("export document: %w", err)
	}

	if s.exports.CanPublish() {
		url, err := s.exports.Publish(ctx, req, result)
		if err == nil {
			return ExportOutcome{URL: url}, nil
		}
		s.logger.Warn("export upload failed, streaming instead", zap.String("document_id", doc.ID), zap.Error(err))
	}
	return ExportOutcome{Result: result}, nil
}

func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{Text: text, UserID: session.UserID, Limit: limit, Offset: offset})
}
