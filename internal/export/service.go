package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"lexwrite/api/internal/richtext"
	"lexwrite/api/internal/storage"
)

const presignExpiry = 15 * time.Minute

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides document export functionality. When an object store is
// set, Publish uploads results and hands back a presigned URL.
type Service struct {
	objects   storage.ObjectStore
	renderers map[Format]renderFunc
	now       func() time.Time
}

// NewService creates an export service. objects may be nil.
func NewService(objects storage.ObjectStore) *Service {
	return &Service{
		objects: objects,
		renderers: map[Format]renderFunc{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
		now: time.Now,
	}
}

func (s *Service) CanPublish() bool {
	return s.objects != nil
}

// Export renders the document in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	render, ok := s.renderers[req.Format]
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled Document"
	}

	html, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		ContentHTML: template.HTML(richtext.Sanitize(req.ContentHTML)),
		Author:      req.Author,
		UpdatedAt:   req.UpdatedAt,
		WordCount:   len(strings.Fields(richtext.PlainText(req.ContentHTML))),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return render(ctx, html, title)
}

// Publish uploads an export and returns a presigned download URL.
func (s *Service) Publish(ctx context.Context, req Request, result *Result) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	key := storage.ExportKey(req.UserID, req.DocumentID, result.Filename, s.now())
	if err := s.objects.Put(ctx, key, bytes.NewReader(result.Data), int64(len(result.Data)), result.MimeType); err != nil {
		return "", err
	}
	return s.objects.PresignGet(ctx, key, result.Filename, presignExpiry)
}

// Purge removes every stored export of a document.
func (s *Service) Purge(ctx context.Context, userID, documentID string) error {
	if s.objects == nil {
		return nil
	}
	return s.objects.DeletePrefix(ctx, storage.ExportPrefix(userID, documentID))
}
