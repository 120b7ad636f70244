// Package autosave coalesces editor updates into one write per quiet period
// and pushes save confirmations to the editors watching a document.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexwrite/api/internal/metrics"
)

const DefaultQuiet = 2 * time.Second

// Editor identifies who holds a live connection.
type Editor struct {
	UserID string
	Email  string
}

// Edit is the latest editor state for one document. A nil Title leaves the
// stored title unchanged.
type Edit struct {
	DocumentID string
	Editor     Editor
	Title      *string
	Content    string
}

// Saver persists an edit and returns the stored updated_at.
type Saver interface {
	SaveEdit(ctx context.Context, edit Edit) (time.Time, error)
}

type SaverFunc func(ctx context.Context, edit Edit) (time.Time, error)

func (f SaverFunc) SaveEdit(ctx context.Context, edit Edit) (time.Time, error) { return f(ctx, edit) }

type timer interface {
	Stop() bool
}

type pendingSave struct {
	edit  Edit
	gen   uint64
	timer timer
}

// Debouncer keeps at most one pending save per document. Each Schedule
// restarts the document's quiet period; only the newest edit is written.
// A failed save is logged and dropped.
type Debouncer struct {
	saver       Saver
	quiet       time.Duration
	saveTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	gen     uint64
	pending map[string]*pendingSave
	onSaved func(documentID string, updatedAt time.Time)

	afterFunc func(d time.Duration, f func()) timer
}

func NewDebouncer(saver Saver, quiet time.Duration, logger *zap.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		saver:       saver,
		quiet:       quiet,
		saveTimeout: 15 * time.Second,
		logger:      logger,
		pending:     make(map[string]*pendingSave),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// OnSaved registers a callback run after every successful save.
func (d *Debouncer) OnSaved(fn func(documentID string, updatedAt time.Time)) {
	d.mu.Lock()
	d.onSaved = fn
	d.mu.Unlock()
}

func (d *Debouncer) Schedule(edit Edit) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[edit.DocumentID]; ok {
		p.timer.Stop()
	} else {
		metrics.AutosavePending.Inc()
	}
	d.gen++
	gen := d.gen
	docID := edit.DocumentID
	d.pending[docID] = &pendingSave{
		edit:  edit,
		gen:   gen,
		timer: d.afterFunc(d.quiet, func() { d.fire(docID, gen) }),
	}
}

// Cancel drops a pending save. It reports whether one existed.
func (d *Debouncer) Cancel(documentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[documentID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, documentID)
	metrics.AutosavePending.Dec()
	metrics.AutosaveTotal.WithLabelValues("cancelled").Inc()
	return true
}

// Pending reports whether documentID has an unsaved edit.
func (d *Debouncer) Pending(documentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[documentID]
	return ok
}

// Flush saves every pending edit now. Used on shutdown.
func (d *Debouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	edits := make([]Edit, 0, len(d.pending))
	for id, p := range d.pending {
		p.timer.Stop()
		edits = append(edits, p.edit)
		delete(d.pending, id)
		metrics.AutosavePending.Dec()
	}
	d.mu.Unlock()

	for _, edit := range edits {
		d.persist(ctx, edit)
	}
}

// fire runs on the timer goroutine. A superseded generation is a no-op.
func (d *Debouncer) fire(documentID string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[documentID]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, documentID)
	metrics.AutosavePending.Dec()
	edit := p.edit
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.saveTimeout)
	defer cancel()
	d.persist(ctx, edit)
}

func (d *Debouncer) persist(ctx context.Context, edit Edit) {
	updatedAt, err := d.saver.SaveEdit(ctx, edit)
	if err != nil {
		metrics.AutosaveTotal.WithLabelValues("failed").Inc()
		d.logger.Error("autosave failed",
			zap.String("document_id", edit.DocumentID),
			zap.Error(err))
		return
	}
	metrics.AutosaveTotal.WithLabelValues("saved").Inc()

	d.mu.Lock()
	onSaved := d.onSaved
	d.mu.Unlock()
	if onSaved != nil {
		onSaved(edit.DocumentID, updatedAt)
	}
}
