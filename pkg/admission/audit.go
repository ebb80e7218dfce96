package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// auditBuffer bounds the in-flight audit queue. When full, entries are
// dropped with a log line; audit writes must never slow or fail admission.
const auditBuffer = 256

// AuditSink persists audit entries. Implemented by the store layer.
type AuditSink interface {
	WriteAudit(ctx context.Context, entry *models.AuditEntry) error
}

// AuditWriter records admission decisions asynchronously through a
// buffered channel and a single writer goroutine.
type AuditWriter struct {
	sink   AuditSink
	ch     chan *models.AuditEntry
	done   chan struct{}
	logger *slog.Logger
}

// NewAuditWriter starts the writer goroutine. Close flushes and stops it.
func NewAuditWriter(sink AuditSink) *AuditWriter {
	w := &AuditWriter{
		sink:   sink,
		ch:     make(chan *models.AuditEntry, auditBuffer),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	go w.run()
	return w
}

// Record enqueues an admission decision; the writer fills in the ID and
// timestamp. Non-blocking; a full buffer drops the entry rather than
// stalling the caller.
func (w *AuditWriter) Record(entry models.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	select {
	case w.ch <- &entry:
	default:
		w.logger.Warn("Audit buffer full, dropping entry",
			"user_id", entry.UserID, "decision", entry.Decision)
	}
}

func (w *AuditWriter) run() {
	defer close(w.done)
	for entry := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.sink.WriteAudit(ctx, entry); err != nil {
			w.logger.Error("Audit write failed", "entry_id", entry.ID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (w *AuditWriter) Close() {
	close(w.ch)
	<-w.done
}
