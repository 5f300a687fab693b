package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recordingQueue struct {
	ids    []uint
	reject bool
}

func (q *recordingQueue) Enqueue(id uint) bool {
	if q.reject {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

func validIncoming() IncomingMessage {
	return IncomingMessage{
		SourceType:   "telegram",
		SourceChatID: "123",
		SenderName:   "Alice",
		SenderID:     "42",
		Timestamp:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Content:      "hello",
	}
}

func TestIngestCreatesAndEnqueues(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	queue := &recordingQueue{}
	n := NewNormalizer(store, queue, false, nil)

	msg, created, err := n.Ingest(context.Background(), validIncoming())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !created {
		t.Error("Ingest() created = false, want true for new message")
	}
	if msg.Identity == "" {
		t.Error("Ingest() stored message without identity")
	}
	if msg.MessageType != "text" {
		t.Errorf("MessageType = %q, want text default", msg.MessageType)
	}
	if len(queue.ids) != 1 || queue.ids[0] != msg.ID {
		t.Errorf("queue received %v, want [%d]", queue.ids, msg.ID)
	}
}

func TestIngestDuplicateReturnsExisting(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	queue := &recordingQueue{}
	n := NewNormalizer(store, queue, false, nil)
	ctx := context.Background()

	first, _, err := n.Ingest(ctx, validIncoming())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	second, created, err := n.Ingest(ctx, validIncoming())
	if err != nil {
		t.Fatalf("Ingest() duplicate error = %v", err)
	}
	if created {
		t.Error("Ingest() created = true for duplicate, want false")
	}
	if second.ID != first.ID {
		t.Errorf("Ingest() duplicate returned ID %d, want existing ID %d", second.ID, first.ID)
	}
	if len(queue.ids) != 1 {
		t.Errorf("queue received %d enqueues, want 1 (duplicates are not re-enqueued)", len(queue.ids))
	}
}

func TestIngestStrictDuplicate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	n := NewNormalizer(store, nil, true, nil)
	ctx := context.Background()

	if _, _, err := n.Ingest(ctx, validIncoming()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	_, _, err := n.Ingest(ctx, validIncoming())
	if !errors.Is(err, apperrors.ErrDuplicateIdentity) {
		t.Errorf("Ingest() strict duplicate error = %v, want ErrDuplicateIdentity", err)
	}
}

func TestIngestValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	n := NewNormalizer(store, nil, false, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*IncomingMessage)
	}{
		{name: "missing source type", mutate: func(m *IncomingMessage) { m.SourceType = "" }},
		{name: "missing sender", mutate: func(m *IncomingMessage) { m.SenderName = ""; m.SenderID = "" }},
		{name: "missing timestamp", mutate: func(m *IncomingMessage) { m.Timestamp = time.Time{} }},
		{name: "no content or attachment", mutate: func(m *IncomingMessage) { m.Content = "   " }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validIncoming()
			tc.mutate(&in)

			_, _, err := n.Ingest(ctx, in)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("Ingest() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestIngestAllowsMediaWithoutContent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	n := NewNormalizer(store, nil, false, nil)

	in := validIncoming()
	in.Content = ""
	in.MessageType = "image"

	if _, _, err := n.Ingest(context.Background(), in); err != nil {
		t.Fatalf("Ingest() media message error = %v, want nil", err)
	}
}

func TestIdentityStability(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("source id yields readable key", func(t *testing.T) {
		got := Identity("telegram", "123", "456", "42", ts, "hi")
		if got != "telegram/123/456" {
			t.Errorf("Identity() = %q, want telegram/123/456", got)
		}
	})

	t.Run("digest is deterministic", func(t *testing.T) {
		a := Identity("whatsapp", "family", "", "alice", ts, "hi")
		b := Identity("whatsapp", "family", "", "alice", ts, "hi")
		if a != b {
			t.Errorf("Identity() not deterministic: %q != %q", a, b)
		}
	})

	t.Run("digest differs on content", func(t *testing.T) {
		a := Identity("whatsapp", "family", "", "alice", ts, "hi")
		b := Identity("whatsapp", "family", "", "alice", ts, "hi there")
		if a == b {
			t.Error("Identity() identical for different content")
		}
	})

	t.Run("timezone does not change identity", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*3600)
		a := Identity("whatsapp", "family", "", "alice", ts, "hi")
		b := Identity("whatsapp", "family", "", "alice", ts.In(loc), "hi")
		if a != b {
			t.Errorf("Identity() varies with timezone representation: %q != %q", a, b)
		}
	})
}

func TestImportExport(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	queue := &recordingQueue{}
	n := NewNormalizer(store, queue, false, nil)
	ctx := context.Background()

	export := strings.Join([]string{
		"garbage first line",
		"1/1/24, 10:00 AM - Alice: Hello",
		"World",
		"1/1/24, 10:05 AM - Bob: <Media omitted>",
		"1/1/24, 10:06 AM - Alice created group \"Family\"",
	}, "\n")

	report, err := n.ImportExport(ctx, "family", strings.NewReader(export))
	if err != nil {
		t.Fatalf("ImportExport() error = %v", err)
	}
	if report.BatchID == "" {
		t.Error("ImportExport() report missing batch ID")
	}
	if report.Total != 2 {
		t.Errorf("Total = %d, want 2", report.Total)
	}
	if report.Imported != 2 {
		t.Errorf("Imported = %d, want 2", report.Imported)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("Warnings = %v, want 1 for the malformed first line", report.Warnings)
	}

	// Re-importing the same file must not create new records.
	again, err := n.ImportExport(ctx, "family", strings.NewReader(export))
	if err != nil {
		t.Fatalf("ImportExport() rerun error = %v", err)
	}
	if again.Imported != 0 {
		t.Errorf("rerun Imported = %d, want 0", again.Imported)
	}
	if again.Duplicates != 2 {
		t.Errorf("rerun Duplicates = %d, want 2", again.Duplicates)
	}
	if again.Total != 2 {
		t.Errorf("rerun Total = %d, want 2", again.Total)
	}
}

func TestImportExportRequiresChatID(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(newTestStore(t), nil, false, nil)

	_, err := n.ImportExport(context.Background(), "", strings.NewReader(""))
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("ImportExport() error = %v, want ErrValidation", err)
	}
}
