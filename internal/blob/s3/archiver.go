package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// defaultMultipartThreshold switches uploads to the multipart manager.
const defaultMultipartThreshold = 64 * 1024 * 1024

// EventArchiveStore is the subset of domain.EventStore the archiver needs.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.StoredEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiver implements domain.Archiver. It exports committed events
// older than a cutoff as JSONL and removes them from the primary store once
// the upload has succeeded.
type EventArchiver struct {
	writer    domain.BlobWriter
	events    EventArchiveStore
	audit     domain.AuditStore
	threshold int
}

func NewEventArchiver(writer domain.BlobWriter, events EventArchiveStore, audit domain.AuditStore) *EventArchiver {
	return &EventArchiver{
		writer:    writer,
		events:    events,
		audit:     audit,
		threshold: defaultMultipartThreshold,
	}
}

// ArchiveEvents uploads every event committed before the cutoff to
// archive/events/YYYY-MM/<first>-<last>.jsonl and returns the number of rows
// deleted from the event log.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath(before, events[0].Seq, events[len(events)-1].Seq)
	if len(buf) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events delete: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":     path,
			"exported": len(events),
			"deleted":  deleted,
			"before":   before.Format(time.RFC3339),
		}); err != nil {
			return deleted, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}
	return deleted, nil
}

//	archive/events/2026-01/1-4096.jsonl
func archivePath(before time.Time, first, last int64) string {
	return fmt.Sprintf("archive/events/%s/%d-%d.jsonl", before.UTC().Format("2006-01"), first, last)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
