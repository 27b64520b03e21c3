package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type fakeWriter struct {
	objects   map[string][]byte
	multipart []string
	err       error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart = append(w.multipart, path)
	return w.Put(ctx, path, data, jsonlContentType)
}

type fakeEvents struct {
	rows    []domain.StoredEvent
	deletes int
}

func (s *fakeEvents) ListBefore(_ context.Context, before time.Time) ([]domain.StoredEvent, error) {
	var out []domain.StoredEvent
	for _, r := range s.rows {
		if r.At.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeEvents) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deletes++
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if r.At.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

type fakeAudit struct{ events []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func seedEvents(base time.Time) *fakeEvents {
	s := &fakeEvents{}
	for i := int64(1); i <= 5; i++ {
		s.rows = append(s.rows, domain.StoredEvent{
			Seq:     i,
			TxID:    "tx",
			Kind:    domain.KindItemListed,
			Payload: json.RawMessage(`{"seller":"0x01"}`),
			At:      base.Add(time.Duration(i) * time.Hour),
		})
	}
	return s
}

func TestArchiveEventsUploadsThenDeletes(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := seedEvents(base)
	w := &fakeWriter{objects: map[string][]byte{}}
	audit := &fakeAudit{}

	a := NewEventArchiver(w, store, audit)
	n, err := a.ArchiveEvents(context.Background(), base.Add(3*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	body, ok := w.objects["archive/events/2026-01/1-3.jsonl"]
	require.True(t, ok, "objects: %v", w.objects)

	var seqs []int64
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var ev domain.StoredEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
	assert.Len(t, store.rows, 2)
	assert.Equal(t, []string{"archive.events"}, audit.events)
	assert.Empty(t, w.multipart)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := seedEvents(base)
	w := &fakeWriter{objects: map[string][]byte{}}

	n, err := NewEventArchiver(w, store, nil).ArchiveEvents(context.Background(), base)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Zero(t, store.deletes)
}

func TestArchiveEventsKeepsRowsWhenUploadFails(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := seedEvents(base)
	w := &fakeWriter{objects: map[string][]byte{}, err: errors.New("bucket gone")}

	_, err := NewEventArchiver(w, store, nil).ArchiveEvents(context.Background(), base.Add(24*time.Hour))
	require.Error(t, err)
	assert.Len(t, store.rows, 5)
	assert.Zero(t, store.deletes)
}

func TestArchiveEventsLargeBatchUsesMultipart(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := seedEvents(base)
	w := &fakeWriter{objects: map[string][]byte{}}

	a := NewEventArchiver(w, store, nil)
	a.threshold = 10
	_, err := a.ArchiveEvents(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/events/2026-01/1-5.jsonl"}, w.multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
