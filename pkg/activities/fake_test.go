package activities

import (
	"context"
	"fmt"
	"sync"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// fakeBackend is an in-memory backend recording every call.
type fakeBackend struct {
	mu sync.Mutex

	indexes map[string][]models.Document
	events  *[]string

	pageSize int
	// failPage makes the fetch of that page (1-based) fail.
	failPage int
	// reject lists identifiers rejected by Bulk, with the reason.
	reject map[string]string

	existsErr error
	createErr error
	scanErr   error
	bulkErr   error

	creates   []string
	bulkCalls [][]models.Action
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		indexes:  make(map[string][]models.Document),
		events:   &[]string{},
		pageSize: 2,
	}
}

func (f *fakeBackend) record(event string) {
	*f.events = append(*f.events, event)
}

func (f *fakeBackend) seed(index string, docs ...models.Document) {
	f.indexes[index] = append(f.indexes[index], docs...)
}

func (f *fakeBackend) Name() string {
	return "fake"
}

func (f *fakeBackend) IndexExists(ctx context.Context, index string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.indexes[index]
	return ok, nil
}

func (f *fakeBackend) CreateIndex(ctx context.Context, index string, mapping models.Mapping) error {
	f.creates = append(f.creates, index)
	if f.createErr != nil {
		return f.createErr
	}
	f.indexes[index] = nil
	return nil
}

func (f *fakeBackend) Scan(ctx context.Context, index string) (backend.Cursor, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	docs, ok := f.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrIndexNotFound, index)
	}

	snapshot := append([]models.Document(nil), docs...)
	page := 0
	fetch := func(ctx context.Context) ([]models.Document, error) {
		page++
		f.record("page")
		if page == f.failPage {
			return nil, fmt.Errorf("scroll expired")
		}
		lo := (page - 1) * f.pageSize
		if lo >= len(snapshot) {
			return nil, nil
		}
		hi := lo + f.pageSize
		if hi > len(snapshot) {
			hi = len(snapshot)
		}
		return snapshot[lo:hi], nil
	}

	first, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	return backend.NewPagedCursor(first, fetch, func(ctx context.Context) error {
		f.record("close")
		return nil
	}), nil
}

func (f *fakeBackend) Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("bulk")
	f.bulkCalls = append(f.bulkCalls, append([]models.Action(nil), actions...))
	if f.bulkErr != nil {
		return models.BulkReport{}, f.bulkErr
	}

	report := models.BulkReport{Attempted: len(actions)}
	for _, a := range actions {
		if reason, ok := f.reject[a.ID]; ok {
			report.Failures = append(report.Failures, models.ItemFailure{ID: a.ID, Status: 400, Reason: reason})
			continue
		}
		f.upsert(a)
	}
	return report, nil
}

func (f *fakeBackend) upsert(a models.Action) {
	docs := f.indexes[a.Index]
	for i, d := range docs {
		if d.ID == a.ID {
			docs[i] = models.Document{ID: a.ID, Source: a.Source}
			return
		}
	}
	f.indexes[a.Index] = append(docs, models.Document{ID: a.ID, Source: a.Source})
}

func (f *fakeBackend) Close(ctx context.Context) error {
	return nil
}

// batchIDs returns the identifiers of every bulk call.
func (f *fakeBackend) batchIDs() [][]string {
	var out [][]string
	for _, call := range f.bulkCalls {
		ids := make([]string, 0, len(call))
		for _, a := range call {
			ids = append(ids, a.ID)
		}
		out = append(out, ids)
	}
	return out
}

func docs(n int) []models.Document {
	out := make([]models.Document, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.Document{
			ID:     fmt.Sprint(i),
			Source: map[string]interface{}{"n": i},
		})
	}
	return out
}
