package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]*store.Entity
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{entities: make(map[string]*store.Entity)}
}

func (f *fakeEntityStore) CreateEntity(_ context.Context, e *store.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[e.ID] = e
	return nil
}

func (f *fakeEntityStore) UpdateEntity(_ context.Context, orgID, kind, id string, data json.RawMessage) (*store.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok || e.OrgID != orgID || e.Kind != kind {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
	}

	var existing, patch map[string]any
	_ = json.Unmarshal(e.Data, &existing)
	_ = json.Unmarshal(data, &patch)
	for k, v := range patch {
		existing[k] = v
	}
	merged, _ := json.Marshal(existing)
	e.Data = merged
	return e, nil
}

func TestEntityServiceCreateAndUpdate(t *testing.T) {
	fs := newFakeEntityStore()
	svc := NewStoreEntityService(fs)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "org-1", "task", map[string]any{"title": "triage inbox", "status": "open"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, "task", rec.Kind)

	updated, err := svc.Update(ctx, "org-1", "task", rec.ID, map[string]any{"status": "done"})
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal(updated.Data, &data))
	assert.Equal(t, "triage inbox", data["title"])
	assert.Equal(t, "done", data["status"])
}

func TestEntityServiceUpdateMissingRecord(t *testing.T) {
	svc := NewStoreEntityService(newFakeEntityStore())

	_, err := svc.Update(context.Background(), "org-1", "task", "nope", map[string]any{"status": "done"})
	require.Error(t, err)
	var cvErr *schema.ConveyorError
	require.ErrorAs(t, err, &cvErr)
	assert.Equal(t, schema.ErrCodeNotFound, cvErr.Code)
}

func TestLogSinkDeliverAndCreateChannel(t *testing.T) {
	sink := NewLogSink(nil)
	ctx := context.Background()

	require.NoError(t, sink.Deliver(ctx, "org-1", executors.Message{
		Kind: "email", To: "a@b.c", Body: "hello",
	}))

	id, err := sink.CreateChannel(ctx, "org-1", "incident-42", []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Contains(t, id, "ch-")
}

func TestHTTPGeneratorRoundTrip(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "a concise summary"})
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(GeneratorConfig{Endpoint: srv.URL, APIKey: "sekrit", Model: "small"})
	text, err := gen.Generate(context.Background(), "summarize this", map[string]any{"temperature": 0.2})
	require.NoError(t, err)
	assert.Equal(t, "a concise summary", text)
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "summarize this", gotBody["prompt"])
	assert.Equal(t, "small", gotBody["model"])
}

func TestHTTPGeneratorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(GeneratorConfig{Endpoint: srv.URL})
	_, err := gen.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	var cvErr *schema.ConveyorError
	require.ErrorAs(t, err, &cvErr)
	assert.Equal(t, schema.ErrCodeExecution, cvErr.Code)
}

func TestHTTPGeneratorRequiresEndpoint(t *testing.T) {
	gen := NewHTTPGenerator(GeneratorConfig{})
	_, err := gen.Generate(context.Background(), "p", nil)
	require.Error(t, err)
}
