package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

const testAddress = "http://localhost:9200"

var productHeader = http.Header{"X-Elastic-Product": []string{"Elasticsearch"}}

// esResponder answers like an Elasticsearch node, product header included.
func esResponder(status int, body string) httpmock.Responder {
	return httpmock.NewStringResponder(status, body).HeaderSet(productHeader)
}

func esResponse(status int, body string) *http.Response {
	res := httpmock.NewStringResponse(status, body)
	res.Header = productHeader.Clone()
	res.Header.Set("Content-Type", "application/json")
	return res
}

func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	cfg.Addresses = []string{testAddress}
	cfg.Transport = mt
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = -1
	}

	a, err := NewElasticsearch(cfg)
	require.NoError(t, err)
	return a, mt
}

func TestNewElasticsearch_RequiresAddress(t *testing.T) {
	_, err := NewElasticsearch(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address required")

	_, err = NewOpenSearch(Config{Addresses: []string{""}})
	require.Error(t, err)
}

func TestAdapter_IndexExists(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{name: "exists", status: http.StatusOK, want: true},
		{name: "missing", status: http.StatusNotFound, want: false},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mt := newTestAdapter(t, Config{})
			mt.RegisterResponder(http.MethodHead, testAddress+"/dst", esResponder(tt.status, ""))

			got, err := a.IndexExists(context.Background(), "dst")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapter_CreateIndex(t *testing.T) {
	mapping := models.Mapping{
		"settings": map[string]interface{}{"number_of_shards": float64(1)},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"title": map[string]interface{}{"type": "text"},
			},
		},
	}

	t.Run("sends mapping verbatim", func(t *testing.T) {
		a, mt := newTestAdapter(t, Config{})
		var got models.Mapping
		mt.RegisterResponder(http.MethodPut, testAddress+"/dst", func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return esResponse(http.StatusOK, `{"acknowledged":true,"index":"dst"}`), nil
		})

		require.NoError(t, a.CreateIndex(context.Background(), "dst", mapping))
		assert.Equal(t, mapping, got)
	})

	t.Run("already exists", func(t *testing.T) {
		a, mt := newTestAdapter(t, Config{})
		mt.RegisterResponder(http.MethodPut, testAddress+"/dst", esResponder(http.StatusBadRequest,
			`{"error":{"type":"resource_already_exists_exception","reason":"index [dst] already exists"},"status":400}`))

		assert.NoError(t, a.CreateIndex(context.Background(), "dst", mapping))
	})

	t.Run("malformed mapping", func(t *testing.T) {
		a, mt := newTestAdapter(t, Config{})
		mt.RegisterResponder(http.MethodPut, testAddress+"/dst", esResponder(http.StatusBadRequest,
			`{"error":{"type":"mapper_parsing_exception","reason":"unknown field type [txt]"},"status":400}`))

		err := a.CreateIndex(context.Background(), "dst", mapping)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mapper_parsing_exception")
		assert.Contains(t, err.Error(), "unknown field type [txt]")
	})
}

// scrollServer serves a fixed list of pages through the search and scroll endpoints.
type scrollServer struct {
	mu        sync.Mutex
	pages     []string
	served    int
	scrollIDs []string
	cleared   []string
}

func (s *scrollServer) page(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.Contains(req.URL.Path, "/_search/scroll") {
		id := req.URL.Query().Get("scroll_id")
		if id == "" && req.Body != nil {
			var body struct {
				ScrollID string `json:"scroll_id"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			id = body.ScrollID
		}
		s.scrollIDs = append(s.scrollIDs, id)
	}

	body := `{"_scroll_id":"done","hits":{"hits":[]}}`
	if s.served < len(s.pages) {
		body = s.pages[s.served]
	}
	s.served++
	return esResponse(http.StatusOK, body), nil
}

func (s *scrollServer) clear(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the scroll id travels in the path or in the body depending on the client
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	s.cleared = append(s.cleared, req.URL.String()+" "+string(body))
	return esResponse(http.StatusOK, `{"succeeded":true,"num_freed":1}`), nil
}

func (s *scrollServer) register(mt *httpmock.MockTransport, index string) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		mt.RegisterResponder(method, testAddress+"/"+index+"/_search", s.page)
		mt.RegisterResponder(method, testAddress+"/_search/scroll", s.page)
	}
	mt.RegisterRegexpResponder(http.MethodDelete, regexp.MustCompile(`/_search/scroll`), s.clear)
}

func TestAdapter_Scan(t *testing.T) {
	a, mt := newTestAdapter(t, Config{PageSize: 2, KeepAlive: time.Minute})
	srv := &scrollServer{pages: []string{
		`{"_scroll_id":"s1","hits":{"hits":[
			{"_id":"1","_source":{"a":"x"}},
			{"_id":"2","_source":{"b":"y","n":12345678901234567890}}]}}`,
		`{"_scroll_id":"s2","hits":{"hits":[{"_id":"3","_source":{"c":"z"}}]}}`,
		`{"_scroll_id":"s3","hits":{"hits":[]}}`,
	}}
	srv.register(mt, "src")

	ctx := context.Background()
	cur, err := a.Scan(ctx, "src")
	require.NoError(t, err)

	var got []models.Document
	for cur.Next(ctx) {
		got = append(got, cur.Document())
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))

	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, map[string]interface{}{"a": "x"}, got[0].Source)
	assert.Equal(t, json.Number("12345678901234567890"), got[1].Source["n"])
	assert.Equal(t, "3", got[2].ID)

	assert.Equal(t, 3, srv.served)
	assert.Equal(t, []string{"s1", "s2"}, srv.scrollIDs)
	require.Len(t, srv.cleared, 1)
	assert.Contains(t, srv.cleared[0], "s3")
}

func TestAdapter_Scan_EmptyIndex(t *testing.T) {
	a, mt := newTestAdapter(t, Config{})
	srv := &scrollServer{pages: []string{`{"_scroll_id":"s1","hits":{"hits":[]}}`}}
	srv.register(mt, "src")

	ctx := context.Background()
	cur, err := a.Scan(ctx, "src")
	require.NoError(t, err)

	assert.False(t, cur.Next(ctx))
	assert.NoError(t, cur.Err())
	assert.NoError(t, cur.Close(ctx))
	assert.Equal(t, 2, srv.served, "initial search plus one scroll")
}

func TestAdapter_Scan_MissingIndex(t *testing.T) {
	a, mt := newTestAdapter(t, Config{})
	missing := esResponder(http.StatusNotFound,
		`{"error":{"type":"index_not_found_exception","reason":"no such index [src]"},"status":404}`)
	mt.RegisterResponder(http.MethodPost, testAddress+"/src/_search", missing)
	mt.RegisterResponder(http.MethodGet, testAddress+"/src/_search", missing)

	_, err := a.Scan(context.Background(), "src")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrIndexNotFound)
	assert.Contains(t, err.Error(), "no such index [src]")
}

func readBulkBody(t *testing.T, r io.Reader) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAdapter_Bulk(t *testing.T) {
	a, mt := newTestAdapter(t, Config{})
	var lines []map[string]interface{}
	mt.RegisterResponder(http.MethodPost, testAddress+"/_bulk", func(req *http.Request) (*http.Response, error) {
		lines = readBulkBody(t, req.Body)
		return esResponse(http.StatusOK, `{"took":3,"errors":true,"items":[
			{"index":{"_index":"dst","_id":"1","status":201,"result":"created"}},
			{"index":{"_index":"dst","_id":"2","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [b]"}}}
		]}`), nil
	})

	actions := []models.Action{
		models.NewAction("dst", models.Document{ID: "1", Source: map[string]interface{}{"a": "x"}}),
		models.NewAction("dst", models.Document{ID: "2", Source: map[string]interface{}{"b": "y"}}),
	}
	report, err := a.Bulk(context.Background(), actions)
	require.NoError(t, err)

	assert.Equal(t, []map[string]interface{}{
		{"index": map[string]interface{}{"_index": "dst", "_id": "1"}},
		{"a": "x", "id": "1"},
		{"index": map[string]interface{}{"_index": "dst", "_id": "2"}},
		{"b": "y", "id": "2"},
	}, lines)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Succeeded())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, models.ItemFailure{
		ID:     "2",
		Status: 400,
		Reason: "mapper_parsing_exception: failed to parse field [b]",
	}, report.Failures[0])
}

func TestAdapter_Bulk_Rejected(t *testing.T) {
	a, mt := newTestAdapter(t, Config{})
	mt.RegisterResponder(http.MethodPost, testAddress+"/_bulk", esResponder(http.StatusRequestEntityTooLarge, ""))

	_, err := a.Bulk(context.Background(), []models.Action{{Index: "dst", ID: "1", Source: map[string]interface{}{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "413")
}

func TestAdapter_Bulk_Empty(t *testing.T) {
	a, mt := newTestAdapter(t, Config{})

	report, err := a.Bulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestAdapter_RetriesTransientStatus(t *testing.T) {
	a, mt := newTestAdapter(t, Config{MaxRetries: 2})
	calls := 0
	mt.RegisterResponder(http.MethodHead, testAddress+"/dst", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return esResponse(http.StatusServiceUnavailable, ""), nil
		}
		return esResponse(http.StatusOK, ""), nil
	})

	exists, err := a.IndexExists(context.Background(), "dst")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 2, calls)
}

func TestConfig_TransportRetries(t *testing.T) {
	tests := []struct {
		maxRetries  int
		wantRetries int
		wantDisable bool
	}{
		{maxRetries: -1, wantRetries: 1, wantDisable: true},
		{maxRetries: 1, wantRetries: 1},
		{maxRetries: 5, wantRetries: 5},
	}

	for _, tt := range tests {
		retries, disable := Config{MaxRetries: tt.maxRetries}.transportRetries()
		assert.Equal(t, tt.wantRetries, retries, "max retries %d", tt.maxRetries)
		assert.Equal(t, tt.wantDisable, disable, "max retries %d", tt.maxRetries)
	}
}

func TestAdapter_RetriesDisabled(t *testing.T) {
	newOpenSearch := func(t *testing.T, mt *httpmock.MockTransport) (*Adapter, error) {
		mt.RegisterResponder(http.MethodGet, testAddress+"/", httpmock.NewStringResponder(http.StatusOK,
			`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
		return NewOpenSearch(Config{Addresses: []string{testAddress}, Transport: mt, MaxRetries: -1})
	}
	newElasticsearch := func(t *testing.T, mt *httpmock.MockTransport) (*Adapter, error) {
		return NewElasticsearch(Config{Addresses: []string{testAddress}, Transport: mt, MaxRetries: -1})
	}

	for name, newClient := range map[string]func(*testing.T, *httpmock.MockTransport) (*Adapter, error){
		"elasticsearch": newElasticsearch,
		"opensearch":    newOpenSearch,
	} {
		t.Run(name, func(t *testing.T) {
			mt := httpmock.NewMockTransport()
			calls := 0
			mt.RegisterResponder(http.MethodHead, testAddress+"/dst", func(req *http.Request) (*http.Response, error) {
				calls++
				return esResponse(http.StatusServiceUnavailable, ""), nil
			})

			a, err := newClient(t, mt)
			require.NoError(t, err)

			assert.NotPanics(t, func() {
				_, err = a.IndexExists(context.Background(), "dst")
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestAdapter_BasicAuth(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantAuth bool
	}{
		{name: "authenticated", username: "elastic", password: "changeme", wantAuth: true},
		{name: "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mt := newTestAdapter(t, Config{Username: tt.username, Password: tt.password})
			mt.RegisterResponder(http.MethodHead, testAddress+"/dst", func(req *http.Request) (*http.Response, error) {
				user, pass, ok := req.BasicAuth()
				assert.Equal(t, tt.wantAuth, ok)
				if tt.wantAuth {
					assert.Equal(t, tt.username, user)
					assert.Equal(t, tt.password, pass)
				}
				return esResponse(http.StatusOK, ""), nil
			})

			_, err := a.IndexExists(context.Background(), "dst")
			require.NoError(t, err)
		})
	}
}

func TestOpenSearch(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, testAddress+"/", httpmock.NewStringResponder(http.StatusOK,
		`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	mt.RegisterResponder(http.MethodHead, testAddress+"/dst", httpmock.NewStringResponder(http.StatusNotFound, ""))
	mt.RegisterResponder(http.MethodPost, testAddress+"/_bulk", httpmock.NewStringResponder(http.StatusOK,
		`{"took":1,"errors":false,"items":[{"index":{"_id":"1","status":201}}]}`))

	a, err := NewOpenSearch(Config{
		Addresses:  []string{testAddress},
		Transport:  mt,
		MaxRetries: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.KindOpenSearch, a.Name())

	ctx := context.Background()
	exists, err := a.IndexExists(ctx, "dst")
	require.NoError(t, err)
	assert.False(t, exists)

	report, err := a.Bulk(ctx, []models.Action{{Index: "dst", ID: "1", Source: map[string]interface{}{"id": "1"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Empty(t, report.Failures)
}
