package elastic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// matchAllQuery is the scan body. Sorting on _doc is the cheapest scroll order.
var matchAllQuery = []byte(`{"query":{"match_all":{}},"sort":["_doc"]}`)

// response is the subset of esapi.Response / opensearchapi.Response the adapter uses.
type response struct {
	StatusCode int
	Body       io.ReadCloser
}

func (r *response) IsError() bool {
	return r.StatusCode > 299
}

func (r *response) Close() {
	if r != nil && r.Body != nil {
		r.Body.Close()
	}
}

type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// readError decodes an error response. The raw body is kept as reason when it is
// not the usual {"error":{...}} shape.
func readError(res *response) (string, string) {
	var raw []byte
	if res.Body != nil {
		raw, _ = io.ReadAll(res.Body)
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Type != "" {
		return body.Error.Type, body.Error.Reason
	}
	return "", strings.TrimSpace(string(raw))
}

func responseError(op string, res *response) error {
	errType, reason := readError(res)
	if errType != "" {
		return fmt.Errorf("%s: [%d] %s: %s", op, res.StatusCode, errType, reason)
	}
	if reason != "" {
		return fmt.Errorf("%s: [%d] %s", op, res.StatusCode, reason)
	}
	return fmt.Errorf("%s: [%d %s]", op, res.StatusCode, http.StatusText(res.StatusCode))
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// decodeSearch reads a search or scroll page. Numbers are kept as json.Number so
// large integers survive the round trip to the destination.
func decodeSearch(r io.Reader) (string, []models.Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var page searchResponse
	if err := dec.Decode(&page); err != nil {
		return "", nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]models.Document, 0, len(page.Hits.Hits))
	for _, hit := range page.Hits.Hits {
		source := hit.Source
		if source == nil {
			source = map[string]interface{}{}
		}
		docs = append(docs, models.Document{ID: hit.ID, Source: source})
	}
	return page.ScrollID, docs, nil
}

// scanError maps a failed search response, turning a missing index into
// backend.ErrIndexNotFound.
func scanError(index string, res *response) error {
	errType, reason := readError(res)
	if res.StatusCode == http.StatusNotFound || errType == "index_not_found_exception" {
		return fmt.Errorf("failed to scan %s: %w: %s", index, backend.ErrIndexNotFound, reason)
	}
	if errType != "" {
		return fmt.Errorf("failed to scan %s: [%d] %s: %s", index, res.StatusCode, errType, reason)
	}
	return fmt.Errorf("failed to scan %s: [%d] %s", index, res.StatusCode, reason)
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// encodeBulk renders actions as an NDJSON bulk body of "index" operations.
func encodeBulk(actions []models.Action) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		meta := map[string]bulkMeta{"index": {Index: a.Index, ID: a.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action for %s: %w", a.ID, err)
		}
		if err := enc.Encode(a.Source); err != nil {
			return nil, fmt.Errorf("failed to encode document %s: %w", a.ID, err)
		}
	}
	return &buf, nil
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// decodeBulk builds the report of a bulk call. Items are positional; the action
// identifier is used when the service omits _id.
func decodeBulk(actions []models.Action, r io.Reader) (models.BulkReport, error) {
	report := models.BulkReport{Attempted: len(actions)}

	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return report, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !resp.Errors {
		return report, nil
	}

	for i, entry := range resp.Items {
		for _, item := range entry {
			if item.Error == nil && item.Status < 300 {
				continue
			}
			id := item.ID
			if id == "" && i < len(actions) {
				id = actions[i].ID
			}
			failure := models.ItemFailure{ID: id, Status: item.Status}
			if item.Error != nil {
				failure.Reason = item.Error.Type + ": " + item.Error.Reason
			} else {
				failure.Reason = http.StatusText(item.Status)
			}
			report.Failures = append(report.Failures, failure)
		}
	}
	return report, nil
}
