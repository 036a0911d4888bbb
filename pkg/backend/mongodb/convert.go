package mongodb

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mouradhm/index-transfert/pkg/models"
)

// toDocument turns a decoded collection document into a models.Document. The
// _id becomes the identifier and is removed from the body.
func toDocument(raw bson.M) models.Document {
	id := idString(raw["_id"])

	source := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		source[k] = normalize(v)
	}
	return models.Document{ID: id, Source: source}
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(normalize(id))
	}
}

// normalize converts BSON-specific values into plain JSON-compatible ones.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		return normalizeMap(val)
	case map[string]interface{}:
		return normalizeMap(val)
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(val)
	case []interface{}:
		return normalizeSlice(val)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.Decimal128:
		return json.Number(val.String())
	case primitive.Binary:
		return val.Data
	case primitive.Regex:
		return val.Pattern
	default:
		return v
	}
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalizeSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = normalize(v)
	}
	return out
}

// indexModels builds index models from the "indexes" entry of a mapping. Each
// entry has a "key" and optional name, unique, sparse, expireAfterSeconds and
// partialFilterExpression. Compound keys must be given as a list of
// single-field objects since JSON objects do not keep key order.
func indexModels(raw interface{}) ([]mongo.IndexModel, error) {
	if raw == nil {
		return nil, nil
	}
	specs, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("indexes must be a list")
	}

	indexes := make([]mongo.IndexModel, 0, len(specs))
	for i, s := range specs {
		spec, ok := s.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("index %d: invalid index format", i)
		}

		keys, err := indexKeys(spec["key"])
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}

		opts := options.Index()
		if name, ok := spec["name"].(string); ok {
			// the _id_ index is created automatically
			if name == "_id_" {
				continue
			}
			opts.SetName(name)
		}
		if unique, ok := spec["unique"].(bool); ok {
			opts.SetUnique(unique)
		}
		if sparse, ok := spec["sparse"].(bool); ok {
			opts.SetSparse(sparse)
		}
		if v, ok := spec["expireAfterSeconds"]; ok {
			seconds, ok := integer(v)
			if !ok {
				return nil, fmt.Errorf("index %d: invalid expireAfterSeconds %v", i, v)
			}
			opts.SetExpireAfterSeconds(int32(seconds))
		}
		if partialFilterExpression, ok := spec["partialFilterExpression"]; ok {
			opts.SetPartialFilterExpression(partialFilterExpression)
		}

		indexes = append(indexes, mongo.IndexModel{
			Keys:    keys,
			Options: opts,
		})
	}
	return indexes, nil
}

// indexKeys accepts {"field": 1} or [{"a": 1}, {"b": -1}].
func indexKeys(raw interface{}) (bson.D, error) {
	var parts []map[string]interface{}
	switch k := raw.(type) {
	case map[string]interface{}:
		if len(k) != 1 {
			return nil, fmt.Errorf("compound index key must be a list of single-field objects")
		}
		parts = append(parts, k)
	case []interface{}:
		for _, p := range k {
			m, ok := p.(map[string]interface{})
			if !ok || len(m) != 1 {
				return nil, fmt.Errorf("invalid index key format")
			}
			parts = append(parts, m)
		}
	default:
		return nil, fmt.Errorf("invalid index key format")
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("index key required")
	}

	keyD := bson.D{}
	for _, p := range parts {
		for field, dir := range p {
			keyD = append(keyD, bson.E{Key: field, Value: direction(dir)})
		}
	}
	return keyD, nil
}

// direction keeps "text", "2dsphere" and friends as is and turns JSON numbers
// into the int32 the server expects.
func direction(v interface{}) interface{} {
	if n, ok := integer(v); ok {
		return int32(n)
	}
	return v
}

func integer(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
