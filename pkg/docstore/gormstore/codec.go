package gormstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"reflection-chat-be/pkg/docstore"

	"gorm.io/datatypes"
)

const timeKey = "$time"

func encodeFields(data docstore.Fields) (datatypes.JSON, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case time.Time:
			out[k] = map[string]string{timeKey: val.UTC().Format(time.RFC3339Nano)}
		case nil, string, bool, int, int32, int64, uint64, float32, float64:
			out[k] = val
		default:
			if docstore.IsServerTimestamp(v) {
				return nil, fmt.Errorf("field %q: unresolved server timestamp", k)
			}
			return nil, fmt.Errorf("field %q: unsupported value type %T", k, v)
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeFields(raw datatypes.JSON) (docstore.Fields, error) {
	var in map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	out := make(docstore.Fields, len(in))
	for k, v := range in {
		val, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case map[string]any:
		s, ok := val[timeKey].(string)
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("unsupported nested object")
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return val, nil
	}
}
