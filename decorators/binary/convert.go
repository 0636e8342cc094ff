package binary

import (
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/gabriel-vasile/mimetype"
)

// Mode is the string representation of binary values.
type Mode string

const (
	ModeHex     Mode = "hex"
	ModeDataURI Mode = "datauri"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeHex || m == ModeDataURI
}

// ToFrontend converts the buffers held by value into strings, following the
// shape of columnType. Values that are not buffers are returned as is.
func ToFrontend(value any, columnType schema.ColumnType, mode Mode) any {
	switch ct := columnType.(type) {
	case schema.PrimitiveType:
		buf, ok := value.([]byte)
		if ct != schema.TypeBinary || !ok {
			return value
		}
		if mode == ModeHex {
			return hex.EncodeToString(buf)
		}
		mime := strings.ReplaceAll(mimetype.Detect(buf).String(), " ", "")
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf)
	case schema.ArrayType:
		items, ok := value.([]any)
		if !ok {
			return value
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = ToFrontend(item, ct.Element, mode)
		}
		return out
	case schema.StructType:
		obj, ok := value.(map[string]any)
		if !ok {
			return value
		}
		out := make(map[string]any, len(obj))
		for key, sub := range obj {
			if subType, known := ct[key]; known {
				sub = ToFrontend(sub, subType, mode)
			}
			out[key] = sub
		}
		return out
	default:
		return value
	}
}

// ToBackend converts the strings held by value into buffers, following the
// shape of columnType. Data URIs are decoded with the media type they carry.
func ToBackend(value any, columnType schema.ColumnType, mode Mode) (any, error) {
	switch ct := columnType.(type) {
	case schema.PrimitiveType:
		str, ok := value.(string)
		if ct != schema.TypeBinary || !ok {
			return value, nil
		}
		if mode == ModeHex {
			buf, err := hex.DecodeString(str)
			if err != nil {
				return nil, persistence.NewValidationError("Invalid hexadecimal value: %v", err)
			}
			return buf, nil
		}
		return decodeDataURI(str)
	case schema.ArrayType:
		items, ok := value.([]any)
		if !ok {
			return value, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			converted, err := ToBackend(item, ct.Element, mode)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case schema.StructType:
		obj, ok := value.(map[string]any)
		if !ok {
			return value, nil
		}
		out := make(map[string]any, len(obj))
		for key, sub := range obj {
			if subType, known := ct[key]; known {
				converted, err := ToBackend(sub, subType, mode)
				if err != nil {
					return nil, err
				}
				sub = converted
			}
			out[key] = sub
		}
		return out, nil
	default:
		return value, nil
	}
}

func decodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, persistence.NewValidationError("Invalid data URI: missing 'data:' prefix")
	}
	header, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, persistence.NewValidationError("Invalid data URI: missing ','")
	}

	if strings.HasSuffix(header, ";base64") {
		buf, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, persistence.NewValidationError("Invalid data URI: %v", err)
		}
		return buf, nil
	}

	unescaped, err := url.PathUnescape(data)
	if err != nil {
		return nil, persistence.NewValidationError("Invalid data URI: %v", err)
	}
	return []byte(unescaped), nil
}

func containsBinary(t schema.ColumnType) bool {
	found := false
	schema.MapColumnType(t, func(p schema.PrimitiveType) schema.ColumnType {
		if p == schema.TypeBinary {
			found = true
		}
		return p
	})
	return found
}

func replaceBinary(t schema.ColumnType) schema.ColumnType {
	return schema.MapColumnType(t, func(p schema.PrimitiveType) schema.ColumnType {
		if p == schema.TypeBinary {
			return schema.TypeString
		}
		return p
	})
}
