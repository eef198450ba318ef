package avro

import (
	"fmt"
	"math/big"
	"reflect"

	havro "github.com/hamba/avro/v2"
)

// defaultValue reshapes a field default, as decoded by hamba/avro, into the
// same native form coerce produces. A union default belongs to its first branch.
func defaultValue(path string, s havro.Schema, v any) (any, error) {
	switch s.Type() {
	case havro.Ref:
		return defaultValue(path, s.(*havro.RefSchema).Schema(), v)
	case havro.Null:
		return nil, nil
	case havro.Union:
		first := s.(*havro.UnionSchema).Types()[0]
		if first.Type() == havro.Null {
			return nil, nil
		}
		dv, err := defaultValue(path, first, v)
		if err != nil {
			return nil, err
		}
		return map[string]any{branchName(first): dv}, nil
	case havro.Record, havro.Error:
		obj, _ := v.(map[string]any)
		rs := s.(*havro.RecordSchema)
		out := make(map[string]any, len(rs.Fields()))
		for _, f := range rs.Fields() {
			raw, ok := obj[f.Name()]
			switch {
			case ok:
				dv, err := defaultValue(path+"."+f.Name(), f.Type(), raw)
				if err != nil {
					return nil, err
				}
				out[f.Name()] = dv
			case f.HasDefault():
				dv, err := defaultValue(path+"."+f.Name(), f.Type(), f.Default())
				if err != nil {
					return nil, err
				}
				out[f.Name()] = dv
			default:
				return nil, mismatch(path+"."+f.Name(), f.Type(), "default omits field %q", f.Name())
			}
		}
		return out, nil
	case havro.Array:
		items, _ := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			dv, err := defaultValue(path, s.(*havro.ArraySchema).Items(), item)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case havro.Map:
		obj, _ := v.(map[string]any)
		out := make(map[string]any, len(obj))
		for k, item := range obj {
			dv, err := defaultValue(path+"."+k, s.(*havro.MapSchema).Values(), item)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case havro.Fixed:
		b, ok := asBytes(v)
		if !ok || len(b) != s.(*havro.FixedSchema).Size() {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return fixedBytes(b), nil
	case havro.Bytes:
		if r, ok := v.(*big.Rat); ok {
			return r, nil
		}
		b, ok := asBytes(v)
		if !ok {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return b, nil
	case havro.Int:
		n, ok := asInt64(v)
		if !ok {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return int32(n), nil
	case havro.Long:
		n, ok := asInt64(v)
		if !ok {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return n, nil
	case havro.Float:
		f, ok := asFloat64(v)
		if !ok {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return float32(f), nil
	case havro.Double:
		f, ok := asFloat64(v)
		if !ok {
			return nil, mismatch(path, s, "invalid default %v", v)
		}
		return f, nil
	case havro.Boolean, havro.String, havro.Enum:
		return v, nil
	}
	return nil, fmt.Errorf("avro: %s: unsupported default for %s", path, s.Type())
}

// asBytes accepts the shapes hamba/avro decodes byte defaults into: a string,
// a []byte, or a [N]byte for fixed types.
func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	out := make([]byte, rv.Len())
	reflect.Copy(reflect.ValueOf(out), rv)
	return out, true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
