package avro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	havro "github.com/hamba/avro/v2"
	jsoniter "github.com/json-iterator/go"
)

const (
	nullTypeName = "null"
	rootPath     = "$"

	// maxCachedSchemas bounds the parsed-schema cache; schemas past the bound
	// are parsed on every call.
	maxCachedSchemas = 1024
)

var (
	// ErrParse is returned when the JSON document or the schema is not well-formed.
	ErrParse = errors.New("avro: parse error")

	// ErrSchemaMismatch is returned when the document cannot be coerced to the schema.
	ErrSchemaMismatch = errors.New("avro: schema mismatch")

	// jsonNumbers keeps numbers as json.Number so int/long/float/double
	// coercion can see the literal.
	jsonNumbers = jsoniter.Config{
		EscapeHTML:             true,
		UseNumber:              true,
		ValidateJsonRawMessage: true,
	}.Froze()
)

// MismatchError describes where and why a document failed to match its schema.
type MismatchError struct {
	Path     string // JSON path of the offending value, rooted at "$"
	Expected string // Avro type expected at Path
	Reason   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("avro: %s: expected %s: %s", e.Path, e.Expected, e.Reason)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Record is a document converted against its schema. Native holds the value
// in the form hamba/avro marshals: records and maps as map[string]any, arrays
// as []any, union branches wrapped as map[branchName]value.
type Record struct {
	Schema     havro.Schema
	SchemaText string
	Native     any
}

type cachedSchema struct {
	text   string
	schema havro.Schema
}

// Converter turns JSON documents into Avro records. Parsed schemas are cached
// by their exact text. Safe for concurrent use.
type Converter struct {
	schemas sync.Map // uint64 -> *cachedSchema
	size    atomic.Int64
}

func NewConverter() *Converter {
	return &Converter{}
}

// Convert parses schemaText and coerces jsonText into a Record of that schema.
func (c *Converter) Convert(jsonText, schemaText string) (*Record, error) {
	schema, err := c.ParseSchema(schemaText)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := jsonNumbers.UnmarshalFromString(jsonText, &doc); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrParse, err)
	}

	native, err := coerce(rootPath, schema, doc)
	if err != nil {
		return nil, err
	}
	return &Record{Schema: schema, SchemaText: schemaText, Native: native}, nil
}

// ParseSchema returns the parsed form of text, from cache when possible.
func (c *Converter) ParseSchema(text string) (havro.Schema, error) {
	key := xxhash.Sum64String(text)
	if v, ok := c.schemas.Load(key); ok {
		if cs := v.(*cachedSchema); cs.text == text {
			return cs.schema, nil
		}
	}

	// A private cache keeps named types from one request out of the next.
	schema, err := havro.ParseWithCache(text, "", &havro.SchemaCache{})
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrParse, err)
	}

	if c.size.Load() < maxCachedSchemas {
		if _, loaded := c.schemas.LoadOrStore(key, &cachedSchema{text: text, schema: schema}); !loaded {
			c.size.Add(1)
		}
	}
	return schema, nil
}

func mismatch(path string, s havro.Schema, format string, args ...any) error {
	return &MismatchError{Path: path, Expected: typeName(s), Reason: fmt.Sprintf(format, args...)}
}

// coerce walks the schema and the JSON tree together.
func coerce(path string, s havro.Schema, v any) (any, error) {
	switch s.Type() {
	case havro.Ref:
		return coerce(path, s.(*havro.RefSchema).Schema(), v)
	case havro.Union:
		return coerceUnion(path, s.(*havro.UnionSchema), v)
	case havro.Null:
		if v != nil {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		return nil, nil
	case havro.Record, havro.Error:
		return coerceRecord(path, s.(*havro.RecordSchema), v)
	case havro.Array:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		itemSchema := s.(*havro.ArraySchema).Items()
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := coerce(path+"["+strconv.Itoa(i)+"]", itemSchema, item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case havro.Map:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		valueSchema := s.(*havro.MapSchema).Values()
		out := make(map[string]any, len(obj))
		for k, item := range obj {
			cv, err := coerce(path+"."+k, valueSchema, item)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case havro.Enum:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		for _, sym := range s.(*havro.EnumSchema).Symbols() {
			if sym == str {
				return str, nil
			}
		}
		return nil, mismatch(path, s, "symbol %q not in enum", str)
	case havro.Fixed:
		return coerceFixed(path, s.(*havro.FixedSchema), v)
	default:
		return coercePrimitive(path, s, v)
	}
}

func coerceRecord(path string, rs *havro.RecordSchema, v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, mismatch(path, rs, "got %s", jsonKind(v))
	}

	out := make(map[string]any, len(rs.Fields()))
	for _, f := range rs.Fields() {
		fieldPath := path + "." + f.Name()
		raw, present := obj[f.Name()]
		switch {
		case present:
			cv, err := coerce(fieldPath, f.Type(), raw)
			if err != nil {
				return nil, err
			}
			out[f.Name()] = cv
		case f.HasDefault():
			dv, err := defaultValue(fieldPath, f.Type(), f.Default())
			if err != nil {
				return nil, err
			}
			out[f.Name()] = dv
		default:
			return nil, mismatch(fieldPath, f.Type(), "missing required field %q", f.Name())
		}
	}
	return out, nil
}

// coerceUnion picks the first branch that admits v.
func coerceUnion(path string, u *havro.UnionSchema, v any) (any, error) {
	if v == nil {
		if _, pos := u.Types().Get(nullTypeName); pos >= 0 {
			return nil, nil
		}
		return nil, mismatch(path, u, "got null")
	}

	for _, branch := range u.Types() {
		if branch.Type() == havro.Null {
			continue
		}
		cv, err := coerce(path, branch, v)
		if err != nil {
			continue
		}
		return map[string]any{branchName(branch): cv}, nil
	}
	return nil, mismatch(path, u, "no branch admits %s", jsonKind(v))
}

func coerceFixed(path string, fs *havro.FixedSchema, v any) (any, error) {
	if ls := fs.Logical(); ls != nil && ls.Type() == havro.Decimal {
		return coerceDecimal(path, fs, ls, v)
	}

	str, ok := v.(string)
	if !ok {
		return nil, mismatch(path, fs, "got %s", jsonKind(v))
	}
	if len(str) != fs.Size() {
		return nil, mismatch(path, fs, "length %d, want %d", len(str), fs.Size())
	}
	return fixedBytes([]byte(str)), nil
}

// fixedBytes copies b into a [len(b)]byte, the Go shape hamba/avro expects for fixed.
func fixedBytes(b []byte) any {
	arr := reflect.New(reflect.ArrayOf(len(b), reflect.TypeOf(byte(0)))).Elem()
	reflect.Copy(arr, reflect.ValueOf(b))
	return arr.Interface()
}

func coercePrimitive(path string, s havro.Schema, v any) (any, error) {
	switch s.Type() {
	case havro.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		return b, nil

	case havro.Int:
		n, err := integral(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, mismatch(path, s, "%v", err)
		}
		return int32(n), nil

	case havro.Long:
		n, err := integral(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, mismatch(path, s, "%v", err)
		}
		return n, nil

	case havro.Float:
		f, err := floating(v)
		if err != nil {
			return nil, mismatch(path, s, "%v", err)
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, mismatch(path, s, "%v overflows float", f)
		}
		return float32(f), nil

	case havro.Double:
		f, err := floating(v)
		if err != nil {
			return nil, mismatch(path, s, "%v", err)
		}
		return f, nil

	case havro.String:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		return str, nil

	case havro.Bytes:
		if ps, ok := s.(*havro.PrimitiveSchema); ok {
			if ls := ps.Logical(); ls != nil && ls.Type() == havro.Decimal {
				return coerceDecimal(path, s, ls, v)
			}
		}
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, s, "got %s", jsonKind(v))
		}
		return []byte(str), nil
	}

	return nil, mismatch(path, s, "unsupported schema type %s", s.Type())
}

// coerceDecimal accepts a JSON number or numeric string and returns *big.Rat.
// Values with more fractional digits than the scale are rejected.
func coerceDecimal(path string, s havro.Schema, ls havro.LogicalSchema, v any) (any, error) {
	var text string
	switch n := v.(type) {
	case json.Number:
		text = n.String()
	case string:
		text = n
	case float64:
		text = strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return nil, mismatch(path, s, "got %s", jsonKind(v))
	}

	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, mismatch(path, s, "%q is not a decimal", text)
	}
	if dec, ok := ls.(*havro.DecimalLogicalSchema); ok {
		scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec.Scale())), nil)))
		if !scaled.IsInt() {
			return nil, mismatch(path, s, "%s exceeds scale %d", text, dec.Scale())
		}
	}
	return r, nil
}

func numberText(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64), true
	}
	return "", false
}

// integral parses an integer-valued JSON number within [lo, hi].
func integral(v any, lo, hi int64) (int64, error) {
	text, ok := numberText(v)
	if !ok {
		return 0, fmt.Errorf("got %s", jsonKind(v))
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		if n < lo || n > hi {
			return 0, fmt.Errorf("%d out of range", n)
		}
		return n, nil
	}

	// 7.0 and 1e3 are integral; 7.5 is not.
	f, _, err := big.ParseFloat(text, 10, 256, big.ToNearestEven)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	if !f.IsInt() {
		return 0, fmt.Errorf("%s is not integral", text)
	}
	n, acc := f.Int64()
	if acc != big.Exact || n < lo || n > hi {
		return 0, fmt.Errorf("%s out of range", text)
	}
	return n, nil
}

func floating(v any) (float64, error) {
	text, ok := numberText(v)
	if !ok {
		return 0, fmt.Errorf("got %s", jsonKind(v))
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%q out of range", text)
	}
	return f, nil
}

// branchName is the key hamba/avro uses to select a union branch: the full
// name for named types, "primitive.logicalType" for logical types.
func branchName(s havro.Schema) string {
	if ref, ok := s.(*havro.RefSchema); ok {
		return ref.Schema().FullName()
	}
	if ns, ok := s.(havro.NamedSchema); ok {
		return ns.FullName()
	}
	if lt, ok := s.(havro.LogicalTypeSchema); ok {
		if l := lt.Logical(); l != nil {
			return string(s.Type()) + "." + string(l.Type())
		}
	}
	return string(s.Type())
}

func typeName(s havro.Schema) string {
	if u, ok := s.(*havro.UnionSchema); ok {
		names := make([]string, 0, len(u.Types()))
		for _, t := range u.Types() {
			names = append(names, branchName(t))
		}
		return "union[" + strings.Join(names, ",") + "]"
	}
	return branchName(s)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return nullTypeName
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
