package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

// MetaValue is a closed variant: string, number, bool, null or a nested Metadata map.
type MetaValue struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Metadata
}

// Metadata is free-form chunk or document metadata.
type Metadata map[string]MetaValue

func Null() MetaValue             { return MetaValue{kind: KindNull} }
func String(s string) MetaValue   { return MetaValue{kind: KindString, str: s} }
func Number(n float64) MetaValue  { return MetaValue{kind: KindNumber, num: n} }
func Bool(b bool) MetaValue       { return MetaValue{kind: KindBool, b: b} }
func Nested(m Metadata) MetaValue { return MetaValue{kind: KindMap, m: m} }

func (v MetaValue) Kind() Kind    { return v.kind }
func (v MetaValue) Str() string   { return v.str }
func (v MetaValue) Num() float64  { return v.num }
func (v MetaValue) Bool() bool    { return v.b }
func (v MetaValue) Map() Metadata { return v.m }
func (v MetaValue) IsNull() bool  { return v.kind == KindNull }

// Text renders a scalar as a plain string; nested maps render as JSON.
func (v MetaValue) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		b, _ := json.Marshal(v.m)
		return string(b)
	default:
		return ""
	}
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return v.m.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown metadata kind %d", v.kind)
	}
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// MarshalJSON writes keys in sorted order so equal maps encode to equal bytes.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := m[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var v MetaValue
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.kind == KindNull {
		*m = Metadata{}
		return nil
	}
	if v.kind != KindMap {
		return fmt.Errorf("metadata must be a JSON object")
	}
	*m = v.m
	return nil
}

func fromAny(raw any) (MetaValue, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return MetaValue{}, err
		}
		return Number(n), nil
	case float64:
		return Number(t), nil
	case map[string]any:
		m := make(Metadata, len(t))
		for k, item := range t {
			val, err := fromAny(item)
			if err != nil {
				return MetaValue{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = val
		}
		return Nested(m), nil
	default:
		return MetaValue{}, fmt.Errorf("unsupported metadata value of type %T", raw)
	}
}

// Flatten renders every value as a string, for stores that only keep string metadata.
func (m Metadata) Flatten() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Text()
	}
	return out
}

// Merge returns a copy of m with the entries of other layered on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
