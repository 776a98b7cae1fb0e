package vmengine

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Kind tags the concrete type held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindBytes
	KindFixedPoint
	KindList
	KindMap
)

// Value is the heterogeneous tagged value tree used for contract
// kwargs, per the Design Notes' "dynamic field patterns" directive.
// FixedPoint is backed by math/big.Rat for exact decimal arithmetic —
// no third-party fixed-point/decimal package appears anywhere in the
// retrieved corpus (see DESIGN.md), so stdlib is a justified choice
// here rather than a default.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Bool  bool
	Bytes []byte
	Fixed *big.Rat
	List  []Value
	Map   map[string]Value
}

func String(s string) Value        { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value            { return Value{Kind: KindInt, Int: i} }
func Bool(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func Bytes(b []byte) Value         { return Value{Kind: KindBytes, Bytes: b} }
func FixedPoint(r *big.Rat) Value  { return Value{Kind: KindFixedPoint, Fixed: r} }
func List(vs []Value) Value        { return Value{Kind: KindList, List: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// FixedFromString parses a decimal literal ("12.50") into a FixedPoint Value.
func FixedFromString(s string) (Value, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Value{}, fmt.Errorf("vmengine: invalid fixed-point literal %q", s)
	}
	return FixedPoint(r), nil
}

// AsString returns the value as a string if it is a KindString, else an error.
func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("vmengine: value is not a string (kind=%d)", v.Kind)
	}
	return v.Str, nil
}

// AsInt returns the value as an int64 if it is a KindInt, else an error.
func (v Value) AsInt() (int64, error) {
	if v.Kind != KindInt {
		return 0, fmt.Errorf("vmengine: value is not an int (kind=%d)", v.Kind)
	}
	return v.Int, nil
}

// AsFixed returns the value as a *big.Rat if it is a KindFixedPoint, else an error.
func (v Value) AsFixed() (*big.Rat, error) {
	if v.Kind != KindFixedPoint {
		return nil, fmt.Errorf("vmengine: value is not fixed-point (kind=%d)", v.Kind)
	}
	return v.Fixed, nil
}

// jsonValue is the wire shape for a Value: exactly one of the typed
// fields is set, selected by Kind.
type jsonValue struct {
	Kind  string      `json:"kind"`
	Str   string      `json:"str,omitempty"`
	Int   int64       `json:"int,omitempty"`
	Bool  bool        `json:"bool,omitempty"`
	Bytes []byte      `json:"bytes,omitempty"`
	Fixed string      `json:"fixed,omitempty"`
	List  []jsonValue `json:"list,omitempty"`
	Map   map[string]jsonValue `json:"map,omitempty"`
}

var kindNames = map[Kind]string{
	KindString: "string", KindInt: "int", KindBool: "bool", KindBytes: "bytes",
	KindFixedPoint: "fixed", KindList: "list", KindMap: "map",
}
var kindValues = map[string]Kind{
	"string": KindString, "int": KindInt, "bool": KindBool, "bytes": KindBytes,
	"fixed": KindFixedPoint, "list": KindList, "map": KindMap,
}

func (v Value) toJSON() jsonValue {
	jv := jsonValue{Kind: kindNames[v.Kind]}
	switch v.Kind {
	case KindString:
		jv.Str = v.Str
	case KindInt:
		jv.Int = v.Int
	case KindBool:
		jv.Bool = v.Bool
	case KindBytes:
		jv.Bytes = v.Bytes
	case KindFixedPoint:
		if v.Fixed != nil {
			jv.Fixed = v.Fixed.RatString()
		}
	case KindList:
		jv.List = make([]jsonValue, len(v.List))
		for i, e := range v.List {
			jv.List[i] = e.toJSON()
		}
	case KindMap:
		jv.Map = make(map[string]jsonValue, len(v.Map))
		for k, e := range v.Map {
			jv.Map[k] = e.toJSON()
		}
	}
	return jv
}

func fromJSON(jv jsonValue) (Value, error) {
	kind, ok := kindValues[jv.Kind]
	if !ok {
		return Value{}, fmt.Errorf("vmengine: unknown value kind %q", jv.Kind)
	}
	v := Value{Kind: kind}
	switch kind {
	case KindString:
		v.Str = jv.Str
	case KindInt:
		v.Int = jv.Int
	case KindBool:
		v.Bool = jv.Bool
	case KindBytes:
		v.Bytes = jv.Bytes
	case KindFixedPoint:
		r, ok := new(big.Rat).SetString(jv.Fixed)
		if !ok {
			return Value{}, fmt.Errorf("vmengine: invalid fixed-point literal %q", jv.Fixed)
		}
		v.Fixed = r
	case KindList:
		v.List = make([]Value, len(jv.List))
		for i, e := range jv.List {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			v.List[i] = ev
		}
	case KindMap:
		v.Map = make(map[string]Value, len(jv.Map))
		for k, e := range jv.Map {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			v.Map[k] = ev
		}
	}
	return v, nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	parsed, err := fromJSON(jv)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// DecodeKwargs parses a tx payload's raw kwargs JSON (map[string]Value
// wire shape) into a Go map for handler consumption.
func DecodeKwargs(raw json.RawMessage) (map[string]Value, error) {
	if len(raw) == 0 {
		return map[string]Value{}, nil
	}
	var m map[string]Value
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("vmengine: decode kwargs: %w", err)
	}
	return m, nil
}
