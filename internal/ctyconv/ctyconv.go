// Package ctyconv converts between cty values and plain Go values.
//
// Module values are handed to Go and script code as ordinary Go data: strings,
// float64 numbers, bools, map[string]any and []any. This package is the single
// place where cty values coming from bundle manifests or JSON payloads take that
// shape.
package ctyconv

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ToGo converts a known cty value into plain Go data. Null values become nil.
func ToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("cannot convert unknown value of type %s", v.Type().FriendlyName())
	}

	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString(), nil
	case ty.Equals(cty.Bool):
		return v.True(), nil
	case ty.Equals(cty.Number):
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			gv, err := ToGo(ev)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = gv
		}
		return out, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ToGo(ev)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", len(out), err)
			}
			out = append(out, gv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
}

// FromGo converts a native Go value into its implied cty value.
func FromGo(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}

// DecodeJSON parses a JSON document into plain Go data, inferring its type.
func DecodeJSON(buf []byte) (any, error) {
	ty, err := ctyjson.ImpliedType(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to infer JSON type: %w", err)
	}
	v, err := ctyjson.Unmarshal(buf, ty)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return ToGo(v)
}
