package schema

import "reflect"

// CloneState returns a deep copy of s. Maps, slices and arrays are copied
// recursively; pointers are followed and re-allocated. Struct values are
// copied by value, so state should hold JSON-like data.
func CloneState(s State) State {
	if s == nil {
		return nil
	}
	return cloneMap(s)
}

// CloneValue returns a deep copy of v.
func CloneValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), v.Type().Elem()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneElem(v.Elem(), v.Type().Elem()))
		return out
	default:
		return v
	}
}

// cloneElem copies an element and converts it back to the container's
// element type, which matters for interface-typed containers.
func cloneElem(v reflect.Value, elemType reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(elemType)
		}
		c := reflect.ValueOf(CloneValue(v.Interface()))
		out := reflect.New(elemType).Elem()
		out.Set(c)
		return out
	}
	return cloneReflect(v)
}

// Clone returns a deep copy of the run result.
func (r *RunResult) Clone() *RunResult {
	if r == nil {
		return nil
	}
	out := *r
	out.FinalState = CloneState(r.FinalState)
	if r.Trace != nil {
		out.Trace = make([]StepRecord, len(r.Trace))
		for i, rec := range r.Trace {
			out.Trace[i] = rec.Clone()
		}
	}
	if r.Error != nil {
		out.Error = r.Error.clone()
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Clone returns a deep copy of the step record.
func (s StepRecord) Clone() StepRecord {
	out := s
	out.StateBefore = CloneState(s.StateBefore)
	out.StateAfter = CloneState(s.StateAfter)
	if s.NextNode != nil {
		n := *s.NextNode
		out.NextNode = &n
	}
	if s.Error != nil {
		out.Error = s.Error.clone()
	}
	return out
}

func (e *Error) clone() *Error {
	out := *e
	if e.Details != nil {
		out.Details = cloneMap(e.Details)
	}
	return &out
}
