package recorder

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ParamSeparator joins formatted parameters.
const ParamSeparator = ", "

var jsonNumberType = reflect.TypeOf((*json.Number)(nil)).Elem()

// FormatParams renders params as one string. Strings are kept verbatim,
// numbers use their plain decimal form (never exponent notation), and numeric
// slices or arrays (nested to any depth) render as bracketed space separated
// values, e.g. [1 2 3]. json.Number values count as numbers. Any other value
// fails with ErrUnsupportedParameterType.
func FormatParams(params []any) (string, error) {
	parts := make([]string, 0, len(params))
	for i, p := range params {
		s, err := formatParam(p)
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", i, err)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ParamSeparator), nil
}

func formatParam(p any) (string, error) {
	v := reflect.ValueOf(p)
	if v.IsValid() && v.Kind() == reflect.String && v.Type() != jsonNumberType {
		return v.String(), nil
	}
	if !isNumeric(v) {
		return "", fmt.Errorf("%w: %T", ErrUnsupportedParameterType, p)
	}
	var b strings.Builder
	writeNumeric(&b, v)
	return b.String(), nil
}

// writeNumeric renders a value that passed isNumeric.
func writeNumeric(b *strings.Builder, v reflect.Value) {
	if v.Type() == jsonNumberType {
		b.WriteString(v.String())
		return
	}
	switch v.Kind() {
	case reflect.Interface:
		writeNumeric(b, v.Elem())
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeNumeric(b, v.Index(i))
		}
		b.WriteByte(']')
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32:
		b.WriteString(strconv.FormatFloat(v.Float(), 'f', -1, 32))
	case reflect.Float64:
		b.WriteString(strconv.FormatFloat(v.Float(), 'f', -1, 64))
	}
}

func isNumeric(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	if v.Type() == jsonNumberType {
		_, err := strconv.ParseFloat(v.String(), 64)
		return err == nil
	}
	switch v.Kind() {
	case reflect.Interface:
		return isNumeric(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() != reflect.Interface {
			return isNumericType(v.Type().Elem())
		}
		for i := 0; i < v.Len(); i++ {
			if !isNumeric(v.Index(i)) {
				return false
			}
		}
		return true
	default:
		return isNumericKind(v.Kind())
	}
}

func isNumericType(t reflect.Type) bool {
	if t == jsonNumberType {
		return true
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return isNumericType(t.Elem())
	default:
		return isNumericKind(t.Kind())
	}
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// cloneParams copies params and every slice nested in them, so the result
// shares no memory with the input.
func cloneParams(params []any) []any {
	if params == nil {
		return nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = cloneParam(p)
	}
	return out
}

func cloneParam(p any) any {
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return p
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out.Interface()
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out.Interface()
	default:
		return p
	}
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		return reflect.ValueOf(cloneParam(v.Elem().Interface()))
	case reflect.Slice, reflect.Array:
		return reflect.ValueOf(cloneParam(v.Interface()))
	default:
		return v
	}
}
