package element

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Field is one entry of a declarative decoding schema.
type Field struct {
	Name    string
	Kind    reflect.Kind
	Default string
}

var timeType = reflect.TypeOf(time.Time{})

// Decode fills the struct pointed to by dst from the flat children of src.
//
// Struct fields are mapped with `elem:"name"` or `elem:"name,default=value"`
// tags. A nested struct field prefixes its own fields with "name_", and a
// fixed-size array field expands to "name_0", "name_1", ... Missing children
// take the tag default or the zero value.
func Decode(src *Element, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("element: decode target must be a non-nil struct pointer, got %T", dst)
	}
	return walk(rv.Elem(), "", func(f Field, fv reflect.Value) error {
		return decodeScalar(src, f, fv)
	})
}

// Schema lists the flat fields that Decode reads for the type of v.
func Schema(v any) ([]Field, error) {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("element: schema requires a struct, got %T", v)
	}
	var fields []Field
	err := walk(reflect.New(t).Elem(), "", func(f Field, _ reflect.Value) error {
		fields = append(fields, f)
		return nil
	})
	return fields, err
}

func walk(v reflect.Value, prefix string, visit func(Field, reflect.Value) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, ok := sf.Tag.Lookup("elem")
		if !ok || tag == "-" {
			continue
		}
		name, def := parseTag(tag)
		if err := walkField(v.Field(i), joinKey(prefix, name), def, visit); err != nil {
			return err
		}
	}
	return nil
}

func walkField(fv reflect.Value, key, def string, visit func(Field, reflect.Value) error) error {
	switch {
	case fv.Type() == timeType:
		return visit(Field{Name: key, Kind: reflect.Struct, Default: def}, fv)
	case fv.Kind() == reflect.Struct:
		return walk(fv, key, visit)
	case fv.Kind() == reflect.Array:
		for j := 0; j < fv.Len(); j++ {
			if err := walkField(fv.Index(j), joinKey(key, strconv.Itoa(j)), def, visit); err != nil {
				return err
			}
		}
		return nil
	}
	switch fv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return visit(Field{Name: key, Kind: fv.Kind(), Default: def}, fv)
	}
	return fmt.Errorf("element: field %q has unsupported type %s", key, fv.Type())
}

func decodeScalar(src *Element, f Field, fv reflect.Value) error {
	c, ok := src.Child(f.Name)
	if !ok {
		if f.Default == "" {
			return nil
		}
		c = New(f.Name).SetValue(f.Default)
	}

	var err error
	switch {
	case fv.Type() == timeType:
		var t time.Time
		if t, err = c.AsTime(); err == nil {
			fv.Set(reflect.ValueOf(t))
		}
	case fv.Kind() == reflect.String:
		var s string
		if s, err = c.AsString(); err == nil {
			fv.SetString(s)
		}
	case fv.Kind() == reflect.Bool:
		var b bool
		if b, err = c.AsBool(); err == nil {
			fv.SetBool(b)
		}
	case fv.CanInt():
		var n int64
		if n, err = c.AsInt(); err == nil {
			if fv.OverflowInt(n) {
				return fmt.Errorf("element: field %q: %d overflows %s", f.Name, n, fv.Type())
			}
			fv.SetInt(n)
		}
	case fv.CanFloat():
		var x float64
		if x, err = c.AsFloat(); err == nil {
			fv.SetFloat(x)
		}
	}
	if err != nil {
		return fmt.Errorf("element: field %q: %w", f.Name, err)
	}
	return nil
}

func parseTag(tag string) (name, def string) {
	name, rest, _ := strings.Cut(tag, ",")
	for _, opt := range strings.Split(rest, ",") {
		if v, ok := strings.CutPrefix(opt, "default="); ok {
			def = v
		}
	}
	return name, def
}
