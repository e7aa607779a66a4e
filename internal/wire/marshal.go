package wire

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
)

// Marshal encodes v into the wire format. Supported kinds: bool, all
// fixed-width ints and uints (int/uint encode as 64-bit), float32/64,
// string, byte slices, slices, fixed arrays, maps (encoded in a
// deterministic key order), and structs (exported fields in declaration
// order). Fields tagged `wire:"-"` are skipped.
func Marshal(v any) ([]byte, error) {
	var w Writer
	if err := marshalValue(&w, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes data into the value pointed to by v. It returns a
// *DecodeError for malformed input, including trailing bytes after a
// complete value.
func Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("wire: Unmarshal target must be a non-nil pointer, got %T", v)
	}
	r := NewReader(data)
	if err := unmarshalValue(r, rv.Elem()); err != nil {
		return err
	}
	return r.Done()
}

func marshalValue(w *Writer, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		w.Bool(v.Bool())
	case reflect.Int8:
		w.Int8(int8(v.Int()))
	case reflect.Int16:
		w.Int16(int16(v.Int()))
	case reflect.Int32:
		w.Int32(int32(v.Int()))
	case reflect.Int64, reflect.Int:
		w.Int64(v.Int())
	case reflect.Uint8:
		w.Uint8(uint8(v.Uint()))
	case reflect.Uint16:
		w.Uint16(uint16(v.Uint()))
	case reflect.Uint32:
		w.Uint32(uint32(v.Uint()))
	case reflect.Uint64, reflect.Uint:
		w.Uint64(v.Uint())
	case reflect.Float32:
		w.Float32(float32(v.Float()))
	case reflect.Float64:
		w.Float64(v.Float())
	case reflect.String:
		w.String(v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			w.Bytes32(v.Bytes())
			return nil
		}
		w.Uint32(uint32(v.Len()))
		for i := 0; i < v.Len(); i++ {
			if err := marshalValue(w, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := marshalValue(w, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		return marshalMap(w, v)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			if !f.IsExported() || f.Tag.Get("wire") == "-" {
				continue
			}
			if err := marshalValue(w, v.Field(i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("wire: unsupported type %s", v.Type())
	}
	return nil
}

// marshalMap writes the count prefix, then entries sorted by their encoded
// key bytes so that equal maps always produce equal output.
func marshalMap(w *Writer, v reflect.Value) error {
	type entry struct {
		key []byte
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var kw Writer
		if err := marshalValue(&kw, iter.Key()); err != nil {
			return err
		}
		entries = append(entries, entry{key: kw.Bytes(), val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	w.Uint32(uint32(len(entries)))
	for _, e := range entries {
		w.Raw(e.key)
		if err := marshalValue(w, e.val); err != nil {
			return err
		}
	}
	return nil
}

// checkCount validates a count prefix against the unread input before
// anything is allocated for it. Every encoded element occupies at least
// one byte, so a count beyond the remaining input cannot be honest.
func checkCount(r *Reader, n uint32, what string) (int, error) {
	if int64(n) > int64(r.Remaining()) {
		return 0, &DecodeError{Kind: KindTruncated, Offset: r.Offset(),
			Detail: fmt.Sprintf("count %d for %s exceeds %d remaining bytes", n, what, r.Remaining())}
	}
	return int(n), nil
}

func unmarshalValue(r *Reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		b, err := r.Bool()
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int8:
		n, err := r.Int8()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int16:
		n, err := r.Int16()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int32:
		n, err := r.Int32()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int64, reflect.Int:
		n, err := r.Int64()
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint8:
		n, err := r.Uint8()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint16:
		n, err := r.Uint16()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint32:
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint64, reflect.Uint:
		n, err := r.Uint64()
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32:
		f, err := r.Float32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(f))
	case reflect.Float64:
		f, err := r.Float64()
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.String:
		s, err := r.String()
		if err != nil {
			return err
		}
		v.SetString(s)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, err := r.Bytes32()
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		}
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		count, err := checkCount(r, n, "slice")
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(v.Type(), count, count)
		for i := 0; i < count; i++ {
			if err := unmarshalValue(r, out.Index(i)); err != nil {
				return err
			}
		}
		v.Set(out)
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := unmarshalValue(r, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		count, err := checkCount(r, n, "map")
		if err != nil {
			return err
		}
		out := reflect.MakeMapWithSize(v.Type(), count)
		for i := 0; i < count; i++ {
			key := reflect.New(v.Type().Key()).Elem()
			if err := unmarshalValue(r, key); err != nil {
				return err
			}
			val := reflect.New(v.Type().Elem()).Elem()
			if err := unmarshalValue(r, val); err != nil {
				return err
			}
			out.SetMapIndex(key, val)
		}
		v.Set(out)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			if !f.IsExported() || f.Tag.Get("wire") == "-" {
				continue
			}
			if err := unmarshalValue(r, v.Field(i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("wire: unsupported type %s", v.Type())
	}
	return nil
}
