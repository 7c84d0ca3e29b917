package pgts

import (
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

type fieldInfo struct {
	name     string // column name as declared
	path     []int
	optional bool
}

type structIndex struct {
	fields []fieldInfo
}

var structIndexCache sync.Map // reflect.Type -> *structIndex

func indexOf(t reflect.Type) *structIndex {
	if v, ok := structIndexCache.Load(t); ok {
		return v.(*structIndex)
	}
	idx := buildStructIndex(t)
	v, _ := structIndexCache.LoadOrStore(t, idx)
	return v.(*structIndex)
}

func buildStructIndex(rt reflect.Type) *structIndex {
	idx := &structIndex{}
	seen := make(map[string]struct{})

	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, optional, omit := parseTag(tag)
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)

			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if inline || (sf.Anonymous && tag == "") {
				if ft.Kind() == reflect.Struct && ft != timeType {
					walk(ft, path)
					continue
				}
			}
			if sf.PkgPath != "" {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			idx.fields = append(idx.fields, fieldInfo{name: name, path: path, optional: optional})
		}
	}
	walk(rt, nil)
	return idx
}

// parseTag supports "-", "col", "col,optional", ",inline".
func parseTag(tag string) (name string, inline, optional, omit bool) {
	if tag == "-" {
		return "", false, false, true
	}
	for i, part := range strings.Split(tag, ",") {
		switch {
		case i == 0:
			name = part
		case part == "inline":
			inline = true
		case part == "optional":
			optional = true
		}
	}
	return name, inline, optional, false
}

// fieldByPath walks path, allocating nil embedded pointers.
func fieldByPath(v reflect.Value, path []int) reflect.Value {
	for _, i := range path {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// isScalarShape reports whether t is decoded from a single column rather
// than from a whole row.
func isScalarShape(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if reflect.PointerTo(t).Implements(scannerType) || t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Interface:
		return false
	}
	return true
}

type decodeState struct {
	row  int
	errs []FieldError
}

func (s *decodeState) fail(path string, dst reflect.Type, src any, reason string) {
	s.errs = append(s.errs, FieldError{
		Row:      s.row,
		Field:    path,
		Expected: dst.String(),
		Actual:   src,
		Reason:   reason,
	})
}

// decodeRows decodes every row into T and collects the failures of all rows.
func decodeRows[T any](rows []Row) ([]T, []FieldError) {
	out := make([]T, len(rows))
	rt := reflect.TypeOf((*T)(nil)).Elem()
	scalar := isScalarShape(rt)

	s := &decodeState{}
	for i, row := range rows {
		s.row = i
		dst := reflect.ValueOf(&out[i]).Elem()

		if !scalar {
			s.assign(dst, row, "")
			continue
		}
		if len(row) != 1 {
			s.fail("", rt, row, fmt.Sprintf("expected a single column, got %d", len(row)))
			continue
		}
		for col, v := range row {
			s.assign(dst, v, col)
		}
	}
	return out, s.errs
}

func (s *decodeState) decodeStruct(dst reflect.Value, m map[string]any, prefix string) {
	var lower map[string]string
	for _, f := range indexOf(dst.Type()).fields {
		path := f.name
		if prefix != "" {
			path = prefix + "." + f.name
		}

		v, ok := m[f.name]
		if !ok {
			if lower == nil {
				lower = make(map[string]string, len(m))
				for k := range m {
					lower[strings.ToLower(k)] = k
				}
			}
			var key string
			if key, ok = lower[strings.ToLower(f.name)]; ok {
				v = m[key]
			}
		}

		fv := fieldByPath(dst, f.path)
		if !ok {
			if !f.optional {
				s.fail(path, fv.Type(), nil, "missing")
			}
			continue
		}
		s.assign(fv, v, path)
	}
}

// assign stores src into the addressable dst, converting where no
// information is lost.
func (s *decodeState) assign(dst reflect.Value, src any, path string) {
	dt := dst.Type()

	if src == nil {
		switch dt.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			dst.SetZero()
			return
		}
		if reflect.PointerTo(dt).Implements(scannerType) {
			s.scan(dst, src, path)
			return
		}
		s.fail(path, dt, src, "null is not allowed")
		return
	}

	if reflect.PointerTo(dt).Implements(scannerType) {
		s.scan(dst, src, path)
		return
	}

	sv := reflect.ValueOf(src)
	st := sv.Type()

	if st.AssignableTo(dt) {
		dst.Set(sv)
		return
	}

	switch dt.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dt.Elem())
		before := len(s.errs)
		s.assign(elem.Elem(), src, path)
		if len(s.errs) == before {
			dst.Set(elem)
		}
		return

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if reason := setNumber(dst, sv); reason != "" {
			s.fail(path, dt, src, reason)
		}
		return

	case reflect.String:
		switch {
		case st.Kind() == reflect.String:
			dst.SetString(sv.String())
			return
		case st.Kind() == reflect.Slice && st.Elem().Kind() == reflect.Uint8:
			dst.SetString(string(sv.Bytes()))
			return
		}

	case reflect.Bool:
		if st.Kind() == reflect.Bool {
			dst.SetBool(sv.Bool())
			return
		}

	case reflect.Slice:
		if dt.Elem().Kind() == reflect.Uint8 && st.Kind() == reflect.String {
			dst.SetBytes([]byte(sv.String()))
			return
		}
		if st.Kind() == reflect.Slice || st.Kind() == reflect.Array {
			out := reflect.MakeSlice(dt, sv.Len(), sv.Len())
			for i := 0; i < sv.Len(); i++ {
				s.assign(out.Index(i), sv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
			}
			dst.Set(out)
			return
		}

	case reflect.Map:
		if dt.Key().Kind() == reflect.String && st.Kind() == reflect.Map && st.Key().Kind() == reflect.String {
			out := reflect.MakeMapWithSize(dt, sv.Len())
			iter := sv.MapRange()
			for iter.Next() {
				k := iter.Key().String()
				elem := reflect.New(dt.Elem()).Elem()
				s.assign(elem, iter.Value().Interface(), joinPath(path, k))
				out.SetMapIndex(reflect.ValueOf(k).Convert(dt.Key()), elem)
			}
			dst.Set(out)
			return
		}

	case reflect.Struct:
		if m, ok := src.(map[string]any); ok && dt != timeType {
			s.decodeStruct(dst, m, path)
			return
		}
	}

	if st.ConvertibleTo(dt) && st.Kind() == dt.Kind() {
		dst.Set(sv.Convert(dt))
		return
	}

	s.fail(path, dt, src, fmt.Sprintf("cannot decode %T", src))
}

func (s *decodeState) scan(dst reflect.Value, src any, path string) {
	if err := dst.Addr().Interface().(sql.Scanner).Scan(src); err != nil {
		s.fail(path, dst.Type(), src, err.Error())
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// setNumber converts a numeric sv into dst, rejecting overflow and
// fractional loss. It returns a reason on failure.
func setNumber(dst, sv reflect.Value) string {
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := sv.Int()
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if dst.OverflowInt(v) {
				return "value overflows"
			}
			dst.SetInt(v)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if v < 0 || dst.OverflowUint(uint64(v)) {
				return "value overflows"
			}
			dst.SetUint(uint64(v))
		default:
			f := float64(v)
			if int64(f) != v {
				return "value loses precision"
			}
			dst.SetFloat(f)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v := sv.Uint()
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v > math.MaxInt64 || dst.OverflowInt(int64(v)) {
				return "value overflows"
			}
			dst.SetInt(int64(v))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if dst.OverflowUint(v) {
				return "value overflows"
			}
			dst.SetUint(v)
		default:
			f := float64(v)
			if uint64(f) != v {
				return "value loses precision"
			}
			dst.SetFloat(f)
		}

	case reflect.Float32, reflect.Float64:
		v := sv.Float()
		switch dst.Kind() {
		case reflect.Float32, reflect.Float64:
			if dst.OverflowFloat(v) {
				return "value overflows"
			}
			dst.SetFloat(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 || dst.OverflowInt(int64(v)) {
				return "value is not an integer in range"
			}
			dst.SetInt(int64(v))
		default:
			if v != math.Trunc(v) || v < 0 || v >= math.MaxUint64 || dst.OverflowUint(uint64(v)) {
				return "value is not an integer in range"
			}
			dst.SetUint(uint64(v))
		}

	default:
		return fmt.Sprintf("cannot decode %s", sv.Type())
	}
	return ""
}
