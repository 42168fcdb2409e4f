package expression

import (
	"cmp"
	"reflect"
	"text/template"

	"github.com/pkg/errors"
)

// ComparisonHelpers returns eq, neq, lt, gt, lte and gte.
//
// eq and neq compare within a kind family: named string types equal plain
// strings with the same text, and likewise for signed integers, unsigned
// integers, floats and bools. Values of different families are never equal,
// and values that are not comparable (maps, slices) are never equal either.
// The ordering helpers only compare signed integers with signed integers,
// unsigned with unsigned, floats with floats and strings with strings; any
// other pair fails the render.
func ComparisonHelpers() template.FuncMap {
	return template.FuncMap{
		"eq":  equal,
		"neq": func(a, b interface{}) bool { return !equal(a, b) },
		"lt": func(a, b interface{}) (bool, error) {
			c, err := compare(a, b)
			return c < 0, err
		},
		"gt": func(a, b interface{}) (bool, error) {
			c, err := compare(a, b)
			return c > 0, err
		},
		"lte": func(a, b interface{}) (bool, error) {
			c, err := compare(a, b)
			return c <= 0, err
		},
		"gte": func(a, b interface{}) (bool, error) {
			c, err := compare(a, b)
			return c >= 0, err
		},
	}
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(va.Kind()) && isInt(vb.Kind()):
		return va.Int() == vb.Int()
	case isUint(va.Kind()) && isUint(vb.Kind()):
		return va.Uint() == vb.Uint()
	case isFloat(va.Kind()) && isFloat(vb.Kind()):
		return va.Float() == vb.Float()
	case va.Kind() == reflect.String && vb.Kind() == reflect.String:
		return va.String() == vb.String()
	case va.Kind() == reflect.Bool && vb.Kind() == reflect.Bool:
		return va.Bool() == vb.Bool()
	}
	ta := va.Type()
	if ta != vb.Type() || !ta.Comparable() {
		return false
	}
	return a == b
}

func compare(a, b interface{}) (int, error) {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsValid() && vb.IsValid() {
		switch {
		case isInt(va.Kind()) && isInt(vb.Kind()):
			return cmp.Compare(va.Int(), vb.Int()), nil
		case isUint(va.Kind()) && isUint(vb.Kind()):
			return cmp.Compare(va.Uint(), vb.Uint()), nil
		case isFloat(va.Kind()) && isFloat(vb.Kind()):
			return cmp.Compare(va.Float(), vb.Float()), nil
		case va.Kind() == reflect.String && vb.Kind() == reflect.String:
			return cmp.Compare(va.String(), vb.String()), nil
		}
	}
	return 0, errors.Errorf("cannot order %T and %T", a, b)
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
