package query

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"reflect"
	"strings"
	"time"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/shopspring/decimal"
)

// OrderKey is one resolved sort key.
type OrderKey struct {
	Path       *metadata.PropertyPath
	Descending bool
}

// BuildOrder resolves the requested sort keys. Without keys it orders by the
// primary key ascending; keyless entities stay unordered.
func BuildOrder(d *metadata.EntityDescriptor, orderBy []OrderBy) ([]OrderKey, error) {
	if len(orderBy) == 0 {
		var keys []OrderKey
		for _, pk := range d.PrimaryKeys() {
			path, err := d.ResolvePath(pk.Name)
			if err != nil {
				return nil, err
			}
			keys = append(keys, OrderKey{Path: path})
		}
		return keys, nil
	}

	keys := make([]OrderKey, 0, len(orderBy))
	for _, ob := range orderBy {
		path, err := d.ResolvePath(ob.PropertyPath)
		if err != nil {
			return nil, err
		}
		if !path.Property.IsSortable || !path.Property.Queryable() {
			return nil, errs.InvalidArgumentf("property %q is not sortable", ob.PropertyPath)
		}
		keys = append(keys, OrderKey{Path: path, Descending: ob.IsDescending})
	}
	return keys, nil
}

// Comparable converts a property value into a representation that orders
// uniformly across types: nil, decimal.Decimal for numbers and booleans,
// time.Time in UTC, or string. NaN and infinite floats stay float64.
func Comparable(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}

	switch value := rv.Interface().(type) {
	case decimal.Decimal:
		return value
	case time.Time:
		return value.UTC()
	}
	if valuer, ok := rv.Interface().(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil || inner == nil {
			return nil
		}
		return Comparable(inner)
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return f
		}
		return decimal.NewFromFloat(f)
	case reflect.Bool:
		if rv.Bool() {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	case reflect.String:
		return rv.String()
	default:
		if stringer, ok := rv.Interface().(fmt.Stringer); ok {
			return stringer.String()
		}
		return fmt.Sprint(rv.Interface())
	}
}

// CompareValues orders two values after Comparable normalization. nil sorts
// first. Among numbers -Inf sorts before finite values, then +Inf, then NaN.
// Values of different kinds compare by their string form.
func CompareValues(a, b interface{}) int {
	ca, cb := Comparable(a), Comparable(b)
	switch {
	case ca == nil && cb == nil:
		return 0
	case ca == nil:
		return -1
	case cb == nil:
		return 1
	}

	if c, ok := compareNumbers(ca, cb); ok {
		return c
	}
	switch x := ca.(type) {
	case time.Time:
		if y, ok := cb.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := cb.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(Stringify(ca), Stringify(cb))
}

func compareNumbers(a, b interface{}) (int, bool) {
	ra, ok := numberRank(a)
	if !ok {
		return 0, false
	}
	rb, ok := numberRank(b)
	if !ok {
		return 0, false
	}
	switch {
	case ra < rb:
		return -1, true
	case ra > rb:
		return 1, true
	case ra == 0:
		return a.(decimal.Decimal).Cmp(b.(decimal.Decimal)), true
	}
	return 0, true
}

// numberRank groups normalized numbers: -1 for -Inf, 0 for finite, 1 for
// +Inf and 2 for NaN.
func numberRank(v interface{}) (int, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return 0, true
	case float64:
		switch {
		case math.IsNaN(x):
			return 2, true
		case math.IsInf(x, -1):
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// Stringify renders a value the way search predicates see it.
func Stringify(v interface{}) string {
	switch value := Comparable(v).(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case time.Time:
		return value.Format(time.RFC3339Nano)
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}
