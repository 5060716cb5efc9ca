package goja

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dop251/goja"

	"github.com/sakif/actionrunner/internal/value"
)

// Limits on a converted result. Conversion runs in Go where the runtime's
// interrupt cannot reach, so the work is bounded here.
const (
	MaxResultItems = 1 << 20
	MaxResultBytes = 16 << 20
)

// converter turns runtime values into the value model. Containers already on
// the current path render as ellipses instead of recursing forever.
type converter struct {
	vm        *goja.Runtime
	arrayFrom goja.Callable
	isFrozen  goja.Callable
	active    map[*goja.Object]bool
	halted    func() string
	items     int
	bytes     int
}

func newConverter(vm *goja.Runtime, halted func() string) *converter {
	c := &converter{vm: vm, active: make(map[*goja.Object]bool), halted: halted}
	if array := vm.Get("Array"); array != nil {
		c.arrayFrom, _ = goja.AssertFunction(array.ToObject(vm).Get("from"))
	}
	if object := vm.Get("Object"); object != nil {
		c.isFrozen, _ = goja.AssertFunction(object.ToObject(vm).Get("isFrozen"))
	}
	return c
}

func (c *converter) convert(v goja.Value) (value.Value, error) {
	if err := c.charge(1, 0); err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.None, nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		p := primitive(v)
		if str, ok := p.(value.String); ok {
			if err := c.charge(0, len(str)); err != nil {
				return nil, err
			}
		}
		return p, nil
	}

	if c.active[obj] {
		if obj.ClassName() == "Array" {
			return value.Other{Repr: "[...]"}, nil
		}
		return value.Other{Repr: "{...}"}, nil
	}
	c.active[obj] = true
	defer delete(c.active, obj)

	switch obj.ClassName() {
	case "Array":
		items, err := c.elements(obj)
		if err != nil {
			return nil, err
		}
		if c.frozen(obj) {
			return value.Tuple(items), nil
		}
		return value.Sequence(items), nil
	case "Set":
		members, err := c.spread(obj)
		if err != nil {
			return nil, err
		}
		items, err := c.convertAll(members)
		if err != nil {
			return nil, err
		}
		return value.Set(items), nil
	case "Map":
		pairs, err := c.spread(obj)
		if err != nil {
			return nil, err
		}
		m := make(value.Mapping, 0, len(pairs))
		for _, pair := range pairs {
			kv := pair.ToObject(c.vm)
			key, err := c.convert(kv.Get("0"))
			if err != nil {
				return nil, err
			}
			val, err := c.convert(kv.Get("1"))
			if err != nil {
				return nil, err
			}
			m = append(m, value.Entry{Key: key, Value: val})
		}
		return m, nil
	case "Object":
		keys := obj.Keys()
		if err := c.reserve(int64(len(keys))); err != nil {
			return nil, err
		}
		m := make(value.Mapping, 0, len(keys))
		for _, key := range keys {
			if err := c.charge(0, len(key)); err != nil {
				return nil, err
			}
			val, err := c.convert(obj.Get(key))
			if err != nil {
				return nil, err
			}
			m = append(m, value.Entry{Key: value.String(key), Value: val})
		}
		return m, nil
	default:
		repr := obj.String()
		if err := c.charge(0, len(repr)); err != nil {
			return nil, err
		}
		return value.Other{V: obj.Export(), Repr: repr}, nil
	}
}

func (c *converter) elements(obj *goja.Object) ([]value.Value, error) {
	n := obj.Get("length").ToInteger()
	if err := c.reserve(n); err != nil {
		return nil, err
	}
	items := make([]value.Value, 0, n)
	for i := int64(0); i < n; i++ {
		item, err := c.convert(obj.Get(strconv.FormatInt(i, 10)))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// spread materialises an iterable through Array.from.
func (c *converter) spread(obj *goja.Object) ([]goja.Value, error) {
	if c.arrayFrom == nil {
		return nil, fmt.Errorf("TypeError: Array.from is not available")
	}
	arr, err := c.arrayFrom(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	arrObj := arr.ToObject(c.vm)
	n := arrObj.Get("length").ToInteger()
	if err := c.reserve(n); err != nil {
		return nil, err
	}
	out := make([]goja.Value, 0, n)
	for i := int64(0); i < n; i++ {
		if reason := c.halted(); reason != "" {
			return nil, errors.New(reason)
		}
		out = append(out, arrObj.Get(strconv.FormatInt(i, 10)))
	}
	return out, nil
}

// reserve fails before a container of n members is walked if it could not fit
// in the remaining budget.
func (c *converter) reserve(n int64) error {
	if n < 0 || n > int64(MaxResultItems-c.items) {
		return fmt.Errorf("RangeError: result has more than %d items", MaxResultItems)
	}
	return nil
}

// charge counts converted nodes and string bytes, and stops the walk once the
// runtime has been interrupted.
func (c *converter) charge(items, bytes int) error {
	if reason := c.halted(); reason != "" {
		return errors.New(reason)
	}
	c.items += items
	c.bytes += bytes
	if c.items > MaxResultItems {
		return fmt.Errorf("RangeError: result has more than %d items", MaxResultItems)
	}
	if c.bytes > MaxResultBytes {
		return fmt.Errorf("RangeError: result text exceeds %d bytes", MaxResultBytes)
	}
	return nil
}

func (c *converter) convertAll(in []goja.Value) ([]value.Value, error) {
	out := make([]value.Value, 0, len(in))
	for _, v := range in {
		item, err := c.convert(v)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *converter) frozen(obj *goja.Object) bool {
	if c.isFrozen == nil {
		return false
	}
	res, err := c.isFrozen(goja.Undefined(), obj)
	return err == nil && res.ToBoolean()
}

func primitive(v goja.Value) value.Value {
	switch x := v.Export().(type) {
	case string:
		return value.String(x)
	case float64:
		if !math.IsInf(x, 0) && !math.IsNaN(x) && x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return value.Other{V: int64(x)}
		}
		return value.Other{V: x}
	case int64, bool:
		return value.Other{V: x}
	default:
		return value.Other{V: x, Repr: v.String()}
	}
}
