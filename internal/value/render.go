package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Render formats v the way the caller expects to read a result: a top-level
// string is returned as-is, containers use python literal syntax with quoted
// strings inside.
func Render(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

// Repr formats v in literal form, quoting top-level strings as well.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

func writeRepr(b *strings.Builder, v Value) {
	switch t := v.(type) {
	case nil:
		b.WriteString("None")
	case String:
		b.WriteString(quote(string(t)))
	case Sequence:
		writeItems(b, "[", "]", t)
	case Tuple:
		if len(t) == 1 {
			b.WriteString("(")
			writeRepr(b, t[0])
			b.WriteString(",)")
			return
		}
		writeItems(b, "(", ")", t)
	case Set:
		if len(t) == 0 {
			b.WriteString("set()")
			return
		}
		writeItems(b, "{", "}", t)
	case Mapping:
		b.WriteString("{")
		for i, e := range t {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, e.Key)
			b.WriteString(": ")
			writeRepr(b, e.Value)
		}
		b.WriteString("}")
	case Other:
		b.WriteString(formatOther(t))
	default:
		fmt.Fprintf(b, "%v", t)
	}
}

func writeItems(b *strings.Builder, open, close string, items []Value) {
	b.WriteString(open)
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		writeRepr(b, item)
	}
	b.WriteString(close)
}

func formatOther(o Other) string {
	if o.Repr != "" {
		return o.Repr
	}
	switch v := o.V.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".en") {
		s += ".0"
	}
	return s
}

// quote mirrors python's repr for str: single quotes unless the text contains
// a single quote and no double quote.
func quote(s string) string {
	q := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteByte(q)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
