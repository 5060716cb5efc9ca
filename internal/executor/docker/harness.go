package docker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sakif/actionrunner/internal/capability"
	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/value"
)

// harness is the driver handed to `python -c`. It builds one namespace from the
// configured modules and helper sources, runs the snippet in it and prints the
// tagged encoding of __retval__ (or the traceback) on a line starting with the
// per-run marker.
const harness = `
import importlib, json, math, sys, traceback

def _enc(v, seen, top=False):
    if isinstance(v, str):
        return {"t": "str", "v": v}
    if isinstance(v, (list, tuple, set, frozenset, dict)):
        if id(v) in seen:
            return {"t": "other", "r": "[...]" if isinstance(v, list) else "{...}"}
        seen = seen | {id(v)}
    if isinstance(v, list):
        return {"t": "list", "v": [_enc(x, seen) for x in v]}
    if isinstance(v, tuple):
        return {"t": "tuple", "v": [_enc(x, seen) for x in v]}
    if isinstance(v, (set, frozenset)):
        return {"t": "set", "v": [_enc(x, seen) for x in v]}
    if isinstance(v, dict):
        return {"t": "dict", "v": [[_enc(k, seen), _enc(x, seen)] for k, x in v.items()]}
    out = {"t": "other", "r": str(v) if top else repr(v)}
    if v is None or isinstance(v, bool) or (isinstance(v, int) and abs(v) < 2**63):
        out["v"] = v
    elif isinstance(v, float) and math.isfinite(v):
        out["v"] = v
    return out

def _emit(marker, doc):
    sys.stdout.write("\n" + marker + json.dumps(doc) + "\n")
    sys.stdout.flush()

_p = json.loads(sys.argv[1])
_ns = {"__name__": "__main__"}
for _name in _p["modules"]:
    try:
        _mod = importlib.import_module(_name)
        for _attr in dir(_mod):
            if not _attr.startswith("_"):
                _ns[_attr] = getattr(_mod, _attr)
    except Exception:
        traceback.print_exc()
for _src in _p["sources"]:
    try:
        exec(compile(_src["code"], _src["name"], "exec"), _ns)
    except Exception:
        traceback.print_exc()
try:
    exec(compile(_p["code"], "<snippet>", "exec"), _ns)
    if "__retval__" not in _ns:
        raise NameError("name '__retval__' is not defined")
    _doc = {"value": _enc(_ns["__retval__"], frozenset(), True)}
except BaseException as _e:
    _doc = {"trace": "".join(traceback.format_exception(type(_e), _e, _e.__traceback__.tb_next))}
_emit(_p["marker"], _doc)
`

// maxPayload keeps the argv entry below the kernel's per-argument limit.
const maxPayload = 120 * 1024

type payload struct {
	Code    string          `json:"code"`
	Modules []string        `json:"modules"`
	Sources []sourcePayload `json:"sources"`
	Marker  string          `json:"marker"`
}

type sourcePayload struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func buildPayload(code string, reg *capability.Registry, marker string) (string, error) {
	p := payload{
		Code:    code,
		Modules: append([]string{}, reg.Modules...),
		Sources: []sourcePayload{},
		Marker:  marker,
	}
	for _, src := range reg.SourcesFor(capability.LangPython) {
		p.Sources = append(p.Sources, sourcePayload{Name: src.Name, Code: src.Code})
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if len(data) > maxPayload {
		return "", fmt.Errorf("snippet and helpers exceed %d bytes", maxPayload)
	}
	return string(data), nil
}

// decodeOutput turns the harness output into a result. Text printed by the
// snippet before the marker line is kept as stdout.
func decodeOutput(stdout, stderr, marker string, exitCode int) *executor.ExecutionResult {
	idx := strings.LastIndex(stdout, marker)
	if idx < 0 {
		trace := strings.TrimSpace(stderr)
		if trace == "" {
			trace = fmt.Sprintf("python exited with code %d and no result", exitCode)
		}
		res := executor.Failure(trace)
		res.Stdout = stdout
		return res
	}

	printed := strings.TrimRight(stdout[:idx], "\n")
	line := strings.TrimSpace(stdout[idx+len(marker):])

	var res *executor.ExecutionResult
	switch doc := gjson.Parse(line); {
	case !gjson.Valid(line):
		res = executor.Failure("malformed result from python harness")
	case doc.Get("trace").Exists():
		res = executor.Failure(strings.TrimRight(doc.Get("trace").String(), "\n"))
	default:
		res = executor.Success(decodeValue(doc.Get("value")))
	}
	res.Stdout = printed
	return res
}

func decodeValue(r gjson.Result) value.Value {
	switch r.Get("t").String() {
	case "str":
		return value.String(r.Get("v").String())
	case "list":
		return value.Sequence(decodeItems(r.Get("v")))
	case "tuple":
		return value.Tuple(decodeItems(r.Get("v")))
	case "set":
		return value.Set(decodeItems(r.Get("v")))
	case "dict":
		pairs := r.Get("v").Array()
		m := make(value.Mapping, 0, len(pairs))
		for _, pair := range pairs {
			kv := pair.Array()
			if len(kv) != 2 {
				continue
			}
			m = append(m, value.Entry{Key: decodeValue(kv[0]), Value: decodeValue(kv[1])})
		}
		return m
	default:
		return decodeOther(r)
	}
}

func decodeItems(r gjson.Result) []value.Value {
	arr := r.Array()
	items := make([]value.Value, 0, len(arr))
	for _, item := range arr {
		items = append(items, decodeValue(item))
	}
	return items
}

func decodeOther(r gjson.Result) value.Value {
	repr := r.Get("r").String()
	v := r.Get("v")
	if !v.Exists() {
		return value.Other{Repr: repr}
	}
	switch v.Type {
	case gjson.Null:
		return value.None
	case gjson.True, gjson.False:
		return value.Other{V: v.Bool(), Repr: repr}
	case gjson.Number:
		if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return value.Other{V: n, Repr: repr}
		}
		return value.Other{V: v.Float(), Repr: repr}
	default:
		return value.Other{Repr: repr}
	}
}
