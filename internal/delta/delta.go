// Package delta computes and applies minimal differences between two
// versions of a session's shared state. State is treated as a JSON-shaped
// value tree (maps, arrays, primitives); anything else is replaced
// wholesale.
package delta

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

type OpKind string

const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "delete"
	OpAppend OpKind = "append"
	OpSplice OpKind = "spliceArray"
)

// Op is a single mutation. Paths are slash-separated field/index chains
// relative to the state root, e.g. "entities/2/hp".
type Op struct {
	Kind        OpKind `json:"op"`
	Path        string `json:"path"`
	Value       any    `json:"value,omitempty"`
	Index       int    `json:"index,omitempty"`
	RemoveCount int    `json:"removeCount,omitempty"`
	Items       []any  `json:"items,omitempty"`
}

// Delta describes how state moved from BaseVersion to ResultVersion.
// It is only meaningful relative to the exact base it was computed from.
type Delta struct {
	BaseVersion   uint64 `json:"baseVersion"`
	ResultVersion uint64 `json:"resultVersion"`
	Ops           []Op   `json:"ops"`
}

// Snapshot pairs a state tree with the version it represents.
type Snapshot struct {
	Version uint64
	Data    map[string]any
}

// VersionMismatchError signals that a delta was applied against the wrong
// base; the caller must fall back to a full sync.
type VersionMismatchError struct {
	Base uint64
	Have uint64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("delta base version %d does not match snapshot version %d", e.Base, e.Have)
}

// ErrSpliceConflict rejects deltas with two spliceArray ops on one path;
// index shifts would make application order ambiguous.
var ErrSpliceConflict = fmt.Errorf("delta: multiple spliceArray ops on the same path")

// Diff computes the minimal op list turning before into after. The result
// carries (base, base+1) as its version pair.
func Diff(before, after map[string]any, base uint64) (Delta, error) {
	var ops []Op
	diffMap("", before, after, &ops)
	d := Delta{BaseVersion: base, ResultVersion: base + 1, Ops: ops}
	if err := d.Validate(); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// Validate rejects op lists no well-formed diff produces. Both ends of the
// codec enforce it: Diff before emitting, Apply before replaying.
func (d Delta) Validate() error {
	splicePaths := map[string]struct{}{}
	for _, op := range d.Ops {
		if op.Kind != OpSplice {
			continue
		}
		if _, dup := splicePaths[op.Path]; dup {
			return ErrSpliceConflict
		}
		splicePaths[op.Path] = struct{}{}
	}
	return nil
}

func diffMap(prefix string, before, after map[string]any, ops *[]Op) {
	for _, k := range sortedKeys(before) {
		if _, ok := after[k]; !ok {
			*ops = append(*ops, Op{Kind: OpDelete, Path: joinPath(prefix, k)})
		}
	}
	for _, k := range sortedKeys(after) {
		bv, had := before[k]
		av := after[k]
		if !had {
			*ops = append(*ops, Op{Kind: OpSet, Path: joinPath(prefix, k), Value: av})
			continue
		}
		diffValue(joinPath(prefix, k), bv, av, ops)
	}
}

func diffValue(path string, before, after any, ops *[]Op) {
	if reflect.DeepEqual(before, after) {
		return
	}
	switch b := before.(type) {
	case map[string]any:
		if a, ok := after.(map[string]any); ok {
			diffMap(path, b, a, ops)
			return
		}
	case []any:
		if a, ok := after.([]any); ok {
			diffSlice(path, b, a, ops)
			return
		}
	}
	// Shape changed or primitive changed: replace wholesale.
	*ops = append(*ops, Op{Kind: OpSet, Path: path, Value: after})
}

func diffSlice(path string, before, after []any, ops *[]Op) {
	switch {
	case len(before) == len(after):
		for i := range after {
			diffValue(joinPath(path, strconv.Itoa(i)), before[i], after[i], ops)
		}
	case len(after) > len(before) && equalPrefix(before, after, len(before)):
		for _, item := range after[len(before):] {
			*ops = append(*ops, Op{Kind: OpAppend, Path: path, Value: item})
		}
	default:
		// One splice replacing the differing window between the common
		// prefix and the common suffix.
		p := commonPrefix(before, after)
		s := commonSuffix(before, after, p)
		items := append([]any(nil), after[p:len(after)-s]...)
		*ops = append(*ops, Op{
			Kind:        OpSplice,
			Path:        path,
			Index:       p,
			RemoveCount: len(before) - p - s,
			Items:       items,
		})
	}
}

// Apply replays d onto s, returning the resulting snapshot. The input
// snapshot is never mutated. Ops are applied strictly in list order.
func Apply(s Snapshot, d Delta) (Snapshot, error) {
	if d.BaseVersion != s.Version {
		return Snapshot{}, &VersionMismatchError{Base: d.BaseVersion, Have: s.Version}
	}
	if err := d.Validate(); err != nil {
		return Snapshot{}, err
	}
	data, _ := deepCopy(s.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	for _, op := range d.Ops {
		if err := applyOp(data, op); err != nil {
			return Snapshot{}, fmt.Errorf("apply %s %s: %w", op.Kind, op.Path, err)
		}
	}
	return Snapshot{Version: d.ResultVersion, Data: data}, nil
}

func applyOp(root map[string]any, op Op) error {
	segs := strings.Split(op.Path, "/")
	if op.Path == "" || len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	parent, leaf, err := walkToParent(root, segs)
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpSet:
		return setChild(parent, leaf, deepCopy(op.Value))
	case OpDelete:
		m, ok := parent.(map[string]any)
		if !ok {
			return fmt.Errorf("delete target parent is not an object")
		}
		delete(m, leaf)
		return nil
	case OpAppend:
		arr, err := childSlice(parent, leaf)
		if err != nil {
			return err
		}
		return setChild(parent, leaf, append(arr, deepCopy(op.Value)))
	case OpSplice:
		arr, err := childSlice(parent, leaf)
		if err != nil {
			return err
		}
		if op.Index < 0 || op.RemoveCount < 0 || op.Index+op.RemoveCount > len(arr) {
			return fmt.Errorf("splice [%d,+%d) out of range for len %d", op.Index, op.RemoveCount, len(arr))
		}
		next := make([]any, 0, len(arr)-op.RemoveCount+len(op.Items))
		next = append(next, arr[:op.Index]...)
		for _, item := range op.Items {
			next = append(next, deepCopy(item))
		}
		next = append(next, arr[op.Index+op.RemoveCount:]...)
		return setChild(parent, leaf, next)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

// walkToParent resolves all but the last segment, creating intermediate
// objects for set ops on previously absent paths.
func walkToParent(root map[string]any, segs []string) (parent any, leaf string, err error) {
	parent = root
	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		switch node := parent.(type) {
		case map[string]any:
			child, ok := node[seg]
			if !ok {
				next := map[string]any{}
				node[seg] = next
				parent = next
				continue
			}
			parent = child
		case []any:
			idx, convErr := strconv.Atoi(seg)
			if convErr != nil || idx < 0 || idx >= len(node) {
				return nil, "", fmt.Errorf("bad array index %q", seg)
			}
			parent = node[idx]
		default:
			return nil, "", fmt.Errorf("cannot descend into %T at %q", parent, seg)
		}
	}
	return parent, segs[len(segs)-1], nil
}

func setChild(parent any, leaf string, v any) error {
	switch node := parent.(type) {
	case map[string]any:
		node[leaf] = v
		return nil
	case []any:
		idx, err := strconv.Atoi(leaf)
		if err != nil || idx < 0 || idx >= len(node) {
			return fmt.Errorf("bad array index %q", leaf)
		}
		node[idx] = v
		return nil
	default:
		return fmt.Errorf("cannot set child of %T", parent)
	}
}

func childSlice(parent any, leaf string) ([]any, error) {
	switch node := parent.(type) {
	case map[string]any:
		child, ok := node[leaf]
		if !ok {
			return nil, nil
		}
		arr, ok := child.([]any)
		if !ok {
			return nil, fmt.Errorf("target %q is not an array", leaf)
		}
		return arr, nil
	case []any:
		idx, err := strconv.Atoi(leaf)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, fmt.Errorf("bad array index %q", leaf)
		}
		arr, ok := node[idx].([]any)
		if !ok {
			return nil, fmt.Errorf("target index %q is not an array", leaf)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("cannot index %T", parent)
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}

// Copy returns a deep copy of a state tree. Exposed for callers that hand
// snapshots to concurrent consumers.
func Copy(data map[string]any) map[string]any {
	out, _ := deepCopy(data).(map[string]any)
	return out
}

func equalPrefix(a, b []any, n int) bool {
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func commonPrefix(a, b []any) int {
	n := 0
	for n < len(a) && n < len(b) && reflect.DeepEqual(a[n], b[n]) {
		n++
	}
	return n
}

func commonSuffix(a, b []any, prefix int) int {
	n := 0
	for n < len(a)-prefix && n < len(b)-prefix &&
		reflect.DeepEqual(a[len(a)-1-n], b[len(b)-1-n]) {
		n++
	}
	return n
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
