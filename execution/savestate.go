package execution

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"
	"sync"

	"github.com/cosimio/cosim-go/blob"
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/wrapper"
)

// savedState is one save_state handle's payload: the scheduler's own
// bookkeeping plus, for every slave that supports it, a per-slave
// state handle still held open on that slave's backend. digest is
// blob.Digest(algorithm) as of the moment the handle was created; it
// catches a handle whose algorithm tree was silently replaced or
// corrupted (e.g. by accidental reuse of the handle's storage) before
// RestoreState or ExportStateBytes acts on stale data.
type savedState struct {
	algorithm blob.Node
	slaves    map[wrapper.SimulatorIndex]int
	digest    [32]byte
}

// stateTable hands out monotonically increasing, never-reused
// save_state handles. The zero value is not ready to use; construct
// with newStateTable.
type stateTable struct {
	mu      sync.Mutex
	next    int
	entries map[int]*savedState
}

func newStateTable() *stateTable {
	return &stateTable{entries: make(map[int]*savedState)}
}

func (t *stateTable) store(s *savedState) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.entries[h] = s
	return h
}

func (t *stateTable) get(handle int) (*savedState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[handle]
	return s, ok
}

func (t *stateTable) remove(handle int) (*savedState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	return s, ok
}

// SaveState asks every slave that declares can_save_state to save its
// current internal state, asks the scheduler to export its own
// bookkeeping, and packs both into a new handle. A slave lacking the
// capability is silently skipped, matching spec.md's "optional,
// guarded by can_save_state" framing rather than failing the whole
// call over one opted-out slave.
func (e *Execution) SaveState() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slaves := make(map[wrapper.SimulatorIndex]int)
	for idx, w := range e.wrappers {
		if !w.Description().Capabilities.CanSaveState {
			continue
		}
		h, err := w.SaveState()
		if err != nil {
			for doneIdx, doneH := range slaves {
				e.wrappers[doneIdx].ReleaseState(doneH)
			}
			return 0, err
		}
		slaves[idx] = h
	}

	algNode := e.alg.ExportCurrentState()
	handle := e.states.store(&savedState{
		algorithm: algNode,
		slaves:    slaves,
		digest:    blob.Digest(algNode),
	})
	return handle, nil
}

// RestoreState replaces every participating slave's internal state and
// the scheduler's own bookkeeping with the snapshot captured under
// handle, then notifies every observer via StateRestored. An observer
// that cannot rebuild its own bookkeeping from observable state must
// fail with cosimerr.UnsupportedFeature, which aborts the restore.
func (e *Execution) RestoreState(handle int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states.get(handle)
	if !ok {
		return cosimerr.New(cosimerr.StateIndexInvalid, "restore_state: handle %d not known", handle)
	}
	if got := blob.Digest(st.algorithm); got != st.digest {
		return cosimerr.New(cosimerr.StateIndexInvalid, "restore_state: handle %d algorithm state digest mismatch (handle reused or corrupted)", handle)
	}
	for idx, h := range st.slaves {
		w, ok := e.wrappers[idx]
		if !ok {
			continue
		}
		if err := w.RestoreState(h); err != nil {
			return err
		}
	}
	if err := e.alg.ImportState(st.algorithm); err != nil {
		return err
	}
	if err := e.observers.StateRestored(handle); err != nil {
		e.log.Printf("cosim[%s]: restore_state(%d): observer could not rebuild state: %v", e.sessionID, handle, err)
		return err
	}
	return nil
}

// ReleaseState discards the snapshot captured under handle, releasing
// every per-slave state handle it still holds open. handle may not be
// passed to RestoreState again afterward.
func (e *Execution) ReleaseState(handle int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states.remove(handle)
	if !ok {
		return cosimerr.New(cosimerr.StateIndexInvalid, "release_state: handle %d not known", handle)
	}
	var errs []error
	for idx, h := range st.slaves {
		if w, ok := e.wrappers[idx]; ok {
			if err := w.ReleaseState(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return cosimerr.Join(cosimerr.StateIndexInvalid, "release_state", errs...)
}

// ExportStateBytes serializes the snapshot captured under handle (the
// scheduler's payload plus every participating slave's exported state
// tree) into a single zstd-compressed byte string a caller can persist
// outside the process. It fails with cosimerr.UnsupportedFeature if any
// participating slave does not implement slave.StateSaver. Slaves
// without can_save_state never participate: SaveState skips them.
func (e *Execution) ExportStateBytes(handle int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states.get(handle)
	if !ok {
		return nil, cosimerr.New(cosimerr.StateIndexInvalid, "export_state: handle %d not known", handle)
	}
	if got := blob.Digest(st.algorithm); got != st.digest {
		return nil, cosimerr.New(cosimerr.StateIndexInvalid, "export_state: handle %d algorithm state digest mismatch (handle reused or corrupted)", handle)
	}

	slaveNodes := make(map[string]blob.Node, len(st.slaves))
	for idx, h := range st.slaves {
		w, ok := e.wrappers[idx]
		if !ok {
			continue
		}
		node, err := w.ExportState(h)
		if err != nil {
			return nil, err
		}
		slaveNodes[simulatorKey(idx)] = node
	}

	tree := blob.Map(map[string]blob.Node{
		"algorithm": st.algorithm,
		"slaves":    blob.Map(slaveNodes),
	})

	digest := blob.Digest(tree)
	var buf bytes.Buffer
	buf.Write(digest[:])
	encodeNode(&buf, tree)
	return compressState(buf.Bytes()), nil
}

// ImportStateBytes reverses ExportStateBytes: it decompresses data,
// decodes the state tree, asks every named slave (by SimulatorIndex) to
// import its own sub-tree, imports the scheduler payload, and stores
// the result under a new handle. Slaves present in data but no longer
// registered with this Execution are skipped; their state is simply
// not restorable if this handle is later passed to RestoreState.
func (e *Execution) ImportStateBytes(data []byte) (int, error) {
	raw, err := decompressState(data)
	if err != nil {
		return 0, cosimerr.Wrap(cosimerr.IoError, err, "import_state: decompressing")
	}
	if len(raw) < 32 {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: truncated payload")
	}
	var wantDigest [32]byte
	copy(wantDigest[:], raw[:32])
	r := bytes.NewReader(raw[32:])
	tree, err := decodeNode(r)
	if err != nil {
		return 0, cosimerr.Wrap(cosimerr.IoError, err, "import_state: decoding")
	}
	if got := blob.Digest(tree); got != wantDigest {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: state tree digest mismatch (handle reused or data corrupted)")
	}
	fields, ok := tree.Fields()
	if !ok {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: expected a map node at the root")
	}
	algNode, ok := fields["algorithm"]
	if !ok {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: missing algorithm payload")
	}
	slaveTree, ok := fields["slaves"]
	if !ok {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: missing slaves payload")
	}
	slaveFields, ok := slaveTree.Fields()
	if !ok {
		return 0, cosimerr.New(cosimerr.IoError, "import_state: slaves payload is not a map")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	slaves := make(map[wrapper.SimulatorIndex]int, len(slaveFields))
	for key, node := range slaveFields {
		idx, ok := parseSimulatorKey(key)
		if !ok {
			continue
		}
		w, ok := e.wrappers[idx]
		if !ok {
			continue
		}
		h, err := w.ImportState(node)
		if err != nil {
			return 0, err
		}
		slaves[idx] = h
	}

	return e.states.store(&savedState{algorithm: algNode, slaves: slaves, digest: blob.Digest(algNode)}), nil
}

func simulatorKey(idx wrapper.SimulatorIndex) string {
	return strconv.FormatInt(int64(idx), 10)
}

func parseSimulatorKey(key string) (wrapper.SimulatorIndex, bool) {
	n, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		return 0, false
	}
	return wrapper.SimulatorIndex(n), true
}

// --- blob.Node <-> byte encoding ---
//
// This is a private, in-process wire format: it exists only so
// ExportStateBytes/ImportStateBytes have something concrete to
// zstd-compress, not as a format other tools are expected to read.
// Every composite node's child count is written before its children,
// and map keys are written in sorted order so two encodings of an
// Equal tree produce identical bytes.

func encodeNode(buf *bytes.Buffer, n blob.Node) {
	kind := n.Kind()
	buf.WriteByte(byte(kind))
	switch kind {
	case blob.KindBool:
		v, _ := n.Bool()
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case blob.KindByte, blob.KindUint8, blob.KindUint16, blob.KindUint32, blob.KindUint64:
		v, _ := n.Uint()
		binary.Write(buf, binary.LittleEndian, v)
	case blob.KindInt8, blob.KindInt16, blob.KindInt32, blob.KindInt64:
		v, _ := n.Int()
		binary.Write(buf, binary.LittleEndian, v)
	case blob.KindFloat32, blob.KindFloat64:
		v, _ := n.Float()
		binary.Write(buf, binary.LittleEndian, v)
	case blob.KindString:
		v, _ := n.String()
		writeBytes(buf, []byte(v))
	case blob.KindBytes:
		v, _ := n.BytesValue()
		writeBytes(buf, v)
	case blob.KindArray:
		els, _ := n.Elements()
		binary.Write(buf, binary.LittleEndian, uint32(len(els)))
		for _, el := range els {
			encodeNode(buf, el)
		}
	case blob.KindMap:
		fields, _ := n.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		binary.Write(buf, binary.LittleEndian, uint32(len(keys)))
		for _, k := range keys {
			writeBytes(buf, []byte(k))
			encodeNode(buf, fields[k])
		}
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

func decodeNode(r *bytes.Reader) (blob.Node, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return blob.Node{}, err
	}
	kind := blob.Kind(kindByte)
	switch kind {
	case blob.KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return blob.Node{}, err
		}
		return blob.Bool(b != 0), nil
	case blob.KindByte:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Byte(byte(v)), nil
	case blob.KindUint8:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Uint8(uint8(v)), nil
	case blob.KindUint16:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Uint16(uint16(v)), nil
	case blob.KindUint32:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Uint32(uint32(v)), nil
	case blob.KindUint64:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Uint64(v), nil
	case blob.KindInt8:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Int8(int8(v)), nil
	case blob.KindInt16:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Int16(int16(v)), nil
	case blob.KindInt32:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Int32(int32(v)), nil
	case blob.KindInt64:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Int64(v), nil
	case blob.KindFloat32:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Float32(float32(v)), nil
	case blob.KindFloat64:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return blob.Node{}, err
		}
		return blob.Float64(v), nil
	case blob.KindString:
		b, err := readBytes(r)
		if err != nil {
			return blob.Node{}, err
		}
		return blob.String(string(b)), nil
	case blob.KindBytes:
		b, err := readBytes(r)
		if err != nil {
			return blob.Node{}, err
		}
		return blob.Bytes(b), nil
	case blob.KindArray:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return blob.Node{}, err
		}
		children := make([]blob.Node, n)
		for i := range children {
			child, err := decodeNode(r)
			if err != nil {
				return blob.Node{}, err
			}
			children[i] = child
		}
		return blob.Array(children...), nil
	case blob.KindMap:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return blob.Node{}, err
		}
		fields := make(map[string]blob.Node, n)
		for i := uint32(0); i < n; i++ {
			keyBytes, err := readBytes(r)
			if err != nil {
				return blob.Node{}, err
			}
			child, err := decodeNode(r)
			if err != nil {
				return blob.Node{}, err
			}
			fields[string(keyBytes)] = child
		}
		return blob.Map(fields), nil
	default:
		return blob.Node{}, cosimerr.New(cosimerr.IoError, "state decode: unknown node kind %d", kindByte)
	}
}
