package outbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"stockbroker/domain/event"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Entry --------------------

// Entry is one stored event with its delivery bookkeeping.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

// binary encoding:
// [state:1][retries:4][lastAttempt:8][keyLen:4][crc:4][key][payload]
// crc covers key and payload, which never change after Record.
const headerLen = 1 + 4 + 8 + 4 + 4

func encodeEntry(e Entry) []byte {
	buf := make([]byte, headerLen+len(e.Key)+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(e.Key)))
	copy(buf[headerLen:], e.Key)
	copy(buf[headerLen+len(e.Key):], e.Payload)
	binary.BigEndian.PutUint32(buf[17:21], checksum(buf[headerLen:]))
	return buf
}

func decodeEntry(seq uint64, b []byte) (Entry, error) {
	if len(b) < headerLen {
		return Entry{}, errors.Newf("outbox: record %d too short (%d bytes)", seq, len(b))
	}
	keyLen := int(binary.BigEndian.Uint32(b[13:17]))
	if len(b) < headerLen+keyLen {
		return Entry{}, errors.Newf("outbox: record %d key overruns value", seq)
	}
	if !validChecksum(b[headerLen:], binary.BigEndian.Uint32(b[17:21])) {
		return Entry{}, errors.Wrapf(ErrCorrupt, "record %d", seq)
	}
	e := Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}
	// pebble owns b only until the iterator moves or the closer runs.
	rest := append([]byte(nil), b[headerLen:]...)
	if keyLen > 0 {
		e.Key = rest[:keyLen]
	}
	e.Payload = rest[keyLen:]
	return e, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db  *pebble.DB
	now func() time.Time

	mu  sync.Mutex
	hwm uint64 // highest sequence ever recorded; survives purges
}

// Open opens (or creates) an on-disk outbox in dir.
func Open(dir string) (*Outbox, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens an outbox backed by an in-memory filesystem.
// Nothing survives Close.
func OpenInMemory() (*Outbox, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Outbox, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "outbox: open %q", dir)
	}
	o := &Outbox{db: db, now: time.Now}

	if o.hwm, err = o.readHighWater(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := o.requeueSent(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- API --------------------

// Record stores ev as a NEW entry. It satisfies the broker's journal.
func (o *Outbox) Record(_ context.Context, ev event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	e := Entry{Seq: ev.Seq, State: StateNew, Key: ev.Key(), Payload: payload}

	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(e.Seq), encodeEntry(e), nil); err != nil {
		return err
	}
	if e.Seq > o.hwm {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], e.Seq)
		if err := b.Set([]byte(highWaterKey), buf[:], nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "outbox: record %d", e.Seq)
	}
	if e.Seq > o.hwm {
		o.hwm = e.Seq
	}
	return nil
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, StateSent, false)
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, StateAcked, false)
}

// MarkFailed records a failed attempt and bumps the retry counter.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.transition(seq, StateFailed, true)
}

// Get returns the entry for seq.
func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
		}
		return Entry{}, err
	}
	defer closer.Close()

	return decodeEntry(seq, val)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// ErrNotFound is returned for sequences that are not in the outbox.
var ErrNotFound = errors.New("outbox: entry not found")

// ErrCorrupt is returned when a stored key or payload fails its checksum.
var ErrCorrupt = errors.New("outbox: checksum mismatch")

func (o *Outbox) transition(seq uint64, to State, failed bool) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = to
	e.LastAttempt = o.now().UnixNano()
	if failed {
		e.Retries++
	}
	return o.put(e)
}

func (o *Outbox) put(e Entry) error {
	return o.db.Set(keyFor(e.Seq), encodeEntry(e), pebble.Sync)
}

// -------------------- Scan --------------------

// Scan visits entries in sequence order whose state is one of states
// (all entries when states is empty). Returning an error from fn stops
// the scan.
func (o *Outbox) Scan(fn func(Entry) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(seq, iter.Value())
		if err != nil {
			return err
		}
		if !matches(e.State, states) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Pending returns up to limit entries that still need publishing: NEW
// entries plus FAILED ones with fewer than maxRetries attempts.
func (o *Outbox) Pending(limit int, maxRetries uint32) ([]Entry, error) {
	var out []Entry
	errStop := errors.New("stop")

	err := o.Scan(func(e Entry) error {
		if e.State == StateFailed && e.Retries >= maxRetries {
			return nil
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	}, StateNew, StateFailed)
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// PurgeAcked deletes every ACKED entry and reports how many went.
func (o *Outbox) PurgeAcked() (int, error) {
	var seqs []uint64
	if err := o.Scan(func(e Entry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}, StateAcked); err != nil {
		return 0, err
	}

	if len(seqs) == 0 {
		return 0, nil
	}
	b := o.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return len(seqs), nil
}

// LastSeq returns the highest sequence ever recorded, or zero for a new
// outbox. Purged entries still count, so the broker never reuses a
// sequence after restart.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	o.mu.Lock()
	last := o.hwm
	o.mu.Unlock()

	if !iter.Last() {
		return last, iter.Error()
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, err
	}
	return max(last, seq), nil
}

func (o *Outbox) readHighWater() (uint64, error) {
	val, closer, err := o.db.Get([]byte(highWaterKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "outbox: read high water mark")
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, errors.Wrapf(ErrCorrupt, "high water mark is %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// requeueSent moves entries left SENT by a process that stopped between
// publishing and acking back to NEW, so they are published again.
func (o *Outbox) requeueSent() (int, error) {
	var stuck []Entry
	if err := o.Scan(func(e Entry) error {
		stuck = append(stuck, e)
		return nil
	}, StateSent); err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, e := range stuck {
		e.State = StateNew
		if err := b.Set(keyFor(e.Seq), encodeEntry(e), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "outbox: requeue sent entries")
	}
	return len(stuck), nil
}

// -------------------- Helpers --------------------

const (
	keyPrefix    = "event/"
	highWaterKey = "meta/high_water"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	if len(b) <= len(keyPrefix) {
		return 0, errors.Newf("outbox: malformed key %q", b)
	}
	seq, err := strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "outbox: malformed key %q", b)
	}
	return seq, nil
}

func matches(s State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}
