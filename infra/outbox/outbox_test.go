package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbroker/domain/event"
	"stockbroker/domain/order"
)

func openTest(t *testing.T) *Outbox {
	t.Helper()
	o, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func placed(t *testing.T, seq uint64, id order.ID) event.Event {
	t.Helper()
	ord, err := order.New(id, order.Request{
		Stock: order.StockRef{ID: 101, Price: 2500, Name: "Infosys"},
	}, time.Now())
	require.NoError(t, err)
	return event.Event{Seq: seq, Type: event.Placed, Order: ord.View(), At: time.Now()}
}

func TestOutbox_RecordAndGet(t *testing.T) {
	o := openTest(t)
	ev := placed(t, 1, 7)
	require.NoError(t, o.Record(context.Background(), ev))

	e, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateNew, e.State)
	assert.Zero(t, e.Retries)
	assert.Equal(t, ev.Key(), e.Key)

	decoded, err := event.Unmarshal(e.Payload)
	require.NoError(t, err)
	assert.Equal(t, order.ID(7), decoded.Order.ID)
}

func TestOutbox_GetMissing(t *testing.T) {
	o := openTest(t)
	_, err := o.Get(42)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(o.MarkSent(42), ErrNotFound))
}

func TestOutbox_Transitions(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Record(context.Background(), placed(t, 1, 1)))

	require.NoError(t, o.MarkSent(1))
	require.NoError(t, o.MarkFailed(1))
	require.NoError(t, o.MarkFailed(1))

	e, err := o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, uint32(2), e.Retries)
	assert.NotZero(t, e.LastAttempt)
	assert.NotEmpty(t, e.Payload, "payload survives transitions")

	require.NoError(t, o.MarkAcked(1))
	e, err = o.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, e.State)
	assert.Equal(t, uint32(2), e.Retries)
}

func TestOutbox_Pending(t *testing.T) {
	o := openTest(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, o.Record(ctx, placed(t, seq, order.ID(seq))))
	}
	require.NoError(t, o.MarkAcked(1))
	require.NoError(t, o.MarkSent(2))
	require.NoError(t, o.MarkFailed(3))
	for i := 0; i < 3; i++ {
		require.NoError(t, o.MarkFailed(4))
	}

	pending, err := o.Pending(0, 3)
	require.NoError(t, err)
	var seqs []uint64
	for _, e := range pending {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{3, 5}, seqs, "acked, in-flight and exhausted entries are skipped")

	limited, err := o.Pending(1, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOutbox_PurgeAcked(t *testing.T) {
	o := openTest(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, o.Record(ctx, placed(t, seq, order.ID(seq))))
	}
	require.NoError(t, o.MarkAcked(1))
	require.NoError(t, o.MarkAcked(3))

	n, err := o.PurgeAcked()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var left []uint64
	require.NoError(t, o.Scan(func(e Entry) error {
		left = append(left, e.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{2}, left)

	n, err = o.PurgeAcked()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutbox_LastSeq(t *testing.T) {
	o := openTest(t)
	last, err := o.LastSeq()
	require.NoError(t, err)
	assert.Zero(t, last)

	ctx := context.Background()
	for _, seq := range []uint64{9, 2, 120} {
		require.NoError(t, o.Record(ctx, placed(t, seq, 1)))
	}
	last, err = o.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(120), last)
}

func TestOutbox_ReopenOnDisk(t *testing.T) {
	dir := t.TempDir()

	o, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, o.Record(context.Background(), placed(t, 3, 3)))
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()

	e, err := o.Get(3)
	require.NoError(t, err)
	assert.Equal(t, StateNew, e.State)
}

func TestEntryCodec_Truncated(t *testing.T) {
	_, err := decodeEntry(1, []byte{1, 2})
	assert.Error(t, err)

	b := encodeEntry(Entry{State: StateSent, Key: []byte("k"), Payload: []byte("p")})
	_, err = decodeEntry(1, b[:headerLen])
	assert.Error(t, err)

	e, err := decodeEntry(1, b)
	require.NoError(t, err)
	assert.Equal(t, "k", string(e.Key))
	assert.Equal(t, "p", string(e.Payload))
}

func TestEntryCodec_Checksum(t *testing.T) {
	b := encodeEntry(Entry{State: StateNew, Key: []byte("INFY/1"), Payload: []byte("payload")})

	// state changes rewrite the header only, so the checksum still holds.
	b[0] = byte(StateAcked)
	e, err := decodeEntry(7, b)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, e.State)

	b[len(b)-1] ^= 0xff
	_, err = decodeEntry(7, b)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOutbox_RequeuesSentOnReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	o, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, o.Record(ctx, placed(t, 1, 1)))
	require.NoError(t, o.Record(ctx, placed(t, 2, 2)))
	require.NoError(t, o.MarkSent(1))
	require.NoError(t, o.MarkFailed(2))
	require.NoError(t, o.MarkSent(2))
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()

	pending, err := o.Pending(10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1), pending[0].Seq)
	assert.Equal(t, StateNew, pending[0].State)
	assert.Equal(t, uint32(1), pending[1].Retries, "retry count survives the requeue")
}

func TestOutbox_LastSeqSurvivesPurge(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	o, err := Open(dir)
	require.NoError(t, err)
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, o.Record(ctx, placed(t, seq, order.ID(seq))))
		require.NoError(t, o.MarkAcked(seq))
	}
	n, err := o.PurgeAcked()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	last, err := o.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()

	last, err = o.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)

	var left int
	require.NoError(t, o.Scan(func(Entry) error { left++; return nil }))
	assert.Zero(t, left, "the high water mark is not an entry")
}
