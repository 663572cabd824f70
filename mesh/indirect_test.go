package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/mac"
)

type frameChangeRequest struct {
	change mac.FrameChange
	child  *Child
}

type mockFrameChanger struct {
	sender   *IndirectSender
	auto     bool
	requests []frameChangeRequest
}

func (m *mockFrameChanger) RequestFrameChange(change mac.FrameChange, child *Child) {
	m.requests = append(m.requests, frameChangeRequest{change, child})
	if m.auto {
		m.sender.HandleFrameChangeDone(child)
	}
}

type mockFilter struct {
	short map[defn.Rloc16]bool
	ext   map[mac.ExtAddress]bool
	log   []string
}

func newMockFilter() *mockFilter {
	return &mockFilter{short: map[defn.Rloc16]bool{}, ext: map[mac.ExtAddress]bool{}}
}

func (m *mockFilter) EnableSrcMatch(enable bool) {}

func (m *mockFilter) AddSrcMatchShort(rloc16 defn.Rloc16) error {
	m.short[rloc16] = true
	m.log = append(m.log, "add-short")
	return nil
}

func (m *mockFilter) AddSrcMatchExtended(ext mac.ExtAddress) error {
	m.ext[ext] = true
	m.log = append(m.log, "add-ext")
	return nil
}

func (m *mockFilter) ClearSrcMatchShort(rloc16 defn.Rloc16) {
	delete(m.short, rloc16)
	m.log = append(m.log, "clear-short")
}

func (m *mockFilter) ClearSrcMatchExtended(ext mac.ExtAddress) {
	delete(m.ext, ext)
	m.log = append(m.log, "clear-ext")
}

type indirectFixture struct {
	queue  *SendQueue
	table  *Table
	filter *mockFilter
	fc     *mockFrameChanger
	sender *IndirectSender
	child  *Child
}

func newIndirectFixture(t *testing.T, auto bool) *indirectFixture {
	t.Helper()

	f := &indirectFixture{
		queue:  NewSendQueue(),
		table:  NewTable(8),
		filter: newMockFilter(),
		fc:     &mockFrameChanger{auto: auto},
	}
	f.sender = NewIndirectSender(f.queue, f.table, NewSourceMatchController(f.filter), f.fc)
	f.fc.sender = f.sender
	f.sender.Start()

	child, err := f.table.Add(0x0401, mac.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	child.SetRxOnWhenIdle(false)
	f.child = child
	return f
}

func (f *indirectFixture) enqueue(msg *Message) {
	f.queue.Enqueue(msg)
	f.sender.EnqueueMessage(msg, f.child)
}

// messageCount invariant: a child's count equals the number of queued
// messages carrying its bit.
func (f *indirectFixture) assertCountInvariant(t *testing.T) {
	t.Helper()

	count := 0
	f.queue.ForEach(func(msg *Message) bool {
		if msg.ChildMaskHas(f.child.Index()) {
			count++
		}
		return true
	})
	assert.Equal(t, count, f.child.IndirectMessageCount())
}

func ip6Message(n int) *Message {
	return NewMessage(MessageTypeIp6, make([]byte, n))
}

func TestEnqueueAndSendSingleFrame(t *testing.T) {
	f := newIndirectFixture(t, true)

	var txErr error
	done := false
	m1 := ip6Message(40)
	m1.SetTxCallback(func(err error) { txErr = err; done = true })

	f.enqueue(m1)
	assert.Same(t, m1, f.child.IndirectMessage())
	f.assertCountInvariant(t)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	assert.Equal(t, m1.Data, frame.Payload)
	assert.True(t, frame.AckRequest)
	assert.False(t, frame.FramePending)
	assert.Equal(t, uint16(40), ctx.MessageNextOffset)

	f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)

	assert.True(t, done)
	assert.NoError(t, txErr)
	assert.Nil(t, f.child.IndirectMessage())
	assert.Zero(t, f.queue.Len(), "message must leave the queue after its last child bit clears")
	assert.Zero(t, f.child.IndirectMessageCount())
	f.assertCountInvariant(t)
}

func TestReplaceFrameAtOffsetZero(t *testing.T) {
	f := newIndirectFixture(t, false)

	m1 := ip6Message(40)
	f.enqueue(m1)
	require.Same(t, m1, f.child.IndirectMessage())
	require.Empty(t, f.fc.requests)

	// A higher-priority message goes ahead of m1 in the queue; the
	// child's fragment offset is still zero, so the prepared frame
	// can be replaced.
	m2 := ip6Message(30)
	m2.Priority = PriorityHigh
	f.enqueue(m2)

	require.Len(t, f.fc.requests, 1)
	assert.Equal(t, mac.ReplaceFrame, f.fc.requests[0].change)
	assert.True(t, f.child.IsWaitingForMessageUpdate())
	assert.Same(t, m1, f.child.IndirectMessage(), "switch only commits after the MAC callback")

	f.sender.HandleFrameChangeDone(f.child)
	assert.Same(t, m2, f.child.IndirectMessage())
	assert.False(t, f.child.IsWaitingForMessageUpdate())
	f.assertCountInvariant(t)
}

func TestNoReplaceMidMessage(t *testing.T) {
	f := newIndirectFixture(t, false)

	m1 := ip6Message(200)
	f.enqueue(m1)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	assert.Equal(t, uint16(mac.MaxFramePayload), ctx.MessageNextOffset)
	assert.True(t, frame.FramePending, "more fragments pending")
	f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)
	require.Equal(t, uint16(mac.MaxFramePayload), f.child.IndirectFragmentOffset())

	// Mid-message, a new message must wait for m1 to finish.
	m2 := ip6Message(30)
	m2.Priority = PriorityHigh
	f.enqueue(m2)
	assert.Empty(t, f.fc.requests)
	assert.Same(t, m1, f.child.IndirectMessage())

	// Deliver the remaining fragments.
	for f.child.IndirectMessage() == m1 {
		require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
		f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)
	}

	assert.Same(t, m2, f.child.IndirectMessage())
	f.assertCountInvariant(t)
}

func TestSupervisionEviction(t *testing.T) {
	f := newIndirectFixture(t, true)

	supervision := NewMessage(MessageTypeSupervision, nil)
	f.enqueue(supervision)
	require.Same(t, supervision, f.child.IndirectMessage())

	m1 := ip6Message(20)
	f.enqueue(m1)

	assert.False(t, f.queue.Contains(supervision), "supervision placeholder evicted")
	assert.Same(t, m1, f.child.IndirectMessage())
	assert.Equal(t, 1, f.child.IndirectMessageCount())
	f.assertCountInvariant(t)
}

func TestChildModeChangePromotesToDirect(t *testing.T) {
	f := newIndirectFixture(t, true)

	m1 := ip6Message(20)
	f.enqueue(m1)

	f.child.SetRxOnWhenIdle(true)
	f.sender.HandleChildModeChange(f.child, false)

	assert.True(t, m1.DirectTx)
	assert.False(t, m1.ChildMaskHas(f.child.Index()))
	assert.True(t, f.queue.Contains(m1), "message stays queued for direct tx")
	assert.Nil(t, f.child.IndirectMessage())
	assert.Zero(t, f.child.IndirectMessageCount())

	purges := 0
	for _, r := range f.fc.requests {
		if r.change == mac.PurgeFrame {
			purges++
		}
	}
	assert.Equal(t, 1, purges)
}

func TestFragmentFailureDropsRemainder(t *testing.T) {
	f := newIndirectFixture(t, true)

	var txErr error
	m1 := ip6Message(200)
	m1.SetTxCallback(func(err error) { txErr = err })
	f.enqueue(m1)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	f.sender.HandleSentFrame(&frame, &ctx, defn.ErrNoAck, f.child)

	assert.ErrorIs(t, txErr, defn.ErrNoAck)
	assert.Nil(t, f.child.IndirectMessage())
	assert.Zero(t, f.queue.Len())
	f.assertCountInvariant(t)
}

func TestFragmentFailureKeepsRemainder(t *testing.T) {
	f := newIndirectFixture(t, true)
	f.sender.dropOnFragmentFailure = false

	var txErr error
	m1 := ip6Message(150)
	m1.SetTxCallback(func(err error) { txErr = err })
	f.enqueue(m1)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	f.sender.HandleSentFrame(&frame, &ctx, defn.ErrNoAck, f.child)

	// The message keeps going from the next fragment.
	require.Same(t, m1, f.child.IndirectMessage())
	assert.Equal(t, uint16(mac.MaxFramePayload), f.child.IndirectFragmentOffset())

	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)

	// Last fragment succeeded but the message tx failed as a whole.
	assert.ErrorIs(t, txErr, defn.ErrFailed)
	assert.Nil(t, f.child.IndirectMessage())
}

func TestEmptyFrameWhenNothingPending(t *testing.T) {
	f := newIndirectFixture(t, true)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	assert.True(t, frame.IsEmpty())
	assert.True(t, frame.AckRequest)
	assert.Zero(t, ctx.MessageNextOffset)

	// The sent callback for the empty frame touches nothing.
	m1 := ip6Message(20)
	f.enqueue(m1)
	f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)
	assert.Same(t, m1, f.child.IndirectMessage())
	f.assertCountInvariant(t)
}

func TestSourceMatchSwitchesToShort(t *testing.T) {
	f := newIndirectFixture(t, true)

	m1 := ip6Message(20)
	f.enqueue(m1)
	assert.True(t, f.filter.ext[f.child.ExtAddress()], "extended match while first tx pending")
	assert.False(t, f.child.IsIndirectSourceMatchShort())

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, f.child))
	f.sender.HandleSentFrame(&frame, &ctx, nil, f.child)

	assert.True(t, f.child.IsIndirectSourceMatchShort())
	assert.Contains(t, f.filter.log, "add-short")
	assert.Empty(t, f.filter.short, "entry cleared once nothing is pending")
	assert.Empty(t, f.filter.ext)
}

func TestClearAllMessages(t *testing.T) {
	f := newIndirectFixture(t, true)

	m1 := ip6Message(20)
	m2 := ip6Message(30)
	f.enqueue(m1)
	f.enqueue(m2)
	require.Equal(t, 2, f.child.IndirectMessageCount())

	f.sender.ClearAllMessages(f.child)

	assert.Zero(t, f.child.IndirectMessageCount())
	assert.Nil(t, f.child.IndirectMessage())
	assert.Zero(t, f.queue.Len())
	f.assertCountInvariant(t)
}

func TestRemovedChildCleanup(t *testing.T) {
	f := newIndirectFixture(t, true)

	m1 := ip6Message(20)
	f.enqueue(m1)
	require.Equal(t, 1, f.child.IndirectMessageCount())

	other, err := f.table.Add(0x0402, mac.ExtAddress{8, 7, 6, 5, 4, 3, 2, 1})
	require.NoError(t, err)
	other.SetRxOnWhenIdle(false)

	// The child drops out of the table while a message is pending.
	f.child.SetState(ChildStateInvalid)

	var frame mac.TxFrame
	var ctx mac.FrameContext
	require.NoError(t, f.sender.PrepareFrame(&frame, &ctx, other))
	f.sender.HandleSentFrame(&frame, &ctx, nil, other)

	assert.Zero(t, f.child.IndirectMessageCount())
	assert.Zero(t, f.queue.Len())
}

func TestPrepareFrameWhileDisabled(t *testing.T) {
	f := newIndirectFixture(t, true)
	f.sender.Stop()

	var frame mac.TxFrame
	var ctx mac.FrameContext
	assert.ErrorIs(t, f.sender.PrepareFrame(&frame, &ctx, f.child), defn.ErrAbort)
}

func TestSendQueuePriorityOrder(t *testing.T) {
	q := NewSendQueue()

	low := NewMessage(MessageTypeIp6, nil)
	normal := NewMessage(MessageTypeIp6, nil)
	high := NewMessage(MessageTypeIp6, nil)
	low.Priority = PriorityLow
	high.Priority = PriorityHigh

	q.Enqueue(normal)
	q.Enqueue(low)
	q.Enqueue(high)

	var order []*Message
	q.ForEach(func(m *Message) bool { order = append(order, m); return true })
	assert.Equal(t, []*Message{high, normal, low}, order)
}
