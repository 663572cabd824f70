package mesh

import (
	"errors"

	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/mac"
)

// FrameChanger is the MAC-side handler for frame-change requests. The
// MAC layer answers every request by calling the sender's
// HandleFrameChangeDone, possibly from within RequestFrameChange
// itself when it can act immediately.
type FrameChanger interface {
	RequestFrameChange(change mac.FrameChange, child *Child)
}

// IndirectSender queues messages for sleepy children and prepares the
// right frame whenever the MAC reports a data poll. All methods run
// on the event loop.
type IndirectSender struct {
	enabled bool

	queue        *SendQueue
	table        *Table
	sourceMatch  *SourceMatchController
	frameChanger FrameChanger
	csl          *CslScheduler

	dropOnFragmentFailure bool
}

func NewIndirectSender(queue *SendQueue, table *Table, sourceMatch *SourceMatchController,
	frameChanger FrameChanger) *IndirectSender {
	return &IndirectSender{
		queue:                 queue,
		table:                 table,
		sourceMatch:           sourceMatch,
		frameChanger:          frameChanger,
		dropOnFragmentFailure: core.C.Indirect.DropMessageOnFragmentFailure,
	}
}

func (s *IndirectSender) String() string {
	return "indirect-sender"
}

// SetCslScheduler attaches the optional CSL transmit scheduler.
func (s *IndirectSender) SetCslScheduler(csl *CslScheduler) {
	s.csl = csl
}

func (s *IndirectSender) Start() {
	s.enabled = true
}

// Stop drops all per-child indirect state.
func (s *IndirectSender) Stop() {
	if !s.enabled {
		return
	}

	s.table.Iterate(func(child *Child) {
		child.SetIndirectMessage(nil)
		s.sourceMatch.ResetMessageCount(child)
	})

	if s.csl != nil {
		s.csl.Clear()
	}

	s.enabled = false
}

// EnqueueMessage marks the queued message as pending for the sleepy
// child. A newly pending real message evicts an older supervision
// placeholder once the child has more than one message pending.
func (s *IndirectSender) EnqueueMessage(msg *Message, child *Child) {
	if child.IsRxOnWhenIdle() {
		core.Log.Warn(s, "Enqueue for rx-on child", "child", child)
		return
	}

	if msg.ChildMaskHas(child.Index()) {
		return
	}

	msg.ChildMaskAdd(child.Index())
	s.sourceMatch.IncrementMessageCount(child)

	if msg.Type != MessageTypeSupervision && child.IndirectMessageCount() > 1 {
		if supervision := s.findQueuedMessage(child, acceptSupervision); supervision != nil {
			_ = s.RemoveMessage(supervision, child)
			s.queue.RemoveIfNoPendingTx(supervision)
		}
	}

	s.requestMessageUpdate(child)
}

// RemoveMessage clears the child's pending bit on the message.
func (s *IndirectSender) RemoveMessage(msg *Message, child *Child) error {
	if !msg.ChildMaskHas(child.Index()) {
		return defn.ErrNotFound
	}

	msg.ChildMaskRemove(child.Index())
	s.sourceMatch.DecrementMessageCount(child)

	s.requestMessageUpdate(child)
	return nil
}

// ClearAllMessages drops every pending message for the child and
// purges any frame the MAC prepared.
func (s *IndirectSender) ClearAllMessages(child *Child) {
	if child.IndirectMessageCount() == 0 {
		return
	}

	s.queue.ForEach(func(msg *Message) bool {
		msg.ChildMaskRemove(child.Index())
		return true
	})
	s.pruneQueue()

	child.SetIndirectMessage(nil)
	s.sourceMatch.ResetMessageCount(child)

	s.frameChanger.RequestFrameChange(mac.PurgeFrame, child)
	if s.csl != nil {
		s.csl.Update()
	}
}

// HandleChildModeChange reacts to a device-mode update: a child that
// became rx-on gets its pending indirect messages promoted to direct
// transmission.
func (s *IndirectSender) HandleChildModeChange(child *Child, oldRxOnWhenIdle bool) {
	if !child.IsRxOnWhenIdle() && child.IsStateValid() {
		s.sourceMatch.SetSrcMatchAsShort(child, true)
	}

	if !oldRxOnWhenIdle && child.IsRxOnWhenIdle() && child.IndirectMessageCount() > 0 {
		s.queue.ForEach(func(msg *Message) bool {
			if msg.ChildMaskHas(child.Index()) {
				msg.ChildMaskRemove(child.Index())
				msg.DirectTx = true
			}
			return true
		})

		child.SetIndirectMessage(nil)
		s.sourceMatch.ResetMessageCount(child)

		s.frameChanger.RequestFrameChange(mac.PurgeFrame, child)
		if s.csl != nil {
			s.csl.Update()
		}
	}

	// A non-sleepy to sleepy transition leaves queued direct messages
	// as they are; direct queueing delays are short compared to
	// indirect ones.
}

func acceptAny(*Message) bool { return true }

func acceptSupervision(msg *Message) bool {
	return msg.Type == MessageTypeSupervision
}

func (s *IndirectSender) findQueuedMessage(child *Child, accept func(*Message) bool) *Message {
	var match *Message
	s.queue.ForEach(func(msg *Message) bool {
		if msg.ChildMaskHas(child.Index()) && accept(msg) {
			match = msg
			return false
		}
		return true
	})
	return match
}

// requestMessageUpdate reconciles the child's current message with
// the queue, driving the frame-change protocol with the MAC.
func (s *IndirectSender) requestMessageUpdate(child *Child) {
	cur := child.IndirectMessage()

	// Purge first if the current message is no longer destined for
	// the child; this covers a pending replace request whose message
	// was removed while waiting for the callback.
	if cur != nil && !cur.ChildMaskHas(child.Index()) {
		child.SetIndirectMessage(nil)

		child.SetWaitingForMessageUpdate(true)
		s.frameChanger.RequestFrameChange(mac.PurgeFrame, child)
		if s.csl != nil {
			s.csl.Update()
		}
		return
	}

	if child.IsWaitingForMessageUpdate() {
		return
	}

	next := s.findQueuedMessage(child, acceptAny)
	if cur == next {
		return
	}

	if cur == nil {
		// New indirect message where there was none.
		s.updateIndirectMessage(child)
		return
	}

	// Both current and new are set and differ. The current message
	// can only be replaced while its first fragment is outstanding;
	// otherwise wait for the whole message to finish.
	if child.IndirectFragmentOffset() != 0 {
		return
	}

	child.SetWaitingForMessageUpdate(true)
	s.frameChanger.RequestFrameChange(mac.ReplaceFrame, child)
	if s.csl != nil {
		s.csl.Update()
	}
}

// HandleFrameChangeDone is the MAC's completion callback for a
// requested frame change.
func (s *IndirectSender) HandleFrameChangeDone(child *Child) {
	if !child.IsWaitingForMessageUpdate() {
		return
	}
	s.updateIndirectMessage(child)
}

func (s *IndirectSender) updateIndirectMessage(child *Child) {
	msg := s.findQueuedMessage(child, acceptAny)

	child.SetWaitingForMessageUpdate(false)
	child.SetIndirectMessage(msg)
	child.SetIndirectFragmentOffset(0)
	child.SetIndirectTxSuccess(true)

	if s.csl != nil {
		s.csl.Update()
	}

	if msg != nil {
		core.Log.Debug(s, "Prepared next indirect message", "child", child, "dst", child.MacAddress())
	}
}

// PrepareFrame builds the frame to answer a data poll from the child:
// the next fragment of its current message, or an empty ack-requested
// frame when nothing is pending.
func (s *IndirectSender) PrepareFrame(frame *mac.TxFrame, ctx *mac.FrameContext, child *Child) error {
	if !s.enabled {
		return defn.ErrAbort
	}

	msg := child.IndirectMessage()
	if msg == nil {
		s.prepareEmptyFrame(frame, child, true)
		ctx.MessageNextOffset = 0
		return nil
	}

	switch msg.Type {
	case MessageTypeIp6:
		ctx.MessageNextOffset = s.prepareDataFrame(frame, child, msg)

	case MessageTypeSupervision:
		s.prepareEmptyFrame(frame, child, true)
		ctx.MessageNextOffset = msg.Length()

	default:
		return defn.ErrInvalidState
	}

	return nil
}

// prepareDataFrame fills in the fragment starting at the child's
// indirect offset and returns the offset after it.
func (s *IndirectSender) prepareDataFrame(frame *mac.TxFrame, child *Child, msg *Message) uint16 {
	offset := child.IndirectFragmentOffset()
	end := offset + mac.MaxFramePayload
	if end > msg.Length() {
		end = msg.Length()
	}

	frame.Reset()
	frame.DstAddr = child.MacAddress()
	frame.AckRequest = true
	frame.Payload = msg.Data[offset:end]

	// More fragments of this message, or more queued messages beyond
	// the one being sent, keep the child polling.
	if end < msg.Length() || child.IndirectMessageCount() > 1 {
		frame.FramePending = true
	}

	return end
}

func (s *IndirectSender) prepareEmptyFrame(frame *mac.TxFrame, child *Child, ackRequest bool) {
	frame.Reset()
	frame.DstAddr = child.MacAddress()
	frame.AckRequest = ackRequest
}

// HandleSentFrame is the MAC's transmit-done callback for a frame
// prepared by PrepareFrame.
func (s *IndirectSender) HandleSentFrame(frame *mac.TxFrame, ctx *mac.FrameContext, txErr error, child *Child) {
	if !s.enabled {
		return
	}

	msg := child.IndirectMessage()
	nextOffset := ctx.MessageNextOffset

	// A zero next offset marks the empty frame prepared when the
	// child had no pending message; nothing to account for, and any
	// message enqueued since must not be touched here.
	if nextOffset == 0 {
		s.clearMessagesForRemovedChildren()
		return
	}

	switch {
	case txErr == nil:

	case errors.Is(txErr, defn.ErrNoAck),
		errors.Is(txErr, defn.ErrChannelAccessFailure),
		errors.Is(txErr, defn.ErrAbort):

		child.SetIndirectTxSuccess(false)

		if s.dropOnFragmentFailure && msg != nil {
			// No point sending the remaining fragments once every tx
			// attempt of this frame failed.
			nextOffset = msg.Length()
		}

	default:
		core.Log.Error(s, "Unexpected tx error", "err", txErr, "child", child)
	}

	if msg != nil && nextOffset < msg.Length() {
		child.SetIndirectFragmentOffset(nextOffset)
		if s.csl != nil {
			s.csl.Update()
		}
		s.clearMessagesForRemovedChildren()
		return
	}

	if msg != nil {
		// Indirect tx of this message to the child is done.
		finalErr := txErr

		child.SetIndirectMessage(nil)

		// Switch to short source-address matching after the first
		// attempt regardless of its outcome; a child that missed the
		// exchange re-attaches and resets the mode anyway.
		s.sourceMatch.SetSrcMatchAsShort(child, true)

		if !child.IndirectTxSuccess() && finalErr == nil {
			finalErr = defn.ErrFailed
		}

		if msg.ChildMaskHas(child.Index()) {
			msg.ChildMaskRemove(child.Index())
			s.sourceMatch.DecrementMessageCount(child)
		}

		msg.InvokeTxCallback(finalErr)
		s.queue.RemoveIfNoPendingTx(msg)
	}

	s.updateIndirectMessage(child)

	s.clearMessagesForRemovedChildren()
}

// clearMessagesForRemovedChildren drops indirect state of entries
// that left the valid/restoring states with messages still pending.
func (s *IndirectSender) clearMessagesForRemovedChildren() {
	s.table.IterateAll(func(child *Child) {
		if child.State() == ChildStateValid || child.State() == ChildStateRestoring {
			return
		}
		if child.IndirectMessageCount() == 0 {
			return
		}
		s.ClearAllMessages(child)
	})
}

func (s *IndirectSender) pruneQueue() {
	var drop []*Message
	s.queue.ForEach(func(msg *Message) bool {
		if !msg.HasPendingTx() {
			drop = append(drop, msg)
		}
		return true
	})
	for _, msg := range drop {
		s.queue.Remove(msg)
	}
}
