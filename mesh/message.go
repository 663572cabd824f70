package mesh

import (
	"time"
)

// MessageType distinguishes real IPv6 payloads from the empty
// supervision placeholders keeping sleepy children in touch.
type MessageType uint8

const (
	MessageTypeIp6 MessageType = iota
	MessageTypeSupervision
)

// Priority orders messages within the send queue; higher goes first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityNet
)

// Message is an outbound message in the shared send queue. The
// indirect-tx child mask records which sleepy children still need it.
type Message struct {
	Type      MessageType
	Priority  Priority
	Data      []byte
	DirectTx  bool
	Timestamp time.Time

	childMask  uint64
	txCallback func(error)
}

func NewMessage(typ MessageType, data []byte) *Message {
	return &Message{Type: typ, Priority: PriorityNormal, Data: data}
}

func (m *Message) Length() uint16 {
	return uint16(len(m.Data))
}

// SetTxCallback registers a callback invoked once the message's last
// pending transmission completes.
func (m *Message) SetTxCallback(f func(error)) {
	m.txCallback = f
}

func (m *Message) InvokeTxCallback(err error) {
	if m.txCallback != nil {
		m.txCallback(err)
	}
}

// Child-mask accessors; the index is the child's table index.

func (m *Message) ChildMaskHas(index int) bool {
	return m.childMask&(1<<uint(index)) != 0
}

func (m *Message) ChildMaskAdd(index int) {
	m.childMask |= 1 << uint(index)
}

func (m *Message) ChildMaskRemove(index int) {
	m.childMask &^= 1 << uint(index)
}

// HasPendingTx reports whether anything still needs this message.
func (m *Message) HasPendingTx() bool {
	return m.DirectTx || m.childMask != 0
}

// SendQueue is the shared outbound message queue. Only the event
// loop mutates it.
type SendQueue struct {
	messages []*Message
}

func NewSendQueue() *SendQueue {
	return &SendQueue{}
}

// Enqueue inserts the message after the last one of equal or higher
// priority.
func (q *SendQueue) Enqueue(m *Message) {
	at := len(q.messages)
	for at > 0 && q.messages[at-1].Priority < m.Priority {
		at--
	}
	q.messages = append(q.messages, nil)
	copy(q.messages[at+1:], q.messages[at:])
	q.messages[at] = m
}

// Remove takes the message out of the queue; a no-op if absent.
func (q *SendQueue) Remove(m *Message) {
	for i, have := range q.messages {
		if have == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return
		}
	}
}

func (q *SendQueue) Contains(m *Message) bool {
	for _, have := range q.messages {
		if have == m {
			return true
		}
	}
	return false
}

func (q *SendQueue) Len() int {
	return len(q.messages)
}

// ForEach visits the queued messages in order; f returning false
// stops the walk. f must not mutate the queue.
func (q *SendQueue) ForEach(f func(*Message) bool) {
	for _, m := range q.messages {
		if !f(m) {
			return
		}
	}
}

// RemoveIfNoPendingTx drops the message once neither direct nor
// indirect transmission needs it.
func (q *SendQueue) RemoveIfNoPendingTx(m *Message) {
	if !m.HasPendingTx() {
		q.Remove(m)
	}
}
