package mesh

import (
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/mac"
)

// ChildState is the MLE attach state of a child table entry.
type ChildState uint8

const (
	ChildStateInvalid ChildState = iota
	ChildStateRestoring
	ChildStateValid
)

// MaxChildren bounds the child table; the message child mask is a
// 64-bit word.
const MaxChildren = 64

// Child is one entry of the child table together with its indirect
// transmission state.
type Child struct {
	index        int
	rloc16       defn.Rloc16
	extAddress   mac.ExtAddress
	state        ChildState
	rxOnWhenIdle bool

	// CSL receiver parameters, zero when the child is not CSL capable.
	cslPeriod uint16

	indirectMessage         *Message
	indirectFragmentOffset  uint16
	indirectTxSuccess       bool
	indirectMessageCount    int
	waitingForMessageUpdate bool
	useShortAddress         bool
}

func (c *Child) Index() int               { return c.index }
func (c *Child) Rloc16() defn.Rloc16      { return c.rloc16 }
func (c *Child) ExtAddress() mac.ExtAddress {
	return c.extAddress
}

func (c *Child) State() ChildState     { return c.state }
func (c *Child) SetState(s ChildState) { c.state = s }
func (c *Child) IsStateValid() bool    { return c.state == ChildStateValid }

func (c *Child) IsRxOnWhenIdle() bool { return c.rxOnWhenIdle }
func (c *Child) SetRxOnWhenIdle(on bool) {
	c.rxOnWhenIdle = on
}

func (c *Child) CslPeriod() uint16       { return c.cslPeriod }
func (c *Child) SetCslPeriod(p uint16)   { c.cslPeriod = p }
func (c *Child) IsCslReceiver() bool     { return c.cslPeriod != 0 }

func (c *Child) IndirectMessage() *Message { return c.indirectMessage }
func (c *Child) SetIndirectMessage(m *Message) {
	c.indirectMessage = m
}

func (c *Child) IndirectFragmentOffset() uint16 { return c.indirectFragmentOffset }
func (c *Child) SetIndirectFragmentOffset(off uint16) {
	c.indirectFragmentOffset = off
}

func (c *Child) IndirectTxSuccess() bool { return c.indirectTxSuccess }
func (c *Child) SetIndirectTxSuccess(ok bool) {
	c.indirectTxSuccess = ok
}

func (c *Child) IndirectMessageCount() int { return c.indirectMessageCount }

func (c *Child) IsWaitingForMessageUpdate() bool { return c.waitingForMessageUpdate }
func (c *Child) SetWaitingForMessageUpdate(waiting bool) {
	c.waitingForMessageUpdate = waiting
}

func (c *Child) IsIndirectSourceMatchShort() bool { return c.useShortAddress }

// MacAddress returns the address data polls from this child are
// matched against.
func (c *Child) MacAddress() mac.Address {
	if c.useShortAddress {
		return mac.ShortAddress(c.rloc16)
	}
	return mac.ExtendedAddress(c.extAddress)
}

func (c *Child) String() string {
	return c.rloc16.String()
}

// Table is the fixed-capacity child table.
type Table struct {
	children []Child
}

func NewTable(capacity int) *Table {
	if capacity > MaxChildren {
		capacity = MaxChildren
	}
	t := &Table{children: make([]Child, capacity)}
	for i := range t.children {
		t.children[i].index = i
	}
	return t
}

// Add claims a free entry for the given addresses; defn.ErrNoBufs
// when the table is full.
func (t *Table) Add(rloc16 defn.Rloc16, ext mac.ExtAddress) (*Child, error) {
	for i := range t.children {
		c := &t.children[i]
		if c.state == ChildStateInvalid {
			*c = Child{index: i, rloc16: rloc16, extAddress: ext, state: ChildStateValid}
			return c, nil
		}
	}
	return nil, defn.ErrNoBufs
}

// Remove marks the entry invalid. Pending indirect state must be
// cleared by the indirect sender first.
func (t *Table) Remove(c *Child) {
	idx := c.index
	*c = Child{index: idx}
}

func (t *Table) FindByRloc16(rloc16 defn.Rloc16) *Child {
	for i := range t.children {
		c := &t.children[i]
		if c.state != ChildStateInvalid && c.rloc16 == rloc16 {
			return c
		}
	}
	return nil
}

// Iterate visits entries in any state except invalid.
func (t *Table) Iterate(f func(*Child)) {
	for i := range t.children {
		if t.children[i].state != ChildStateInvalid {
			f(&t.children[i])
		}
	}
}

// IterateAll visits every entry including invalid ones.
func (t *Table) IterateAll(f func(*Child)) {
	for i := range t.children {
		f(&t.children[i])
	}
}
