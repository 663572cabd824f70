// Package mac holds the narrow MAC-facing types the stack core
// exchanges with the radio layer: transmit frames, addressing, and
// the frame-change protocol constants.
package mac

import (
	"fmt"

	"github.com/thread-mesh/tmnd/defn"
)

// ExtAddress is an IEEE 802.15.4 extended (EUI-64) address.
type ExtAddress [8]byte

func (a ExtAddress) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x%02x%02x",
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
}

type addressType uint8

const (
	addressTypeNone addressType = iota
	addressTypeShort
	addressTypeExtended
)

// Address is a MAC address, either short (RLOC16) or extended.
type Address struct {
	typ   addressType
	short defn.Rloc16
	ext   ExtAddress
}

func ShortAddress(rloc16 defn.Rloc16) Address {
	return Address{typ: addressTypeShort, short: rloc16}
}

func ExtendedAddress(ext ExtAddress) Address {
	return Address{typ: addressTypeExtended, ext: ext}
}

func (a Address) IsNone() bool     { return a.typ == addressTypeNone }
func (a Address) IsShort() bool    { return a.typ == addressTypeShort }
func (a Address) IsExtended() bool { return a.typ == addressTypeExtended }

func (a Address) Short() defn.Rloc16 { return a.short }
func (a Address) Extended() ExtAddress {
	return a.ext
}

func (a Address) String() string {
	switch a.typ {
	case addressTypeShort:
		return a.short.String()
	case addressTypeExtended:
		return a.ext.String()
	default:
		return "none"
	}
}

// MaxFramePayload is the payload budget of one 802.15.4 data frame
// after MAC and 6LoWPAN header overhead.
const MaxFramePayload = 96

// TxFrame is a frame under preparation for the radio. The buffer is
// owned by the MAC layer; the stack only fills it in.
type TxFrame struct {
	DstAddr      Address
	Payload      []byte
	FramePending bool
	AckRequest   bool
}

func (f *TxFrame) IsEmpty() bool {
	return len(f.Payload) == 0
}

// Reset clears the frame for reuse.
func (f *TxFrame) Reset() {
	*f = TxFrame{}
}

// FrameContext rides along with a prepared frame and comes back on
// the transmit-done callback.
type FrameContext struct {
	MessageNextOffset uint16
}

// FrameChange is a request to the MAC layer about a frame it may have
// prepared already.
type FrameChange int

const (
	// PurgeFrame discards the prepared frame.
	PurgeFrame FrameChange = iota
	// ReplaceFrame re-prepares the frame from the new current message.
	ReplaceFrame
)

func (c FrameChange) String() string {
	if c == PurgeFrame {
		return "PurgeFrame"
	}
	return "ReplaceFrame"
}
