// Package dhcp6 implements the RFC 8415 subset used for in-mesh
// prefix delegation: a rapid-commit Solicit/Reply exchange between
// the client port and the DHCPv6 agents advertised in Network Data.
package dhcp6

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"

	"github.com/thread-mesh/tmnd/defn"
)

const (
	ClientPort uint16 = 546
	ServerPort uint16 = 547
)

type MsgType uint8

const (
	MsgTypeSolicit MsgType = 1
	MsgTypeReply   MsgType = 7
)

type OptionCode uint16

const (
	OptionClientId    OptionCode = 1
	OptionServerId    OptionCode = 2
	OptionIaNa        OptionCode = 3
	OptionIaAddress   OptionCode = 5
	OptionElapsedTime OptionCode = 8
	OptionStatusCode  OptionCode = 13
	OptionRapidCommit OptionCode = 14
)

const (
	DuidTypeLinkLayerPlusTime uint16 = 1
	DuidTypeLinkLayer         uint16 = 3
)

const (
	HardwareTypeEthernet uint16 = 1
	HardwareTypeEui64    uint16 = 27
)

const statusSuccess uint16 = 0

// TransactionId is the 3-byte DHCPv6 transaction id.
type TransactionId [3]byte

func (t *TransactionId) GenerateRandom() {
	_, _ = rand.Read(t[:])
}

// header is the 4-byte DHCPv6 message header.
const headerSize = 4

func appendHeader(buf []byte, typ MsgType, tid TransactionId) []byte {
	return append(buf, byte(typ), tid[0], tid[1], tid[2])
}

func appendOption(buf []byte, code OptionCode, value []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(code))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// appendClientId appends a DUID-LL (EUI-64) client identifier.
func appendClientId(buf []byte, eui64 [8]byte) []byte {
	var v []byte
	v = binary.BigEndian.AppendUint16(v, DuidTypeLinkLayer)
	v = binary.BigEndian.AppendUint16(v, HardwareTypeEui64)
	v = append(v, eui64[:]...)
	return appendOption(buf, OptionClientId, v)
}

func appendElapsedTime(buf []byte, hundredths uint16) []byte {
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], hundredths)
	return appendOption(buf, OptionElapsedTime, v[:])
}

// appendIaNa appends an IA_NA option (IAID 0, T1 = T2 = 0) nesting
// the given IA-Address options.
func appendIaNa(buf []byte, addresses []byte) []byte {
	v := make([]byte, 12, 12+len(addresses))
	v = append(v, addresses...)
	return appendOption(buf, OptionIaNa, v)
}

// appendIaAddress appends one IA-Address option to addresses.
func appendIaAddress(addresses []byte, addr netip.Addr, preferred, valid uint32) []byte {
	a := addr.As16()
	var v []byte
	v = append(v, a[:]...)
	v = binary.BigEndian.AppendUint32(v, preferred)
	v = binary.BigEndian.AppendUint32(v, valid)
	return appendOption(addresses, OptionIaAddress, v)
}

func appendRapidCommit(buf []byte) []byte {
	return appendOption(buf, OptionRapidCommit, nil)
}

// message is a parsed DHCPv6 message; options aliases the receive
// buffer.
type message struct {
	typ     MsgType
	tid     TransactionId
	options []byte
}

func parseMessage(b []byte) (message, error) {
	if len(b) < headerSize {
		return message{}, defn.ErrParse
	}
	return message{
		typ:     MsgType(b[0]),
		tid:     TransactionId{b[1], b[2], b[3]},
		options: b[headerSize:],
	}, nil
}

// findOption returns the value of the first option with the given
// code within opts, scanning past other well-formed options.
func findOption(opts []byte, code OptionCode) ([]byte, bool) {
	for off := 0; off+4 <= len(opts); {
		c := OptionCode(binary.BigEndian.Uint16(opts[off:]))
		length := int(binary.BigEndian.Uint16(opts[off+2:]))
		if off+4+length > len(opts) {
			break
		}
		if c == code {
			return opts[off+4 : off+4+length], true
		}
		off += 4 + length
	}
	return nil, false
}

// forEachOption calls f for every well-formed option with the given
// code; f returning false stops the scan.
func forEachOption(opts []byte, code OptionCode, f func(value []byte) bool) {
	for off := 0; off+4 <= len(opts); {
		c := OptionCode(binary.BigEndian.Uint16(opts[off:]))
		length := int(binary.BigEndian.Uint16(opts[off+2:]))
		if off+4+length > len(opts) {
			break
		}
		if c == code && !f(opts[off+4:off+4+length]) {
			return
		}
		off += 4 + length
	}
}

// iaAddress is a parsed IA-Address option.
type iaAddress struct {
	addr      netip.Addr
	preferred uint32
	valid     uint32
}

func parseIaAddress(v []byte) (iaAddress, error) {
	if len(v) < 24 {
		return iaAddress{}, defn.ErrParse
	}
	var a [16]byte
	copy(a[:], v[:16])
	return iaAddress{
		addr:      netip.AddrFrom16(a),
		preferred: binary.BigEndian.Uint32(v[16:]),
		valid:     binary.BigEndian.Uint32(v[20:]),
	}, nil
}

// validServerId accepts a DUID-LL with EUI-64 hardware type or a
// DUID-LL+Time with Ethernet hardware type.
func validServerId(v []byte) bool {
	if len(v) < 4 {
		return false
	}
	duidType := binary.BigEndian.Uint16(v)
	hwType := binary.BigEndian.Uint16(v[2:])

	switch duidType {
	case DuidTypeLinkLayer:
		return hwType == HardwareTypeEui64 && len(v) == 4+8
	case DuidTypeLinkLayerPlusTime:
		return hwType == HardwareTypeEthernet
	}
	return false
}

// validStatusCode accepts an absent or Success status option.
func validStatusCode(opts []byte) bool {
	v, ok := findOption(opts, OptionStatusCode)
	if !ok {
		return true
	}
	return len(v) >= 2 && binary.BigEndian.Uint16(v) == statusSuccess
}
