package netdata

import (
	"encoding/binary"
	"net/netip"

	"github.com/thread-mesh/tmnd/defn"
)

// Thread Network Data TLV types. The wire type byte packs the type in
// the upper seven bits and the stable flag in the low bit.
type tlvType uint8

const (
	typeHasRoute          tlvType = 0
	typePrefix            tlvType = 1
	typeBorderRouter      tlvType = 2
	typeContext           tlvType = 3
	typeCommissioningData tlvType = 4
	typeService           tlvType = 5
	typeServer            tlvType = 6
)

const stableBit = 0x01

// MaxSize is the maximum length of a partition's Network Data.
const MaxSize = 254

// ThreadEnterpriseNumber is the IANA enterprise number assigned to the
// Thread Group; service TLVs with the T flag carry it implicitly.
const ThreadEnterpriseNumber uint32 = 44970

// Well-known Thread service numbers (first byte of service data).
const (
	serviceNumberDnsSrpAnycast = 0x5c
	serviceNumberDnsSrpUnicast = 0x5d
)

// tlv is a decoded view over one TLV. The value slice aliases the
// Network Data buffer; tlvs are never mutated in place.
type tlv struct {
	typ    tlvType
	stable bool
	value  []byte
}

// readTlv decodes the TLV at off within buf. ok is false when the
// header or the declared value extends past the buffer, in which case
// iteration must stop (there is no way to find the next boundary).
func readTlv(buf []byte, off int) (t tlv, next int, ok bool) {
	if off+2 > len(buf) {
		return tlv{}, len(buf), false
	}
	length := int(buf[off+1])
	if off+2+length > len(buf) {
		return tlv{}, len(buf), false
	}
	t = tlv{
		typ:    tlvType(buf[off] >> 1),
		stable: buf[off]&stableBit != 0,
		value:  buf[off+2 : off+2+length],
	}
	return t, off + 2 + length, true
}

// Prefix TLV value layout: domain id (1B), prefix length in bits (1B),
// prefix bytes (ceil(bits/8)), then sub-TLVs.

type prefixTlv struct {
	domainId  uint8
	prefix    netip.Prefix
	subTlvs   []byte
	subOffset int // offset of subTlvs within the TLV value
}

// parsePrefixTlv validates a Prefix TLV's fixed fields. A prefix
// length above 128 bits or a value too short for the declared prefix
// makes the whole TLV invalid; callers skip it.
func parsePrefixTlv(t tlv) (p prefixTlv, ok bool) {
	if len(t.value) < 2 {
		return p, false
	}
	bits := int(t.value[1])
	if bits > 128 {
		return p, false
	}
	prefixBytes := (bits + 7) / 8
	if 2+prefixBytes > len(t.value) {
		return p, false
	}

	var addr [16]byte
	copy(addr[:], t.value[2:2+prefixBytes])

	p.domainId = t.value[0]
	p.prefix = netip.PrefixFrom(netip.AddrFrom16(addr), bits)
	p.subOffset = 2 + prefixBytes
	p.subTlvs = t.value[p.subOffset:]
	return p, true
}

// BorderRouter sub-TLV: a sequence of 4-byte entries.

const borderRouterEntrySize = 4

const (
	brFlagPreferenceOffset = 14
	brFlagPreferred        = 1 << 13
	brFlagSlaac            = 1 << 12
	brFlagDhcp             = 1 << 11
	brFlagConfigure        = 1 << 10
	brFlagDefaultRoute     = 1 << 9
	brFlagOnMesh           = 1 << 8
	brFlagNdDns            = 1 << 7
	brFlagDomainPrefix     = 1 << 6
)

type borderRouterEntry struct {
	rloc16 defn.Rloc16
	flags  uint16
}

func readBorderRouterEntry(value []byte, index int) borderRouterEntry {
	e := value[index*borderRouterEntrySize:]
	return borderRouterEntry{
		rloc16: defn.Rloc16(binary.BigEndian.Uint16(e)),
		flags:  binary.BigEndian.Uint16(e[2:]),
	}
}

func (e borderRouterEntry) preference() defn.Preference {
	return defn.PreferenceFrom2Bits(uint8(e.flags >> brFlagPreferenceOffset))
}

// HasRoute sub-TLV: a sequence of 3-byte entries.

const hasRouteEntrySize = 3

const (
	hrFlagPreferenceOffset = 6
	hrFlagNat64            = 1 << 5
	hrFlagAdvPio           = 1 << 4
)

type hasRouteEntry struct {
	rloc16 defn.Rloc16
	flags  uint8
}

func readHasRouteEntry(value []byte, index int) hasRouteEntry {
	e := value[index*hasRouteEntrySize:]
	return hasRouteEntry{
		rloc16: defn.Rloc16(binary.BigEndian.Uint16(e)),
		flags:  e[2],
	}
}

func (e hasRouteEntry) preference() defn.Preference {
	return defn.PreferenceFrom2Bits(e.flags >> hrFlagPreferenceOffset)
}

// Context sub-TLV: flags/context-id (1B), context length (1B).

const (
	ctxFlagCompress  = 0x10
	ctxContextIdMask = 0x0f
)

// Service TLV value layout: T flag and service id (1B), enterprise
// number (4B, omitted when T is set), service data length (1B),
// service data, then sub-TLVs.

const (
	svcFlagThreadEnterprise = 0x80
	svcServiceIdMask        = 0x0f
)

type serviceTlv struct {
	serviceId        uint8
	enterpriseNumber uint32
	serviceData      []byte
	subTlvs          []byte
	subOffset        int
}

func parseServiceTlv(t tlv) (s serviceTlv, ok bool) {
	if len(t.value) < 1 {
		return s, false
	}
	s.serviceId = t.value[0] & svcServiceIdMask

	off := 1
	if t.value[0]&svcFlagThreadEnterprise != 0 {
		s.enterpriseNumber = ThreadEnterpriseNumber
	} else {
		if off+4 > len(t.value) {
			return s, false
		}
		s.enterpriseNumber = binary.BigEndian.Uint32(t.value[off:])
		off += 4
	}

	if off >= len(t.value) {
		return s, false
	}
	dataLen := int(t.value[off])
	off++
	if off+dataLen > len(t.value) {
		return s, false
	}
	s.serviceData = t.value[off : off+dataLen]
	s.subOffset = off + dataLen
	s.subTlvs = t.value[s.subOffset:]
	return s, true
}

// Server sub-TLV: RLOC16 (2B) followed by server data.

type serverTlv struct {
	rloc16     defn.Rloc16
	serverData []byte
}

func parseServerTlv(t tlv) (s serverTlv, ok bool) {
	if len(t.value) < 2 {
		return s, false
	}
	s.rloc16 = defn.Rloc16(binary.BigEndian.Uint16(t.value))
	s.serverData = t.value[2:]
	return s, true
}
