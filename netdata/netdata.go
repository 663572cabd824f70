package netdata

import (
	"net/netip"

	"github.com/thread-mesh/tmnd/defn"
)

// NetworkData is a read-only view over a Thread Network Data byte
// sequence. All queries tolerate malformed or truncated TLVs; a TLV
// whose declared length runs past the end of the buffer terminates
// iteration, any other malformed TLV is skipped.
type NetworkData struct {
	bytes []byte
}

// NewNetworkData wraps the given bytes. The caller must not mutate
// them afterwards; the store replaces the whole buffer on update.
func NewNetworkData(bytes []byte) NetworkData {
	return NetworkData{bytes: bytes}
}

func (nd NetworkData) Bytes() []byte {
	return nd.bytes
}

func (nd NetworkData) Length() int {
	return len(nd.bytes)
}

// Iterator is an opaque resumable position within Network Data.
// The zero value starts iteration from the beginning. The encoding
// packs the top-level TLV offset, the sub-TLV offset within the
// current parent, and the entry index within the current sub-TLV;
// callers must treat the value as opaque.
type Iterator uint32

// IteratorInit is the initial iterator value.
const IteratorInit Iterator = 0

func (it Iterator) unpack() (tlvOff, subOff, entry int) {
	return int(it & 0xff), int((it >> 8) & 0xff), int((it >> 16) & 0xff)
}

func pack(tlvOff, subOff, entry int) Iterator {
	return Iterator(uint32(tlvOff&0xff) | uint32(subOff&0xff)<<8 | uint32(entry&0xff)<<16)
}

// NextOnMeshPrefix returns the next border router entry under a Prefix
// TLV, or defn.ErrNotFound once iteration is exhausted.
func (nd NetworkData) NextOnMeshPrefix(it *Iterator) (OnMeshPrefixConfig, error) {
	tlvOff, subOff, entry := it.unpack()

	for {
		t, next, ok := readTlv(nd.bytes, tlvOff)
		if !ok {
			*it = pack(len(nd.bytes), 0, 0)
			return OnMeshPrefixConfig{}, defn.ErrNotFound
		}

		if t.typ == typePrefix {
			if p, pok := parsePrefixTlv(t); pok {
				so := subOff
				if so < p.subOffset {
					so = p.subOffset
				}
				for {
					st, snext, sok := readTlv(t.value, so)
					if !sok {
						break
					}
					if st.typ == typeBorderRouter {
						if n := len(st.value) / borderRouterEntrySize; entry < n {
							e := readBorderRouterEntry(st.value, entry)
							*it = pack(tlvOff, so, entry+1)
							return OnMeshPrefixConfig{
								Prefix:       p.prefix,
								Rloc16:       e.rloc16,
								Preference:   e.preference(),
								Preferred:    e.flags&brFlagPreferred != 0,
								Slaac:        e.flags&brFlagSlaac != 0,
								Dhcp:         e.flags&brFlagDhcp != 0,
								Configure:    e.flags&brFlagConfigure != 0,
								DefaultRoute: e.flags&brFlagDefaultRoute != 0,
								OnMesh:       e.flags&brFlagOnMesh != 0,
								NdDns:        e.flags&brFlagNdDns != 0,
								DomainPrefix: e.flags&brFlagDomainPrefix != 0,
								Stable:       st.stable,
							}, nil
						}
					}
					so, entry = snext, 0
				}
			}
		}

		tlvOff, subOff, entry = next, 0, 0
	}
}

// NextExternalRoute returns the next has-route entry under a Prefix
// TLV, or defn.ErrNotFound once iteration is exhausted.
func (nd NetworkData) NextExternalRoute(it *Iterator) (ExternalRouteConfig, error) {
	tlvOff, subOff, entry := it.unpack()

	for {
		t, next, ok := readTlv(nd.bytes, tlvOff)
		if !ok {
			*it = pack(len(nd.bytes), 0, 0)
			return ExternalRouteConfig{}, defn.ErrNotFound
		}

		if t.typ == typePrefix {
			if p, pok := parsePrefixTlv(t); pok {
				so := subOff
				if so < p.subOffset {
					so = p.subOffset
				}
				for {
					st, snext, sok := readTlv(t.value, so)
					if !sok {
						break
					}
					if st.typ == typeHasRoute {
						if n := len(st.value) / hasRouteEntrySize; entry < n {
							e := readHasRouteEntry(st.value, entry)
							*it = pack(tlvOff, so, entry+1)
							return ExternalRouteConfig{
								Prefix:     p.prefix,
								Rloc16:     e.rloc16,
								Preference: e.preference(),
								Nat64:      e.flags&hrFlagNat64 != 0,
								AdvPio:     e.flags&hrFlagAdvPio != 0,
								Stable:     st.stable,
							}, nil
						}
					}
					so, entry = snext, 0
				}
			}
		}

		tlvOff, subOff, entry = next, 0, 0
	}
}

// NextService returns the next (service, server) pair, one per Server
// sub-TLV, or defn.ErrNotFound once iteration is exhausted.
func (nd NetworkData) NextService(it *Iterator) (ServiceConfig, error) {
	tlvOff, subOff, _ := it.unpack()

	for {
		t, next, ok := readTlv(nd.bytes, tlvOff)
		if !ok {
			*it = pack(len(nd.bytes), 0, 0)
			return ServiceConfig{}, defn.ErrNotFound
		}

		if t.typ == typeService {
			if s, sok := parseServiceTlv(t); sok {
				so := subOff
				if so < s.subOffset {
					so = s.subOffset
				}
				for {
					st, snext, stok := readTlv(t.value, so)
					if !stok {
						break
					}
					if st.typ == typeServer {
						if srv, srvok := parseServerTlv(st); srvok {
							*it = pack(tlvOff, snext, 0)
							return ServiceConfig{
								ServiceId:        s.serviceId,
								EnterpriseNumber: s.enterpriseNumber,
								ServiceData:      s.serviceData,
								Stable:           t.stable,
								Server: ServerConfig{
									Rloc16:     srv.rloc16,
									ServerData: srv.serverData,
									Stable:     st.stable,
								},
							}, nil
						}
					}
					so = snext
				}
			}
		}

		tlvOff, subOff = next, 0
	}
}

// NextLowpanContext returns the next 6LoWPAN context, or
// defn.ErrNotFound once iteration is exhausted.
func (nd NetworkData) NextLowpanContext(it *Iterator) (LowpanContextInfo, error) {
	tlvOff, subOff, _ := it.unpack()

	for {
		t, next, ok := readTlv(nd.bytes, tlvOff)
		if !ok {
			*it = pack(len(nd.bytes), 0, 0)
			return LowpanContextInfo{}, defn.ErrNotFound
		}

		if t.typ == typePrefix {
			if p, pok := parsePrefixTlv(t); pok {
				so := subOff
				if so < p.subOffset {
					so = p.subOffset
				}
				for {
					st, snext, sok := readTlv(t.value, so)
					if !sok {
						break
					}
					if st.typ == typeContext && len(st.value) >= 2 {
						*it = pack(tlvOff, snext, 0)
						return LowpanContextInfo{
							ContextId:    st.value[0] & ctxContextIdMask,
							CompressFlag: st.value[0]&ctxFlagCompress != 0,
							Stable:       st.stable,
							Prefix:       p.prefix,
						}, nil
					}
					so = snext
				}
			}
		}

		tlvOff, subOff = next, 0
	}
}

// FindRlocs collects the set of RLOC16s advertising entries matching
// the given filters. The result is free of duplicates; ordering
// follows the Network Data and is stable for unchanged data.
func (nd NetworkData) FindRlocs(filter BorderRouterFilter, role defn.RoleFilter) []defn.Rloc16 {
	var rlocs []defn.Rloc16

	add := func(r defn.Rloc16) {
		if !role.Matches(r) {
			return
		}
		for _, have := range rlocs {
			if have == r {
				return
			}
		}
		rlocs = append(rlocs, r)
	}

	for tlvOff := 0; ; {
		t, next, ok := readTlv(nd.bytes, tlvOff)
		if !ok {
			break
		}

		switch t.typ {
		case typePrefix:
			p, pok := parsePrefixTlv(t)
			if !pok {
				break
			}
			for so := p.subOffset; ; {
				st, snext, sok := readTlv(t.value, so)
				if !sok {
					break
				}
				switch st.typ {
				case typeBorderRouter:
					for i := 0; i < len(st.value)/borderRouterEntrySize; i++ {
						e := readBorderRouterEntry(st.value, i)
						if filter == BrProvidingExternalIpConn &&
							e.flags&(brFlagDefaultRoute|brFlagDhcp) == 0 {
							continue
						}
						add(e.rloc16)
					}
				case typeHasRoute:
					// Advertising an external route is providing
					// external connectivity under either filter.
					for i := 0; i < len(st.value)/hasRouteEntrySize; i++ {
						add(readHasRouteEntry(st.value, i).rloc16)
					}
				}
				so = snext
			}

		case typeService:
			if filter != AnyBrOrServer {
				break
			}
			s, sok := parseServiceTlv(t)
			if !sok {
				break
			}
			for so := s.subOffset; ; {
				st, snext, stok := readTlv(t.value, so)
				if !stok {
					break
				}
				if st.typ == typeServer {
					if srv, srvok := parseServerTlv(st); srvok {
						add(srv.rloc16)
					}
				}
				so = snext
			}
		}

		tlvOff = next
	}

	return rlocs
}

// ContainsBorderRouterWithRloc reports whether the given RLOC16
// belongs to a border router providing external IP connectivity.
func (nd NetworkData) ContainsBorderRouterWithRloc(rloc16 defn.Rloc16) bool {
	for _, r := range nd.FindRlocs(BrProvidingExternalIpConn, defn.AnyRole) {
		if r == rloc16 {
			return true
		}
	}
	return false
}

// CountBorderRouters counts distinct border routers providing external
// IP connectivity, restricted by role.
func (nd NetworkData) CountBorderRouters(role defn.RoleFilter) int {
	return len(nd.FindRlocs(BrProvidingExternalIpConn, role))
}

// ContainsOmrPrefix reports whether the given prefix is advertised as
// an off-mesh-routable prefix: a 64-bit non-link-local unicast prefix
// with the on-mesh, preferred, SLAAC and default-route flags.
func (nd NetworkData) ContainsOmrPrefix(prefix netip.Prefix) bool {
	if prefix.Bits() != 64 || !isUlaOrGua(prefix.Addr()) {
		return false
	}

	it := IteratorInit
	for {
		cfg, err := nd.NextOnMeshPrefix(&it)
		if err != nil {
			return false
		}
		if cfg.Prefix == prefix && cfg.OnMesh && cfg.Preferred && cfg.Slaac && cfg.DefaultRoute {
			return true
		}
	}
}

func isUlaOrGua(addr netip.Addr) bool {
	return addr.Is6() && !addr.IsLinkLocalUnicast() && !addr.IsMulticast() &&
		!addr.IsLoopback() && !addr.IsUnspecified()
}
