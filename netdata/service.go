package netdata

import (
	"encoding/binary"
	"net/netip"

	"github.com/thread-mesh/tmnd/defn"
)

// DnsSrpAnycastInfo describes one advertised DNS/SRP anycast server.
type DnsSrpAnycastInfo struct {
	AnycastAddress netip.Addr
	SequenceNumber uint8
	Version        uint8
	Rloc16         defn.Rloc16
}

// DnsSrpUnicastInfo describes one advertised DNS/SRP unicast server.
type DnsSrpUnicastInfo struct {
	SockAddr netip.AddrPort
	Version  uint8
	Rloc16   defn.Rloc16
}

// DnsSrpUnicastType selects where a unicast server's address is read
// from during iteration.
type DnsSrpUnicastType int

const (
	// AddrInServiceData iterates services whose service data embeds
	// the server address and port.
	AddrInServiceData DnsSrpUnicastType = iota
	// AddrInServerData iterates server sub-TLVs carrying the address
	// and port in their server data.
	AddrInServerData
)

// ServiceIterator walks the DNS/SRP service entries of Network Data.
// The mesh-local prefix is needed to derive anycast addresses and the
// mesh-local RLOC address of servers advertising only a port.
type ServiceIterator struct {
	nd        NetworkData
	meshLocal netip.Prefix
	it        Iterator
}

func NewServiceIterator(nd NetworkData, meshLocal netip.Prefix) *ServiceIterator {
	return &ServiceIterator{nd: nd, meshLocal: meshLocal}
}

// Reset rewinds the iterator to the beginning of Network Data.
func (si *ServiceIterator) Reset() {
	si.it = IteratorInit
}

// NextDnsSrpAnycastInfo returns the next anycast entry, one per Server
// sub-TLV of a matching service, or defn.ErrNotFound.
func (si *ServiceIterator) NextDnsSrpAnycastInfo() (DnsSrpAnycastInfo, error) {
	for {
		cfg, err := si.nd.NextService(&si.it)
		if err != nil {
			return DnsSrpAnycastInfo{}, err
		}
		if cfg.EnterpriseNumber != ThreadEnterpriseNumber ||
			len(cfg.ServiceData) < 2 || cfg.ServiceData[0] != serviceNumberDnsSrpAnycast {
			continue
		}

		version := uint8(0)
		if len(cfg.Server.ServerData) >= 1 {
			version = cfg.Server.ServerData[0]
		}

		aloc16 := uint16(defn.AlocDnsSrpAnycastBase) + uint16(cfg.ServiceId)
		return DnsSrpAnycastInfo{
			AnycastAddress: defn.LocatorAddress(si.meshLocal, aloc16),
			SequenceNumber: cfg.ServiceData[1],
			Version:        version,
			Rloc16:         cfg.Server.Rloc16,
		}, nil
	}
}

// NextDnsSrpUnicastInfo returns the next unicast entry of the given
// type, or defn.ErrNotFound.
func (si *ServiceIterator) NextDnsSrpUnicastInfo(typ DnsSrpUnicastType) (DnsSrpUnicastInfo, error) {
	for {
		cfg, err := si.nd.NextService(&si.it)
		if err != nil {
			return DnsSrpUnicastInfo{}, err
		}
		if cfg.EnterpriseNumber != ThreadEnterpriseNumber ||
			len(cfg.ServiceData) < 1 || cfg.ServiceData[0] != serviceNumberDnsSrpUnicast {
			continue
		}

		switch typ {
		case AddrInServiceData:
			// service data: 5d + address (16B) + port (2B) + optional version
			if len(cfg.ServiceData) < 1+16+2 {
				continue
			}
			var addr [16]byte
			copy(addr[:], cfg.ServiceData[1:17])
			info := DnsSrpUnicastInfo{
				SockAddr: netip.AddrPortFrom(netip.AddrFrom16(addr),
					binary.BigEndian.Uint16(cfg.ServiceData[17:19])),
				Rloc16: cfg.Server.Rloc16,
			}
			if len(cfg.ServiceData) >= 20 {
				info.Version = cfg.ServiceData[19]
			}
			return info, nil

		case AddrInServerData:
			// server data: either address (16B) + port (2B) + optional
			// version, or a bare port with the server's RLOC address.
			data := cfg.Server.ServerData
			switch {
			case len(data) >= 18:
				var addr [16]byte
				copy(addr[:], data[:16])
				info := DnsSrpUnicastInfo{
					SockAddr: netip.AddrPortFrom(netip.AddrFrom16(addr),
						binary.BigEndian.Uint16(data[16:18])),
					Rloc16: cfg.Server.Rloc16,
				}
				if len(data) >= 19 {
					info.Version = data[18]
				}
				return info, nil
			case len(data) == 2:
				return DnsSrpUnicastInfo{
					SockAddr: netip.AddrPortFrom(
						defn.RlocAddress(si.meshLocal, cfg.Server.Rloc16),
						binary.BigEndian.Uint16(data)),
					Rloc16: cfg.Server.Rloc16,
				}, nil
			}
		}
	}
}

// FindPreferredDnsSrpAnycastInfo selects the preferred anycast entry.
//
// The sequence numbers are compared with 8-bit serial-number
// arithmetic: a is "ahead" of b when a != b and (a-b) mod 256 <= 128.
// The first entry no other entry is ahead of wins; when every entry
// has some other entry ahead of it (numbers more than 127 apart in
// both directions), the numerically largest sequence number wins.
// Ties on the winning sequence number are broken by the highest
// version, then by the entry encountered first.
func FindPreferredDnsSrpAnycastInfo(nd NetworkData, meshLocal netip.Prefix) (DnsSrpAnycastInfo, error) {
	var entries []DnsSrpAnycastInfo

	si := NewServiceIterator(nd, meshLocal)
	for {
		info, err := si.NextDnsSrpAnycastInfo()
		if err != nil {
			break
		}
		entries = append(entries, info)
	}

	if len(entries) == 0 {
		return DnsSrpAnycastInfo{}, defn.ErrNotFound
	}

	seq, found := uint8(0), false
	for _, e := range entries {
		ahead := false
		for _, other := range entries {
			if seqNumAhead(other.SequenceNumber, e.SequenceNumber) {
				ahead = true
				break
			}
		}
		if !ahead {
			seq, found = e.SequenceNumber, true
			break
		}
	}
	if !found {
		for _, e := range entries {
			if e.SequenceNumber > seq {
				seq = e.SequenceNumber
			}
		}
	}

	var best DnsSrpAnycastInfo
	have := false
	for _, e := range entries {
		if e.SequenceNumber != seq {
			continue
		}
		if !have || e.Version > best.Version {
			best, have = e, true
		}
	}
	return best, nil
}

func seqNumAhead(a, b uint8) bool {
	return a != b && (a-b) <= 128
}
