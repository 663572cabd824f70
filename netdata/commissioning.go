package netdata

import (
	"encoding/binary"

	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/types/optional"
)

// MeshCoP sub-TLV types carried inside the CommissioningData TLV.
const (
	meshcopSteeringData        = 8
	meshcopBorderAgentLocator  = 9
	meshcopCommissionerSession = 11
	meshcopCommissionerUdpPort = 15
	meshcopJoinerUdpPort       = 18
)

// CommissioningDataset holds the fields extracted from the
// CommissioningData TLV. Absent sub-TLVs leave their field unset.
type CommissioningDataset struct {
	SessionId           optional.Optional[uint16]
	BorderAgentRloc     optional.Optional[defn.Rloc16]
	JoinerUdpPort       optional.Optional[uint16]
	CommissionerUdpPort optional.Optional[uint16]
	SteeringData        SteeringData
}

// CommissioningDataset extracts the commissioning dataset from the
// first CommissioningData TLV, if any.
func (nd NetworkData) CommissioningDataset() CommissioningDataset {
	var ds CommissioningDataset

	value, ok := nd.commissioningData()
	if !ok {
		return ds
	}

	// MeshCoP sub-TLVs use a plain type byte without a stable bit.
	for off := 0; off+2 <= len(value); {
		typ := value[off]
		length := int(value[off+1])
		if off+2+length > len(value) {
			break
		}
		sub := value[off+2 : off+2+length]

		switch typ {
		case meshcopCommissionerSession:
			if length >= 2 {
				ds.SessionId.Set(binary.BigEndian.Uint16(sub))
			}
		case meshcopBorderAgentLocator:
			if length >= 2 {
				ds.BorderAgentRloc.Set(defn.Rloc16(binary.BigEndian.Uint16(sub)))
			}
		case meshcopJoinerUdpPort:
			if length >= 2 {
				ds.JoinerUdpPort.Set(binary.BigEndian.Uint16(sub))
			}
		case meshcopCommissionerUdpPort:
			if length >= 2 {
				ds.CommissionerUdpPort.Set(binary.BigEndian.Uint16(sub))
			}
		case meshcopSteeringData:
			ds.SteeringData.Init(sub)
		}

		off += 2 + length
	}

	return ds
}

func (nd NetworkData) commissioningData() ([]byte, bool) {
	for off := 0; ; {
		t, next, ok := readTlv(nd.bytes, off)
		if !ok {
			return nil, false
		}
		if t.typ == typeCommissioningData {
			return t.value, true
		}
		off = next
	}
}

// SteeringResult is the outcome of a joiner steering check.
type SteeringResult int

const (
	// SteeringIncluded means the joiner passes the steering filter.
	SteeringIncluded SteeringResult = iota
	// SteeringNotIncluded means the joiner is filtered out.
	SteeringNotIncluded
	// SteeringAbsent means no usable steering data is present.
	SteeringAbsent
)

// SteeringCheckJoiner checks a joiner EUI-64 against the steering data
// in the commissioning dataset.
func (nd NetworkData) SteeringCheckJoiner(eui64 [8]byte) SteeringResult {
	ds := nd.CommissioningDataset()
	return ds.SteeringData.CheckJoiner(eui64)
}

// SteeringCheckJoinerDiscerner checks a joiner discerner against the
// steering data in the commissioning dataset.
func (nd NetworkData) SteeringCheckJoinerDiscerner(d JoinerDiscerner) SteeringResult {
	ds := nd.CommissioningDataset()
	return ds.SteeringData.CheckJoinerDiscerner(d)
}
