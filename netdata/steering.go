package netdata

// SteeringData is the commissioner-built bloom filter restricting
// which joiners may commission onto the network. At most 16 bytes.
type SteeringData struct {
	data   [16]byte
	length uint8
}

const steeringDataMaxLength = 16

// JoinerDiscerner is a joiner-advertised identifier of up to 64 bits.
type JoinerDiscerner struct {
	Value  uint64
	Length uint8 // in bits, 1..64
}

// Init sets the steering data bytes, truncating to the maximum length.
func (s *SteeringData) Init(data []byte) {
	if len(data) > steeringDataMaxLength {
		data = data[:steeringDataMaxLength]
	}
	s.length = uint8(copy(s.data[:], data))
}

func (s *SteeringData) Bytes() []byte {
	return s.data[:s.length]
}

func (s *SteeringData) IsEmpty() bool {
	for _, b := range s.Bytes() {
		if b != 0 {
			return false
		}
	}
	return true
}

// PermitsAllJoiners reports whether every filter bit is set.
func (s *SteeringData) PermitsAllJoiners() bool {
	if s.length == 0 {
		return false
	}
	for _, b := range s.Bytes() {
		if b != 0xff {
			return false
		}
	}
	return true
}

// numBits is the size of the bloom filter in bits.
func (s *SteeringData) numBits() uint16 {
	return uint16(s.length) * 8
}

// getBit reads the given bit counting from the end of the data, i.e. bit 0
// is the least significant bit of the last byte.
func (s *SteeringData) getBit(bit uint16) bool {
	return s.data[uint16(s.length)-1-bit/8]&(1<<(bit%8)) != 0
}

func (s *SteeringData) setBit(bit uint16) {
	s.data[uint16(s.length)-1-bit/8] |= 1 << (bit % 8)
}

// BloomIndexes computes the two filter bit indexes for an 8-byte
// bloom value: CRC16-CCITT and CRC16-ANSI over the value bytes.
func (s *SteeringData) BloomIndexes(value [8]byte) (uint16, uint16) {
	ccitt := crc16{polynomial: crc16Ccitt}
	ansi := crc16{polynomial: crc16Ansi}

	for _, b := range value {
		ccitt.update(b)
		ansi.update(b)
	}

	return ccitt.crc % s.numBits(), ansi.crc % s.numBits()
}

// UpdateBloomFilter sets the filter bits for the given bloom value.
// Used by the commissioner side when building steering data.
func (s *SteeringData) UpdateBloomFilter(value [8]byte) {
	if s.length == 0 {
		return
	}
	i1, i2 := s.BloomIndexes(value)
	s.setBit(i1)
	s.setBit(i2)
}

// CheckJoiner checks a joiner EUI-64 against the filter.
func (s *SteeringData) CheckJoiner(eui64 [8]byte) SteeringResult {
	return s.check(eui64)
}

// CheckJoinerDiscerner checks a joiner discerner against the filter.
// The discerner's low Length bits form the bloom value, zero padded.
func (s *SteeringData) CheckJoinerDiscerner(d JoinerDiscerner) SteeringResult {
	return s.check(d.bloomValue())
}

// UpdateBloomFilterDiscerner sets the filter bits for a discerner;
// the commissioner-side counterpart of CheckJoinerDiscerner.
func (s *SteeringData) UpdateBloomFilterDiscerner(d JoinerDiscerner) {
	s.UpdateBloomFilter(d.bloomValue())
}

// bloomValue zero-pads the discerner's low Length bits into 8 bytes,
// big endian.
func (d JoinerDiscerner) bloomValue() [8]byte {
	var value [8]byte

	v := d.Value
	if d.Length < 64 {
		v &= (uint64(1) << d.Length) - 1
	}
	for i := 7; i >= 0; i-- {
		value[i] = byte(v)
		v >>= 8
	}
	return value
}

func (s *SteeringData) check(value [8]byte) SteeringResult {
	if s.length == 0 || s.IsEmpty() {
		return SteeringAbsent
	}
	if s.PermitsAllJoiners() {
		return SteeringIncluded
	}

	i1, i2 := s.BloomIndexes(value)
	if s.getBit(i1) && s.getBit(i2) {
		return SteeringIncluded
	}
	return SteeringNotIncluded
}

// CRC16 with MSB-first bit ordering and zero initial value.

const (
	crc16Ccitt uint16 = 0x1021
	crc16Ansi  uint16 = 0x8005
)

type crc16 struct {
	polynomial uint16
	crc        uint16
}

func (c *crc16) update(b byte) {
	c.crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if c.crc&0x8000 != 0 {
			c.crc = c.crc<<1 ^ c.polynomial
		} else {
			c.crc <<= 1
		}
	}
}
