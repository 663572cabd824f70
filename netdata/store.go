package netdata

import (
	"bytes"

	"github.com/thread-mesh/tmnd/defn"
)

// Store owns the current partition Network Data. The buffer is
// replaced atomically on update; readers obtained through Data() keep
// seeing the buffer that was current when they asked. All access runs
// on the stack's event loop.
type Store struct {
	data          NetworkData
	version       uint8
	stableVersion uint8
	maxLength     uint8
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) String() string {
	return "netdata"
}

// Update replaces the Network Data with a copy of the given bytes.
// The version always increments; the stable version increments only
// when the stable view changed.
func (s *Store) Update(data []byte) error {
	if len(data) > MaxSize {
		return defn.ErrNoBufs
	}

	oldStable := stableCopy(s.data.bytes)

	buf := make([]byte, len(data))
	copy(buf, data)
	s.data = NetworkData{bytes: buf}

	s.version++
	if !bytes.Equal(oldStable, stableCopy(buf)) {
		s.stableVersion++
	}
	if len(buf) > int(s.maxLength) {
		s.maxLength = uint8(len(buf))
	}
	return nil
}

// Data returns the current Network Data view.
func (s *Store) Data() NetworkData {
	return s.data
}

// Get copies the full or stable Network Data into out and returns the
// number of bytes written; defn.ErrNoBufs if out is too small.
func (s *Store) Get(stable bool, out []byte) (int, error) {
	src := s.data.bytes
	if stable {
		src = stableCopy(src)
	}
	if len(out) < len(src) {
		return 0, defn.ErrNoBufs
	}
	return copy(out, src), nil
}

func (s *Store) Length() uint8 {
	return uint8(len(s.data.bytes))
}

// MaxLength returns the maximum observed length since the last reset.
func (s *Store) MaxLength() uint8 {
	return s.maxLength
}

func (s *Store) ResetMaxLength() {
	s.maxLength = s.Length()
}

func (s *Store) Version() uint8 {
	return s.version
}

func (s *Store) StableVersion() uint8 {
	return s.stableVersion
}
