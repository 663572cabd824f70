package mesh

import (
	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/mac"
)

// SourceMatchFilter is the radio's pending-address filter: the set of
// addresses the radio answers data polls for with FramePending set.
type SourceMatchFilter interface {
	EnableSrcMatch(enable bool)
	AddSrcMatchShort(rloc16 defn.Rloc16) error
	AddSrcMatchExtended(ext mac.ExtAddress) error
	ClearSrcMatchShort(rloc16 defn.Rloc16)
	ClearSrcMatchExtended(ext mac.ExtAddress)
}

// SourceMatchController mirrors each child's pending indirect message
// count into the radio's source-match filter.
type SourceMatchController struct {
	filter  SourceMatchFilter
	enabled bool
}

func NewSourceMatchController(filter SourceMatchFilter) *SourceMatchController {
	return &SourceMatchController{filter: filter}
}

func (s *SourceMatchController) String() string {
	return "src-match"
}

// IncrementMessageCount adds the child to the filter on its first
// pending message.
func (s *SourceMatchController) IncrementMessageCount(child *Child) {
	if child.indirectMessageCount == 0 {
		s.addEntry(child)
	}
	child.indirectMessageCount++
}

// DecrementMessageCount removes the child from the filter once no
// message is pending.
func (s *SourceMatchController) DecrementMessageCount(child *Child) {
	if child.indirectMessageCount == 0 {
		core.Log.Warn(s, "Message count already zero", "child", child)
		return
	}
	child.indirectMessageCount--
	if child.indirectMessageCount == 0 {
		s.clearEntry(child)
	}
}

// ResetMessageCount clears the count and the filter entry.
func (s *SourceMatchController) ResetMessageCount(child *Child) {
	child.indirectMessageCount = 0
	s.clearEntry(child)
}

// SetSrcMatchAsShort switches the address form the child's filter
// entry uses.
func (s *SourceMatchController) SetSrcMatchAsShort(child *Child, useShort bool) {
	if child.useShortAddress == useShort {
		return
	}

	if child.indirectMessageCount > 0 {
		s.clearEntry(child)
		child.useShortAddress = useShort
		s.addEntry(child)
	} else {
		child.useShortAddress = useShort
	}
}

func (s *SourceMatchController) addEntry(child *Child) {
	if !s.enabled {
		s.filter.EnableSrcMatch(true)
		s.enabled = true
	}

	var err error
	if child.useShortAddress {
		err = s.filter.AddSrcMatchShort(child.rloc16)
	} else {
		err = s.filter.AddSrcMatchExtended(child.extAddress)
	}
	if err != nil {
		core.Log.Warn(s, "Failed to add source match entry", "child", child, "err", err)
	}
}

func (s *SourceMatchController) clearEntry(child *Child) {
	if child.useShortAddress {
		s.filter.ClearSrcMatchShort(child.rloc16)
	} else {
		s.filter.ClearSrcMatchExtended(child.extAddress)
	}
}
