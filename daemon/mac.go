package daemon

import (
	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/mac"
	"github.com/thread-mesh/tmnd/mesh"
)

// immediateFrameChanger is the software MAC's handling of frame
// change requests: with no frame sitting in radio buffers the request
// can always complete synchronously.
type immediateFrameChanger struct {
	daemon *Daemon
}

func (f *immediateFrameChanger) RequestFrameChange(change mac.FrameChange, child *mesh.Child) {
	core.Log.Trace(f.daemon, "Frame change", "change", change, "child", child)
	f.daemon.indirect.HandleFrameChangeDone(child)
}

// HandleDataPoll is the radio-receive path for a data poll from a
// child: prepare the frame, hand it to the radio, and report the
// result back to the sender.
func (d *Daemon) HandleDataPoll(rloc16 defn.Rloc16) {
	d.loop.Post(func() {
		child := d.table.FindByRloc16(rloc16)
		if child == nil {
			return
		}

		var frame mac.TxFrame
		var ctx mac.FrameContext
		if err := d.indirect.PrepareFrame(&frame, &ctx, child); err != nil {
			core.Log.Warn(d, "Failed to prepare indirect frame", "child", child, "err", err)
			return
		}

		// The radio HAL is external; transmission is assumed
		// successful once the frame is handed over.
		d.indirect.HandleSentFrame(&frame, &ctx, nil, child)
	})
}

// softSourceMatchFilter keeps the pending-address filter in software
// for radios without hardware source matching.
type softSourceMatchFilter struct {
	enabled bool
	short   map[defn.Rloc16]struct{}
	ext     map[mac.ExtAddress]struct{}
}

func (f *softSourceMatchFilter) EnableSrcMatch(enable bool) {
	f.enabled = enable
	if f.short == nil {
		f.short = make(map[defn.Rloc16]struct{})
		f.ext = make(map[mac.ExtAddress]struct{})
	}
}

func (f *softSourceMatchFilter) AddSrcMatchShort(rloc16 defn.Rloc16) error {
	f.short[rloc16] = struct{}{}
	return nil
}

func (f *softSourceMatchFilter) AddSrcMatchExtended(ext mac.ExtAddress) error {
	f.ext[ext] = struct{}{}
	return nil
}

func (f *softSourceMatchFilter) ClearSrcMatchShort(rloc16 defn.Rloc16) {
	delete(f.short, rloc16)
}

func (f *softSourceMatchFilter) ClearSrcMatchExtended(ext mac.ExtAddress) {
	delete(f.ext, ext)
}

// noopCslTransmitter satisfies the CSL hook when no CSL-capable
// radio is attached.
type noopCslTransmitter struct{}

func (noopCslTransmitter) ScheduleCslTx(child *mesh.Child) {}
func (noopCslTransmitter) ClearCslTx()                     {}
