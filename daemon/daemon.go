// Package daemon assembles the stack: the event loop, the Network
// Data store, the notifier, the DHCPv6 client, and the indirect
// sender, wired the way a border router or router node runs them.
package daemon

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"

	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/dhcp6"
	"github.com/thread-mesh/tmnd/mac"
	"github.com/thread-mesh/tmnd/mesh"
	"github.com/thread-mesh/tmnd/netdata"
	"github.com/thread-mesh/tmnd/notifier"
)

// Daemon is the running stack instance. Only one should exist per
// process.
type Daemon struct {
	config *core.Config
	loop   *core.Loop
	timer  core.Timer

	store    *netdata.Store
	notifier *notifier.Notifier

	dhcp      *dhcp6.Client
	transport *udpTransport
	netif     *loggingNetif

	table       *mesh.Table
	queue       *mesh.SendQueue
	sourceMatch *mesh.SourceMatchController
	indirect    *mesh.IndirectSender

	meshLocal netip.Prefix
}

// NewDaemon builds a stack from the configuration. Don't call this
// function twice.
func NewDaemon(config *core.Config) (*Daemon, error) {
	core.C = config
	core.OpenLogger()

	meshLocal, err := netip.ParsePrefix(config.Mesh.MeshLocalPrefix)
	if err != nil {
		return nil, fmt.Errorf("bad mesh-local prefix: %w", err)
	}

	var eui64 [8]byte
	raw, err := hex.DecodeString(config.Mesh.Eui64)
	if err != nil || len(raw) != 8 {
		return nil, fmt.Errorf("bad eui64 %q", config.Mesh.Eui64)
	}
	copy(eui64[:], raw)

	d := &Daemon{
		config:    config,
		loop:      core.NewLoop(),
		timer:     core.NewTimer(),
		store:     netdata.NewStore(),
		meshLocal: meshLocal,
	}
	d.notifier = notifier.NewNotifier(d.loop)

	d.transport = newUdpTransport(d)
	d.netif = &loggingNetif{}
	d.dhcp = dhcp6.NewClient(dhcp6.Config{
		Timer:            d.timer,
		Transport:        d.transport,
		Netif:            d.netif,
		Source:           d.store,
		MeshLocalPrefix:  meshLocal,
		Eui64:            eui64,
		MulticastSolicit: config.Dhcp6.MulticastSolicit,
		TrickleImin:      secToDuration(config.Dhcp6.TrickleImin),
		TrickleImax:      secToDuration(config.Dhcp6.TrickleImax),
	})

	d.table = mesh.NewTable(config.Mesh.MaxChildren)
	d.queue = mesh.NewSendQueue()
	d.sourceMatch = mesh.NewSourceMatchController(&softSourceMatchFilter{})
	d.indirect = mesh.NewIndirectSender(d.queue, d.table, d.sourceMatch, &immediateFrameChanger{daemon: d})
	if config.Indirect.CslEnabled {
		d.indirect.SetCslScheduler(mesh.NewCslScheduler(d.table, &noopCslTransmitter{}))
	}

	d.notifier.RegisterCallback(d.handleEvents)

	return d, nil
}

func (d *Daemon) String() string {
	return "tmnd"
}

// Start runs the stack. Non-blocking.
func (d *Daemon) Start() {
	core.Log.Info(d, "Starting Thread mesh network data stack")
	go d.loop.Run()
	d.loop.Post(func() {
		d.indirect.Start()
	})
}

// Stop shuts the stack down and waits for the loop to drain.
func (d *Daemon) Stop() {
	d.loop.Post(func() {
		if d.config.Dhcp6.Enabled {
			d.dhcp.Stop()
		}
		d.indirect.Stop()
	})
	d.loop.Stop()
	core.CloseLogger()
}

// Loop exposes the event loop for platform callbacks.
func (d *Daemon) Loop() *core.Loop {
	return d.loop
}

// Store exposes the Network Data store. Read-only queries are safe
// from the loop only.
func (d *Daemon) Store() *netdata.Store {
	return d.store
}

// IndirectSender exposes the indirect sender for MAC callbacks.
func (d *Daemon) IndirectSender() *mesh.IndirectSender {
	return d.indirect
}

// UpdateNetworkData atomically replaces the partition Network Data
// and signals the change.
func (d *Daemon) UpdateNetworkData(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	d.loop.Post(func() {
		if err := d.store.Update(buf); err != nil {
			core.Log.Warn(d, "Rejected network data update", "err", err, "len", len(buf))
			return
		}
		d.notifier.Signal(notifier.EventThreadNetdataChanged)
	})
}

// AddChild registers a child with the table and signals the event.
func (d *Daemon) AddChild(rloc16 defn.Rloc16, ext mac.ExtAddress, rxOnWhenIdle bool) {
	d.loop.Post(func() {
		child, err := d.table.Add(rloc16, ext)
		if err != nil {
			core.Log.Warn(d, "Child table full", "rloc16", rloc16)
			return
		}
		child.SetRxOnWhenIdle(rxOnWhenIdle)
		d.notifier.Signal(notifier.EventChildAdded)
	})
}

// RemoveChild clears the child's indirect state and removes it.
func (d *Daemon) RemoveChild(rloc16 defn.Rloc16) {
	d.loop.Post(func() {
		child := d.table.FindByRloc16(rloc16)
		if child == nil {
			return
		}
		d.indirect.ClearAllMessages(child)
		d.table.Remove(child)
		d.notifier.Signal(notifier.EventChildRemoved)
	})
}

// SetChildMode updates a child's rx-on-when-idle mode bit.
func (d *Daemon) SetChildMode(rloc16 defn.Rloc16, rxOnWhenIdle bool) {
	d.loop.Post(func() {
		child := d.table.FindByRloc16(rloc16)
		if child == nil {
			return
		}
		old := child.IsRxOnWhenIdle()
		if old == rxOnWhenIdle {
			return
		}
		child.SetRxOnWhenIdle(rxOnWhenIdle)
		d.indirect.HandleChildModeChange(child, old)
		d.notifier.Signal(notifier.EventChildModeChanged)
	})
}

func (d *Daemon) handleEvents(events notifier.Events) {
	if events.Contains(notifier.EventThreadNetdataChanged) {
		if d.config.Dhcp6.Enabled {
			d.dhcp.HandleNetdataChanged()
		}
	}
}

func secToDuration(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}
