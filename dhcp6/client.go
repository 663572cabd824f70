package dhcp6

import (
	"bytes"
	"net/netip"
	"time"

	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/defn"
	"github.com/thread-mesh/tmnd/netdata"
	"github.com/thread-mesh/tmnd/trickle"
)

// IaStatus is the lifecycle state of an identity association.
type IaStatus uint8

const (
	IaStatusInvalid IaStatus = iota
	IaStatusSolicit
	IaStatusSoliciting
	IaStatusSolicitReplied
)

func (s IaStatus) String() string {
	switch s {
	case IaStatusSolicit:
		return "Solicit"
	case IaStatusSoliciting:
		return "Soliciting"
	case IaStatusSolicitReplied:
		return "SolicitReplied"
	default:
		return "Invalid"
	}
}

// AddressOrigin tags who installed an address on the interface.
type AddressOrigin uint8

const (
	OriginThread AddressOrigin = iota
	OriginSlaac
	OriginDhcp6
	OriginManual
)

// NetifAddress is a unicast address to install on the Thread network
// interface.
type NetifAddress struct {
	Address      netip.Addr
	PrefixLength uint8
	Origin       AddressOrigin
	Preferred    bool
	Valid        bool
}

// Netif installs and removes unicast addresses. Addresses tagged
// OriginDhcp6 are owned by this client; nothing else removes them.
type Netif interface {
	AddUnicastAddress(addr NetifAddress)
	RemoveUnicastAddress(addr NetifAddress)
}

// Transport is the UDP socket the client runs over.
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool
	SendTo(payload []byte, dst netip.AddrPort) error
}

// NetworkDataSource yields the current Network Data view.
// *netdata.Store satisfies this.
type NetworkDataSource interface {
	Data() netdata.NetworkData
}

// IdentityAssociation tracks one candidate DHCP prefix.
type IdentityAssociation struct {
	Status            IaStatus
	NetifAddress      NetifAddress
	PrefixAgentRloc   defn.Rloc16
	PreferredLifetime uint32
	ValidLifetime     uint32

	cancelExpiry func() error
}

const maxIdentityAssociations = 4

// infiniteLifetime never expires.
const infiniteLifetime = 0xffffffff

// Config carries the client's construction parameters.
type Config struct {
	Timer            core.Timer
	Transport        Transport
	Netif            Netif
	Source           NetworkDataSource
	MeshLocalPrefix  netip.Prefix
	Eui64            [8]byte
	MulticastSolicit bool
	TrickleImin      time.Duration
	TrickleImax      time.Duration
}

// Client solicits addresses for DHCP-flagged on-mesh prefixes from
// in-mesh DHCPv6 agents. Single-threaded; every entry point must be
// invoked from the event loop.
type Client struct {
	cfg     Config
	trickle *trickle.Timer

	ias           [maxIdentityAssociations]IdentityAssociation
	current       *IdentityAssociation
	transactionId TransactionId
	startTime     time.Time
}

func NewClient(cfg Config) *Client {
	c := &Client{cfg: cfg}
	c.trickle = trickle.NewTimer(cfg.Timer, c.handleTrickleTimer)
	return c
}

func (c *Client) String() string {
	return "dhcp6-client"
}

// HandleNetdataChanged reconciles the IA table against the current
// on-mesh prefixes and starts or stops the client accordingly.
func (c *Client) HandleNetdataChanged() {
	c.updateAddresses()
}

func (c *Client) updateAddresses() {
	nd := c.cfg.Source.Data()

	// drop any association whose prefix left network data; installed
	// addresses are removed from the interface right away
	for i := range c.ias {
		ia := &c.ias[i]
		if ia.Status == IaStatusInvalid {
			continue
		}

		found := false
		it := netdata.IteratorInit
		for {
			cfg, err := nd.NextOnMeshPrefix(&it)
			if err != nil {
				break
			}
			if !cfg.Dhcp {
				continue
			}
			if cfg.Prefix.Contains(ia.NetifAddress.Address) {
				found = true
				break
			}
		}

		if !found {
			c.invalidate(ia)
		}
	}

	// add an identity association for each newly configured prefix
	agentExists := false
	it := netdata.IteratorInit
	for {
		cfg, err := nd.NextOnMeshPrefix(&it)
		if err != nil {
			break
		}
		if !cfg.Dhcp {
			continue
		}
		agentExists = true

		var free, match *IdentityAssociation
		for i := range c.ias {
			ia := &c.ias[i]
			if ia.Status == IaStatusInvalid {
				if free == nil {
					free = ia
				}
			} else if cfg.Prefix.Contains(ia.NetifAddress.Address) {
				match = ia
				break
			}
		}

		ia := match
		if ia == nil {
			if free == nil {
				core.Log.Warn(c, "Insufficient slots for new DHCP prefix", "prefix", cfg.Prefix)
				continue
			}
			ia = free
			ia.Status = IaStatusSolicit
			ia.NetifAddress = NetifAddress{
				Address:      cfg.Prefix.Addr(),
				PrefixLength: uint8(cfg.Prefix.Bits()),
			}
			ia.ValidLifetime = 0
		}
		ia.PrefixAgentRloc = cfg.Rloc16
	}

	if agentExists {
		c.Start()
	} else {
		c.Stop()
	}
}

// Start opens the socket and begins soliciting pending IAs. A no-op
// when already running.
func (c *Client) Start() {
	if c.cfg.Transport.IsOpen() {
		return
	}
	if err := c.cfg.Transport.Open(); err != nil {
		core.Log.Error(c, "Failed to open socket", "err", err)
		return
	}
	c.processNextIdentityAssociation()
}

// Stop halts the Trickle timer and closes the socket.
func (c *Client) Stop() {
	c.trickle.Stop()
	if c.cfg.Transport.IsOpen() {
		_ = c.cfg.Transport.Close()
	}
}

// processNextIdentityAssociation picks the next IA in Solicit state
// and restarts the Trickle exchange for it. It never interrupts an
// in-progress solicit.
func (c *Client) processNextIdentityAssociation() bool {
	if c.current != nil && c.current.Status == IaStatusSoliciting {
		return false
	}

	c.trickle.Stop()

	for i := range c.ias {
		ia := &c.ias[i]
		if ia.Status != IaStatusSolicit {
			continue
		}

		c.transactionId.GenerateRandom()
		c.current = ia

		c.trickle.Start(c.cfg.TrickleImin, c.cfg.TrickleImax)
		c.trickle.IndicateInconsistent()
		return true
	}

	return false
}

func (c *Client) handleTrickleTimer() {
	if c.current == nil {
		c.trickle.Stop()
		return
	}

	switch c.current.Status {
	case IaStatusSolicit:
		c.startTime = c.cfg.Timer.Now()
		c.current.Status = IaStatusSoliciting
		fallthrough

	case IaStatusSoliciting:
		c.solicit(c.current.PrefixAgentRloc)

	case IaStatusSolicitReplied:
		c.current = nil
		if !c.processNextIdentityAssociation() {
			c.Stop()
		}
	}
}

// realmLocalAllRouters is the multicast solicit destination.
var realmLocalAllRouters = netip.MustParseAddr("ff03::2")

func (c *Client) solicit(agentRloc defn.Rloc16) {
	elapsed := c.cfg.Timer.Now().Sub(c.startTime) / (10 * time.Millisecond)
	if elapsed > 0xffff {
		elapsed = 0xffff
	}

	var addrs []byte
	for i := range c.ias {
		ia := &c.ias[i]
		if (ia.Status == IaStatusSolicit || ia.Status == IaStatusSoliciting) &&
			ia.PrefixAgentRloc == agentRloc {
			addrs = appendIaAddress(addrs, ia.NetifAddress.Address, 0, 0)
		}
	}

	var msg []byte
	msg = appendHeader(msg, MsgTypeSolicit, c.transactionId)
	msg = appendElapsedTime(msg, uint16(elapsed))
	msg = appendClientId(msg, c.cfg.Eui64)
	msg = appendIaNa(msg, addrs)
	msg = appendRapidCommit(msg)

	dst := defn.RlocAddress(c.cfg.MeshLocalPrefix, agentRloc)
	if c.cfg.MulticastSolicit {
		dst = realmLocalAllRouters
	}

	if err := c.cfg.Transport.SendTo(msg, netip.AddrPortFrom(dst, ServerPort)); err != nil {
		core.Log.Warn(c, "Failed to send DHCPv6 Solicit", "err", err)
		return
	}
	core.Log.Info(c, "solicit", "agent", agentRloc)
}

// HandleUdpReceive processes a datagram from the socket. Anything but
// a matching-transaction Reply is silently dropped.
func (c *Client) HandleUdpReceive(payload []byte) {
	msg, err := parseMessage(payload)
	if err != nil {
		return
	}
	if msg.typ == MsgTypeReply && msg.tid == c.transactionId {
		c.processReply(msg.options)
	}
}

func (c *Client) processReply(opts []byte) {
	if !validStatusCode(opts) {
		return
	}

	serverId, ok := findOption(opts, OptionServerId)
	if !ok || !validServerId(serverId) {
		return
	}

	clientId, ok := findOption(opts, OptionClientId)
	if !ok || !c.validClientId(clientId) {
		return
	}

	if _, ok = findOption(opts, OptionRapidCommit); !ok {
		return
	}

	iaNa, ok := findOption(opts, OptionIaNa)
	if !ok || !c.processIaNa(iaNa) {
		return
	}

	c.handleTrickleTimer()
}

func (c *Client) validClientId(v []byte) bool {
	var want []byte
	want = append(want, byte(DuidTypeLinkLayer>>8), byte(DuidTypeLinkLayer))
	want = append(want, byte(HardwareTypeEui64>>8), byte(HardwareTypeEui64))
	want = append(want, c.cfg.Eui64[:]...)
	return bytes.Equal(v, want)
}

func (c *Client) processIaNa(v []byte) bool {
	if len(v) < 12 {
		return false
	}
	opts := v[12:]

	if !validStatusCode(opts) {
		return false
	}

	accepted := false
	forEachOption(opts, OptionIaAddress, func(value []byte) bool {
		addr, err := parseIaAddress(value)
		if err != nil {
			return true
		}
		if c.applyIaAddress(addr) {
			accepted = true
		}
		return true
	})
	return accepted
}

// applyIaAddress installs the offered address on the IA whose prefix
// covers it.
func (c *Client) applyIaAddress(offer iaAddress) bool {
	for i := range c.ias {
		ia := &c.ias[i]
		if ia.Status == IaStatusInvalid || ia.ValidLifetime != 0 {
			continue
		}

		prefix := netip.PrefixFrom(ia.NetifAddress.Address, int(ia.NetifAddress.PrefixLength))
		if !prefix.Contains(offer.addr) {
			continue
		}

		ia.NetifAddress.Address = offer.addr
		ia.NetifAddress.Origin = OriginDhcp6
		ia.NetifAddress.Preferred = offer.preferred != 0
		ia.NetifAddress.Valid = offer.valid != 0
		ia.PreferredLifetime = offer.preferred
		ia.ValidLifetime = offer.valid
		ia.Status = IaStatusSolicitReplied
		c.cfg.Netif.AddUnicastAddress(ia.NetifAddress)
		c.scheduleExpiry(ia)
		return true
	}
	return false
}

func (c *Client) scheduleExpiry(ia *IdentityAssociation) {
	c.cancelExpiry(ia)
	if ia.ValidLifetime == 0 || ia.ValidLifetime == infiniteLifetime {
		return
	}
	ia.cancelExpiry = c.cfg.Timer.Schedule(time.Duration(ia.ValidLifetime)*time.Second, func() {
		c.handleExpiry(ia)
	})
}

func (c *Client) cancelExpiry(ia *IdentityAssociation) {
	if ia.cancelExpiry != nil {
		_ = ia.cancelExpiry()
		ia.cancelExpiry = nil
	}
}

func (c *Client) handleExpiry(ia *IdentityAssociation) {
	if ia.Status != IaStatusSolicitReplied {
		return
	}
	core.Log.Info(c, "DHCPv6 address expired", "addr", ia.NetifAddress.Address)
	c.invalidate(ia)
}

// invalidate removes the IA's address from the interface and frees
// the slot.
func (c *Client) invalidate(ia *IdentityAssociation) {
	c.cancelExpiry(ia)
	if ia.ValidLifetime != 0 {
		c.cfg.Netif.RemoveUnicastAddress(ia.NetifAddress)
	}
	if c.current == ia {
		c.current = nil
	}
	*ia = IdentityAssociation{}
}

// IdentityAssociations exposes a snapshot of the IA table for
// inspection and tests.
func (c *Client) IdentityAssociations() []IdentityAssociation {
	out := make([]IdentityAssociation, len(c.ias))
	copy(out, c.ias[:])
	return out
}
