package daemon

import (
	"net"
	"net/netip"

	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/dhcp6"
)

// udpTransport backs the DHCPv6 client with a real UDP socket bound
// to the client port. Received datagrams are posted to the event
// loop.
type udpTransport struct {
	daemon *Daemon
	conn   *net.UDPConn
}

func newUdpTransport(d *Daemon) *udpTransport {
	return &udpTransport{daemon: d}
}

func (t *udpTransport) String() string {
	return "dhcp6-socket"
}

func (t *udpTransport) Open() error {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: int(dhcp6.ClientPort)})
	if err != nil {
		return err
	}
	t.conn = conn
	go t.receiveLoop(conn)
	return nil
}

func (t *udpTransport) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		t.daemon.loop.Post(func() {
			t.daemon.dhcp.HandleUdpReceive(payload)
		})
	}
}

func (t *udpTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *udpTransport) IsOpen() bool {
	return t.conn != nil
}

func (t *udpTransport) SendTo(payload []byte, dst netip.AddrPort) error {
	if t.conn == nil {
		return net.ErrClosed
	}
	_, err := t.conn.WriteToUDPAddrPort(payload, dst)
	return err
}

// loggingNetif records address installs; the platform interface glue
// is outside this stack.
type loggingNetif struct {
	addresses []dhcp6.NetifAddress
}

func (n *loggingNetif) String() string {
	return "netif"
}

func (n *loggingNetif) AddUnicastAddress(addr dhcp6.NetifAddress) {
	core.Log.Info(n, "Add unicast address", "addr", addr.Address, "len", addr.PrefixLength)
	n.addresses = append(n.addresses, addr)
}

func (n *loggingNetif) RemoveUnicastAddress(addr dhcp6.NetifAddress) {
	core.Log.Info(n, "Remove unicast address", "addr", addr.Address)
	for i, have := range n.addresses {
		if have.Address == addr.Address {
			n.addresses = append(n.addresses[:i], n.addresses[i+1:]...)
			return
		}
	}
}
