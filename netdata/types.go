package netdata

import (
	"net/netip"

	"github.com/thread-mesh/tmnd/defn"
)

// OnMeshPrefixConfig describes one border router entry advertising an
// on-mesh prefix.
type OnMeshPrefixConfig struct {
	Prefix       netip.Prefix
	Rloc16       defn.Rloc16
	Preference   defn.Preference
	Preferred    bool
	Slaac        bool
	Dhcp         bool
	Configure    bool
	DefaultRoute bool
	OnMesh       bool
	Stable       bool
	NdDns        bool
	DomainPrefix bool
}

// ExternalRouteConfig describes one has-route entry advertising an
// external route.
type ExternalRouteConfig struct {
	Prefix     netip.Prefix
	Rloc16     defn.Rloc16
	Preference defn.Preference
	Nat64      bool
	Stable     bool
	AdvPio     bool
}

// ServiceConfig describes a service entry together with one of its
// servers. Iteration yields one config per server sub-TLV.
type ServiceConfig struct {
	ServiceId        uint8
	EnterpriseNumber uint32
	ServiceData      []byte
	Stable           bool
	Server           ServerConfig
}

// ServerConfig is the server half of a ServiceConfig.
type ServerConfig struct {
	Rloc16     defn.Rloc16
	ServerData []byte
	Stable     bool
}

// LowpanContextInfo describes a 6LoWPAN context attached to a prefix.
type LowpanContextInfo struct {
	ContextId    uint8
	CompressFlag bool
	Stable       bool
	Prefix       netip.Prefix
}

// BorderRouterFilter selects which entries FindRlocs collects.
type BorderRouterFilter int

const (
	// AnyBrOrServer collects RLOCs from BorderRouter, HasRoute and
	// Server sub-TLVs.
	AnyBrOrServer BorderRouterFilter = iota
	// BrProvidingExternalIpConn collects RLOCs of border routers
	// providing external IP connectivity: any HasRoute entry, or a
	// BorderRouter entry with the default-route or DHCP flag.
	BrProvidingExternalIpConn
)
