package netdata

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thread-mesh/tmnd/defn"
)

// Network Data with:
// - an unknown TLV type,
// - an invalid Prefix TLV with prefix length 129 (two HasRoute sub-TLVs),
// - an invalid Prefix TLV with short length (length = 1),
// - an invalid Prefix TLV with no prefix bytes,
// - a valid Prefix TLV with two HasRoute sub-TLVs.
var MALFORMED_TOLERANCE_DATA = []byte{
	0xff, 0x03, 0x01, 0x02, 0x03,

	0x03, 0x1d, 0x00, 0x81, 0xfd, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb,
	0xcc, 0xdd, 0xee, 0xff, 0x00, 0x00, 0x03, 0xb8, 0x00, 0x40, 0x01, 0x03, 0x14, 0x00, 0x00,

	0x03, 0x01, 0x00,

	0x03, 0x02, 0x00, 0x40,

	0x03, 0x14, 0x00, 0x40, 0xfd, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xc8, 0x00,
	0x40, 0x01, 0x03, 0x54, 0x00, 0x00,
}

// Network Data with routes under three prefixes, a NAT64 route, and a
// child RLOC16.
var MIXED_ROLE_DATA = []byte{
	0x08, 0x04, 0x0b, 0x02, 0x00, 0x00, 0x03, 0x1e, 0x00, 0x40, 0xfd, 0x00, 0x12, 0x34, 0x56, 0x78, 0x00, 0x00,
	0x07, 0x02, 0x11, 0x40, 0x00, 0x03, 0x10, 0x00, 0x40, 0x01, 0x03, 0x54, 0x00, 0x00, 0x05, 0x04, 0x54, 0x00,
	0x31, 0x00, 0x02, 0x0f, 0x00, 0x40, 0xfd, 0x00, 0xab, 0xba, 0xcd, 0xdc, 0x00, 0x00, 0x00, 0x03, 0x10, 0x00,
	0x20, 0x03, 0x0e, 0x00, 0x20, 0xfd, 0x00, 0xab, 0xba, 0x01, 0x06, 0x54, 0x00, 0x00, 0x04, 0x01, 0x00,
}

// Network Data with commissioning data, three prefixes carrying
// border router entries and contexts, and stable HasRoute entries.
var PREFIX_FLAGS_DATA = []byte{
	0x08, 0x04, 0x0b, 0x02, 0x36, 0xcc, 0x03, 0x1c, 0x00, 0x40, 0xfd, 0x00, 0xbe, 0xef, 0xca, 0xfe,
	0x00, 0x00, 0x05, 0x0c, 0x28, 0x00, 0x33, 0x00, 0x28, 0x01, 0x33, 0x00, 0x4c, 0x00, 0x31, 0x00,
	0x07, 0x02, 0x11, 0x40, 0x03, 0x14, 0x00, 0x40, 0xfd, 0x00, 0x22, 0x22, 0x00, 0x00, 0x00, 0x00,
	0x05, 0x04, 0x28, 0x00, 0x73, 0x00, 0x07, 0x02, 0x12, 0x40, 0x03, 0x12, 0x00, 0x40, 0xfd, 0x00,
	0x33, 0x33, 0x00, 0x00, 0x00, 0x00, 0x01, 0x06, 0xec, 0x00, 0x00, 0x28, 0x01, 0xc0,
}

func collectRoutes(t *testing.T, nd NetworkData) []ExternalRouteConfig {
	t.Helper()

	var routes []ExternalRouteConfig
	it := IteratorInit
	for {
		cfg, err := nd.NextExternalRoute(&it)
		if err != nil {
			assert.ErrorIs(t, err, defn.ErrNotFound)
			return routes
		}
		routes = append(routes, cfg)
	}
}

func collectPrefixes(t *testing.T, nd NetworkData) []OnMeshPrefixConfig {
	t.Helper()

	var prefixes []OnMeshPrefixConfig
	it := IteratorInit
	for {
		cfg, err := nd.NextOnMeshPrefix(&it)
		if err != nil {
			assert.ErrorIs(t, err, defn.ErrNotFound)
			return prefixes
		}
		prefixes = append(prefixes, cfg)
	}
}

func rlocSet(nd NetworkData, filter BorderRouterFilter, role defn.RoleFilter) map[defn.Rloc16]bool {
	set := make(map[defn.Rloc16]bool)
	for _, r := range nd.FindRlocs(filter, role) {
		set[r] = true
	}
	return set
}

func assertRlocs(t *testing.T, nd NetworkData, filter BorderRouterFilter, role defn.RoleFilter, expected []defn.Rloc16) {
	t.Helper()

	got := nd.FindRlocs(filter, role)
	require.Len(t, got, len(expected))
	set := rlocSet(nd, filter, role)
	for _, r := range expected {
		assert.True(t, set[r], "missing rloc %s", r)
	}
}

func TestMalformedTolerance(t *testing.T) {
	nd := NewNetworkData(MALFORMED_TOLERANCE_DATA)
	prefix := netip.MustParsePrefix("fd00:1234::/64")

	routes := collectRoutes(t, nd)
	require.Len(t, routes, 2)

	assert.Equal(t, prefix, routes[0].Prefix)
	assert.Equal(t, defn.Rloc16(0xc800), routes[0].Rloc16)
	assert.Equal(t, defn.PreferenceHigh, routes[0].Preference)
	assert.False(t, routes[0].Nat64)
	assert.False(t, routes[0].Stable)

	assert.Equal(t, prefix, routes[1].Prefix)
	assert.Equal(t, defn.Rloc16(0x5400), routes[1].Rloc16)
	assert.Equal(t, defn.PreferenceMedium, routes[1].Preference)
	assert.True(t, routes[1].Stable)

	// No on-mesh prefix entries at all.
	assert.Empty(t, collectPrefixes(t, nd))

	rlocs := []defn.Rloc16{0xc800, 0x5400}
	assertRlocs(t, nd, AnyBrOrServer, defn.AnyRole, rlocs)
	assertRlocs(t, nd, AnyBrOrServer, defn.RouterRoleOnly, rlocs)
	assertRlocs(t, nd, AnyBrOrServer, defn.ChildRoleOnly, nil)
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.AnyRole, rlocs)
	assert.Equal(t, 2, nd.CountBorderRouters(defn.AnyRole))
	assert.Equal(t, 2, nd.CountBorderRouters(defn.RouterRoleOnly))
	assert.Equal(t, 0, nd.CountBorderRouters(defn.ChildRoleOnly))

	for _, r := range rlocs {
		assert.True(t, nd.ContainsBorderRouterWithRloc(r))
	}
	for _, r := range []defn.Rloc16{0xc700, 0x0000, 0x5401} {
		assert.False(t, nd.ContainsBorderRouterWithRloc(r))
	}
}

func TestRouteIterationAndRoles(t *testing.T) {
	nd := NewNetworkData(MIXED_ROLE_DATA)

	routes := collectRoutes(t, nd)
	require.Len(t, routes, 5)

	expected := []ExternalRouteConfig{
		{Prefix: netip.MustParsePrefix("fd00:1234:5678::/64"), Rloc16: 0x1000, Preference: defn.PreferenceHigh},
		{Prefix: netip.MustParsePrefix("fd00:1234:5678::/64"), Rloc16: 0x5400, Stable: true},
		{Prefix: netip.MustParsePrefix("fd00:abba:cddc::/64"), Rloc16: 0x1000, Nat64: true},
		{Prefix: netip.MustParsePrefix("fd00:abba::/32"), Rloc16: 0x5400, Stable: true},
		{Prefix: netip.MustParsePrefix("fd00:abba::/32"), Rloc16: 0x0401, Stable: true},
	}
	assert.Equal(t, expected, routes)

	assertRlocs(t, nd, AnyBrOrServer, defn.AnyRole, []defn.Rloc16{0x1000, 0x5400, 0x0401})
	assertRlocs(t, nd, AnyBrOrServer, defn.RouterRoleOnly, []defn.Rloc16{0x1000, 0x5400})
	assertRlocs(t, nd, AnyBrOrServer, defn.ChildRoleOnly, []defn.Rloc16{0x0401})

	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.AnyRole, []defn.Rloc16{0x1000, 0x5400, 0x0401})
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.RouterRoleOnly, []defn.Rloc16{0x1000, 0x5400})
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.ChildRoleOnly, []defn.Rloc16{0x0401})

	for _, r := range []defn.Rloc16{0x6000, 0x0000, 0x0402} {
		assert.False(t, nd.ContainsBorderRouterWithRloc(r))
	}
}

func TestOnMeshPrefixIteration(t *testing.T) {
	nd := NewNetworkData(PREFIX_FLAGS_DATA)

	routes := collectRoutes(t, nd)
	require.Len(t, routes, 2)
	assert.Equal(t, netip.MustParsePrefix("fd00:3333::/64"), routes[0].Prefix)
	assert.Equal(t, defn.Rloc16(0xec00), routes[0].Rloc16)
	assert.Equal(t, defn.PreferenceMedium, routes[0].Preference)
	assert.True(t, routes[0].Stable)
	assert.Equal(t, defn.Rloc16(0x2801), routes[1].Rloc16)
	assert.Equal(t, defn.PreferenceLow, routes[1].Preference)
	assert.True(t, routes[1].Stable)

	prefixes := collectPrefixes(t, nd)
	require.Len(t, prefixes, 4)

	beef := netip.MustParsePrefix("fd00:beef:cafe::/64")
	for i, expected := range []struct {
		prefix       netip.Prefix
		rloc16       defn.Rloc16
		preference   defn.Preference
		defaultRoute bool
	}{
		{beef, 0x2800, defn.PreferenceMedium, true},
		{beef, 0x2801, defn.PreferenceMedium, true},
		{beef, 0x4c00, defn.PreferenceMedium, false},
		{netip.MustParsePrefix("fd00:2222::/64"), 0x2800, defn.PreferenceHigh, true},
	} {
		p := prefixes[i]
		assert.Equal(t, expected.prefix, p.Prefix, "prefix %d", i)
		assert.Equal(t, expected.rloc16, p.Rloc16, "prefix %d", i)
		assert.Equal(t, expected.preference, p.Preference, "prefix %d", i)
		assert.Equal(t, expected.defaultRoute, p.DefaultRoute, "prefix %d", i)
		assert.True(t, p.Preferred, "prefix %d", i)
		assert.True(t, p.Slaac, "prefix %d", i)
		assert.False(t, p.Dhcp, "prefix %d", i)
		assert.True(t, p.OnMesh, "prefix %d", i)
		assert.True(t, p.Stable, "prefix %d", i)
	}

	assertRlocs(t, nd, AnyBrOrServer, defn.AnyRole, []defn.Rloc16{0xec00, 0x2801, 0x2800, 0x4c00})
	assertRlocs(t, nd, AnyBrOrServer, defn.RouterRoleOnly, []defn.Rloc16{0xec00, 0x2800, 0x4c00})
	assertRlocs(t, nd, AnyBrOrServer, defn.ChildRoleOnly, []defn.Rloc16{0x2801})

	// 0x4c00 announces neither a route nor a default-route/DHCP flag.
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.AnyRole, []defn.Rloc16{0xec00, 0x2801, 0x2800})
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.RouterRoleOnly, []defn.Rloc16{0xec00, 0x2800})
	assertRlocs(t, nd, BrProvidingExternalIpConn, defn.ChildRoleOnly, []defn.Rloc16{0x2801})

	for _, r := range []defn.Rloc16{0x6000, 0x0000, 0x2806, 0x4c00} {
		assert.False(t, nd.ContainsBorderRouterWithRloc(r))
	}
}

func TestLowpanContextIteration(t *testing.T) {
	nd := NewNetworkData(PREFIX_FLAGS_DATA)

	var contexts []LowpanContextInfo
	it := IteratorInit
	for {
		info, err := nd.NextLowpanContext(&it)
		if err != nil {
			break
		}
		contexts = append(contexts, info)
	}

	require.Len(t, contexts, 2)
	assert.Equal(t, uint8(1), contexts[0].ContextId)
	assert.True(t, contexts[0].CompressFlag)
	assert.True(t, contexts[0].Stable)
	assert.Equal(t, netip.MustParsePrefix("fd00:beef:cafe::/64"), contexts[0].Prefix)
	assert.Equal(t, uint8(2), contexts[1].ContextId)
	assert.Equal(t, netip.MustParsePrefix("fd00:2222::/64"), contexts[1].Prefix)
}

func TestContainsOmrPrefix(t *testing.T) {
	nd := NewNetworkData(PREFIX_FLAGS_DATA)

	// fd00:beef:cafe::/64 via 0x2800 has on-mesh, preferred, slaac
	// and default-route set.
	assert.True(t, nd.ContainsOmrPrefix(netip.MustParsePrefix("fd00:beef:cafe::/64")))
	assert.True(t, nd.ContainsOmrPrefix(netip.MustParsePrefix("fd00:2222::/64")))
	assert.False(t, nd.ContainsOmrPrefix(netip.MustParsePrefix("fd00:3333::/64")))
	assert.False(t, nd.ContainsOmrPrefix(netip.MustParsePrefix("fd00:beef:cafe::/48")))
	assert.False(t, nd.ContainsOmrPrefix(netip.MustParsePrefix("fe80::/64")))
}

// Iteration must terminate and stay in bounds on arbitrary input.
func TestIterationOnRandomBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 500; trial++ {
		buf := make([]byte, rng.Intn(MaxSize+1))
		rng.Read(buf)
		nd := NewNetworkData(buf)

		it := IteratorInit
		for calls := 0; ; calls++ {
			require.Less(t, calls, 1000, "iteration did not terminate")
			if _, err := nd.NextOnMeshPrefix(&it); err != nil {
				break
			}
		}

		it = IteratorInit
		for calls := 0; ; calls++ {
			require.Less(t, calls, 1000, "iteration did not terminate")
			if _, err := nd.NextExternalRoute(&it); err != nil {
				break
			}
		}

		it = IteratorInit
		for calls := 0; ; calls++ {
			require.Less(t, calls, 1000, "iteration did not terminate")
			if _, err := nd.NextService(&it); err != nil {
				break
			}
		}

		nd.FindRlocs(AnyBrOrServer, defn.AnyRole)
		nd.FindRlocs(BrProvidingExternalIpConn, defn.AnyRole)
	}
}

// FindRlocs must return the same set on repeated calls.
func TestFindRlocsIdempotent(t *testing.T) {
	for _, data := range [][]byte{MALFORMED_TOLERANCE_DATA, MIXED_ROLE_DATA, PREFIX_FLAGS_DATA} {
		nd := NewNetworkData(data)
		first := nd.FindRlocs(AnyBrOrServer, defn.AnyRole)
		second := nd.FindRlocs(AnyBrOrServer, defn.AnyRole)
		assert.Equal(t, first, second)
	}
}
