package defn

import "fmt"

// Rloc16 is a 16-bit routing locator within a Thread partition.
type Rloc16 uint16

// The low 9 bits of an RLOC16 hold the child index; zero means the
// RLOC addresses the router itself.
const childIdMask = 0x01ff

// Anycast locators for the DNS/SRP anycast service live at
// 0xfc10 + service id.
const AlocDnsSrpAnycastBase = 0xfc10

func (r Rloc16) IsChild() bool {
	return r&childIdMask != 0
}

func (r Rloc16) IsRouter() bool {
	return r&childIdMask == 0
}

func (r Rloc16) String() string {
	return fmt.Sprintf("0x%04x", uint16(r))
}

// RoleFilter restricts an RLOC16 query by the role the locator implies.
type RoleFilter int

const (
	AnyRole RoleFilter = iota
	RouterRoleOnly
	ChildRoleOnly
)

func (f RoleFilter) Matches(r Rloc16) bool {
	switch f {
	case RouterRoleOnly:
		return r.IsRouter()
	case ChildRoleOnly:
		return r.IsChild()
	default:
		return true
	}
}
