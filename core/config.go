package core

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Global initial configuration of the stack.
// This configuration is IMMUTABLE. Do not modify it.
var C = DefaultConfig()

// Config represents the configuration of the stack.
type Config struct {
	Core struct {
		// Logging level
		LogLevel string `json:"log_level"`
		// Output log to file
		LogFile string `json:"log_file"`

		// Config file base dir
		BaseDir string `json:"-"`
	} `json:"core"`

	Mesh struct {
		// Mesh-local prefix (a /64 ULA)
		MeshLocalPrefix string `json:"mesh_local_prefix"`
		// IEEE EUI-64 of this device, hex encoded
		Eui64 string `json:"eui64"`
		// Maximum number of children
		MaxChildren int `json:"max_children"`
	} `json:"mesh"`

	Dhcp6 struct {
		// Whether the DHCPv6 client is enabled
		Enabled bool `json:"enabled"`
		// Solicit to the realm-local all-routers multicast group
		// instead of the agent's routing locator
		MulticastSolicit bool `json:"multicast_solicit"`
		// Trickle Imin (seconds)
		TrickleImin uint32 `json:"trickle_imin"`
		// Trickle Imax (seconds)
		TrickleImax uint32 `json:"trickle_imax"`
	} `json:"dhcp6"`

	Indirect struct {
		// Drop the remaining fragments of a message to a child when
		// all tx attempts of the current frame failed
		DropMessageOnFragmentFailure bool `json:"drop_message_on_fragment_failure"`
		// Whether the CSL transmit scheduler is enabled
		CslEnabled bool `json:"csl_enabled"`
	} `json:"indirect"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.Core.LogLevel = "INFO"
	c.Mesh.MeshLocalPrefix = "fd00:db8::/64"
	c.Mesh.MaxChildren = 32
	c.Dhcp6.Enabled = true
	c.Dhcp6.TrickleImin = 1
	c.Dhcp6.TrickleImax = 120
	c.Indirect.DropMessageOnFragmentFailure = true
	return c
}

// ReadYaml parses the YAML file into dest, exiting on failure.
func ReadYaml(dest any, file string) {
	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open configuration file: %+v\n", err)
		os.Exit(3)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f, yaml.Strict())
	if err = dec.Decode(dest); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse configuration file: %+v\n", err)
		os.Exit(3)
	}
}
