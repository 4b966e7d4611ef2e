// Package resolver maps datagram source addresses to stable device
// identifiers.
//
// Resolution never fails: an address with no mapping falls through to a
// deterministic "unknown-" identifier so every received record remains
// attributable. Mapping tables are immutable snapshots swapped atomically,
// so lookups are lock-free and reloads never tear an in-flight resolution.
package resolver

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// UnknownInvalid is returned for addresses that cannot be parsed at all.
const UnknownInvalid = "unknown-invalid"

// RangeConfig describes one CIDR range and its assignment policy.
type RangeConfig struct {
	// CIDR is the network in prefix notation, e.g. "10.1.0.0/16".
	CIDR string `json:"cidr" mapstructure:"cidr" yaml:"cidr"`

	// AutoAssign enables identifier synthesis for addresses in this range.
	// Ranges without it are ignored by resolution.
	AutoAssign bool `json:"auto_assign" mapstructure:"auto_assign" yaml:"auto_assign"`

	// Prefix is the tag prepended to synthesized identifiers.
	Prefix string `json:"device_prefix" mapstructure:"device_prefix" yaml:"device_prefix"`
}

// Config holds the mapping tables for the resolver.
type Config struct {
	// Devices maps exact source IPs to device identifiers.
	Devices map[string]string `json:"devices" mapstructure:"devices" yaml:"devices"`

	// Ranges are CIDR blocks checked by longest prefix when no exact
	// mapping matches.
	Ranges []RangeConfig `json:"ip_ranges" mapstructure:"ip_ranges" yaml:"ip_ranges"`
}

// rangeRule is a parsed RangeConfig.
type rangeRule struct {
	prefix netip.Prefix
	tag    string
}

// table is one immutable resolution snapshot.
type table struct {
	exact  map[string]string
	ranges []rangeRule // sorted by prefix length, most specific first
}

// Resolver resolves source IPs to device identifiers.
type Resolver struct {
	snapshot atomic.Pointer[table]
}

// New creates a resolver from the given mapping configuration.
func New(cfg Config) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the mapping tables atomically. In-flight resolutions
// keep using the old snapshot; new ones see the new tables.
func (r *Resolver) Reload(cfg Config) error {
	t, err := buildTable(cfg)
	if err != nil {
		return err
	}
	r.snapshot.Store(t)
	return nil
}

// Resolve maps a source IP literal to a device identifier.
//
// Lookup order, first match wins:
//  1. exact-IP mapping
//  2. longest-prefix match against auto-assign ranges
//  3. fallback "unknown-<sanitized-ip>"
//
// Resolve never fails; an unparseable address yields "unknown-invalid".
func (r *Resolver) Resolve(sourceIP string) string {
	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return UnknownInvalid
	}
	addr = addr.Unmap()
	canonical := addr.String()

	t := r.snapshot.Load()

	if id, ok := t.exact[canonical]; ok {
		return id
	}

	for _, rule := range t.ranges {
		if rule.prefix.Contains(addr) {
			return rule.tag + "-" + sanitizeAddr(canonical)
		}
	}

	return "unknown-" + sanitizeAddr(canonical)
}

// LoadMappingFile reads a JSON device mapping file.
//
// The format mirrors the operator-maintained mapping document:
//
//	{
//	  "devices": {"10.0.0.5": "firewall-hq"},
//	  "ip_ranges": [
//	    {"cidr": "10.1.0.0/16", "auto_assign": true, "device_prefix": "branch"}
//	  ]
//	}
func LoadMappingFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read device mapping file %q: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse device mapping file %q: %w", path, err)
	}

	return cfg, nil
}

func buildTable(cfg Config) (*table, error) {
	t := &table{
		exact: make(map[string]string, len(cfg.Devices)),
	}

	for ip, id := range cfg.Devices {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, fmt.Errorf("invalid device mapping address %q: %w", ip, err)
		}
		if id == "" {
			return nil, fmt.Errorf("device mapping for %q has empty identifier", ip)
		}
		t.exact[addr.Unmap().String()] = id
	}

	for _, rc := range cfg.Ranges {
		if !rc.AutoAssign {
			continue
		}
		prefix, err := netip.ParsePrefix(rc.CIDR)
		if err != nil {
			return nil, fmt.Errorf("invalid device range %q: %w", rc.CIDR, err)
		}
		tag := rc.Prefix
		if tag == "" {
			tag = "device"
		}
		t.ranges = append(t.ranges, rangeRule{prefix: prefix.Masked(), tag: tag})
	}

	// Most specific range first so the longest prefix wins.
	sort.SliceStable(t.ranges, func(i, j int) bool {
		return t.ranges[i].prefix.Bits() > t.ranges[j].prefix.Bits()
	})

	return t, nil
}

// sanitizeAddr turns an IP literal into an identifier fragment: dots and
// colons become hyphens so the result is safe as a directory name.
func sanitizeAddr(ip string) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(ip)
}
