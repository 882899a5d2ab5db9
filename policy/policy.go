// Package policy provides the dispatch gate consulted before any outbound
// claim is made. It combines a declarative channel allow/block list with the
// persisted do-not-contact set. A nil *Gate allows everything and is the
// zero-cost default.
package policy

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/store"
)

// Config is the declarative, serialisable part of a Gate.
type Config struct {
	AllowChannels []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockChannels []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// Load reads a gate configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Gate evaluates dispatch eligibility.
type Gate struct {
	config *Config
	dnc    store.Set[model.DNCEntry]
}

// NewGate builds a gate; config and dnc may each be nil.
func NewGate(config *Config, dnc store.Set[model.DNCEntry]) *Gate {
	return &Gate{config: config, dnc: dnc}
}

// Allow reports whether dispatch on the channel to the destination is
// permitted, with a short reason when it is not. Block rules take priority
// over allow rules; the do-not-contact set takes priority over both.
func (g *Gate) Allow(ctx context.Context, channel, destination string) (bool, string, error) {
	if g == nil {
		return true, "", nil
	}
	if g.dnc != nil {
		entries, err := g.dnc.Read(ctx)
		if err != nil {
			return false, "", err
		}
		for _, entry := range entries {
			if !strings.EqualFold(entry.Destination, destination) {
				continue
			}
			if entry.Channel == "" || strings.EqualFold(entry.Channel, channel) {
				return false, "destination on do-not-contact list", nil
			}
		}
	}
	if g.config == nil {
		return true, "", nil
	}
	for _, blocked := range g.config.BlockChannels {
		if strings.EqualFold(blocked, channel) {
			return false, "channel blocked by policy", nil
		}
	}
	if len(g.config.AllowChannels) == 0 {
		return true, "", nil
	}
	for _, allowed := range g.config.AllowChannels {
		if strings.EqualFold(allowed, channel) {
			return true, "", nil
		}
	}
	return false, "channel not on allow list", nil
}
