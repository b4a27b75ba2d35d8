package provider

import (
	"fmt"
	"os"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// AllowList restricts providers to a configured subset of chains. Providers
// the file does not mention keep their static chain list.
//
//	providers:
//	  aave-v3:
//	    chains: [ethereum, base]
//	  kamino:
//	    enabled: false
type AllowList struct {
	entries map[model.ProviderID]allowEntry
}

type allowEntry struct {
	enabled bool
	chains  map[model.Chain]struct{} // nil means every chain
}

type allowListFile struct {
	Providers map[string]struct {
		Enabled *bool    `yaml:"enabled"`
		Chains  []string `yaml:"chains"`
	} `yaml:"providers"`
}

// LoadAllowList reads and parses the allow-list file at path.
func LoadAllowList(path string) (*AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider allow-list %s: %w", path, err)
	}
	return ParseAllowList(data)
}

func ParseAllowList(data []byte) (*AllowList, error) {
	var file allowListFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider allow-list: %w", err)
	}

	a := &AllowList{entries: make(map[model.ProviderID]allowEntry, len(file.Providers))}
	for name, p := range file.Providers {
		entry := allowEntry{enabled: p.Enabled == nil || *p.Enabled}
		if p.Chains != nil {
			entry.chains = make(map[model.Chain]struct{}, len(p.Chains))
			for _, raw := range p.Chains {
				chain, ok := model.ParseChain(raw)
				if !ok {
					return nil, fmt.Errorf("provider allow-list: %s lists unknown chain %q", name, raw)
				}
				entry.chains[chain] = struct{}{}
			}
		}
		a.entries[model.ProviderID(name)] = entry
	}
	return a, nil
}

func (a *AllowList) SupportsChain(provider model.ProviderID, chain model.Chain) (bool, error) {
	entry, ok := a.entries[provider]
	if !ok {
		return true, nil
	}
	if !entry.enabled {
		return false, nil
	}
	if entry.chains == nil {
		return true, nil
	}
	_, listed := entry.chains[chain]
	return listed, nil
}
