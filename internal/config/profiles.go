package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aristath/forecastbt/internal/modules/backtest"
)

// DefaultProfile is the profile name used when a request names none
const DefaultProfile = "default"

// Profiles are named backtest parameter sets loaded from YAML:
//
//	profiles:
//	  default:
//	    mode: binary
//	    buy_threshold_pct: 1.5
//	  cautious:
//	    mode: rebalance
//	    max_position_pct: 0.5
//
// Omitted fields inherit backtest.DefaultParams.
type Profiles struct {
	byName map[string]backtest.Params
}

type profilesFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfiles reads a profiles file. An empty path yields only the built-in default.
func LoadProfiles(path string) (*Profiles, error) {
	if path == "" {
		return builtinProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profiles from YAML bytes and validates each one
func ParseProfiles(data []byte) (*Profiles, error) {
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy profiles: %w", err)
	}

	p := builtinProfiles()
	for name, node := range file.Profiles {
		params := backtest.DefaultParams()
		if err := node.Decode(&params); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p.byName[name] = params
	}
	return p, nil
}

func builtinProfiles() *Profiles {
	return &Profiles{byName: map[string]backtest.Params{DefaultProfile: backtest.DefaultParams()}}
}

// Get returns a profile by name; an empty name selects the default profile
func (p *Profiles) Get(name string) (backtest.Params, bool) {
	if name == "" {
		name = DefaultProfile
	}
	params, ok := p.byName[name]
	return params, ok
}

// Names lists profile names in sorted order
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
