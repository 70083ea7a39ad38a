package playbook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a playbook from a YAML or JSON file, applies defaults, and
// validates it. A playbook that fails validation is rejected entirely.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML parses, defaults, and validates a YAML playbook document.
func ParseYAML(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}
	return finish(&pb)
}

// ParseJSON parses, defaults, and validates a JSON playbook document.
func ParseJSON(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}
	return finish(&pb)
}

func finish(pb *Playbook) (*Playbook, error) {
	pb.setDefaults()
	if err := pb.Validate(); err != nil {
		return nil, fmt.Errorf("playbook validation failed: %w", err)
	}
	return pb, nil
}

// setDefaults fills omitted fields with their defaults.
func (p *Playbook) setDefaults() {
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Autonomy == "" {
		p.Autonomy = AutonomySignalOnly
	}
	if p.InitialPhase == "" && len(p.Phases) > 0 {
		p.InitialPhase = p.Phases[0].Name
	}
	if p.Risk.MaxLot == 0 {
		p.Risk.MaxLot = 1.0
	}
	if p.Risk.MaxDailyTrades == 0 {
		p.Risk.MaxDailyTrades = 10
	}
	if p.Risk.MaxDrawdownPct == 0 {
		p.Risk.MaxDrawdownPct = 20
	}
	if p.Risk.MaxOpenPositions == 0 {
		p.Risk.MaxOpenPositions = 1
	}
	if p.Breaker.CooldownMinutes == 0 {
		p.Breaker.CooldownMinutes = 60
	}
	for i := range p.Variables {
		if p.Variables[i].Type == "" {
			p.Variables[i].Type = VarFloat
		}
	}
	for i := range p.Phases {
		ph := &p.Phases[i]
		for j := range ph.Transitions {
			tr := &ph.Transitions[j]
			if tr.Condition.Kind == "" {
				tr.Condition.Kind = "AND"
			}
		}
		for j := range ph.Rules {
			if ph.Rules[j].When.Kind == "" {
				ph.Rules[j].When.Kind = "AND"
			}
		}
	}
}
