package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rules models goalline.yml: every threshold the engine applies is listed
// here, nothing is hard-wired.
type Rules struct {
	Progress struct {
		MinJustificationLen  int     `yaml:"min_justification_len"`
		SignificantChangePct float64 `yaml:"significant_change_pct"`
	} `yaml:"progress"`
	Forecast struct {
		AheadFactor   float64 `yaml:"ahead_factor"`
		BehindFactor  float64 `yaml:"behind_factor"`
		HighSnapshots int     `yaml:"high_snapshots"`
		HighSpanDays  int     `yaml:"high_span_days"`
		MedSnapshots  int     `yaml:"med_snapshots"`
	} `yaml:"forecast"`
	Hierarchy struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"hierarchy"`
	Bulk struct {
		MaxItems int `yaml:"max_items"`
	} `yaml:"bulk"`
	Notifications struct {
		Milestones []float64       `yaml:"milestones"`
		Webhooks   []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
}

type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Types  []string `yaml:"types"`
	Secret string   `yaml:"secret"`
}

// Validate ensures the rule set is internally coherent.
func (r *Rules) Validate() error {
	if r.Progress.MinJustificationLen < 0 {
		return fmt.Errorf("progress.min_justification_len must not be negative")
	}
	if r.Progress.SignificantChangePct < 0 {
		return fmt.Errorf("progress.significant_change_pct must not be negative")
	}
	if r.Forecast.AheadFactor < 1 {
		return fmt.Errorf("forecast.ahead_factor must be at least 1")
	}
	if r.Forecast.BehindFactor <= 0 || r.Forecast.BehindFactor > 1 {
		return fmt.Errorf("forecast.behind_factor must be in (0,1]")
	}
	if r.Forecast.MedSnapshots < 2 {
		return fmt.Errorf("forecast.med_snapshots must be at least 2")
	}
	if r.Forecast.HighSnapshots < r.Forecast.MedSnapshots {
		return fmt.Errorf("forecast.high_snapshots must not be below med_snapshots")
	}
	if r.Hierarchy.MaxDepth < 1 {
		return fmt.Errorf("hierarchy.max_depth must be at least 1")
	}
	if r.Bulk.MaxItems < 1 {
		return fmt.Errorf("bulk.max_items must be at least 1")
	}
	for i, m := range r.Notifications.Milestones {
		if m <= 0 || m > 100 {
			return fmt.Errorf("notifications.milestones[%d] must be in (0,100]", i)
		}
		if i > 0 && m <= r.Notifications.Milestones[i-1] {
			return fmt.Errorf("notifications.milestones must be strictly increasing")
		}
	}
	for _, w := range r.Notifications.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %q has no url", w.Name)
		}
	}
	return nil
}

// Path returns the rule file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "goalline.yml")
}

// Default returns the default rule set.
func Default() *Rules {
	var r Rules
	_ = yaml.Unmarshal([]byte(defaultTemplate), &r)
	return &r
}

// FromYAML parses and validates rules from raw YAML bytes.
func FromYAML(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid rules yaml: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// FromFile reads YAML rules from the given path.
func FromFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the rule file does not exist in the
// workspace.
func LoadOptional(workspace string) (*Rules, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the rule set.
func (r *Rules) ToYAML() (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const defaultTemplate = `progress:
  min_justification_len: 10
  significant_change_pct: 1.0

forecast:
  ahead_factor: 1.1
  behind_factor: 0.9
  high_snapshots: 5
  high_span_days: 14
  med_snapshots: 3

hierarchy:
  max_depth: 3

bulk:
  max_items: 50

notifications:
  milestones: [25, 50, 75, 100]
  webhooks: []
`
