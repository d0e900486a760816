package scoring

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Thresholds holds every CareScore cut-off used by the report views. Each view
// has its own field so they can be tuned independently from one file.
type Thresholds struct {
	// Good and Bad band a score for the history and analysis views.
	Good float64 `yaml:"good" json:"good"`
	Bad  float64 `yaml:"bad" json:"bad"`
	// Important is the upper bound (exclusive) for the important-reports list.
	Important float64 `yaml:"important" json:"important"`
	// Attention is the dashboard activity cut-off; Good is reused above it.
	Attention float64 `yaml:"attention" json:"attention"`
}

type thresholdsFile struct {
	Thresholds *Thresholds `yaml:"thresholds"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Good: 80, Bad: 50, Important: 70, Attention: 60}
}

// LoadThresholds reads a YAML file of the form
//
//	thresholds:
//	  good: 80
//	  bad: 50
//	  important: 70
//	  attention: 60
//
// An empty path yields the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultThresholds(), err
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return Thresholds{}, err
	}
	if file.Thresholds == nil {
		return Thresholds{}, fmt.Errorf("scoring config %s has no thresholds section", path)
	}
	t := *file.Thresholds
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"good": t.Good, "bad": t.Bad, "important": t.Important, "attention": t.Attention} {
		if v < 0 || v > 100 {
			return fmt.Errorf("threshold %s must be within 0..100, got %v", name, v)
		}
	}
	if t.Bad > t.Good {
		return fmt.Errorf("bad threshold %v is above good threshold %v", t.Bad, t.Good)
	}
	if t.Attention > t.Good {
		return fmt.Errorf("attention threshold %v is above good threshold %v", t.Attention, t.Good)
	}
	return nil
}
