package fleet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Suite describes a set of logical instances provisioned together for
// one test run.
type Suite struct {
	// Concurrency caps how many instances are provisioned at once;
	// zero means all at once.
	Concurrency int `yaml:"concurrency"`

	Instances []Entry    `yaml:"instances"`
	Setup     []string   `yaml:"setup"`
	Files     []FilePush `yaml:"files"`
}

// Entry is one instance in a suite file, written either as a bare
// name or as a mapping with per-instance overrides:
//
//	instances:
//	  - smoke
//	  - name: integration
//	    machine_type: n1-standard-2
//	    area: europe
type Entry struct {
	Name        string   `yaml:"name"`
	MachineType string   `yaml:"machine_type"`
	ZoneName    string   `yaml:"zone_name"`
	Area        string   `yaml:"area"`
	ImageName   string   `yaml:"image_name"`
	Tags        []string `yaml:"tags"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&e.Name)
	}

	type plain Entry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// FilePush copies a local file onto every ready instance.
type FilePush struct {
	Source string `yaml:"source"`
	Remote string `yaml:"remote"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite file: %w", err)
	}

	if len(suite.Instances) == 0 {
		return nil, fmt.Errorf("suite file lists no instances")
	}

	seen := make(map[string]bool, len(suite.Instances))
	for _, entry := range suite.Instances {
		if entry.Name == "" {
			return nil, fmt.Errorf("suite entry missing a name")
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate suite entry: %s", entry.Name)
		}
		seen[entry.Name] = true
	}

	for _, push := range suite.Files {
		if push.Source == "" || push.Remote == "" {
			return nil, fmt.Errorf("file push needs both source and remote")
		}
	}

	return &suite, nil
}
