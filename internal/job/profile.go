package job

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes the candidate a posting is evaluated against. Version
// must be bumped on any edit; postings are only re-evaluated against a
// higher version than their last result.
type Profile struct {
	Version     int      `yaml:"version"`
	Skills      []string `yaml:"skills"`
	Preferences []string `yaml:"preferences"`
	Constraints []string `yaml:"constraints"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile file %q: %w", path, err)
	}

	if profile.Version < 1 {
		return nil, errors.New("profile version must be a positive integer")
	}
	if len(profile.Skills) == 0 {
		return nil, errors.New("profile must list at least one skill")
	}

	return &profile, nil
}
