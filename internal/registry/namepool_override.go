package registry

import (
	"os"

	"gopkg.in/yaml.v3"
)

// namePoolOverride mirrors the shape of an optional namepool.yaml dropped
// into the daemon's data directory. Either list, if non-empty, replaces the
// corresponding built-in dictionary.
type namePoolOverride struct {
	Adjectives []string `yaml:"adjectives"`
	Nouns      []string `yaml:"nouns"`
}

// LoadNamePoolOverride reads a namepool.yaml file at path and applies any
// non-empty list it contains over the built-in adjective/noun dictionary.
// A missing file is not an error: the built-in dictionary is used as-is.
func LoadNamePoolOverride(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var override namePoolOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return err
	}
	if len(override.Adjectives) > 0 {
		adjectives = override.Adjectives
	}
	if len(override.Nouns) > 0 {
		nouns = override.Nouns
	}
	return nil
}
