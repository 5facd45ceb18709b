package registry

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/facturio/factura-cli/internal/model"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	Providers []model.ProviderProfile `yaml:"providers"`
}

// DefaultProfiles returns the bundled provider profiles used to seed an empty
// providers table on first run.
func DefaultProfiles() ([]model.ProviderProfile, error) {
	return parseSeed(defaultSeed)
}

// LoadProfilesFromFile reads provider profiles from a YAML file with the same
// shape as the bundled seed.
func LoadProfilesFromFile(path string) ([]model.ProviderProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read providers file")
	}
	return parseSeed(data)
}

func parseSeed(data []byte) ([]model.ProviderProfile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal providers")
	}
	if len(f.Providers) == 0 {
		return nil, eris.New("registry: providers file contains no providers")
	}
	return f.Providers, nil
}
