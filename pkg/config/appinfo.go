package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clusterops/powerbalance/internal/runtimemodel"
)

// AppModelCoef is the YAML shape of a pre-characterized model entry.
type AppModelCoef struct {
	A float64 `yaml:"A"`
	C float64 `yaml:"C"`
}

// AppEntry is one application's static characterization, keyed by profile
// name in the app-info file.
type AppEntry struct {
	Launcher string       `yaml:"launcher"`
	Nodes    int          `yaml:"nodes"`
	Model    AppModelCoef `yaml:"model"`
	MinTime  float64      `yaml:"min_time"`
}

// AppInfo is the parsed --app-info YAML document: a map of profile name to
// AppEntry.
type AppInfo map[string]AppEntry

// LoadAppInfo reads and parses the YAML file at path. An empty path is not
// an error; it yields an empty table, since --app-info is optional.
func LoadAppInfo(path string) (AppInfo, error) {
	if path == "" {
		return AppInfo{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading app-info %s: %w", path, err)
	}

	var info AppInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("config: parsing app-info %s: %w", path, err)
	}
	return info, nil
}

// ResolveProfile looks up the static model for profile, applying any
// --confuse-jobs override first: if profile is a key in confusions, the
// entry for the mapped-to profile is used instead, but the original
// profile's launcher/nodes/min_time are kept.
func (a AppInfo) ResolveProfile(profile string, confusions map[string]string) (AppEntry, *runtimemodel.Model, bool) {
	entry, ok := a[profile]
	if !ok {
		return AppEntry{}, nil, false
	}

	modelSource := entry
	if target, confused := confusions[profile]; confused {
		if other, ok := a[target]; ok {
			modelSource = other
		}
	}

	if modelSource.Model.A == 0 && modelSource.Model.C == 0 {
		return entry, nil, true
	}

	model := &runtimemodel.Model{A: modelSource.Model.A, C: modelSource.Model.C}
	return entry, model, true
}
