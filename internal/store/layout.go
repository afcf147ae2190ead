package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// On-disk layout: one directory per feature under the project's data dir,
// each holding a single feature.json plus its rotated backups.
//
//	<project>/.conveyor/features/<featureID>/feature.json

const (
	DataDirName     = ".conveyor"
	featuresDirName = "features"
	featureFileName = "feature.json"
)

// FeaturesDir returns the directory holding all feature records of a project.
func FeaturesDir(projectPath string) string {
	return filepath.Join(projectPath, DataDirName, featuresDirName)
}

// FeaturePath returns the canonical record path for a feature.
func FeaturePath(projectPath, featureID string) string {
	return filepath.Join(FeaturesDir(projectPath), featureID, featureFileName)
}

// PipelinePath returns the per-project pipeline definition file.
func PipelinePath(projectPath string) string {
	return filepath.Join(projectPath, DataDirName, "pipeline.yaml")
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// ListFeatureIDs returns the ids of every feature with a record directory
// under the project, in directory order. A project with no data dir yet is
// not an error; it simply has no features.
func ListFeatureIDs(projectPath string) ([]string, error) {
	entries, err := os.ReadDir(FeaturesDir(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list features: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
