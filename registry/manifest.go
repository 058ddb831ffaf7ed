package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"docqa/types"
)

const manifestFile = "document.yaml"

// manifest is written next to the index so a restart can re-attach it.
type manifest struct {
	types.DocumentMetadata `yaml:",inline"`
	Backend                string `yaml:"backend"`
	Embedder               string `yaml:"embedder"`
}

func writeManifest(dir string, m manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, manifestFile))
}

// readManifest returns fs.ErrNotExist when dir holds no manifest.
func readManifest(dir string) (manifest, error) {
	var m manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	if m.DocumentID == "" {
		return m, fmt.Errorf("%s has no document_id", manifestFile)
	}
	return m, nil
}

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
