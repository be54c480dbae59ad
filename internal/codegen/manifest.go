package codegen

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/formflow/internal/model"
)

// ManifestFile is the file name of a plan manifest inside its task directory.
const ManifestFile = "plan.yaml"

// MarshalManifest renders plan as YAML.
func MarshalManifest(plan *model.Plan) ([]byte, error) {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return nil, eris.Wrapf(err, "codegen: marshal manifest %s", plan.TaskName)
	}
	return data, nil
}

// WriteManifest writes plan to <dir>/<task>/plan.yaml and returns the path.
func WriteManifest(dir string, plan *model.Plan) (string, error) {
	data, err := MarshalManifest(plan)
	if err != nil {
		return "", err
	}
	taskDir := filepath.Join(dir, plan.TaskName)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "codegen: create %s", taskDir)
	}
	path := filepath.Join(taskDir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return "", eris.Wrapf(err, "codegen: write %s", path)
	}
	return path, nil
}

// LoadManifest reads a plan manifest. path may name the manifest itself or
// its task directory.
func LoadManifest(path string) (*model.Plan, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestFile)
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, eris.Wrapf(err, "codegen: read %s", path)
	}
	var plan model.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, eris.Wrapf(err, "codegen: parse %s", path)
	}
	if plan.TaskName == "" {
		return nil, eris.Errorf("codegen: %s has no task_name", path)
	}
	return &plan, nil
}
