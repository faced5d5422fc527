package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/pipeline"
)

// writeFileSet writes the main file and every dependency under dir using
// their declared names, so the set can be opened by a local viewer.
func writeFileSet(dir string, res *pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := append([]model.FetchedFile{res.MainFile}, res.Dependencies...)
	for _, f := range files {
		target, err := localPath(dir, f.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, f.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}

// localPath maps a declared name into dir. Names that would escape dir
// are flattened to their base name.
func localPath(dir, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	rel = filepath.Clean(rel)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = model.BaseName(name)
	}
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dir, rel), nil
}
