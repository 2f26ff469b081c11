package camera

import (
	"fmt"
	"path/filepath"

	"github.com/ardnew/prucam/frame"
	"github.com/ardnew/prucam/pkg"
)

// Save writes the outputs the configuration asks for and returns their
// paths: the raw dump, each image format, the preview and, last, the
// metadata record listing the others.
func (c *Camera) Save(f *frame.Frame) ([]string, error) {
	out := c.cfg.Output
	var files []string

	if out.Raw != "" {
		path := filepath.Join(out.Dir, out.Raw)
		if err := f.WriteRaw(path); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	for _, name := range out.Formats {
		format, err := frame.ParseFormat(name)
		if err != nil {
			return files, err
		}
		path, err := f.WriteImage(out.Dir, format)
		if err != nil {
			return files, fmt.Errorf("%s: %w", format, err)
		}
		files = append(files, path)
	}

	if out.Preview > 0 {
		path, err := f.WritePreview(out.Dir, out.Preview)
		if err != nil {
			return files, fmt.Errorf("preview: %w", err)
		}
		files = append(files, path)
	}

	if out.Metadata {
		m := f.Metadata()
		m.Files = files
		if c.surface != nil {
			m.Sensor = c.model.String()
			settings, err := c.surface.Snapshot()
			if err != nil {
				pkg.LogWarn(pkg.ComponentFrame, "settings snapshot failed", "error", err)
			}
			m.Settings = settings
		}
		path := frame.MetadataPath(out.Dir, f.ID)
		if err := frame.SaveMetadata(path, m); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	pkg.LogInfo(pkg.ComponentFrame, "frame saved", "id", f.ID, "files", len(files))
	return files, nil
}
