package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ContextSnapshot returns the values install-file templates may reference:
// the driver's identity, its paths and any extracts captured so far. The
// snapshot is a copy; templates cannot mutate driver state.
func (d *Driver) ContextSnapshot() map[string]any {
	extracts := make(map[string]string, len(d.extracts))
	for k, v := range d.extracts {
		extracts[k] = v
	}
	return map[string]any{
		"Name":     d.cfg.Name,
		"Runpath":  d.runpath,
		"LogPath":  d.LogPath,
		"OutPath":  d.OutPath,
		"ErrPath":  d.ErrPath,
		"Extracts": extracts,
	}
}

// InstallDir is where rendered install files land, under the runpath.
func (d *Driver) InstallDir() string {
	return filepath.Join(d.runpath, "etc")
}

// installFiles renders each configured install file as a template against the
// context snapshot and writes it under InstallDir, keeping the base name.
func (d *Driver) installFiles() error {
	target := d.InstallDir()
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating install directory: %w", err)
	}
	ctx := d.ContextSnapshot()
	for _, src := range d.cfg.InstallFiles {
		tmpl, err := template.ParseFiles(src)
		if err != nil {
			return fmt.Errorf("parsing install file %s: %w", src, err)
		}
		dst := filepath.Join(target, filepath.Base(src))
		f, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("creating install file %s: %w", dst, err)
		}
		if err := tmpl.Execute(f, ctx); err != nil {
			f.Close()
			return fmt.Errorf("rendering install file %s: %w", src, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		d.logger.Debug("Installed file", "src", src, "dst", dst)
	}
	return nil
}
