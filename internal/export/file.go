package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ForPath picks the exporter matching a file name.
func ForPath(path string) Exporter {
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		return Gzip{}
	}
	return JSON{Indent: "  "}
}

// ForFormat picks the exporter for a format name ("json" or "gzip").
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSON{Indent: "  "}, nil
	case "gzip", "gz":
		return Gzip{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteFile exports doc to path. The file is written next to its final name and
// renamed into place so readers never see a partial export.
func WriteFile(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	defer os.Remove(tmp.Name())

	if err := ForPath(path).Export(tmp, doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	return nil
}

// ReadFile loads an export written by WriteFile.
func ReadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	if _, ok := ForPath(path).(Gzip); ok {
		return ParseGzip(f)
	}
	return Parse(f)
}
