package export

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Gzip writes compressed JSON.
type Gzip struct {
	Level int
}

// Export implements Exporter.
func (e Gzip) Export(w io.Writer, doc Document) error {
	data, err := Marshal(doc, "")
	if err != nil {
		return err
	}

	level := e.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	// The header timestamp stays zero so output is deterministic.
	zw.Name = "analysis.json"

	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	return nil
}

// ContentType implements Exporter.
func (Gzip) ContentType() string { return "application/gzip" }

// Extension implements Exporter.
func (Gzip) Extension() string { return ".json.gz" }

// ParseGzip decodes a compressed export.
func ParseGzip(r io.Reader) (Document, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("failed to open gzip export: %w", err)
	}
	defer zr.Close()
	return Parse(zr)
}
