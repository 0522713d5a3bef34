package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// matImage exposes a captured Mat as a source.Image.
type matImage struct {
	mat gocv.Mat
}

// Mat returns the underlying matrix. Callers must not close it.
func (m matImage) Mat() gocv.Mat {
	return m.mat
}

// JPEG implements source.Image.
func (m matImage) JPEG(quality int) ([]byte, error) {
	if m.mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty frame")
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m.mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
