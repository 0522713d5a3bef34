package ssd

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"streetvision/internal/logger"
	"streetvision/internal/model"
	"streetvision/internal/source"
)

// matImage is implemented by frames coming from the gocv capture package.
type matImage interface {
	Mat() gocv.Mat
}

// Detector runs an SSD MobileNet graph through OpenCV's dnn module.
type Detector struct {
	net        gocv.Net
	modelPath  string
	configPath string
	logger     *logger.Logger
	mu         sync.Mutex
}

// New loads the network from the frozen graph and its text config. A nil
// logger discards output.
func New(modelPath, configPath string, log *logger.Logger) (*Detector, error) {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Detector{
		modelPath:  modelPath,
		configPath: configPath,
		logger:     log,
	}

	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

// initializeNet loads the model files and pins inference to the CPU backend.
func (d *Detector) initializeNet() error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.modelPath)
	}

	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("Detection network initialized from %s", d.modelPath)
	return nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Detect runs the network on one frame. Every box is returned; thresholding
// happens in the adapter.
func (d *Detector) Detect(ctx context.Context, frame source.Frame) ([]model.Detection, error) {
	img, ok := frame.Image.(matImage)
	if !ok {
		return nil, fmt.Errorf("frame image %T is not backed by a gocv.Mat", frame.Image)
	}
	mat := img.Mat()
	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net.Empty() {
		return nil, fmt.Errorf("detection network not initialized")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols := float32(mat.Cols())
	height := float32(mat.Rows())
	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())

	var results []model.Detection
	for i := 0; i < rows.Rows(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		confidence := rows.GetFloatAt(i, 2)
		if confidence <= 0 {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		x := int(rows.GetFloatAt(i, 3) * cols)
		y := int(rows.GetFloatAt(i, 4) * height)
		w := int(rows.GetFloatAt(i, 5)*cols) - x
		h := int(rows.GetFloatAt(i, 6)*height) - y

		det := model.Detection{
			Label:      classLabel(classID),
			Confidence: float64(confidence),
			X:          x,
			Y:          y,
			Width:      w,
			Height:     h,
		}
		if det.Label == "traffic light" {
			det.Color = classifyTrafficLight(mat, image.Rect(x, y, x+w, y+h).Intersect(bounds))
		}
		results = append(results, det)
	}

	return results, nil
}

// classLabel maps the 1-based COCO ids used by the TensorFlow SSD graphs.
func classLabel(classID int) string {
	labels := map[int]string{
		1:  "person",
		2:  "bicycle",
		3:  "car",
		4:  "motorcycle",
		5:  "airplane",
		6:  "bus",
		7:  "train",
		8:  "truck",
		9:  "boat",
		10: "traffic light",
		16: "bird",
		17: "cat",
		18: "dog",
	}

	if label, exists := labels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}
