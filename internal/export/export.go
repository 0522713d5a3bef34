package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"streetvision/internal/model"
	"streetvision/internal/stats"
)

// ErrExportIO wraps failures of the underlying writer.
var ErrExportIO = errors.New("export write failed")

// Document is the serialized form of a history snapshot. Field order is fixed.
type Document struct {
	AnalysisInfo AnalysisInfo  `json:"analysis_info"`
	FrameResults []FrameRecord `json:"frame_results"`
}

// AnalysisInfo heads the export.
type AnalysisInfo struct {
	TotalFrames  int              `json:"total_frames"`
	AnalysisDate string           `json:"analysis_date"`
	Statistics   stats.Statistics `json:"statistics"`
}

// FrameRecord is one processed frame in the export.
type FrameRecord struct {
	FrameNumber      int                    `json:"frame_number"`
	Timestamp        float64                `json:"timestamp"`
	PeopleCount      int                    `json:"people_count"`
	VehicleCount     int                    `json:"vehicle_count"`
	TrafficLights    model.TrafficLights    `json:"traffic_lights"`
	ConfidenceScores model.ConfidenceScores `json:"confidence_scores"`
	ProcessingTime   float64                `json:"processing_time"`
}

// Record converts a processed result to its export shape.
func Record(r model.ProcessedResult) FrameRecord {
	return FrameRecord{
		FrameNumber:      r.SequenceNumber,
		Timestamp:        r.CaptureTimestamp,
		PeopleCount:      r.PeopleCount,
		VehicleCount:     r.VehicleCount,
		TrafficLights:    r.TrafficLights,
		ConfidenceScores: r.ConfidenceScores,
		ProcessingTime:   r.ProcessingDuration,
	}
}

// Build assembles a Document. analysisDate is an input so identical inputs
// serialize to identical bytes.
func Build(results []model.ProcessedResult, statistics stats.Statistics, analysisDate time.Time) Document {
	records := make([]FrameRecord, 0, len(results))
	for _, r := range results {
		records = append(records, Record(r))
	}

	return Document{
		AnalysisInfo: AnalysisInfo{
			TotalFrames:  len(results),
			AnalysisDate: analysisDate.Format(time.RFC3339Nano),
			Statistics:   statistics,
		},
		FrameResults: records,
	}
}

// Exporter writes a Document to w.
type Exporter interface {
	Export(w io.Writer, doc Document) error
	// ContentType is used by HTTP downloads.
	ContentType() string
	// Extension is the file suffix, dot included.
	Extension() string
}

// JSON writes indented JSON.
type JSON struct {
	Indent string
}

// Export implements Exporter.
func (e JSON) Export(w io.Writer, doc Document) error {
	data, err := Marshal(doc, e.Indent)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrExportIO, err)
	}
	return nil
}

// ContentType implements Exporter.
func (JSON) ContentType() string { return "application/json" }

// Extension implements Exporter.
func (JSON) Extension() string { return ".json" }

// Marshal encodes doc. An empty indent produces compact output.
func Marshal(doc Document, indent string) ([]byte, error) {
	if doc.FrameResults == nil {
		doc.FrameResults = []FrameRecord{}
	}

	var (
		data []byte
		err  error
	)
	if indent == "" {
		data, err = json.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", indent)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse decodes a JSON export.
func Parse(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode export: %w", err)
	}
	return doc, nil
}
