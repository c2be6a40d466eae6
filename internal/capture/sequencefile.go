package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SequenceFileVersion is written to every saved sequence file.
const SequenceFileVersion = "1"

// ToggleSetting is an on/off feature with one numeric parameter.
type ToggleSetting struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Value   float64 `yaml:"value" json:"value"`
}

// Sequence is the content of a sequence file.
type Sequence struct {
	Target          string
	Observer        string
	GuideDeviation  *ToggleSetting
	InSequenceFocus *ToggleSetting
	MeridianFlip    *ToggleSetting
	Jobs            []*SequenceJob
}

type sequenceFile struct {
	Version         string         `yaml:"version" json:"version"`
	Target          string         `yaml:"target,omitempty" json:"target,omitempty"`
	Observer        string         `yaml:"observer,omitempty" json:"observer,omitempty"`
	GuideDeviation  *ToggleSetting `yaml:"guide_deviation,omitempty" json:"guide_deviation,omitempty"`
	InSequenceFocus *ToggleSetting `yaml:"autofocus,omitempty" json:"autofocus,omitempty"`
	MeridianFlip    *ToggleSetting `yaml:"meridian_flip,omitempty" json:"meridian_flip,omitempty"`
	Jobs            []jobRecord    `yaml:"jobs" json:"jobs"`
}

type jobRecord struct {
	FrameType    string             `yaml:"frame_type" json:"frame_type"`
	Exposure     *float64           `yaml:"exposure" json:"exposure"`
	Count        *int               `yaml:"count" json:"count"`
	Completed    int                `yaml:"completed,omitempty" json:"completed,omitempty"`
	Delay        float64            `yaml:"delay,omitempty" json:"delay,omitempty"`
	Filter       string             `yaml:"filter,omitempty" json:"filter,omitempty"`
	Temperature  *float64           `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	RotatorAngle *float64           `yaml:"rotator_angle,omitempty" json:"rotator_angle,omitempty"`
	Frame        *FrameSettings     `yaml:"frame,omitempty" json:"frame,omitempty"`
	Calibration  *calibrationRecord `yaml:"calibration,omitempty" json:"calibration,omitempty"`
	File         *fileRecord        `yaml:"file,omitempty" json:"file,omitempty"`
	Upload       string             `yaml:"upload,omitempty" json:"upload,omitempty"`
	Script       string             `yaml:"post_capture_script,omitempty" json:"post_capture_script,omitempty"`
}

type calibrationRecord struct {
	Source       string  `yaml:"source,omitempty" json:"source,omitempty"`
	Duration     string  `yaml:"duration,omitempty" json:"duration,omitempty"`
	TargetADU    float64 `yaml:"target_adu,omitempty" json:"target_adu,omitempty"`
	Tolerance    float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	WallAltitude float64 `yaml:"wall_altitude,omitempty" json:"wall_altitude,omitempty"`
	WallAzimuth  float64 `yaml:"wall_azimuth,omitempty" json:"wall_azimuth,omitempty"`
	PreMountPark bool    `yaml:"park_mount,omitempty" json:"park_mount,omitempty"`
	PreDomePark  bool    `yaml:"park_dome,omitempty" json:"park_dome,omitempty"`
}

type fileRecord struct {
	Prefix         string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Directory      string `yaml:"directory,omitempty" json:"directory,omitempty"`
	FilterInName   bool   `yaml:"filter_in_name,omitempty" json:"filter_in_name,omitempty"`
	ExposureInName bool   `yaml:"exposure_in_name,omitempty" json:"exposure_in_name,omitempty"`
	Timestamp      bool   `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// LoadSequenceFile reads a YAML or JSON (by extension) sequence file. Either
// every job is valid and returned, or an error wrapping
// ErrInvalidSequenceFile is returned.
func LoadSequenceFile(path string) (*Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}
	return ParseSequence(data, isJSON(path))
}

// ParseSequence decodes sequence file content.
func ParseSequence(data []byte, asJSON bool) (*Sequence, error) {
	var f sequenceFile
	if asJSON {
		err := json.Unmarshal(data, &f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSequenceFile, err)
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSequenceFile, err)
	}

	seq := &Sequence{
		Target:          f.Target,
		Observer:        f.Observer,
		GuideDeviation:  f.GuideDeviation,
		InSequenceFocus: f.InSequenceFocus,
		MeridianFlip:    f.MeridianFlip,
	}
	for i, rec := range f.Jobs {
		job, err := rec.job()
		if err != nil {
			return nil, fmt.Errorf("%w: job %d: %v", ErrInvalidSequenceFile, i+1, err)
		}
		seq.Jobs = append(seq.Jobs, job)
	}
	return seq, nil
}

// ParseJob decodes a single job in the sequence file's JSON job format.
func ParseJob(data []byte) (*SequenceJob, error) {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	job, err := rec.job()
	if err != nil {
		if errors.Is(err, ErrInvalidJob) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return job, nil
}

func (r jobRecord) job() (*SequenceJob, error) {
	if r.FrameType == "" {
		return nil, fmt.Errorf("missing frame_type")
	}
	if r.Exposure == nil {
		return nil, fmt.Errorf("missing exposure")
	}
	if r.Count == nil {
		return nil, fmt.Errorf("missing count")
	}

	ft, err := ParseFrameType(r.FrameType)
	if err != nil {
		return nil, err
	}
	upload, err := ParseUploadMode(r.Upload)
	if err != nil {
		return nil, err
	}

	job := &SequenceJob{
		Exposure:          *r.Exposure,
		Count:             *r.Count,
		Completed:         r.Completed,
		Delay:             r.Delay,
		FrameType:         ft,
		Filter:            r.Filter,
		TargetTemperature: r.Temperature,
		RotatorAngle:      r.RotatorAngle,
		Upload:            upload,
		PostCaptureScript: r.Script,
	}
	if r.Frame != nil {
		job.Frame = *r.Frame
	}
	if c := r.Calibration; c != nil {
		src, err := ParseFlatSource(c.Source)
		if err != nil {
			return nil, err
		}
		dur, err := ParseFlatDuration(c.Duration)
		if err != nil {
			return nil, err
		}
		job.Calibration = Calibration{
			Source:       src,
			Duration:     dur,
			TargetADU:    c.TargetADU,
			ADUTolerance: c.Tolerance,
			WallAltitude: c.WallAltitude,
			WallAzimuth:  c.WallAzimuth,
			PreMountPark: c.PreMountPark,
			PreDomePark:  c.PreDomePark,
		}
	}
	if fr := r.File; fr != nil {
		job.File = FileTemplate{
			Prefix:         fr.Prefix,
			Directory:      fr.Directory,
			FilterInName:   fr.FilterInName,
			ExposureInName: fr.ExposureInName,
			Timestamp:      fr.Timestamp,
		}
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func recordFor(job *SequenceJob) jobRecord {
	exposure, count := job.Exposure, job.Count
	r := jobRecord{
		FrameType:    job.FrameType.String(),
		Exposure:     &exposure,
		Count:        &count,
		Completed:    job.Completed,
		Delay:        job.Delay,
		Filter:       job.Filter,
		Temperature:  job.TargetTemperature,
		RotatorAngle: job.RotatorAngle,
		Script:       job.PostCaptureScript,
	}
	if job.Upload != UploadClient {
		r.Upload = job.Upload.String()
	}
	if !job.Frame.IsZero() {
		f := job.Frame
		r.Frame = &f
	}
	if job.Calibration != (Calibration{}) {
		c := job.Calibration
		r.Calibration = &calibrationRecord{
			Source:       c.Source.String(),
			Duration:     c.Duration.String(),
			TargetADU:    c.TargetADU,
			Tolerance:    c.ADUTolerance,
			WallAltitude: c.WallAltitude,
			WallAzimuth:  c.WallAzimuth,
			PreMountPark: c.PreMountPark,
			PreDomePark:  c.PreDomePark,
		}
	}
	if job.File != (FileTemplate{}) {
		r.File = &fileRecord{
			Prefix:         job.File.Prefix,
			Directory:      job.File.Directory,
			FilterInName:   job.File.FilterInName,
			ExposureInName: job.File.ExposureInName,
			Timestamp:      job.File.Timestamp,
		}
	}
	return r
}

// MarshalSequence encodes seq as YAML, or JSON when asJSON is set.
func MarshalSequence(seq *Sequence, asJSON bool) ([]byte, error) {
	f := sequenceFile{
		Version:         SequenceFileVersion,
		Target:          seq.Target,
		Observer:        seq.Observer,
		GuideDeviation:  seq.GuideDeviation,
		InSequenceFocus: seq.InSequenceFocus,
		MeridianFlip:    seq.MeridianFlip,
		Jobs:            make([]jobRecord, 0, len(seq.Jobs)),
	}
	for _, job := range seq.Jobs {
		f.Jobs = append(f.Jobs, recordFor(job))
	}
	if asJSON {
		return json.MarshalIndent(f, "", "  ")
	}
	return yaml.Marshal(f)
}

// SaveSequenceFile writes seq to path, creating the directory if needed.
func SaveSequenceFile(path string, seq *Sequence) error {
	data, err := MarshalSequence(seq, isJSON(path))
	if err != nil {
		return fmt.Errorf("failed to encode sequence: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sequence directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sequence file: %w", err)
	}
	return nil
}
