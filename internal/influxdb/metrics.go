package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/unklstewy/skycapture/internal/capture"
)

// Measurement names.
const (
	MeasurementFrame  = "capture_frame"
	MeasurementGuide  = "guiding"
	MeasurementJob    = "job_progress"
	MeasurementStatus = "sequencer_status"
)

// PointWriter accepts points without blocking.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Metrics is a capture.Notifier that turns updates into InfluxDB points.
type Metrics struct {
	w PointWriter
}

// NewMetrics creates a notifier writing to w.
func NewMetrics(w PointWriter) *Metrics {
	return &Metrics{w: w}
}

func (m *Metrics) Notify(u capture.Update) {
	if p := PointFor(u); p != nil {
		m.w.WritePoint(p)
	}
}

// PointFor converts an update, or returns nil for kinds that carry no
// metric.
func PointFor(u capture.Update) *write.Point {
	tags := map[string]string{}
	if u.Target != "" {
		tags["target"] = u.Target
	}
	if u.Session != "" {
		tags["session"] = u.Session
	}

	switch u.Kind {
	case capture.UpdateImage:
		tags["frame_type"] = u.FrameType
		if u.Filter != "" {
			tags["filter"] = u.Filter
		}
		fields := map[string]interface{}{
			"exposure": u.Exposure,
			"adu":      u.ADU,
		}
		if u.HFR > 0 {
			fields["hfr"] = u.HFR
		}
		return write.NewPoint(MeasurementFrame, tags, fields, u.Time)

	case capture.UpdateGuide:
		return write.NewPoint(MeasurementGuide, tags, map[string]interface{}{
			"ra":        u.RA,
			"dec":       u.Dec,
			"deviation": u.Deviation,
		}, u.Time)

	case capture.UpdateJob:
		tags["frame_type"] = u.FrameType
		if u.Filter != "" {
			tags["filter"] = u.Filter
		}
		return write.NewPoint(MeasurementJob, tags, map[string]interface{}{
			"job_id":            u.JobID,
			"completed":         u.Completed,
			"count":             u.Count,
			"remaining_job":     u.RemainingJob,
			"remaining_overall": u.RemainingOverall,
		}, u.Time)

	case capture.UpdateStatus:
		return write.NewPoint(MeasurementStatus, tags, map[string]interface{}{
			"status": u.Status,
		}, u.Time)
	}
	return nil
}
