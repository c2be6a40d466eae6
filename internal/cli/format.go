package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/unklstewy/skycapture/internal/capture"
)

// humanDuration renders seconds the way a person would say it ("3 hours").
func humanDuration(seconds float64) string {
	ref := time.Unix(0, 0)
	d := time.Duration(seconds * float64(time.Second))
	return strings.TrimSpace(humanize.RelTime(ref, ref.Add(d), "", ""))
}

// clock renders seconds as h:mm:ss.
func clock(seconds float64) string {
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

func jobLabel(j capture.JobSnapshot) string {
	label := j.FrameType
	if j.Filter != "" {
		label += " " + j.Filter
	}
	return label
}

func exposureLabel(j capture.JobSnapshot) string {
	if j.Exposure == 0 && j.FrameType != "Bias" {
		return "auto"
	}
	return fmt.Sprintf("%gs", j.Exposure)
}

// totalFrames returns the captured and queued frame counts.
func totalFrames(jobs []capture.JobSnapshot) (completed, count int) {
	for _, j := range jobs {
		completed += j.Completed
		count += j.Count
	}
	return completed, count
}
