package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const imageExt = ".fits"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9.+\-]+`)

func sanitizeName(s string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "-"), "-")
}

// formatExposure renders an exposure without trailing zeros: 300, 0.5, 1.25.
func formatExposure(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FilePrefix returns <target>_<frameType>[_<filter>][_<exposure>s] for a job.
// The target part is dropped when empty.
func FilePrefix(target string, job *SequenceJob, exposure float64) string {
	var parts []string
	if job.File.Prefix != "" {
		target = job.File.Prefix
	}
	if t := sanitizeName(target); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, job.FrameType.String())
	if job.File.FilterInName && job.Filter != "" {
		parts = append(parts, sanitizeName(job.Filter))
	}
	if job.File.ExposureInName {
		parts = append(parts, formatExposure(exposure)+"s")
	}
	return strings.Join(parts, "_")
}

// NextSequenceIndex scans dir for files named <prefix>_<NNN>.fits and
// returns one past the highest index found, or 1 when there are none.
func NextSequenceIndex(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 1, nil
		}
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d+)\.fits?$`)
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func (s *Sequencer) jobDirectory(job *SequenceJob) string {
	if job.File.Directory != "" {
		return job.File.Directory
	}
	return s.cfg.OutputDirectory
}

// assignFileIndex sets the first index for a job starting fresh.
func (s *Sequencer) assignFileIndex(job *SequenceJob) error {
	prefix := FilePrefix(s.target, job, s.exposureFor(job))
	if s.cfg.IgnoreHistory {
		job.nextIndex = 1
		job.indexPrefix = prefix
		return nil
	}
	idx, err := NextSequenceIndex(s.jobDirectory(job), prefix)
	if err != nil {
		return err
	}
	job.nextIndex = idx
	job.indexPrefix = prefix
	return nil
}

// reindexCalibratedJob rescans once a flat's exposure is calibrated, since
// the exposure may be part of the file prefix.
func (s *Sequencer) reindexCalibratedJob(job *SequenceJob) error {
	if job.Upload == UploadLocal || job.File.Timestamp {
		return nil
	}
	if job.nextIndex != 0 && job.indexPrefix == FilePrefix(s.target, job, s.exposureFor(job)) {
		return nil
	}
	return s.assignFileIndex(job)
}

func (s *Sequencer) nextFilePath(job *SequenceJob) string {
	prefix := FilePrefix(s.target, job, s.exposureFor(job))
	var name string
	if job.File.Timestamp {
		name = fmt.Sprintf("%s_%s%s", prefix, s.clock.Now().UTC().Format("2006-01-02T15-04-05.000"), imageExt)
	} else {
		name = fmt.Sprintf("%s_%03d%s", prefix, job.nextIndex, imageExt)
	}
	return filepath.Join(s.jobDirectory(job), name)
}
