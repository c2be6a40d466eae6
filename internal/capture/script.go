package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ScriptRunner runs a post-capture script to completion.
type ScriptRunner interface {
	Run(ctx context.Context, script string, args ...string) error
}

// ExecRunner runs scripts as child processes.
type ExecRunner struct{}

// Run executes script and waits for it. A non-zero exit is returned as an
// error carrying the tail of the script's output.
func (ExecRunner) Run(ctx context.Context, script string, args ...string) error {
	cmd := exec.CommandContext(ctx, script, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", script, ctx.Err())
		}
		if tail := lastLine(out.String()); tail != "" {
			return fmt.Errorf("%s: %w: %s", script, err, tail)
		}
		return fmt.Errorf("%s: %w", script, err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

const defaultScriptTimeout = 5 * time.Minute

func (s *Sequencer) postCaptureScript(job *SequenceJob) string {
	if job.PostCaptureScript != "" {
		return job.PostCaptureScript
	}
	return s.cfg.PostCaptureScript
}

// runScript holds the sequence at the frame boundary until the script for
// the stored image exits.
func (s *Sequencer) runScript(script, path string) {
	s.scriptRun++
	run := s.scriptRun
	s.pending = resumeAfterScript

	timeout := defaultScriptTimeout
	if s.cfg.ScriptTimeoutSeconds > 0 {
		timeout = time.Duration(s.cfg.ScriptTimeoutSeconds) * time.Second
	}
	runner := s.scripts
	s.log.Debug("running post-capture script", "script", script, "image", path)
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := runner.Run(ctx, script, path)
		s.Post(ScriptDone{Err: err, run: run})
	})
}

func (s *Sequencer) onScriptDone(e ScriptDone) {
	if s.pending != resumeAfterScript || e.run != s.scriptRun {
		return
	}
	s.pending = resumeNone
	job := s.activeJob()
	if job == nil {
		return
	}
	if e.Err != nil {
		s.warn("post-capture script failed, continuing", "error", e.Err)
	}
	s.afterFrame(job)
}
