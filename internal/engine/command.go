// Package engine runs the external singing-voice inference tooling as a
// subprocess. It implements core.SynthesisEngine and core.ScoreAligner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/enunu-service/internal/voice"
	"github.com/book-expert/logger"
)

// Subcommands understood by the inference tooling.
const (
	StageTiming   = "timing"
	StageAcoustic = "acoustic"
	StageAlign    = "align"
)

// ErrBinaryEmpty is returned when no inference binary is configured.
var ErrBinaryEmpty = errors.New("engine binary cannot be empty")

// CommandEngine invokes `<binary> <args...> <stage> <flags...>`.
type CommandEngine struct {
	binary  string
	args    []string
	timeout time.Duration
	log     *logger.Logger
}

// New creates a CommandEngine. A zero timeout lets a stage run until it exits.
func New(binary string, args []string, timeout time.Duration, log *logger.Logger) (*CommandEngine, error) {
	if binary == "" {
		return nil, ErrBinaryEmpty
	}

	return &CommandEngine{
		binary:  binary,
		args:    append([]string(nil), args...),
		timeout: timeout,
		log:     log,
	}, nil
}

// Timing predicts phoneme durations, writing full.lab and mono.lab.
func (e *CommandEngine) Timing(ctx context.Context, job *core.JobContext, cfg *voice.Config) error {
	return e.run(ctx, StageTiming, stageFlags(job, cfg)...)
}

// Acoustic generates acoustic.csv, f0.csv, spectrogram.csv and aperiodicity.csv.
func (e *CommandEngine) Acoustic(ctx context.Context, job *core.JobContext, cfg *voice.Config) error {
	return e.run(ctx, StageAcoustic, stageFlags(job, cfg)...)
}

// Align converts the staged score and the timing labels into aligned score labels.
func (e *CommandEngine) Align(ctx context.Context, job *core.JobContext, strict bool) error {
	return e.run(ctx, StageAlign,
		"--ust", job.Paths.TempScore,
		"--table", job.Paths.TempTable,
		"--timing", job.Paths.FullTiming,
		"--full-score", job.Paths.FullScore,
		"--mono-score", job.Paths.MonoScore,
		"--strict-sinsy-style="+strconv.FormatBool(strict),
	)
}

func stageFlags(job *core.JobContext, cfg *voice.Config) []string {
	return []string{
		"--config", cfg.Path,
		"--workdir", job.WorkingDir,
	}
}

func (e *CommandEngine) run(ctx context.Context, stage string, flags ...string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(e.args)+1+len(flags))
	args = append(args, e.args...)
	args = append(args, stage)
	args = append(args, flags...)

	e.log.Info("Running %s stage: %s %v", stage, e.binary, args)

	// #nosec G204 -- binary and args come from the service configuration
	cmd := exec.CommandContext(ctx, e.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s stage execution failed: %w - output: %s", stage, err, string(output))
	}

	return nil
}
