// Package pipeline implements the timing and acoustic stages of a synthesis job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/enunu-service/internal/artifact"
	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/enunu-service/internal/fsutil"
	"github.com/book-expert/enunu-service/internal/voice"
	"github.com/book-expert/logger"
)

// ErrMissingOutput indicates that a stage exited cleanly without writing an
// artifact it is expected to produce.
var ErrMissingOutput = errors.New("stage did not produce expected output")

// Scores handed to the aligner are never required to follow Sinsy's strict style.
const strictSinsyStyle = false

// Pipeline implements core.Stages.
type Pipeline struct {
	resolver core.JobResolver
	engine   core.SynthesisEngine
	aligner  core.ScoreAligner
	log      *logger.Logger
}

// New creates a Pipeline.
func New(
	resolver core.JobResolver,
	engine core.SynthesisEngine,
	aligner core.ScoreAligner,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		engine:   engine,
		aligner:  aligner,
		log:      log,
	}
}

// RunTiming predicts phoneme timing for the score at inputPath.
func (p *Pipeline) RunTiming(ctx context.Context, inputPath string) (core.TimingResult, error) {
	job, cfg, err := p.setup(inputPath)
	if err != nil {
		return core.TimingResult{}, err
	}

	err = p.engine.Timing(ctx, job, cfg)
	if err != nil {
		return core.TimingResult{}, fmt.Errorf("timing inference failed: %w", err)
	}

	err = requireOutputs(job.Paths.FullTiming, job.Paths.MonoTiming)
	if err != nil {
		return core.TimingResult{}, err
	}

	return core.TimingResult{
		FullTiming: job.Paths.FullTiming,
		MonoTiming: job.Paths.MonoTiming,
	}, nil
}

// RunAcoustic aligns the score with its timing, generates the acoustic
// features and converts f0, spectrogram and aperiodicity to .npy. The result
// still names the text files; callers derive the binary names by extension.
// Artifacts converted before a failure are left in place.
func (p *Pipeline) RunAcoustic(ctx context.Context, inputPath string) (core.AcousticResult, error) {
	job, cfg, err := p.setup(inputPath)
	if err != nil {
		return core.AcousticResult{}, err
	}

	err = p.aligner.Align(ctx, job, strictSinsyStyle)
	if err != nil {
		return core.AcousticResult{}, fmt.Errorf("score alignment failed: %w", err)
	}

	err = p.engine.Acoustic(ctx, job, cfg)
	if err != nil {
		return core.AcousticResult{}, fmt.Errorf("acoustic inference failed: %w", err)
	}

	paths := job.Paths

	err = requireOutputs(paths.Acoustic, paths.F0, paths.Spectrogram, paths.Aperiodicity)
	if err != nil {
		return core.AcousticResult{}, err
	}

	for _, path := range []string{paths.F0, paths.Spectrogram, paths.Aperiodicity} {
		binaryPath, convertErr := artifact.Convert(path)
		if convertErr != nil {
			return core.AcousticResult{}, fmt.Errorf("failed to convert %s: %w", path, convertErr)
		}

		p.log.Info("Converted %s to %s", path, binaryPath)
	}

	return core.AcousticResult{
		Acoustic:     paths.Acoustic,
		F0:           paths.F0,
		Spectrogram:  paths.Spectrogram,
		Aperiodicity: paths.Aperiodicity,
	}, nil
}

// setup resolves the job and stages the score and phoneme table in its
// working directory.
func (p *Pipeline) setup(inputPath string) (*core.JobContext, *voice.Config, error) {
	job, err := p.resolver.Resolve(inputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve job context: %w", err)
	}

	cfg, err := job.Config()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load voicebank config: %w", err)
	}

	err = fsutil.CopyFile(job.InputPath, job.Paths.TempScore)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stage score: %w", err)
	}

	err = fsutil.CopyFile(cfg.TablePath, job.Paths.TempTable)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stage phoneme table: %w", err)
	}

	return job, cfg, nil
}

func requireOutputs(paths ...string) error {
	for _, path := range paths {
		_, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMissingOutput, path, err)
		}
	}

	return nil
}
