// Package core defines the shared job types and the interfaces between the
// dispatcher, the pipeline stages and the external synthesis tooling.
package core

import (
	"context"
	"path/filepath"

	"github.com/book-expert/enunu-service/internal/voice"
)

// Artifact file names inside a job's working directory.
const (
	TempScoreFile    = "temp.ust"
	TempTableFile    = "temp.table"
	FullScoreFile    = "score_full.lab"
	MonoScoreFile    = "score_mono.lab"
	FullTimingFile   = "full.lab"
	MonoTimingFile   = "mono.lab"
	AcousticFile     = "acoustic.csv"
	F0File           = "f0.csv"
	SpectrogramFile  = "spectrogram.csv"
	AperiodicityFile = "aperiodicity.csv"
)

// Paths is the fixed artifact layout of one working directory.
type Paths struct {
	TempScore    string
	TempTable    string
	FullScore    string
	MonoScore    string
	FullTiming   string
	MonoTiming   string
	Acoustic     string
	F0           string
	Spectrogram  string
	Aperiodicity string
}

// NewPaths lays out the artifacts of workingDir.
func NewPaths(workingDir string) Paths {
	return Paths{
		TempScore:    filepath.Join(workingDir, TempScoreFile),
		TempTable:    filepath.Join(workingDir, TempTableFile),
		FullScore:    filepath.Join(workingDir, FullScoreFile),
		MonoScore:    filepath.Join(workingDir, MonoScoreFile),
		FullTiming:   filepath.Join(workingDir, FullTimingFile),
		MonoTiming:   filepath.Join(workingDir, MonoTimingFile),
		Acoustic:     filepath.Join(workingDir, AcousticFile),
		F0:           filepath.Join(workingDir, F0File),
		Spectrogram:  filepath.Join(workingDir, SpectrogramFile),
		Aperiodicity: filepath.Join(workingDir, AperiodicityFile),
	}
}

// JobContext is everything a stage needs to run one input file. The voicebank
// config is loaded at resolution time but its error is only reported when a
// stage asks for it.
type JobContext struct {
	InputPath  string
	WorkingDir string
	Paths      Paths

	voice     *voice.Config
	configErr error
}

// NewJobContext builds a context around an already loaded voicebank config
// (or the error that prevented loading it).
func NewJobContext(inputPath, workingDir string, cfg *voice.Config, configErr error) *JobContext {
	return &JobContext{
		InputPath:  inputPath,
		WorkingDir: workingDir,
		Paths:      NewPaths(workingDir),
		voice:      cfg,
		configErr:  configErr,
	}
}

// Config returns the job's voicebank config.
func (j *JobContext) Config() (*voice.Config, error) {
	if j.configErr != nil {
		return nil, j.configErr
	}

	return j.voice, nil
}

// TimingResult holds the label files written by the timing stage.
type TimingResult struct {
	FullTiming string
	MonoTiming string
}

// AcousticResult holds the acoustic stage outputs. F0, Spectrogram and
// Aperiodicity keep their text names even though only the .npy twins remain.
type AcousticResult struct {
	Acoustic     string
	F0           string
	Spectrogram  string
	Aperiodicity string
}

// JobResolver derives the job context for an input file.
type JobResolver interface {
	Resolve(inputPath string) (*JobContext, error)
}

// SynthesisEngine runs the timing and acoustic inference for a job.
type SynthesisEngine interface {
	Timing(ctx context.Context, job *JobContext, cfg *voice.Config) error
	Acoustic(ctx context.Context, job *JobContext, cfg *voice.Config) error
}

// ScoreAligner writes the aligned score labels from the score and timing.
type ScoreAligner interface {
	Align(ctx context.Context, job *JobContext, strict bool) error
}

// PermissionResetter hands a working directory over to the cleanup user.
type PermissionResetter interface {
	Reset(dir string) error
}

// Stages runs the two pipeline stages for an input file.
type Stages interface {
	RunTiming(ctx context.Context, inputPath string) (TimingResult, error)
	RunAcoustic(ctx context.Context, inputPath string) (AcousticResult, error)
}
