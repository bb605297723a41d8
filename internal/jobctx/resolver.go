// Package jobctx resolves an input score path to its job context: a stable
// working directory plus the voicebank config the score was written for.
package jobctx

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/enunu-service/internal/fsutil"
	"github.com/book-expert/enunu-service/internal/voice"
)

const (
	// digestBytes is how much of the sha256 of the input path names a working dir.
	digestBytes = 16
	// maxStemBytes keeps directory names well under the 255 byte name limit.
	maxStemBytes = 64
)

// ErrInputPathEmpty indicates that a request carried an empty input path.
var ErrInputPathEmpty = errors.New("input path cannot be empty")

// Resolver implements core.JobResolver. Working directories are derived from
// the cleaned absolute input path and remembered for the process lifetime.
type Resolver struct {
	workRoot        string
	voiceRoot       string
	defaultVoiceDir string

	mu   sync.Mutex
	dirs map[string]string
}

// NewResolver creates a resolver placing working directories under workRoot.
// voiceRoot expands %VOICE% in scores; defaultVoiceDir is used for scores
// that name no voicebank.
func NewResolver(workRoot, voiceRoot, defaultVoiceDir string) *Resolver {
	return &Resolver{
		workRoot:        workRoot,
		voiceRoot:       voiceRoot,
		defaultVoiceDir: defaultVoiceDir,
		dirs:            make(map[string]string),
	}
}

// Resolve returns the job context for inputPath, creating its working
// directory on first use. Problems with the score or voicebank do not fail
// resolution; they are reported by JobContext.Config.
func (r *Resolver) Resolve(inputPath string) (*core.JobContext, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, ErrInputPathEmpty
	}

	key, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("could not resolve absolute path for %q: %w", inputPath, err)
	}

	workingDir := r.workingDir(key)

	dirErr := fsutil.EnsureDir(workingDir)
	if dirErr != nil {
		return nil, dirErr
	}

	cfg, cfgErr := r.loadVoice(inputPath)

	return core.NewJobContext(inputPath, workingDir, cfg, cfgErr), nil
}

// WorkingDir returns the directory Resolve would use for inputPath without
// touching the filesystem.
func (r *Resolver) WorkingDir(inputPath string) (string, error) {
	key, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %q: %w", inputPath, err)
	}

	return r.workingDir(key), nil
}

func (r *Resolver) workingDir(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir, ok := r.dirs[key]; ok {
		return dir
	}

	dir := filepath.Join(r.workRoot, DirName(key))
	r.dirs[key] = dir

	return dir
}

func (r *Resolver) loadVoice(inputPath string) (*voice.Config, error) {
	voiceDir, err := voice.FindVoiceDir(inputPath, r.voiceRoot)
	if errors.Is(err, voice.ErrVoiceDirNotFound) && r.defaultVoiceDir != "" {
		voiceDir, err = r.defaultVoiceDir, nil
	}

	if err != nil {
		return nil, err
	}

	return voice.Load(voiceDir)
}

// DirName names the working directory of an absolute input path: the
// sanitized file stem, cut to maxStemBytes, then a path digest for uniqueness.
func DirName(absPath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absPath)))
	stem := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))

	return truncate(fsutil.SanitizeFilename(stem), maxStemBytes) + "-" + hex.EncodeToString(sum[:digestBytes])
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}
