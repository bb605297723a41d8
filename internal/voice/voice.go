// Package voice locates the voicebank a score was written for and loads its
// enuconfig.yaml.
package voice

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the voicebank configuration file read by Load.
const ConfigFileName = "enuconfig.yaml"

const (
	voiceDirKey      = "VoiceDir="
	voiceRootMacro   = "%VOICE%"
	settingSection   = "[#SETTING]"
	sectionPrefix    = "[#"
	windowsSeparator = `\`
)

var (
	// ErrVoiceDirNotFound indicates that the score does not name a voicebank.
	ErrVoiceDirNotFound = errors.New("score does not declare a VoiceDir")
	// ErrTablePathEmpty indicates that the voicebank config has no phoneme table.
	ErrTablePathEmpty = errors.New("voicebank config does not set table_path")
)

// Config is the subset of enuconfig.yaml the service needs. Relative paths are
// resolved against Dir by Load.
type Config struct {
	TablePath    string  `yaml:"table_path"`
	QuestionPath string  `yaml:"question_path"`
	SampleRate   int     `yaml:"sample_rate"`
	FramePeriod  float64 `yaml:"frame_period"`

	// Dir is the voicebank directory and Path the config file inside it.
	Dir  string `yaml:"-"`
	Path string `yaml:"-"`
}

// Load reads and validates <voiceDir>/enuconfig.yaml.
func Load(voiceDir string) (*Config, error) {
	path := filepath.Join(voiceDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voicebank config: %w", err)
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse voicebank config %s: %w", path, err)
	}

	if cfg.TablePath == "" {
		return nil, fmt.Errorf("%w: %s", ErrTablePathEmpty, path)
	}

	cfg.Dir = voiceDir
	cfg.Path = path
	cfg.TablePath = resolve(voiceDir, cfg.TablePath)

	if cfg.QuestionPath != "" {
		cfg.QuestionPath = resolve(voiceDir, cfg.QuestionPath)
	}

	return &cfg, nil
}

// FindVoiceDir reads the VoiceDir entry of a UST score. The score may be UTF-8
// or Shift_JIS. %VOICE% and relative directories resolve against voiceRoot.
func FindVoiceDir(ustPath, voiceRoot string) (string, error) {
	data, err := os.ReadFile(ustPath)
	if err != nil {
		return "", fmt.Errorf("failed to read score: %w", err)
	}

	text, err := decodeScore(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode score %s: %w", ustPath, err)
	}

	dir, found := scanVoiceDir(text)
	if !found {
		return "", fmt.Errorf("%w: %s", ErrVoiceDirNotFound, ustPath)
	}

	dir = strings.ReplaceAll(dir, windowsSeparator, "/")

	if rest, ok := strings.CutPrefix(dir, voiceRootMacro); ok {
		return filepath.Join(voiceRoot, rest), nil
	}

	return resolve(voiceRoot, dir), nil
}

func decodeScore(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// scanVoiceDir only looks inside the [#SETTING] section, which UTAU writes first.
func scanVoiceDir(text string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewBufferString(text))
	inSetting := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, sectionPrefix) {
			inSetting = line == settingSection

			continue
		}

		if !inSetting {
			continue
		}

		if value, ok := strings.CutPrefix(line, voiceDirKey); ok && value != "" {
			return value, true
		}
	}

	return "", false
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}
