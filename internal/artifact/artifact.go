// Package artifact converts the comma-delimited numeric arrays written by the
// acoustic model into NumPy .npy files.
package artifact

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/enunu-service/internal/fsutil"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// BinaryExt is the extension of converted artifacts.
const BinaryExt = ".npy"

const (
	delimiter     = ","
	commentPrefix = "#"
	maxLineBytes  = 16 * 1024 * 1024
)

var (
	// ErrRaggedArray indicates rows with differing column counts.
	ErrRaggedArray = errors.New("rows have different numbers of columns")
	// ErrShapeMismatch indicates an Array whose shape does not match its data.
	ErrShapeMismatch = errors.New("array shape does not match data length")
)

// Array is a dense float64 array in row-major order. Shape has one entry for
// vectors and two for matrices.
type Array struct {
	Shape []int
	Data  []float64
}

// Convert loads the text array at path, writes its .npy twin and removes the
// text file if it is still there. It returns the binary path.
func Convert(path string) (string, error) {
	arr, err := LoadText(path)
	if err != nil {
		return "", err
	}

	binaryPath := BinaryPath(path)

	saveErr := SaveBinary(binaryPath, arr)
	if saveErr != nil {
		return "", saveErr
	}

	removeErr := fsutil.RemoveIfExists(path)
	if removeErr != nil {
		return "", removeErr
	}

	return binaryPath, nil
}

// BinaryPath returns where Convert writes the binary form of path.
func BinaryPath(path string) string {
	return fsutil.ReplaceExt(path, BinaryExt)
}

// LoadText reads a comma-delimited float64 array. Blank lines and lines
// starting with '#' are skipped. A single row or a single column collapses to
// a vector. A single value stays a one-element vector rather than a 0-d array.
func LoadText(path string) (Array, error) {
	file, err := os.Open(path)
	if err != nil {
		return Array{}, fmt.Errorf("failed to open numeric array: %w", err)
	}
	defer file.Close()

	arr, err := ParseText(file)
	if err != nil {
		return Array{}, fmt.Errorf("failed to parse numeric array %s: %w", path, err)
	}

	return arr, nil
}

// ParseText is LoadText over a reader.
func ParseText(r io.Reader) (Array, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	var (
		data    []float64
		rows    int
		cols    = -1
		lineNum int
	)

	for scanner.Scan() {
		lineNum++

		line := scanner.Text()
		if idx := strings.Index(line, commentPrefix); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if cols >= 0 && len(fields) != cols {
			return Array{}, fmt.Errorf("%w: line %d has %d columns, expected %d",
				ErrRaggedArray, lineNum, len(fields), cols)
		}

		cols = len(fields)

		for _, field := range fields {
			value, parseErr := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if parseErr != nil {
				return Array{}, fmt.Errorf("line %d: %w", lineNum, parseErr)
			}

			data = append(data, value)
		}

		rows++
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return Array{}, fmt.Errorf("failed to read numeric array: %w", scanErr)
	}

	return Array{Shape: squeeze(rows, cols), Data: data}, nil
}

func squeeze(rows, cols int) []int {
	switch {
	case rows == 0:
		return []int{0}
	case rows == 1 || cols == 1:
		return []int{rows * cols}
	default:
		return []int{rows, cols}
	}
}

// SaveBinary writes arr as a .npy file, replacing path atomically.
func SaveBinary(path string, arr Array) error {
	value, err := arr.npyValue()
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return npyio.Write(w, value)
	})
}

// LoadBinary reads a .npy file written by SaveBinary.
func LoadBinary(path string) (Array, error) {
	file, err := os.Open(path)
	if err != nil {
		return Array{}, fmt.Errorf("failed to open binary array: %w", err)
	}
	defer file.Close()

	reader, err := npyio.NewReader(file)
	if err != nil {
		return Array{}, fmt.Errorf("failed to read npy header of %s: %w", path, err)
	}

	var data []float64

	err = reader.Read(&data)
	if err != nil {
		return Array{}, fmt.Errorf("failed to read npy data of %s: %w", path, err)
	}

	shape := append([]int(nil), reader.Header.Descr.Shape...)

	return Array{Shape: shape, Data: data}, nil
}

func (a Array) npyValue() (any, error) {
	size := 1
	for _, dim := range a.Shape {
		size *= dim
	}

	if len(a.Shape) == 0 || size != len(a.Data) {
		return nil, fmt.Errorf("%w: shape %v, %d values", ErrShapeMismatch, a.Shape, len(a.Data))
	}

	if len(a.Shape) == 2 && size > 0 {
		return mat.NewDense(a.Shape[0], a.Shape[1], a.Data), nil
	}

	if len(a.Shape) != 1 {
		return nil, fmt.Errorf("%w: unsupported rank %d", ErrShapeMismatch, len(a.Shape))
	}

	if a.Data == nil {
		return []float64{}, nil
	}

	return a.Data, nil
}
