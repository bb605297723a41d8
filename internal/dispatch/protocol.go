// Package dispatch decodes wire requests, routes them to a pipeline stage and
// assembles the response, resetting the job's permissions before it returns.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names a pipeline stage on the wire.
type Command string

// Supported commands.
const (
	CommandTiming   Command = "timing"
	CommandAcoustic Command = "acoustic"
)

// Result keys of the timing and acoustic commands.
const (
	KeyFullTiming   = "path_full_timing"
	KeyMonoTiming   = "path_mono_timing"
	KeyAcoustic     = "path_acoustic"
	KeyF0           = "path_f0"
	KeySpectrogram  = "path_spectrogram"
	KeyAperiodicity = "path_aperiodicity"
)

const requestFields = 2

var (
	// ErrMalformedRequest indicates a request that is not [command, input_path].
	ErrMalformedRequest = errors.New("malformed request")
	// ErrUnexpectedCommand indicates a well-formed request naming no known stage.
	ErrUnexpectedCommand = errors.New("unexpected command")
)

// Request is one decoded wire request.
type Request struct {
	Command   Command
	InputPath string
}

// String renders the request the way it appears on the wire.
func (r Request) String() string {
	return fmt.Sprintf("[%q, %q]", string(r.Command), r.InputPath)
}

// MarshalJSON encodes the request as a two element array.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{string(r.Command), r.InputPath})
}

// ParseRequest decodes a JSON array of exactly two strings. The command is not
// checked here; unknown commands are a routing failure, not a protocol one.
func ParseRequest(data []byte) (Request, error) {
	var fields []*string

	err := json.Unmarshal(data, &fields)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	if len(fields) != requestFields {
		return Request{}, fmt.Errorf("%w: expected [command, input_path], got %d elements",
			ErrMalformedRequest, len(fields))
	}

	if fields[0] == nil || fields[1] == nil {
		return Request{}, fmt.Errorf("%w: command and input path must be strings", ErrMalformedRequest)
	}

	if *fields[1] == "" {
		return Request{}, fmt.Errorf("%w: input path cannot be empty", ErrMalformedRequest)
	}

	return Request{Command: Command(*fields[0]), InputPath: *fields[1]}, nil
}

// Response carries exactly one of Result or Error.
type Response struct {
	Result map[string]string `json:"result,omitempty"`
	Error  *string           `json:"error,omitempty"`
}

// ResultResponse wraps a stage result.
func ResultResponse(result map[string]string) Response {
	return Response{Result: result, Error: nil}
}

// ErrorResponse wraps a failure message.
func ErrorResponse(message string) Response {
	return Response{Result: nil, Error: &message}
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != nil
}

// ErrorMessage returns the error text, or "" for a successful response.
func (r Response) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}

	return *r.Error
}
