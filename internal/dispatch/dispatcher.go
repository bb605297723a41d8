package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// encodeFailure is sent when a response cannot be marshalled.
const encodeFailure = `{"error": "failed to encode response"}`

// Dispatcher runs one request at a time through
// parse -> route -> stage -> permission reset -> response.
type Dispatcher struct {
	stages   core.Stages
	resolver core.JobResolver
	resetter core.PermissionResetter
	log      *logger.Logger

	// mu keeps requests sequential across every transport sharing the dispatcher.
	mu sync.Mutex
}

// New creates a Dispatcher.
func New(
	stages core.Stages,
	resolver core.JobResolver,
	resetter core.PermissionResetter,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		stages:   stages,
		resolver: resolver,
		resetter: resetter,
		log:      log,
	}
}

// Handle processes one raw wire request and returns the raw response. It
// never fails: every problem becomes an error response. The job's working
// directory is handed over before Handle returns, so callers may transmit the
// result immediately.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	requestID := uuid.NewString()

	var response Response

	request, err := ParseRequest(raw)
	if err != nil {
		d.log.Warn("Rejected request %s (%q): %v", requestID, string(raw), err)

		response = ErrorResponse(err.Error())
	} else {
		d.log.Info("Received request %s: %s", requestID, request)

		response = d.Dispatch(ctx, request)
		d.resetPermissions(requestID, request.InputPath)
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		d.log.Error("Failed to encode response %s: %v", requestID, err)

		return []byte(encodeFailure)
	}

	d.log.Info("Sending response %s: %s", requestID, string(encoded))

	return encoded
}

// Dispatch routes the request to its stage and converts any failure,
// including a panic, into an error response.
func (d *Dispatcher) Dispatch(ctx context.Context, request Request) (response Response) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			d.log.Error("Stage %s panicked for %s: %v\n%s",
				request.Command, request.InputPath, recovered, debug.Stack())

			response = ErrorResponse(fmt.Sprintf("%s stage panicked: %v", request.Command, recovered))
		}
	}()

	result, err := d.route(ctx, request)
	if err != nil {
		d.log.Error("Request %s failed: %+v", request, err)

		return ErrorResponse(err.Error())
	}

	return ResultResponse(result)
}

func (d *Dispatcher) route(ctx context.Context, request Request) (map[string]string, error) {
	switch request.Command {
	case CommandTiming:
		timing, err := d.stages.RunTiming(ctx, request.InputPath)
		if err != nil {
			return nil, err
		}

		return map[string]string{
			KeyFullTiming: timing.FullTiming,
			KeyMonoTiming: timing.MonoTiming,
		}, nil
	case CommandAcoustic:
		acoustic, err := d.stages.RunAcoustic(ctx, request.InputPath)
		if err != nil {
			return nil, err
		}

		return map[string]string{
			KeyAcoustic:     acoustic.Acoustic,
			KeyF0:           acoustic.F0,
			KeySpectrogram:  acoustic.Spectrogram,
			KeyAperiodicity: acoustic.Aperiodicity,
		}, nil
	default:
		return nil, fmt.Errorf("%w %s", ErrUnexpectedCommand, request.Command)
	}
}

// resetPermissions resolves the job afresh and hands its working directory
// over. Failures are logged and never reach the response.
func (d *Dispatcher) resetPermissions(requestID, inputPath string) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			d.log.Error("Permission reset panicked for request %s: %v\n%s", requestID, recovered, debug.Stack())
		}
	}()

	job, err := d.resolver.Resolve(inputPath)
	if err != nil {
		d.log.Error("Failed to resolve working directory for request %s: %v", requestID, err)

		return
	}

	err = d.resetter.Reset(job.WorkingDir)
	if err != nil {
		d.log.Error("Failed to reset permissions for request %s: %v", requestID, err)
	}
}
