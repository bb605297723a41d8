// Package worker provides a NATS front-end that answers wire requests
// published on a subject with the same handler as the ZeroMQ server.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/enunu-service/internal/server"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

var (
	// ErrSubjectEmpty indicates that the subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrNoReplySubject indicates a message that cannot be answered.
	ErrNoReplySubject = errors.New("message has no reply subject")
)

// NatsWorker listens for requests on a NATS subject and replies to each one.
// NATS delivers a subscription's messages one at a time, which keeps the
// worker sequential.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	handler        server.Handler
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	handler server.Handler,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		handler:        handler,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.handleMessage(context.WithoutCancel(ctx), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for requests on NATS subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		w.log.Warn("Dropping message on %s: %v", msg.Subject, ErrNoReplySubject)

		return
	}

	reply := w.handler.Handle(ctx, msg.Data)

	err := msg.Respond(reply)
	if err != nil {
		w.log.Error("Failed to publish reply on %s: %v", msg.Reply, err)
	}
}
