// main package for the enunu-client, a command line client of the enunu-service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/enunu-service/internal/client"
	"github.com/book-expert/enunu-service/internal/dispatch"
	"github.com/spf13/cobra"
)

const (
	defaultEndpoint = "tcp://127.0.0.1:15555"
	defaultTimeout  = 30 * time.Minute
)

// ErrRequestFailed is returned when the service answers with an error.
var ErrRequestFailed = errors.New("request failed")

type rootOptions struct {
	endpoint string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "enunu-client",
		Short:         "Send synthesis requests to an enunu-service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.endpoint, "endpoint", defaultEndpoint, "service endpoint")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "give up after this long")

	cmd.AddCommand(newStageCommand(opts, dispatch.CommandTiming, "Predict phoneme timing for a UST score"))
	cmd.AddCommand(newStageCommand(opts, dispatch.CommandAcoustic, "Generate acoustic features for a UST score"))
	cmd.AddCommand(newSendCommand(opts))

	return cmd
}

func newStageCommand(opts *rootOptions, command dispatch.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command) + " <input.ust>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, string(command), args[0])
		},
	}
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command> <input.ust>",
		Short: "Send an arbitrary command, as received by the service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, args[0], args[1])
		},
	}
}

func call(cmd *cobra.Command, opts *rootOptions, command, inputPath string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	c, err := client.Dial(ctx, opts.endpoint)
	if err != nil {
		return err
	}
	defer c.Close()

	response, err := c.Call(command, inputPath)
	if err != nil {
		return err
	}

	return printResponse(cmd, response)
}

func printResponse(cmd *cobra.Command, response dispatch.Response) error {
	encoded, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	if response.Failed() {
		return fmt.Errorf("%w: %s", ErrRequestFailed, response.ErrorMessage())
	}

	return nil
}

func main() {
	err := newRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
