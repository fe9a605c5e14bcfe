package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/eser/aicaller/pkg/api/business/calls"
	"github.com/spf13/cobra"
)

// openOutput opens path for writing outputs; an empty path means stdout.
// With appendTo the file keeps what an earlier run wrote.
func openOutput(cmd *cobra.Command, path string, appendTo bool) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(path, flags, 0o644) //nolint:gosec
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output %s: %w", path, err)
	}

	return file, file.Close, nil
}

// previousOutputIDs returns the ids already written to path. A missing file
// means nothing was written yet.
func previousOutputIDs(path string) (calls.IDSet, error) {
	file, err := os.Open(path) //nolint:gosec
	if errors.Is(err, os.ErrNotExist) {
		return calls.NewIDSet(), nil
	}

	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	return calls.ReadOutputIDs(file)
}

func (c *cli) newBatchCmd() *cobra.Command {
	var (
		output string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "batch <input.jsonl>",
		Short: "Submit every request of the input as one provider batch and wait for the outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := c.provider(cmd)
			if err != nil {
				return err
			}

			src := calls.NewFileSource(args[0])

			if noWait {
				submission, err := c.appContext.Batches.SubmitOnly(cmd.Context(), provider, src)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", submission.Job.ID, submission.Job.State, submission.Index.Len())

				return nil
			}

			outputs, err := c.appContext.Batches.RunBatchAndWait(cmd.Context(), provider, src)
			if err != nil {
				return err
			}

			w, closeOutput, err := openOutput(cmd, output, false)
			if err != nil {
				return err
			}
			defer closeOutput() //nolint:errcheck

			writer := calls.NewOutputWriter(w)
			for _, out := range outputs {
				if err := writer.Write(out); err != nil {
					return err
				}
			}

			return closeOutput()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write outputs to this file instead of stdout")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the submitted batch job and return")

	return cmd
}

func (c *cli) newSyncCmd() *cobra.Command {
	var (
		output string
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "sync <input.jsonl>",
		Short: "Call the provider once per request, writing each output as soon as it arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && output == "" {
				return errors.New("--resume needs --output")
			}

			provider, err := c.provider(cmd)
			if err != nil {
				return err
			}

			skip := calls.NewIDSet()
			if resume {
				skip, err = previousOutputIDs(output)
				if err != nil {
					return err
				}
			}

			w, closeOutput, err := openOutput(cmd, output, resume)
			if err != nil {
				return err
			}
			defer closeOutput() //nolint:errcheck

			writer := calls.NewOutputWriter(w)

			for out, err := range c.appContext.Batches.StreamOutputs(cmd.Context(), provider, calls.NewFileSource(args[0]), skip) {
				if err != nil {
					return err
				}

				if err := writer.Write(out); err != nil {
					return err
				}
			}

			return closeOutput()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write outputs to this file instead of stdout")
	cmd.Flags().BoolVar(&resume, "resume", false, "skip requests whose outputs are already in --output and append the rest")

	return cmd
}

func (c *cli) newLineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "line <input.jsonl> <line>",
		Short: "Run the request stored at a zero-based line of the input",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid line %q: %w", args[1], err)
			}

			provider, err := c.provider(cmd)
			if err != nil {
				return err
			}

			out, err := c.appContext.Batches.ProcessLine(cmd.Context(), provider, calls.NewFileSource(args[0]), line)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)

			return enc.Encode(out)
		},
	}
}
