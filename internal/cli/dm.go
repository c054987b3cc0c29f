// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/platform"
)

// stepsFile is the on-disk form of a data-manipulation pipeline. Payload
// is the sample input used when no --payload is given.
type stepsFile struct {
	Payload map[string]any  `yaml:"payload"`
	Steps   []pipeline.Step `yaml:"steps"`
}

func newDMCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dm",
		Short: "Work with data-manipulation steps files",
	}
	cmd.AddCommand(newDMCheckCommand(flags))
	cmd.AddCommand(newDMRunCommand(flags))
	return cmd
}

func newDMCheckCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <steps-file>",
		Short: "Validate a steps file without running it",
		Long: `Check parses a steps file and verifies that every jq expression compiles
and every populate entry names a known resolver.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readStepsFile(args[0])
			if err != nil {
				return err
			}
			if err := pipeline.ValidateSteps(jq.NewEvaluator(0, 0, 0), file.Steps); err != nil {
				return err
			}

			if flags.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "steps": len(file.Steps)})
			}
			cmd.Printf("%s: %d steps OK\n", args[0], len(file.Steps))
			return nil
		},
	}
}

type dmRunOptions struct {
	payload  string
	fixtures string
	tenant   string
	timeout  time.Duration
}

func newDMRunCommand(flags *globalFlags) *cobra.Command {
	opts := &dmRunOptions{}
	cmd := &cobra.Command{
		Use:   "run <steps-file>",
		Short: "Run a steps file against a sample payload",
		Long: `Run executes a steps file and prints the resulting payload, or
{"abort":true} when a step aborts.

Lookups (user, workspace, blueprintEntity, blueprintEntities, vectorStores)
are answered from --fixtures. apiWebhook lookups are not available offline.`,
		Example: `  switchyard dm run steps.yaml --payload event.json
  cat event.json | switchyard dm run steps.yaml --payload -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDM(cmd, flags, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.payload, "payload", "p", "", "Input payload file (JSON or YAML, - for stdin)")
	cmd.Flags().StringVar(&opts.fixtures, "fixtures", "", "Platform fixtures file for lookups")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "local", "Tenant the pipeline runs as")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", jq.DefaultTimeout, "Per-expression evaluation timeout")
	return cmd
}

func runDM(cmd *cobra.Command, flags *globalFlags, opts *dmRunOptions, path string) error {
	file, err := readStepsFile(path)
	if err != nil {
		return err
	}

	payload := file.Payload
	if opts.payload != "" {
		payload, err = readPayload(cmd.InOrStdin(), opts.payload)
		if err != nil {
			return err
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	fixtures, err := platform.LoadFixtures(opts.fixtures)
	if err != nil {
		return err
	}

	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	logger := log.New(&log.Config{Level: level, Format: log.FormatText, Output: cmd.ErrOrStderr()})

	eval := jq.NewEvaluator(opts.timeout, 0, 0)
	if err := pipeline.ValidateSteps(eval, file.Steps); err != nil {
		return err
	}
	executor := pipeline.NewExecutor(eval, logger)
	executor.RegisterDirectory(platform.NewMemory(fixtures))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	outcome, err := executor.Execute(ctx, opts.tenant, payload, file.Steps)
	if err != nil {
		return err
	}
	logger.Debug("pipeline finished",
		slog.Int("steps", len(file.Steps)),
		slog.Bool("aborted", outcome.Aborted),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))

	return writeJSON(cmd.OutOrStdout(), outcome)
}

func readStepsFile(path string) (*stepsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read steps file: %w", err)
	}
	var file stepsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse steps file %s: %w", path, err)
	}
	return &file, nil
}

func readPayload(stdin io.Reader, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON or YAML object: %w", err)
	}
	return payload, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
