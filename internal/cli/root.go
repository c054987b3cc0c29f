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

// Package cli implements the switchyard command-line tool.
package cli

import (
	"github.com/spf13/cobra"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type globalFlags struct {
	json    bool
	verbose bool
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand(info BuildInfo) *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "switchyard",
		Short: "Switchyard - trigger, transform and deliver integration payloads",
		Long: `Switchyard connects platform events and webhooks to external targets
through data-manipulation pipelines.

Run 'switchyard dm check <file>' to lint a steps file and
'switchyard dm run <file>' to try it against a sample payload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(newDMCommand(flags))
	cmd.AddCommand(newVersionCommand(info, flags))
	return cmd
}
