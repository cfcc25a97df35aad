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
	"github.com/spf13/cobra"

	"github.com/omarrsalif594/sibyl-sub000/internal/commands/run"
	"github.com/omarrsalif594/sibyl-sub000/internal/commands/schema"
	"github.com/omarrsalif594/sibyl-sub000/internal/commands/shared"
	"github.com/omarrsalif594/sibyl-sub000/internal/commands/validate"
	"github.com/omarrsalif594/sibyl-sub000/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for sibyl with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sibyl",
		Short: "Sibyl - declarative pipelines over technique shops and MCP tools",
		Long: `Sibyl runs declarative pipelines defined in a workspace file. Each step
invokes a technique from a shop or a tool on an MCP provider, and steps
compose through loops, parallel branches and try/catch blocks under
timeouts and cost budgets.

Run 'sibyl validate -w workspace.yaml' to check a workspace.
Run 'sibyl run <pipeline> -w workspace.yaml' to execute a pipeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/sibyl/config.yaml)")

	cmd.AddCommand(run.NewCommand())
	cmd.AddCommand(validate.NewCommand())
	cmd.AddCommand(schema.NewCommand())
	cmd.AddCommand(version.NewCommand())

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
