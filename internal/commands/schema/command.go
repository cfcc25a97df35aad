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

package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omarrsalif594/sibyl-sub000/internal/commands/shared"
	"github.com/omarrsalif594/sibyl-sub000/schemas"
)

// NewCommand creates the schema command
func NewCommand() *cobra.Command {
	var (
		outputFormat string
		file         string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Output the workspace JSON Schema",
		Annotations: map[string]string{
			"group": "workspace",
		},
		Long: `Output the JSON Schema for sibyl workspace files.

Point an editor's YAML language server at the schema for completion and
early feedback. Shape rules that span fields are only checked by
'sibyl validate'.`,
		Example: `  # Print the schema
  sibyl schema

  # Save it next to the workspace
  sibyl schema --file schemas/workspace.schema.json

  # Inspect the step definition
  sibyl schema | jq '."$defs".Step'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, outputFormat, file, force)
		},
	}

	cmd.Flags().StringVar(&outputFormat, "output", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write the schema to a file instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func runSchema(cmd *cobra.Command, outputFormat, file string, force bool) error {
	data, err := schemas.Workspace()
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
	case "yaml":
		var obj any
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("failed to parse schema: %w", err)
		}
		data, err = yaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to convert to YAML: %w", err)
		}
	default:
		return shared.NewInvalidInputError(fmt.Sprintf("invalid output format: %s (must be 'json' or 'yaml')", outputFormat), nil)
	}

	if file == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if _, err := os.Stat(file); err == nil && !force {
		return shared.NewInvalidInputError(fmt.Sprintf("file already exists: %s (use --force to overwrite)", file), nil)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("✓ Schema written to "+file))
	}
	return nil
}
