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

package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omarrsalif594/sibyl-sub000/internal/commands/shared"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop/builtin"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// Report is the --json output of validate.
type Report struct {
	Valid     bool            `json:"valid"`
	Workspace string          `json:"workspace,omitempty"`
	Pipelines []PipelineInfo  `json:"pipelines,omitempty"`
	Problems  []string        `json:"problems,omitempty"`
	Error     *shared.Problem `json:"error,omitempty"`
}

// PipelineInfo summarises one pipeline.
type PipelineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var (
		path   string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workspace file",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Validate loads a workspace, applies defaults and checks the shape of every
shop, provider and pipeline without running anything.

Technique references are normally resolved when a step runs, so that a
pipeline can catch the failure. With --strict, every shop technique is
also resolved against the builtin registry and unresolved references are
reported.`,
		Example: `  # Validate a workspace
  sibyl validate -w workspace.yaml

  # Also resolve every technique reference
  sibyl validate -w workspace.yaml --strict --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, path, strict)
		},
	}

	cmd.Flags().StringVarP(&path, "workspace", "w", "", "Workspace file (env: SIBYL_WORKSPACE)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Resolve every technique reference")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, strict bool) error {
	if path == "" {
		path = os.Getenv("SIBYL_WORKSPACE")
	}
	if path == "" {
		return shared.NewInvalidWorkspaceError("no workspace given", fmt.Errorf("use --workspace or SIBYL_WORKSPACE"))
	}

	settings, err := workspace.Load(path)
	if err != nil {
		if shared.GetJSON() {
			if werr := writeJSON(cmd, Report{Error: shared.ProblemOf(err)}); werr != nil {
				return werr
			}
			return &shared.ExitError{Code: shared.ExitInvalidWorkspace}
		}
		return shared.NewInvalidWorkspaceError(fmt.Sprintf("invalid workspace %s", path), err)
	}

	report := Report{Valid: true, Workspace: settings.Name}
	for _, name := range settings.PipelineNames() {
		p, _ := settings.Pipeline(name)
		report.Pipelines = append(report.Pipelines, PipelineInfo{
			Name:        name,
			Description: p.Description,
			Steps:       len(p.Steps),
		})
	}

	if strict {
		problems, err := resolveTechniques(settings)
		if err != nil {
			return err
		}
		report.Problems = problems
		report.Valid = len(problems) == 0
	}

	if shared.GetJSON() {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		printReport(cmd, path, report)
	}

	if !report.Valid {
		return &shared.ExitError{Code: shared.ExitInvalidWorkspace}
	}
	return nil
}

// resolveTechniques resolves every technique of every shop against the
// builtin registry and returns one message per failure, sorted.
func resolveTechniques(settings *workspace.Settings) ([]string, error) {
	registry := shop.NewRegistry()
	if err := builtin.Register(registry, nil); err != nil {
		return nil, err
	}

	var problems []string
	for name, s := range settings.Shops {
		rt := shop.NewRuntime(name, s, registry)
		for logical := range s.Techniques {
			if _, _, err := rt.Resolve(logical); err != nil {
				problems = append(problems, fmt.Sprintf("%s.%s: %v", name, logical, err))
			}
		}
	}
	sort.Strings(problems)
	return problems, nil
}

func printReport(cmd *cobra.Command, path string, report Report) {
	out := cmd.OutOrStdout()
	for _, p := range report.Problems {
		fmt.Fprintln(out, shared.RenderError("✗ "+p))
	}
	if !report.Valid {
		return
	}

	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("✓ %s is valid", path)))
	for _, p := range report.Pipelines {
		line := fmt.Sprintf("  %s %s", p.Name, shared.RenderLabel(fmt.Sprintf("(%d steps)", p.Steps)))
		if p.Description != "" {
			line += " " + p.Description
		}
		fmt.Fprintln(out, line)
	}
}

func writeJSON(cmd *cobra.Command, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
