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

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarrsalif594/sibyl-sub000/internal/commands/shared"
	"github.com/omarrsalif594/sibyl-sub000/internal/config"
	"github.com/omarrsalif594/sibyl-sub000/internal/metrics"
	"github.com/omarrsalif594/sibyl-sub000/internal/tracing"
	"github.com/omarrsalif594/sibyl-sub000/pkg/runtime"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// options holds the run command's flags.
type options struct {
	workspace   string
	params      []string
	inputFile   string
	outputFile  string
	trace       bool
	metricsAddr string
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline from a workspace",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run executes one pipeline of a workspace and prints the result envelope
as JSON on stdout:

  {"ok": true, "status": "success", "data": {...}, "trace_id": "...", ...}

Parameters become the pipeline's {{ input }} namespace. Values given with
--param are decoded as YAML scalars, so count=3 arrives as a number.

Exit codes:
  0  pipeline succeeded
  1  pipeline failed (the envelope describes the error)
  2  workspace could not be loaded
  3  invalid parameters
  4  invalid configuration`,
		Example: `  # Run a pipeline with parameters
  sibyl run research -w workspace.yaml --param question="what is rag?"

  # Read parameters from a JSON file, export spans to stderr
  sibyl run research -w workspace.yaml --input params.json --trace

  # Expose Prometheus metrics while the pipeline runs
  sibyl run research -w workspace.yaml --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "Workspace file (env: SIBYL_WORKSPACE)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Pipeline parameter in key=value format (repeatable)")
	cmd.Flags().StringVar(&opts.inputFile, "input", "", "JSON file with parameters (use '-' for stdin)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Write the result envelope to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Export spans to stderr")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runPipeline(cmd *cobra.Command, name string, opts *options) error {
	stderr := cmd.ErrOrStderr()

	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("invalid configuration", err)
	}
	if opts.trace {
		cfg.Tracing.Enabled = true
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	cfg.Tracing.Writer = stderr
	if v, _, _ := shared.GetVersion(); cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = v
	}
	logger := cfg.Logger(stderr)

	path := opts.workspace
	if path == "" {
		path = os.Getenv("SIBYL_WORKSPACE")
	}
	if path == "" {
		return shared.NewInvalidWorkspaceError("no workspace given", fmt.Errorf("use --workspace or SIBYL_WORKSPACE"))
	}
	settings, err := workspace.Load(path)
	if err != nil {
		return shared.NewInvalidWorkspaceError(fmt.Sprintf("invalid workspace %s", path), err)
	}

	params, err := parseInputs(opts.params, opts.inputFile, cmd.InOrStdin())
	if err != nil {
		return shared.NewInvalidInputError("invalid parameters", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(cfg.Tracing)
	if err != nil {
		return shared.NewConfigError("failed to set up tracing", err)
	}
	defer shutdown(logger, "tracing", tp.Shutdown)

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr, logger)
		if err != nil {
			return shared.NewConfigError("failed to serve metrics", err)
		}
		defer shutdown(logger, "metrics", srv.Shutdown)
	}

	rtOpts := append(cfg.RuntimeOptions(),
		runtime.WithLogger(logger),
		runtime.WithTracer(tp.Tracer()),
	)
	rt, err := runtime.New(settings, rtOpts...)
	if err != nil {
		return shared.NewInvalidWorkspaceError(fmt.Sprintf("invalid workspace %s", path), err)
	}
	defer rt.Close()

	result := rt.RunPipeline(ctx, name, params)

	if err := writeEnvelope(cmd.OutOrStdout(), opts.outputFile, result); err != nil {
		return shared.NewPipelineFailedError("failed to write result", err)
	}
	if !shared.GetQuiet() && shared.IsTerminal(stderr) {
		fmt.Fprintln(stderr, statusLine(result))
	}

	if !result.OK {
		return &shared.ExitError{Code: shared.ExitPipelineFailed}
	}
	return nil
}

func writeEnvelope(stdout io.Writer, outputFile string, result *runtime.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outputFile != "" {
		return os.WriteFile(outputFile, data, 0o600)
	}
	_, err = stdout.Write(data)
	return err
}

func statusLine(result *runtime.Result) string {
	detail := shared.RenderLabel(fmt.Sprintf("(%d steps, %dms, trace %s)", len(result.StepResults), result.DurationMS, result.TraceID))
	switch {
	case result.OK:
		return shared.RenderOK(fmt.Sprintf("%s succeeded %s", result.Pipeline, detail))
	case result.Status == runtime.StatusCancelled:
		return shared.RenderWarn(fmt.Sprintf("%s cancelled %s", result.Pipeline, detail))
	default:
		where := ""
		if result.Error.Step != "" {
			where = " at " + result.Error.Step
		}
		return shared.RenderError(fmt.Sprintf("%s %s%s: %s %s", result.Pipeline, result.Status, where, result.Error.Type, detail))
	}
}

func shutdown(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", slog.String("component", what), slog.Any("error", err))
	}
}
