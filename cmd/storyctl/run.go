package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tale-weaver-api/internal/infrastructure/llm"
	"tale-weaver-api/internal/infrastructure/persistence/redis"
	einoobs "tale-weaver-api/internal/observability/eino"
	"tale-weaver-api/internal/workflow/orchestrator"
	workflowport "tale-weaver-api/internal/workflow/port"
)

func runCmd(opts *globalOptions) *cobra.Command {
	var (
		requestFile string
		diagnostics bool
		useCache    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow locally for one request file",
		Long: `Run validates, generates and assesses a story in-process and prints the outcome.
The request file may be YAML or JSON. Ctrl-C cancels the run and still prints
the best story produced so far, if any.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			req, err := loadRequest(requestFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			einoobs.Init()

			var cache workflowport.VerdictCache
			if useCache {
				rc, err := redis.NewClient(&cfg.Cache.Redis)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				defer func() { _ = rc.Close() }()
				cache = redis.NewVerdictCache(rc)
			}

			workflow, err := orchestrator.Build(cfg, llm.NewEinoFactory(&cfg.LLM), cache)
			if err != nil {
				return err
			}

			outcome := workflow.Execute(ctx, req)
			if !diagnostics {
				outcome = outcome.WithoutDiagnostics()
			}
			if err := render(cmd.OutOrStdout(), opts.output, outcome); err != nil {
				return err
			}
			if !outcome.IsAccepted() {
				return fmt.Errorf("workflow finished with status %s", outcome.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "Request file (YAML or JSON, - for stdin)")
	cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "Include attempt history in the output")
	cmd.Flags().BoolVar(&useCache, "cache", false, "Use the Redis verdict cache")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
