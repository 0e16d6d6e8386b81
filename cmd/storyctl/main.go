// Package main storyctl 命令行：本地执行工作流或向任务队列提交故事生成任务
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tale-weaver-api/internal/config"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/logger"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

type globalOptions struct {
	configDir string
	logLevel  string
	output    string
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(1)
	}
}

// describe 业务错误附带详情输出
func describe(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Detail != "" {
		return appErr.Error() + ": " + appErr.Detail
	}
	return err.Error()
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "storyctl",
		Short:         "Run and manage quality-gated story generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitWithWriter(os.Stderr, opts.logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "configs", "Directory holding config.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", formatJSON, "Output format (json, yaml)")

	cmd.AddCommand(
		runCmd(opts),
		enqueueCmd(opts),
		statusCmd(opts),
		cancelCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "storyctl version %s (build: %s)\n", Version, BuildTime)
			},
		},
	)
	return cmd
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromDir(o.configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
