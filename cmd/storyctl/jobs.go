package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tale-weaver-api/internal/application/storyjob"
	"tale-weaver-api/internal/infrastructure/messaging"
	"tale-weaver-api/internal/infrastructure/persistence/postgres"
	"tale-weaver-api/internal/infrastructure/persistence/redis"
	"tale-weaver-api/internal/interfaces/http/dto"
)

// jobClient 任务命令共享的存储连接
type jobClient struct {
	pg    *postgres.Client
	redis *redis.Client
	svc   *storyjob.Service
}

func openJobClient(opts *globalOptions) (*jobClient, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	pg, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rc, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	producer := messaging.NewProducer(rc.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	return &jobClient{
		pg:    pg,
		redis: rc,
		svc:   storyjob.NewService(postgres.NewJobRepository(pg), producer, nil),
	}, nil
}

func (c *jobClient) Close() {
	_ = c.redis.Close()
	_ = c.pg.Close()
}

func enqueueCmd(opts *globalOptions) *cobra.Command {
	var (
		requestFile    string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a request file as an async story job",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(requestFile)
			if err != nil {
				return err
			}
			client, err := openJobClient(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			job, created, err := client.svc.Submit(cmd.Context(), req, idempotencyKey)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.ErrOrStderr(), "idempotency key matched existing job %s\n", job.ID)
			}
			return render(cmd.OutOrStdout(), opts.output, dto.ToJobResponse(job))
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "Request file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Reuse an existing job submitted with the same key")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return jobIDCmd(opts, "status", "Show an async story job", func(ctx context.Context, svc *storyjob.Service, id string) (any, error) {
		job, err := svc.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return dto.ToJobResponse(job), nil
	})
}

func cancelCmd(opts *globalOptions) *cobra.Command {
	return jobIDCmd(opts, "cancel", "Cancel a pending or running story job", func(ctx context.Context, svc *storyjob.Service, id string) (any, error) {
		job, err := svc.Cancel(ctx, id)
		if err != nil {
			return nil, err
		}
		return dto.ToJobResponse(job), nil
	})
}

func jobIDCmd(opts *globalOptions, use, short string, fn func(ctx context.Context, svc *storyjob.Service, id string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openJobClient(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			out, err := fn(cmd.Context(), client.svc, args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, out)
		},
	}
}
