package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	service "github.com/okian/revscore/internal/app"
	"github.com/okian/revscore/internal/domain/model"
	"github.com/okian/revscore/pkg/logger"
)

func newScoreCmd(load loadFunc) *cobra.Command {
	var req model.ScoringRequest
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one revision and print the response as JSON.",
		Example: `  revscore score --rev-id 12345 --lang en
  revscore score --rev-id 12345 --lang en --extended-output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc := service.New(cfg, service.WithLogger(logger.Get()))
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			resp, err := svc.Score(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&req.RevID, "rev-id", 0, "revision id to score")
	f.StringVar(&req.Lang, "lang", "", "wiki language code, e.g. en or zh-yue")
	f.BoolVar(&req.ExtendedOutput, "extended-output", false, "include the bare feature values")
	_ = cmd.MarkFlagRequired("rev-id")
	return cmd
}
