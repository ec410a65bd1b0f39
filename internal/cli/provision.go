package cli

import (
	"context"
	"fmt"

	"gauntlet-service/internal/config"
	"gauntlet-service/internal/domain"
	"gauntlet-service/internal/infra/file"
	"gauntlet-service/internal/infra/postgres"
	"gauntlet-service/internal/provision"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewProvisionCmd creates the competition groups in Postgres and exports their codes.
func NewProvisionCmd(configPath *string) *cobra.Command {
	var (
		count           int
		outDir          string
		questionSet     string
		importQuestions bool
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create groups and export their access codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("provision needs postgres; in-memory groups are created by start")
			}
			if !cmd.Flags().Changed("count") {
				count = cfg.Game.Groups
			}

			ctx := cmd.Context()
			if err := runMigrations(ctx, cfg, log); err != nil {
				return err
			}
			if importQuestions {
				if err := importQuestionSets(ctx, cfg, log); err != nil {
					return err
				}
			}

			db := postgres.Open(cfg.Postgres.URL)
			defer db.Close()
			groups, err := provision.NewProvisioner(postgres.NewStore(db), log).Run(ctx, count, questionSet)
			if err != nil {
				return err
			}
			if err := provision.Export(outDir, cfg.Server.PublicURL, groups); err != nil {
				return err
			}
			log.Info("codes exported", zap.String("dir", outDir), zap.Int("groups", len(groups)))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 25, "number of groups to create (default game.groups)")
	cmd.Flags().StringVar(&outDir, "out", "codes", "directory for group_codes.json and QR images")
	cmd.Flags().StringVar(&questionSet, "question-set", domain.DefaultQuestionSet, "question set assigned to new groups")
	cmd.Flags().BoolVar(&importQuestions, "import-questions", false, "copy questions.file into Postgres first")
	return cmd
}

func importQuestionSets(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.Questions.File == "" {
		return fmt.Errorf("questions.file not configured")
	}
	sets, err := file.NewQuestionLoader(cfg.Questions.File).Sets(ctx)
	if err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	loader := postgres.NewQuestionLoader(pool)
	for _, set := range sets {
		if err := loader.SaveQuestionSet(ctx, set); err != nil {
			return err
		}
		log.Info("question set imported", zap.String("set", set.ID), zap.Int("questions", set.Len()))
	}
	return nil
}
