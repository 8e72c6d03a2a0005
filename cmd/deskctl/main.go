// deskctl runs maintenance tasks against the freelancedesk database.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/config"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/logging"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/realtime"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/retry"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/invitation"
)

var rootCmd = &cobra.Command{
	Use:   "deskctl",
	Short: "Maintenance commands for freelancedesk",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gdb, logger, err := open()
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
		logger.Info("schema migrated", zap.Int("models", len(db.AllModels())))
		return nil
	},
}

var expireScanCmd = &cobra.Command{
	Use:   "expire-scan",
	Short: "Announce pending invitations that have passed their expiry once",
	Long: `Announces lapsed invitations through the configured publishers (MQ_URL,
REDIS_ADDR). With neither configured nothing is claimed and the command only
reports how many invitations are waiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, logger, err := open()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		pubs, closeAll, err := publishers(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeAll()

		d := services.NewDeps(gdb, services.Deps{
			Log:    logger,
			Events: pubs,
			Retry:  retry.Policy{MaxElapsed: cfg.RetryMaxElapsed},
		})
		svc := invitation.NewService(d, cfg.InvitationTTL)

		if !events.Enabled(pubs) {
			n, err := svc.CountUnannounced(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d lapsed invitation(s) not announced: set MQ_URL or REDIS_ADDR\n", n)
			return nil
		}

		n, err := svc.ScanExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d lapsed invitation(s) announced\n", n)
		return nil
	},
}

// publishers builds the same out-of-process publishers the API server uses.
// The redis bridge only publishes here; no local hub is listening.
func publishers(ctx context.Context, cfg config.Config, logger *zap.Logger) (events.Multi, func(), error) {
	var pubs events.Multi
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisAddr != "" {
		rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err := rdb.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		pubs = append(pubs, realtime.NewRedisBridge(rdb, nil, realtime.DefaultChannel, logger))
	}
	if cfg.MQURL != "" {
		mq, err := events.NewAMQPPublisher(cfg.MQURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, mq.Close)
		pubs = append(pubs, mq)
	}
	return pubs, closeAll, nil
}

func open() (config.Config, *gorm.DB, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return cfg, nil, nil, err
	}
	gdb, err := db.Connect(cfg.DBDSN, db.PoolConfig{MaxOpen: 2})
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, gdb, logger, nil
}

func main() {
	rootCmd.AddCommand(migrateCmd, expireScanCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("deskctl: %s", err)
	}
}
