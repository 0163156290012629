package commands

import (
	"context"
	"expvar"
	"log"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/haatos/verify-ci/internal"
	"github.com/haatos/verify-ci/internal/handler"
	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/settings"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	eng, err := newEngine(context.Background(), nil, service.LogReporter{})
	if err != nil {
		return err
	}
	defer eng.close()
	log.Println("starting verifyci:", settings.Settings)

	scheduler, err := service.NewScheduler(settings.Settings.Timezone)
	if err != nil {
		return err
	}
	if err := eng.pipelines.ScheduleTicks(scheduler, eng.resolver, internal.Config.ScheduledTicks); err != nil {
		return err
	}
	eng.pipelines.SchedulePurge(scheduler, func() time.Duration {
		return time.Duration(internal.Config.RunRetentionHours)
	})
	eng.cache.SchedulePruning(scheduler, func() time.Duration {
		return time.Duration(internal.Config.CacheRetentionHours)
	})
	scheduler.Start()

	e := setupEcho()
	handler.SetupRunRoutes(e.Group(""), eng.pipelines, eng.apiKeys)
	handler.SetupAPIKeyRoutes(e.Group(""), eng.apiKeys)

	internal.GracefulShutdown(e, settings.Settings.Port,
		func(ctx context.Context) {
			if err := scheduler.Shutdown(); err != nil {
				log.Println("err shutting down scheduler:", err)
			}
		},
		func(ctx context.Context) {
			if err := eng.pipelines.Shutdown(ctx); err != nil {
				log.Println("err waiting for runs to conclude:", err)
			}
		},
	)
	return nil
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Logger.SetOutput(os.Stderr)
	e.Use(
		middleware.Recover(),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	e.GET("/debug/vars", echo.WrapHandler(expvar.Handler()))
	return e
}
