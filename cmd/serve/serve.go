// Package serve runs the session pool with its HTTP, metrics and MQTT
// surfaces until the process is signalled
package serve

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/agm/internal/buildinfo"
	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/service"
)

// Command creates the serve command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager service",
		Long:  "Start the session pool and expose it over HTTP, Prometheus and MQTT as configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if listen != "" {
				settings.API.Listen = listen
			}
			return run(ctx, settings, build)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override the API listen address")
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := logger.Global().Module("serve")
	log.Info("starting agm", logger.String("version", build.String()))

	svc, err := service.New(settings, build)
	if err != nil {
		return err
	}
	if err := svc.Run(ctx); err != nil {
		log.Error("service stopped with error", logger.Error(err))
		return err
	}
	log.Info("agm stopped")
	return nil
}
