// Package serve provides the serve command
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cropscan/cropscan/internal/app"
	"github.com/cropscan/cropscan/internal/conf"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long:  "Start the prediction gateway with scan history, reports and the configured integrations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Server.Host, "host", viper.GetString("server.host"), "Listen host")
	cmd.Flags().StringVarP(&settings.Server.Port, "port", "p", viper.GetString("server.port"), "Listen port")
	cmd.Flags().StringVar(&settings.UploadsDir, "uploads", viper.GetString("uploadsdir"), "Keep a copy of persisted uploads in this directory")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
