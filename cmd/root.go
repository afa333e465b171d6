package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cropscan/cropscan/cmd/backup"
	"github.com/cropscan/cropscan/cmd/client"
	"github.com/cropscan/cropscan/cmd/export"
	"github.com/cropscan/cropscan/cmd/predict"
	"github.com/cropscan/cropscan/cmd/serve"
	"github.com/cropscan/cropscan/internal/app"
	"github.com/cropscan/cropscan/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cropscan",
		Short:         "CropScan crop disease detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	clientCmd := client.Command(settings)
	rootCmd.AddCommand(
		serve.Command(settings),
		predict.Command(settings),
		backup.Command(settings),
		export.Command(settings),
		clientCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Gateway client calls log nothing but failures, keep the console quiet
		if isChildOf(cmd, clientCmd) && !settings.Debug {
			settings.Logging.Console.Level = "warn"
			settings.Logging.FileOutput.Enabled = false
		}
		_, err := app.InitLogging(settings)
		return err
	}

	return rootCmd
}

func isChildOf(cmd, parent *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == parent {
			return true
		}
	}
	return false
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Model.ModelPath, "model", viper.GetString("model.modelpath"), "Path to the classifier model")
	rootCmd.PersistentFlags().StringVar(&settings.Model.LabelPath, "labels", viper.GetString("model.labelpath"), "Path to the label file")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Backend, "backend", viper.GetString("model.backend"), "Inference backend (tflite, onnx, remote)")
	rootCmd.PersistentFlags().StringVar(&settings.CatalogPath, "catalog", viper.GetString("catalogpath"), "Treatment catalog YAML, empty for the built-in catalog")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
