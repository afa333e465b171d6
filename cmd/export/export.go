// Package export provides the export command
package export

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cropscan/cropscan/internal/app"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/export"
)

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "export [file.xlsx]",
		Short: "Write scan history to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0], limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", datastore.MaxHistoryLimit, "Number of most recent scans")
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, path string, limit int) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := app.OpenStore(settings, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	rows, err := export.Workbook(ctx, store, limit, f)
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	fmt.Printf("Exported %d scans to %s\n", rows, path)
	return nil
}
