// Package backup provides the backup command
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cropscan/cropscan/internal/app"
	"github.com/cropscan/cropscan/internal/conf"
)

const runTimeout = 10 * time.Minute

// Command creates and returns the backup command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Perform an immediate backup of the scan database",
		Long:  `Backup snapshots the configured scan database and uploads it to every enabled backup target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), settings)
		},
	}

	return cmd
}

func runBackup(parent context.Context, settings *conf.Settings) error {
	if parent == nil {
		parent = context.Background()
	}

	store, err := app.OpenStore(settings, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager, err := app.NewBackupManager(settings, store, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, runTimeout)
	defer cancel()

	meta, err := manager.Run(ctx)
	if meta != nil {
		fmt.Printf("Snapshot %s (%d bytes, sha256 %s)\n", meta.ID, meta.Size, meta.Checksum)
	}
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Println("Backup completed successfully")
	return nil
}
