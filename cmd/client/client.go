// Package client provides commands that call a running gateway
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cropscan/cropscan/internal/client"
	"github.com/cropscan/cropscan/internal/conf"
)

// Command creates the client command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call a running CropScan gateway",
	}

	cmd.PersistentFlags().StringVar(&settings.Server.BackendURL, "backend", viper.GetString("server.backendurl"), "Gateway base URL")
	cmd.PersistentFlags().StringVar(&settings.Security.AdminToken, "token", viper.GetString("security.admintoken"), "Admin token for delete, stats and export")

	cmd.AddCommand(
		predictCommand(settings),
		liveCommand(settings),
		historyCommand(settings),
		scanCommand(settings),
		deleteCommand(settings),
		statsCommand(settings),
		exportCommand(settings),
		healthCommand(settings),
	)
	return cmd
}

func newClient(settings *conf.Settings) (*client.Client, error) {
	return client.New(client.ConfigFromSettings(settings))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid scan id %q", raw)
	}
	return uint(id), nil
}

func predictCommand(settings *conf.Settings) *cobra.Command {
	var p client.PredictParams
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Upload an image and store the scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p.Image, p.FileName = data, filepath.Base(args[0])
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				p.Lat, p.Lon = &lat, &lon
			}

			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Predict(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "Free text notes")
	return cmd
}

func liveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "live [image]",
		Short: "Classify an image without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.PredictLive(cmd.Context(), data, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func historyCommand(settings *conf.Settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			items, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of scans, 0 for the server default")
	return cmd
}

func scanCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [id]",
		Short: "Show one scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			scan, err := c.Scan(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scan)
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a scan (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteScan(cmd.Context(), id); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted scan %d\n", id)
			return err
		},
	}
}

func statsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show label counts over recent scans (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.AdminStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func exportCommand(settings *conf.Settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "export [file.xlsx]",
		Short: "Download the history workbook (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			n, err := c.ExportHistory(cmd.Context(), limit, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(args[0])
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, args[0])
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of most recent scans, 0 for all the server allows")
	return cmd
}

func healthCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(settings)
			if err != nil {
				return err
			}
			defer c.Close()

			h, err := c.Health(cmd.Context())
			if h != nil {
				if perr := printJSON(cmd.OutOrStdout(), h); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}
