// Package predict provides the offline predict command
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cropscan/cropscan/internal/app"
	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/prediction"
)

type options struct {
	k     int
	save  bool
	notes string
	lat   float64
	lon   float64
}

// Output is printed per image.
type Output struct {
	File   string             `json:"file"`
	Result *prediction.Result `json:"result,omitempty"`
	ScanID *uint              `json:"scan_id,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Command creates the predict command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "predict [image...]",
		Short: "Classify image files without the gateway",
		Long:  "Classify one or more image files with the local model and print the ranked labels as JSON.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.k, "top", "k", settings.Prediction.TopK, "Number of ranked labels")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store each prediction in the scan database")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "Notes stored with saved scans")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "Latitude stored with saved scans")
	cmd.Flags().Float64Var(&opts.lon, "lon", 0, "Longitude stored with saved scans")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, opts options, files []string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cat, err := catalog.Load(settings.CatalogPath)
	if err != nil {
		return err
	}
	model, predictor := app.NewPredictor(settings, cat, nil)
	defer func() { _ = model.Close() }()
	if !model.Ready() {
		return fmt.Errorf("model not loaded: %s", model.Status().Reason)
	}

	var store datastore.Interface
	if opts.save {
		if store, err = app.OpenStore(settings, nil); err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	geo := ""
	if opts.lat != 0 || opts.lon != 0 {
		geo = strconv.FormatFloat(opts.lat, 'f', -1, 64) + "," + strconv.FormatFloat(opts.lon, 'f', -1, 64)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	failed := 0
	for _, file := range files {
		out := Output{File: filepath.Base(file)}
		out.Result, out.ScanID, err = classify(ctx, predictor, store, file, opts, geo)
		if err != nil {
			out.Error = err.Error()
			failed++
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}

func classify(ctx context.Context, p *prediction.Service, store datastore.Interface, file string, opts options, geo string) (*prediction.Result, *uint, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, err
	}
	res, err := p.Predict(ctx, data, opts.k)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return res, nil, nil
	}

	top := res.Top()
	topK := make([]datastore.RankedLabel, len(res.TopK))
	for i, pr := range res.TopK {
		topK[i] = datastore.RankedLabel{Label: pr.Label, Confidence: pr.Confidence, Treatment: pr.Treatment}
	}
	scan, err := store.CreateScan(ctx, &datastore.NewScan{
		Image:      data,
		Crop:       res.Crop,
		Label:      top.Label,
		Confidence: top.Confidence,
		Geo:        geo,
		Notes:      opts.notes,
		Treatment:  top.Treatment,
		TopK:       topK,
	})
	if err != nil {
		return res, nil, err
	}
	return res, &scan.ID, nil
}
