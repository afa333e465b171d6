package api

import (
	"time"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/places"
	"github.com/cropscan/cropscan/internal/prediction"
)

// PredictResponse is returned by POST /predict. ScanID is null when the scan
// could not be persisted.
type PredictResponse struct {
	TopK   []prediction.Prediction `json:"top_k"`
	Crop   string                  `json:"crop"`
	ScanID *uint                   `json:"scan_id"`
}

// ScanSummary is the wire form of a stored scan. Image bytes are never included.
type ScanSummary struct {
	ID         uint                    `json:"id"`
	Timestamp  string                  `json:"timestamp"`
	Crop       string                  `json:"crop"`
	Label      string                  `json:"label"`
	Confidence float64                 `json:"confidence"`
	ImagePath  *string                 `json:"image_path"`
	Geo        string                  `json:"geo"`
	Notes      string                  `json:"notes"`
	Treatment  string                  `json:"treatment"`
	TopK       []datastore.RankedLabel `json:"top_k,omitempty"`
}

// DeleteResponse is returned by DELETE /scan/{id}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ReportResponse is returned by GET /report/{id}.
type ReportResponse struct {
	ReportPath string `json:"report_path"`
}

// TTSRequest is the body of POST /tts.
type TTSRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// TTSResponse is returned by POST /tts.
type TTSResponse struct {
	Path string `json:"path"`
}

// StoresResponse is returned by GET /stores. Error is set instead of Places
// when the lookup is not configured or the upstream call failed.
type StoresResponse struct {
	Places []places.Place `json:"places,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// YieldRequest is the body of POST /yield_estimate.
type YieldRequest struct {
	Disease    string   `json:"disease"`
	Confidence *float64 `json:"confidence"`
}

// YieldResponse is returned by POST /yield_estimate.
type YieldResponse struct {
	EstimatedYieldLossPct float64 `json:"estimated_yield_loss_pct"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// StatsResponse is returned by GET /admin/stats.
type StatsResponse struct {
	Counts     map[string]int `json:"counts"`
	TotalScans int            `json:"total_scans"`
}

// summarize converts a stored scan. withTopK adds the full ranked list.
func summarize(s *datastore.Scan, withTopK bool) ScanSummary {
	out := ScanSummary{
		ID:         s.ID,
		Timestamp:  s.CreatedAt.UTC().Format(time.RFC3339),
		Crop:       s.Crop,
		Label:      s.Label,
		Confidence: s.Confidence,
		ImagePath:  s.ImagePath,
		Geo:        s.Geo,
		Notes:      s.Notes,
		Treatment:  s.Treatment,
	}
	if withTopK {
		out.TopK = s.TopK
	}
	return out
}
