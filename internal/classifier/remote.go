package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/imaging"
)

// RemoteBackend calls a TensorFlow Serving compatible REST endpoint.
type RemoteBackend struct {
	client   *resty.Client
	endpoint string
}

type remoteRequest struct {
	Instances []any `json:"instances"`
}

type remoteResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error"`
}

// NewRemoteBackend targets {url}/v1/models/{name}:predict.
func NewRemoteBackend(settings *conf.ModelSettings) (*RemoteBackend, error) {
	base := strings.TrimRight(settings.Remote.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("remote model URL is not set")
	}
	if settings.Remote.Name == "" {
		return nil, fmt.Errorf("remote model name is not set")
	}

	timeout := settings.Remote.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &RemoteBackend{
		client:   client,
		endpoint: fmt.Sprintf("%s/v1/models/%s:predict", base, settings.Remote.Name),
	}, nil
}

func (b *RemoteBackend) Name() string { return conf.BackendRemote }

func (b *RemoteBackend) Infer(ctx context.Context, input *imaging.Tensor) ([]float32, error) {
	var result remoteResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{Instances: []any{nestTensor(input)}}).
		SetResult(&result).
		SetError(&result).
		Post(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model server: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("model server error: status %d: %s", resp.StatusCode(), result.Error)
		}
		return nil, fmt.Errorf("model server error: status %d", resp.StatusCode())
	}
	if len(result.Predictions) != 1 {
		return nil, fmt.Errorf("model server returned %d predictions for one instance", len(result.Predictions))
	}
	return result.Predictions[0], nil
}

func (b *RemoteBackend) Close() error { return nil }

// nestTensor converts the flat batch-of-one tensor into the nested rows a
// JSON predict request expects, dropping the batch axis.
func nestTensor(t *imaging.Tensor) [][][]float32 {
	d0, d1, d2 := t.Height, t.Width, t.Channels
	if t.Layout == imaging.LayoutNCHW {
		d0, d1, d2 = t.Channels, t.Height, t.Width
	}

	out := make([][][]float32, d0)
	for i := range d0 {
		out[i] = make([][]float32, d1)
		for j := range d1 {
			off := (i*d1 + j) * d2
			out[i][j] = t.Data[off : off+d2 : off+d2]
		}
	}
	return out
}
