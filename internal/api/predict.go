package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/airsense/internal/infrastructure/config"
)

// ErrCodeUpstream marks failures of the prediction service.
const ErrCodeUpstream = "ml_unreachable"

// maxPredictionBytes caps the upstream body relayed to the client.
const maxPredictionBytes = 1 << 20

// predictor relays GET /predict to the ML service.
type predictor struct {
	endpoint string
	client   *http.Client
}

// newPredictor returns nil when cfg has no URL.
func newPredictor(cfg config.MLConfig) (*predictor, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	endpoint, err := url.JoinPath(cfg.URL, "predict")
	if err != nil {
		return nil, fmt.Errorf("ml url: %w", err)
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &predictor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		writeUnavailable(w, "prediction service not configured")
		return
	}
	p := s.predictor

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.endpoint, nil)
	if err != nil {
		writeInternalError(w, "building prediction request")
		return
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		s.logger.Warn("ML service not reachable", "url", p.endpoint, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "ML service not reachable")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPredictionBytes+1))
	switch {
	case err != nil:
		s.logger.Warn("reading ML response failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "ML service not reachable")
		return
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		s.logger.Warn("ML service error", "status", resp.StatusCode)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, fmt.Sprintf("ML service returned status %d", resp.StatusCode))
		return
	case len(body) > maxPredictionBytes || !json.Valid(body):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "ML service returned an invalid response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck // client may have gone away
}
