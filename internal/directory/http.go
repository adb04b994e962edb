package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/pkg/httputil"
)

// HTTP asks the member management service for strategy ownership:
// GET {baseURL}/api/strategies/{id} -> {"strategyId": 1, "writerId": "..."}
type HTTP struct {
	client  *httputil.Client
	baseURL string
}

// NewHTTP creates a remote directory
func NewHTTP(client *httputil.Client, baseURL string) *HTTP {
	return &HTTP{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Lookup implements contracts.StrategyDirectory
func (h *HTTP) Lookup(ctx context.Context, strategyID int64) (*contracts.StrategyRef, error) {
	url := fmt.Sprintf("%s/api/strategies/%d", h.baseURL, strategyID)

	var ref contracts.StrategyRef
	if err := h.client.GetJSON(ctx, url, &ref); err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, contracts.ErrNotFound
		}
		return nil, fmt.Errorf("strategy directory request failed: %w", err)
	}

	if ref.ID == 0 {
		ref.ID = strategyID
	}
	if ref.ID != strategyID {
		return nil, fmt.Errorf("strategy directory returned strategy %d for %d", ref.ID, strategyID)
	}

	return &ref, nil
}
