package opensearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/loykin/steamkeeper/internal/history"
)

// Sink sends finished jobs to OpenSearch via HTTP.
// It constructs URL as: baseURL + "/" + index + "/_doc" and POSTs JSON body.
type Sink struct {
	client  *req.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := req.C().SetTimeout(5 * time.Second).SetUserAgent("steamkeeper")
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(e).
		Post(u)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
