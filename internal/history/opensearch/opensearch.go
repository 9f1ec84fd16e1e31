package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/reforge/internal/history"
)

// Sink indexes announcement events in OpenSearch over its REST API.
//
// Countdown warnings and reborn notices happen at most once per cycle, so they
// are written with PUT under a document id derived from the cycle key. A
// repeated delivery after a process restart overwrites instead of duplicating.
// Every other event is appended with POST {index}/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// DocID returns the stable document id of e, or "" when e may repeat within a cycle.
func DocID(e history.Event) string {
	if e.Cycle == "" {
		return ""
	}
	switch e.Type {
	case history.EventCountdownSent:
		if e.Stage == "" {
			return ""
		}
		return e.Cycle + "/" + string(e.Type) + "/" + e.Stage
	case history.EventReborn:
		return e.Cycle + "/" + string(e.Type)
	}
	return ""
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	method, u := http.MethodPost, fmt.Sprintf("%s/%s/_doc", s.baseURL, url.PathEscape(s.index))
	if id := DocID(e); id != "" {
		method, u = http.MethodPut, u+"/"+url.PathEscape(id)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch %s: %w", e.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
