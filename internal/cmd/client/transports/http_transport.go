package transports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rzbill/pulse/internal/services/progress"
)

// ErrNotFound is returned when the server has no data for the request.
var ErrNotFound = errors.New("not found")

// HTTPTransport implements ProgressTransport over the HTTP gateway.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport returns a transport for baseURL. A nil client uses
// http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Latest(ctx context.Context, owner string) (progress.View, error) {
	var v progress.View
	err := t.do(ctx, http.MethodGet, "/v1/progress?user_id="+url.QueryEscape(owner), nil, &v)
	return v, err
}

func (t *HTTPTransport) Running(ctx context.Context, owner string) (progress.RunningList, error) {
	var l progress.RunningList
	err := t.do(ctx, http.MethodGet, "/v1/progress/runs?user_id="+url.QueryEscape(owner), nil, &l)
	return l, err
}

func (t *HTTPTransport) StartRun(ctx context.Context, rs progress.RunStart) (string, error) {
	var out struct {
		RunID string `json:"runId"`
	}
	if err := t.do(ctx, http.MethodPost, "/v1/runs", rs, &out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

func (t *HTTPTransport) PushEvent(ctx context.Context, ev progress.Event) (progress.PushResult, error) {
	var res progress.PushResult
	err := t.do(ctx, http.MethodPost, "/v1/progress/events", ev, &res)
	return res, err
}

func (t *HTTPTransport) StreamInfo(ctx context.Context, stream string) (StreamInfo, error) {
	var info StreamInfo
	err := t.do(ctx, http.MethodGet, "/v1/streams/info?stream="+url.QueryEscape(stream), nil, &info)
	return info, err
}

// Watch consumes the SSE progress stream, calling onEvent per event until
// the server closes the stream, ctx ends, or onEvent fails.
func (t *HTTPTransport) Watch(ctx context.Context, owner, lastEventID string, onEvent func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/v1/progress/stream?user_id="+url.QueryEscape(owner), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	var ev Event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Kind == "" && len(data) == 0 {
				continue
			}
			ev.Data = json.RawMessage(strings.Join(data, "\n"))
			if err := onEvent(ev); err != nil {
				return err
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			ev.Kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, e.Error)
	}
	if e.Error == "" {
		e.Error = resp.Status
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, e.Error)
}
