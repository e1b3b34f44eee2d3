// Package client holds the HTTP client for calling a counterpart
// application. Every call is synchronous and single attempt; a failure is
// surfaced to the caller for manual retry, never retried automatically.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/sign"
	"github.com/sirupsen/logrus"
)

// Peer is the calling surface services use, kept narrow so tests can swap
// in a fake counterpart.
type Peer interface {
	ConsumeCode(ctx context.Context, baseURL string, req *v1.ConsumeCodeRequest) (*v1.ConsumeCodeResponse, error)
	Pull(ctx context.Context, conn *model.Connection, sinceID uint64, limit int) (*v1.PullResponse, error)
	Push(ctx context.Context, conn *model.Connection, events []v1.Event) (*v1.PushResponse, error)
	Revoke(ctx context.Context, conn *model.Connection, reason string) (*v1.RevokeResponse, error)
	ListPeople(ctx context.Context, conn *model.Connection, limit int) (*v1.ListPeopleResponse, error)
	CreatePerson(ctx context.Context, conn *model.Connection, req *v1.CreatePersonRequest) (*v1.CreatePersonResponse, error)
}

// RemoteError is a non-success reply from the counterpart. The full status
// and body are carried so the failure is actionable.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("counterpart rejected the call: status=%d body=%s", e.Status, e.Body)
}

var _ Peer = (*HTTPPeer)(nil)

type HTTPPeer struct {
	http *http.Client
}

func NewHTTPPeer() *HTTPPeer {
	return &HTTPPeer{
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPPeer) ConsumeCode(ctx context.Context, baseURL string, req *v1.ConsumeCodeRequest) (*v1.ConsumeCodeResponse, error) {
	res := &v1.ConsumeCodeResponse{}
	if err := p.post(ctx, baseURL, "/v1/pairing/consume", req, nil, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *HTTPPeer) Pull(ctx context.Context, conn *model.Connection, sinceID uint64, limit int) (*v1.PullResponse, error) {
	res := &v1.PullResponse{}
	req := &v1.PullRequest{SinceOutboxID: sinceID, Limit: limit}
	if err := p.post(ctx, conn.PeerBaseURL, "/v1/sync/pull", req, conn, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *HTTPPeer) Push(ctx context.Context, conn *model.Connection, events []v1.Event) (*v1.PushResponse, error) {
	res := &v1.PushResponse{}
	req := &v1.PushRequest{Events: events}
	if err := p.post(ctx, conn.PeerBaseURL, "/v1/sync/push", req, conn, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *HTTPPeer) Revoke(ctx context.Context, conn *model.Connection, reason string) (*v1.RevokeResponse, error) {
	res := &v1.RevokeResponse{}
	req := &v1.RevokeRequest{Reason: reason}
	if err := p.post(ctx, conn.PeerBaseURL, "/v1/sync/revoke", req, conn, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *HTTPPeer) ListPeople(ctx context.Context, conn *model.Connection, limit int) (*v1.ListPeopleResponse, error) {
	res := &v1.ListPeopleResponse{}
	req := &v1.ListPeopleRequest{Limit: limit}
	if err := p.post(ctx, conn.PeerBaseURL, "/v1/sync/people/list", req, conn, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *HTTPPeer) CreatePerson(ctx context.Context, conn *model.Connection, req *v1.CreatePersonRequest) (*v1.CreatePersonResponse, error) {
	res := &v1.CreatePersonResponse{}
	if err := p.post(ctx, conn.PeerBaseURL, "/v1/sync/people/create", req, conn, res); err != nil {
		return nil, err
	}
	return res, nil
}

// post sends one JSON request. When conn is set the request is signed with
// the connection secret and addressed by the counterpart-side connection id.
func (p *HTTPPeer) post(ctx context.Context, baseURL, path string, body interface{}, conn *model.Connection, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if conn != nil {
		req.Header.Set(v1.HeaderSignature, sign.Body(conn.Secret, raw))
		req.Header.Set(v1.HeaderConnection, conn.PeerConnectionID)
	}

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling counterpart %s: %w", url, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		logrus.Errorf("counterpart call failed: url=%s status=%d body=%s", url, res.StatusCode, string(data))
		return &RemoteError{Status: res.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding counterpart response: %w", err)
		}
	}

	return nil
}
