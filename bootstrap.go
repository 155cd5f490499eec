package librtm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

type (
	// Bootstrapper obtains a fresh connection endpoint together with the
	// initial session state. It is called once per connection attempt.
	Bootstrapper interface {
		Bootstrap(ctx context.Context) (Snapshot, error)
	}

	BootstrapFunc func(ctx context.Context) (Snapshot, error)

	// loggingBootstrapper reports failed bootstraps before handing them to the supervisor.
	loggingBootstrapper struct {
		logger Logger
		inner  Bootstrapper
	}
)

func (f BootstrapFunc) Bootstrap(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

func (r loggingBootstrapper) Bootstrap(ctx context.Context) (snap Snapshot, err error) {
	snap, err = r.inner.Bootstrap(ctx)
	if err != nil {
		r.logger.Errorf("cannot bootstrap session: %s", err)
	}
	return
}

func newLoggingBootstrapper(logger Logger, inner Bootstrapper) Bootstrapper {
	return loggingBootstrapper{logger: logger.WithField("component", "bootstrap"), inner: inner}
}

const rtmStartMethod = "rtm.start"

type rtmStartResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error"`
	URL      string    `json:"url"`
	Self     Self      `json:"self"`
	Team     Team      `json:"team"`
	Users    []User    `json:"users"`
	Channels []Channel `json:"channels"`
}

// WebAPIBootstrapper starts a session through the web API rtm.start method.
type WebAPIBootstrapper struct {
	client  *fasthttp.Client
	baseURL string
	token   string
	timeout time.Duration
}

// NewWebAPIBootstrapper creates a bootstrapper against baseURL, e.g.
// "https://slack.com/api". timeout bounds every call; the context deadline
// wins when it is earlier.
func NewWebAPIBootstrapper(baseURL, token string, timeout time.Duration) *WebAPIBootstrapper {
	return &WebAPIBootstrapper{
		client:  &fasthttp.Client{Name: "librtm"},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
	}
}

// SetHTTPClient replaces the underlying fasthttp client.
func (b *WebAPIBootstrapper) SetHTTPClient(client *fasthttp.Client) {
	if client != nil {
		b.client = client
	}
}

func (b *WebAPIBootstrapper) Bootstrap(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.baseURL + "/" + rtmStartMethod)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+b.token)

	if err := b.client.DoDeadline(req, resp, b.deadline(ctx)); err != nil {
		return Snapshot{}, errors.Wrap(ErrCannotConnect, err.Error())
	}

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusTooManyRequests:
		return Snapshot{}, errors.Wrapf(ErrRateLimit, "%s: retry after %s", rtmStartMethod, resp.Header.Peek("Retry-After"))
	case status >= 400:
		return Snapshot{}, errors.Wrapf(ErrCannotConnect, "%s: http status %d", rtmStartMethod, status)
	}

	var body rtmStartResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Snapshot{}, errors.Wrapf(err, "%s: cannot decode response", rtmStartMethod)
	}
	if !body.OK {
		return Snapshot{}, &APIError{Method: rtmStartMethod, Code: body.Error}
	}
	if body.URL == "" {
		return Snapshot{}, errors.Errorf("%s: response has no url", rtmStartMethod)
	}

	return Snapshot{
		Endpoint: body.URL,
		Self:     body.Self,
		Team:     body.Team,
		Users:    body.Users,
		Channels: body.Channels,
	}, nil
}

func (b *WebAPIBootstrapper) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(b.timeout)
	if b.timeout <= 0 {
		deadline = time.Now().Add(DefaultBootstrapTimeout)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
