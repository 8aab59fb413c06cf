package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"rinha-relay/metrics"
	"rinha-relay/model"
)

// ProcessorClient posts payments to one payment processor.
type ProcessorClient struct {
	name    string
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPClient(maxConnsPerHost int) *fasthttp.Client {
	return &fasthttp.Client{
		Name:                     "rinha-relay",
		MaxConnsPerHost:          maxConnsPerHost,
		MaxIdleConnDuration:      120 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
		NoDefaultUserAgentHeader: true,
	}
}

func NewProcessorClient(name, baseURL string, client *fasthttp.Client, timeout time.Duration) *ProcessorClient {
	return &ProcessorClient{
		name:    name,
		url:     strings.TrimRight(baseURL, "/") + "/payments",
		client:  client,
		timeout: timeout,
	}
}

func (p *ProcessorClient) Name() string { return p.name }

// Send posts the payment and returns the HTTP status. A transport failure or
// timeout is reported as ErrProcessorUnreachable with status 0; the status is
// not interpreted here.
func (p *ProcessorClient) Send(ctx context.Context, payload model.ProcessorPayload) (int, error) {
	body, err := sonic.ConfigFastest.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	err = p.client.DoDeadline(req, res, deadline)
	metrics.ProcessorLatency.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return 0, fmt.Errorf("%w: %s timed out after %s", model.ErrProcessorUnreachable, p.name, p.timeout)
		}
		return 0, fmt.Errorf("%w: %s: %v", model.ErrProcessorUnreachable, p.name, err)
	}

	return res.StatusCode(), nil
}
