// Package upload posts captured frames to the recognition endpoint as a
// single-part multipart/form-data body.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drksbr/facecam/internal/ids"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/util/bytelimiter"
	"github.com/drksbr/facecam/internal/version"
)

const (
	// StatusTransportError is reported when no HTTP response was received.
	StatusTransportError = -1

	DefaultTimeout    = 5 * time.Second
	DefaultMaxPayload = 4 << 20

	maxResponseBody = 64 << 10
)

// Succeeded is the acceptance rule for an upload: 0 < code < 300.
func Succeeded(code int) bool {
	return code > 0 && code < 300
}

// StatusError is a response outside the success range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload rejected: %d %s", e.Code, http.StatusText(e.Code))
}

// Response describes one upload attempt. StatusCode is StatusTransportError
// when the request never produced a response.
type Response struct {
	StatusCode   int
	Body         string
	RequestID    string
	PayloadBytes int
	Duration     time.Duration
}

// Client uploads images. It is safe for sequential use by a single loop.
type Client struct {
	endpoint   string
	form       Form
	deviceID   string
	timeout    time.Duration
	proxyURL   string
	httpClient *http.Client
	alloc      allocator
	idGen      func() string
	logger     *slog.Logger
	tracer     trace.Tracer
}

type Option func(*Client) error

func WithForm(f Form) Option {
	return func(c *Client) error {
		if err := f.Validate(); err != nil {
			return err
		}
		c.form = f
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("upload timeout cannot be negative")
		}
		c.timeout = d
		return nil
	}
}

// WithProxy routes uploads through an http(s) or socks5 proxy.
func WithProxy(raw string) Option {
	return func(c *Client) error {
		c.proxyURL = raw
		return nil
	}
}

// WithHTTPClient replaces the transport entirely; timeout and proxy options
// are ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithMaxPayload bounds the bytes a single payload may reserve. Zero or
// negative disables the bound.
func WithMaxPayload(n int) Option {
	return func(c *Client) error {
		c.alloc = budgetAllocator{budget: bytelimiter.New(n)}
		return nil
	}
}

func WithRequestIDMode(mode string) Option {
	return func(c *Client) error {
		gen, err := ids.Generator(mode)
		if err != nil {
			return err
		}
		c.idGen = gen
		return nil
	}
}

func WithDeviceID(id string) Option {
	return func(c *Client) error {
		c.deviceID = id
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upload url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("upload url must use http or https scheme")
	}
	if u.Host == "" {
		return nil, errors.New("upload url missing host")
	}

	idGen, _ := ids.Generator("uuid")
	c := &Client{
		endpoint: endpoint,
		form:     DefaultForm(),
		timeout:  DefaultTimeout,
		alloc:    budgetAllocator{budget: bytelimiter.New(DefaultMaxPayload)},
		idGen:    idGen,
		logger:   logger.Discard(),
		tracer:   otel.Tracer("github.com/drksbr/facecam/internal/upload"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		transport, err := newTransport(c.proxyURL)
		if err != nil {
			return nil, err
		}
		c.httpClient = &http.Client{Timeout: c.timeout, Transport: transport}
	}
	return c, nil
}

// Endpoint returns the target URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Upload POSTs image synchronously. The error is nil exactly when
// Succeeded(resp.StatusCode). Allocation failures wrap ErrAllocation,
// rejected uploads are *StatusError, anything else is a transport error.
func (c *Client) Upload(ctx context.Context, image []byte) (Response, error) {
	resp := Response{StatusCode: StatusTransportError, RequestID: c.idGen()}

	ctx, span := c.tracer.Start(ctx, "upload.image",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("image.bytes", len(image)),
			attribute.String("request.id", resp.RequestID),
		),
	)
	defer span.End()

	fail := func(err error, msg string, attrs ...any) (Response, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		attrs = append(attrs, "request_id", resp.RequestID, "status", resp.StatusCode, "error", err)
		c.logger.WarnContext(ctx, msg, attrs...)
		return resp, err
	}

	payload, release, err := encode(c.alloc, c.form, image)
	if err != nil {
		return fail(err, "payload allocation failed", "image_bytes", len(image))
	}
	defer release()
	resp.PayloadBytes = len(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err), "upload failed")
	}
	req.Header.Set("Content-Type", c.form.ContentTypeHeader())
	req.Header.Set("User-Agent", "facecam/"+version.Version)
	req.Header.Set("X-Request-ID", resp.RequestID)
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	resp.Duration = time.Since(start)
	if err != nil {
		return fail(fmt.Errorf("post %s: %w", c.endpoint, err), "upload failed")
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, httpResp.Body)
	resp.StatusCode = httpResp.StatusCode
	resp.Body = string(body)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if !Succeeded(resp.StatusCode) {
		return fail(&StatusError{Code: resp.StatusCode, Body: resp.Body}, "upload rejected", "response", resp.Body)
	}
	if readErr != nil {
		c.logger.DebugContext(ctx, "response body truncated", "error", readErr)
	}
	c.logger.InfoContext(ctx, "image sent",
		"request_id", resp.RequestID,
		"status", resp.StatusCode,
		"payload_bytes", resp.PayloadBytes,
		"duration", resp.Duration.Round(time.Millisecond).String(),
	)
	c.logger.DebugContext(ctx, "response", "body", resp.Body)
	return resp, nil
}
