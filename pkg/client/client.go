/*
2019 © Postgres.ai
*/

// Package client provides a lock probe API client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
	"gitlab.com/postgres-ai/lockprobe/pkg/models"
	"gitlab.com/postgres-ai/lockprobe/pkg/server"
)

// DefaultURL defines the default address of the lock probe server.
const DefaultURL = "http://localhost:5430"

// StatusError describes an unsuccessful response.
type StatusError struct {
	StatusCode int
	Type       string
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("unsuccessful status given: %d (%s): %s", e.StatusCode, e.Type, e.Body)
	}

	return fmt.Sprintf("unsuccessful status given: %d: %s", e.StatusCode, e.Body)
}

// Options defines client options.
type Options struct {
	URL                string
	VerificationSecret string
}

// Client provides a lock probe API client.
type Client struct {
	url    *url.URL
	secret []byte
	client *http.Client
}

// NewClient creates a new lock probe API client.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse a server URL")
	}

	u.Path = strings.TrimRight(u.Path, "/")

	return &Client{
		url:    u,
		secret: []byte(opts.VerificationSecret),
		client: &http.Client{
			Transport: &http.Transport{},
		},
	}, nil
}

// Analyze requests the locks acquired by the statement.
// Filters travel in the request body, so relation names may contain any character.
func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) ([]locks.Record, error) {
	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	log.Dbg(fmt.Sprintf("Request: %v", string(reqData)))

	locksURL := c.url.JoinPath("locks").String()

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, locksURL, bytes.NewReader(reqData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a request")
	}

	request.Header.Set("Content-Type", "application/json")

	if len(c.secret) > 0 {
		request.Header.Set(server.VerificationSignatureKey, server.SignatureHeader(c.secret, reqData))
	}

	var records []locks.Record

	if err := c.doRequest(request, &records); err != nil {
		return nil, err
	}

	return records, nil
}

func (c *Client) doRequest(request *http.Request, v interface{}) error {
	response, err := c.client.Do(request)
	if err != nil {
		return errors.Wrap(err, "failed to make a request")
	}

	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read a response")
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		log.Dbg(fmt.Sprintf("Response: %v", string(body)))

		return newStatusError(response.StatusCode, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "failed to unmarshal a response")
	}

	return nil
}

func newStatusError(statusCode int, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Type != "" {
		statusErr.Type = errResp.Type
		statusErr.Body = errResp.Message
	}

	return statusErr
}

// ResolveQuery returns the statement text. An input starting with "@" names a file holding the statement.
func ResolveQuery(input string) (string, error) {
	filename, ok := strings.CutPrefix(input, "@")
	if !ok {
		return input, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read query from %s", filename)
	}

	return string(content), nil
}
