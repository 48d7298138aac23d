// Package inet sends JSON requests to the Home Assistant REST API.
package inet

import (
	"bytes"
	"context"
	_ "embed" // Used to embed version for use with user agent
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// MaxResponseLength caps the byte-length of responses the Client accepts.
const MaxResponseLength = 100000

// DefaultTimeout bounds a single request when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

var ErrServerUnavailable = protocol.NewError("home assistant is unavailable", false, true)

// BuildUserAgent returns a User-Agent header identifying app and this library.
func BuildUserAgent(app string) string {
	library := strings.TrimSpace("lywsd02-sync/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}

	return fmt.Sprintf("%s %s", app, library)
}

func ReadWithContext(ctx context.Context, r io.Reader, p []byte) ([]byte, error) {
	bytesRead := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := r.Read(p[bytesRead:])
		bytesRead += n
		if err == io.EOF {
			return p[:bytesRead], nil
		}
		if err != nil {
			return p[:bytesRead], err
		}
		if bytesRead == len(p) {
			return p[:bytesRead], nil
		}
	}
}

type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.Code), e.Message)
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusBadGateway
}

// Client posts JSON to a Home Assistant instance using a long-lived access token.
type Client struct {
	UserAgent  string
	baseURL    string
	authHeader string
	client     *http.Client
	logger     log.Logger
}

// NewClient returns a Client for the instance at baseURL (e.g., "http://homeassistant.local:8123").
// If httpClient is nil, http.DefaultClient is used.
func NewClient(baseURL, token, userAgent string, httpClient *http.Client, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		UserAgent:  userAgent,
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Bearer " + token,
		client:     httpClient,
		logger:     log.OrDiscard(logger),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CallService invokes a Home Assistant service, e.g. CallService(ctx, "persistent_notification",
// "create", data).
func (c *Client) CallService(ctx context.Context, domain, service string, data interface{}) ([]byte, error) {
	return c.Post(ctx, fmt.Sprintf("api/services/%s/%s", domain, service), data)
}

// Post sends data, which must support JSON serialization unless it is already a []byte, to
// endpoint. Returns the HTTP body of the response.
func (c *Client) Post(ctx context.Context, endpoint string, data interface{}) ([]byte, error) {
	var body []byte
	var ok bool
	if body, ok = data.([]byte); !ok {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	c.logger.Debug("Sending request to %s: %s", url, body)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
	}

	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", c.authHeader)
	request.Header.Set("Accept", "application/json")

	result, err := c.client.Do(request)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: true}
	}
	defer result.Body.Close()

	body = make([]byte, MaxResponseLength+1)
	body, err = ReadWithContext(ctx, result.Body, body)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if len(body) == MaxResponseLength+1 {
		return nil, protocol.NewError("response exceeds maximum length", true, true)
	}

	c.logger.Debug("Server returned %d: %s: %s", result.StatusCode, http.StatusText(result.StatusCode), body)
	switch result.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return body, nil
	case http.StatusServiceUnavailable:
		return nil, ErrServerUnavailable
	}
	return nil, &HttpError{Code: result.StatusCode, Message: strings.TrimSpace(string(body))}
}

// IsUnauthorized returns true if err indicates the access token was rejected.
func IsUnauthorized(err error) bool {
	var httpErr *HttpError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusUnauthorized
}
