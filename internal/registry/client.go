package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// DefaultJSONEndpoint is the public JSON(P) lookup endpoint.
const DefaultJSONEndpoint = "https://abr.business.gov.au/json/AbnDetails.aspx"

// maxResponseBytes caps how much of a registry response is read.
const maxResponseBytes = 1 << 20

// Client looks up a business identifier.
type Client interface {
	Lookup(ctx context.Context, identifier string) (model.RegistryRecord, error)
}

// StatusError is returned when the registry answers with status >= 400.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("registry: status %d", e.Code) }

// HTTPClient queries a registry endpoint with GET ?abn=&guid= and parses the
// body with Parser.
type HTTPClient struct {
	endpoint   string
	guid       string
	parser     Parser
	httpClient *http.Client
}

// NewHTTPClient creates a registry client. A nil parser selects JSONParser.
func NewHTTPClient(endpoint, guid string, parser Parser, timeout time.Duration) *HTTPClient {
	if endpoint == "" {
		endpoint = DefaultJSONEndpoint
	}
	if parser == nil {
		parser = JSONParser{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		guid:       guid,
		parser:     parser,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Lookup validates identifier and fetches its record. Invalid identifiers
// return ErrInvalidIdentifier without a network call.
func (c *HTTPClient) Lookup(ctx context.Context, identifier string) (model.RegistryRecord, error) {
	abn := NormalizeABN(identifier)
	if !ValidABN(abn) {
		return model.RegistryRecord{}, ErrInvalidIdentifier
	}

	q := url.Values{"abn": {abn}}
	if c.guid != "" {
		q.Set("guid", c.guid)
	}
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+sep+q.Encode(), nil)
	if err != nil {
		return model.RegistryRecord{}, fmt.Errorf("registry: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.RegistryRecord{}, fmt.Errorf("registry: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.RegistryRecord{}, fmt.Errorf("registry: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return model.RegistryRecord{}, &StatusError{Code: resp.StatusCode}
	}

	rec, err := c.parser.Parse(body)
	if err != nil {
		return model.RegistryRecord{}, err
	}
	return rec, nil
}

// IsLookupFailure reports whether err came from the registry itself
// (transport, status, or parse) rather than boundary validation.
func IsLookupFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidIdentifier)
}
