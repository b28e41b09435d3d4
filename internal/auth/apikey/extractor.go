package apikey

import (
	"errors"
	"net/http"
	"strings"
)

// Common errors for API key extraction.
var (
	ErrNoCredentialFound       = errors.New("no API key found in request")
	ErrMissingCredentialHeader = errors.New("missing API key header")
	ErrMissingCredentialQuery  = errors.New("missing API key query parameter")
)

// Extractor pulls an API key out of an HTTP request.
type Extractor interface {
	// Extract returns the presented key, or an error when the request
	// carries none.
	Extract(r *http.Request) (string, error)
}

// HeaderExtractor extracts API keys from an HTTP header, optionally
// stripping a value prefix such as "Bearer ".
type HeaderExtractor struct {
	header string
	prefix string
}

// NewHeaderExtractor creates a header extractor. An empty header defaults
// to "X-API-Key".
func NewHeaderExtractor(header, prefix string) *HeaderExtractor {
	if header == "" {
		header = "X-API-Key"
	}
	return &HeaderExtractor{
		header: header,
		prefix: prefix,
	}
}

// Extract implements Extractor.
func (e *HeaderExtractor) Extract(r *http.Request) (string, error) {
	value := r.Header.Get(e.header)
	if value == "" {
		return "", ErrMissingCredentialHeader
	}

	if e.prefix != "" {
		if !strings.HasPrefix(value, e.prefix) {
			return "", ErrMissingCredentialHeader
		}
		value = strings.TrimPrefix(value, e.prefix)
	}

	return strings.TrimSpace(value), nil
}

// QueryExtractor extracts API keys from a query parameter.
type QueryExtractor struct {
	param string
}

// NewQueryExtractor creates a query parameter extractor. An empty param
// defaults to "api_key".
func NewQueryExtractor(param string) *QueryExtractor {
	if param == "" {
		param = "api_key"
	}
	return &QueryExtractor{param: param}
}

// Extract implements Extractor.
func (e *QueryExtractor) Extract(r *http.Request) (string, error) {
	key := r.URL.Query().Get(e.param)
	if key == "" {
		return "", ErrMissingCredentialQuery
	}
	return key, nil
}

// CompositeExtractor tries extractors in order, first match wins.
type CompositeExtractor struct {
	extractors []Extractor
}

// NewCompositeExtractor creates a composite extractor.
func NewCompositeExtractor(extractors ...Extractor) *CompositeExtractor {
	return &CompositeExtractor{extractors: extractors}
}

// Extract implements Extractor.
func (e *CompositeExtractor) Extract(r *http.Request) (string, error) {
	for _, extractor := range e.extractors {
		key, err := extractor.Extract(r)
		if err == nil && key != "" {
			return key, nil
		}
	}
	return "", ErrNoCredentialFound
}

// DefaultExtractor builds the standard extraction chain: the configured
// header first, then an Authorization bearer fallback, then the query
// parameter when one is configured.
func DefaultExtractor(header string, allowBearer bool, queryParam string) Extractor {
	extractors := []Extractor{NewHeaderExtractor(header, "")}
	if allowBearer {
		extractors = append(extractors, NewHeaderExtractor("Authorization", "Bearer "))
	}
	if queryParam != "" {
		extractors = append(extractors, NewQueryExtractor(queryParam))
	}
	return NewCompositeExtractor(extractors...)
}
