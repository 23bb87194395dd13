package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
)

// maxResponseSize caps how much of a lookup response is read.
const maxResponseSize = 64 << 10

// HTTPLookup queries an ip-api.com compatible endpoint.
type HTTPLookup struct {
	urlTemplate string
	client      *http.Client
}

// NewHTTPLookup creates a lookup against urlTemplate, where "{ip}" is
// replaced by the address. A nil client selects http.DefaultClient; the
// timeout is enforced by the caller's context.
func NewHTTPLookup(urlTemplate string, client *http.Client) *HTTPLookup {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLookup{urlTemplate: urlTemplate, client: client}
}

// ipAPIResponse is the subset of the ip-api.com response the relay uses.
type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	City        string  `json:"city"`
	RegionName  string  `json:"regionName"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
}

// Lookup implements Lookup.
func (l *HTTPLookup) Lookup(ctx context.Context, addr netip.Addr) (Location, error) {
	url := strings.ReplaceAll(l.urlTemplate, "{ip}", addr.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: building request: %w", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Location{}, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	// ip-api reports failures in-band with a 200.
	if body.Status != "" && body.Status != "success" {
		return Location{}, fmt.Errorf("%w: %s %s", ErrLookupFailed, body.Status, body.Message)
	}

	return Location{
		City:        body.City,
		Region:      body.RegionName,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Lat:         body.Lat,
		Lon:         body.Lon,
		Timezone:    body.Timezone,
		ISP:         body.ISP,
	}.withDisplay(), nil
}
