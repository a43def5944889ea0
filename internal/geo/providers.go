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

const maxResponseBytes = 64 << 10

// IPAPIProvider talks to ip-api.com's JSON endpoint.
type IPAPIProvider struct {
	baseURL    string
	httpClient *http.Client
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	ISP        string `json:"isp"`
}

func NewIPAPIProvider(baseURL string, httpClient *http.Client) *IPAPIProvider {
	return &IPAPIProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *IPAPIProvider) Name() string { return "ip-api" }

func (p *IPAPIProvider) Lookup(ctx context.Context, ip netip.Addr) (Location, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,message,country,regionName,city,isp", p.baseURL, ip.String())

	var parsed ipAPIResponse
	if err := getJSON(ctx, p.httpClient, endpoint, &parsed); err != nil {
		return Location{}, err
	}
	if parsed.Status != "success" {
		return Location{}, fmt.Errorf("ip-api lookup failed: %s", parsed.Message)
	}

	return Location{Country: parsed.Country, Region: parsed.RegionName, City: parsed.City, ISP: parsed.ISP}, nil
}

// IPAPICoProvider talks to ipapi.co and is used as the fallback.
type IPAPICoProvider struct {
	baseURL    string
	httpClient *http.Client
}

type ipAPICoResponse struct {
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
	CountryName string `json:"country_name"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Org         string `json:"org"`
}

func NewIPAPICoProvider(baseURL string, httpClient *http.Client) *IPAPICoProvider {
	return &IPAPICoProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *IPAPICoProvider) Name() string { return "ipapi.co" }

func (p *IPAPICoProvider) Lookup(ctx context.Context, ip netip.Addr) (Location, error) {
	endpoint := fmt.Sprintf("%s/%s/json/", p.baseURL, ip.String())

	var parsed ipAPICoResponse
	if err := getJSON(ctx, p.httpClient, endpoint, &parsed); err != nil {
		return Location{}, err
	}
	if parsed.Error {
		return Location{}, fmt.Errorf("ipapi.co lookup failed: %s", parsed.Reason)
	}

	return Location{Country: parsed.CountryName, Region: parsed.Region, City: parsed.City, ISP: parsed.Org}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read geo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("geo lookup failed with status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode geo response: %w", err)
	}

	return nil
}
