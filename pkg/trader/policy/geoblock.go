package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/cache"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// DefaultGeoURL is ip-api.com (free, no key required, 45 requests/minute).
const DefaultGeoURL = "http://ip-api.com/json"

const geoFields = "status,message,country,countryCode,regionName,city,isp,timezone,query"

// DefaultBlockedCountries are jurisdictions where the Injective front-ends
// restrict derivatives trading. Operators can replace the list via config.
var DefaultBlockedCountries = map[string]string{
	"US": "United States",
	"CA": "Canada",
	"CU": "Cuba",
	"IR": "Iran",
	"KP": "North Korea",
	"RU": "Russia",
	"SY": "Syria",
	"MM": "Myanmar",
}

// GeoBlocker checks if trading is allowed based on jurisdiction.
type GeoBlocker struct {
	http    *resty.Client
	blocked map[string]string
	cache   *cache.Cache[string, *GeoInfo]
}

// GeoInfo contains geographic information about an IP.
type GeoInfo struct {
	IP          string `json:"query"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"regionName"`
	City        string `json:"city"`
	ISP         string `json:"isp"`
	Timezone    string `json:"timezone"`
}

type geoResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	GeoInfo
}

// GeoOption configures the geo blocker.
type GeoOption func(*GeoBlocker)

// WithGeoURL points the blocker at another ip-api compatible endpoint.
// Lookups request url + "/" + ip, or url + "/" for the caller's own address.
func WithGeoURL(url string) GeoOption {
	return func(g *GeoBlocker) {
		g.http.SetBaseURL(url)
	}
}

// WithBlockedCountries replaces the blocked list with ISO country codes.
func WithBlockedCountries(codes []string) GeoOption {
	return func(g *GeoBlocker) {
		g.blocked = make(map[string]string, len(codes))
		for _, c := range codes {
			c = strings.ToUpper(strings.TrimSpace(c))
			g.blocked[c] = c
		}
	}
}

// NewGeoBlocker creates a new geo blocker. Lookups are cached for five minutes.
func NewGeoBlocker(opts ...GeoOption) *GeoBlocker {
	g := &GeoBlocker{
		http: resty.New().
			SetBaseURL(DefaultGeoURL).
			SetTimeout(10 * time.Second),
		blocked: DefaultBlockedCountries,
		cache:   cache.New[string, *GeoInfo](5 * time.Minute),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAllowed checks if trading is allowed from the current location.
func (g *GeoBlocker) CheckAllowed(ctx context.Context) error {
	geo, err := g.GetGeoInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get geo info")
	}

	if name, blocked := g.blocked[geo.CountryCode]; blocked {
		return fmt.Errorf("trading not allowed from %s (%s)", name, geo.CountryCode)
	}

	return nil
}

// IsBlocked returns true if the country code is blocked.
func (g *GeoBlocker) IsBlocked(countryCode string) bool {
	_, blocked := g.blocked[strings.ToUpper(countryCode)]
	return blocked
}

// GetGeoInfo returns geographic information for the current IP.
func (g *GeoBlocker) GetGeoInfo(ctx context.Context) (*GeoInfo, error) {
	return g.lookup(ctx, "")
}

// CheckIP checks if a specific IP is allowed.
func (g *GeoBlocker) CheckIP(ctx context.Context, ip string) error {
	geo, err := g.lookup(ctx, ip)
	if err != nil {
		return errors.Wrap(err, "failed to get geo info for IP")
	}

	if name, blocked := g.blocked[geo.CountryCode]; blocked {
		return fmt.Errorf("IP %s is in blocked jurisdiction: %s (%s)", ip, name, geo.CountryCode)
	}

	return nil
}

func (g *GeoBlocker) lookup(ctx context.Context, ip string) (*GeoInfo, error) {
	if geo, ok := g.cache.Get(ip); ok {
		return geo, nil
	}

	var result geoResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("fields", geoFields).
		SetResult(&result).
		Get("/" + ip)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errors.Errorf("geo lookup: status %d", resp.StatusCode())
	}
	if result.Status != "success" {
		return nil, errors.Errorf("geo lookup failed: %s", result.Message)
	}

	geo := result.GeoInfo
	g.cache.Set(ip, &geo, 0)
	return &geo, nil
}

// JurisdictionCheck is the outcome of a jurisdiction check.
type JurisdictionCheck struct {
	Allowed     bool   `json:"allowed"`
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Reason      string `json:"reason,omitempty"`
	CheckedAt   string `json:"checked_at"`
}

// PerformJurisdictionCheck runs a full jurisdiction check. Lookup failures
// are reported as not allowed rather than returned.
func (g *GeoBlocker) PerformJurisdictionCheck(ctx context.Context) *JurisdictionCheck {
	check := &JurisdictionCheck{
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}

	geo, err := g.GetGeoInfo(ctx)
	if err != nil {
		check.Reason = fmt.Sprintf("Failed to determine location: %v", err)
		return check
	}

	check.IP = geo.IP
	check.Country = geo.Country
	check.CountryCode = geo.CountryCode

	if name, blocked := g.blocked[geo.CountryCode]; blocked {
		check.Reason = fmt.Sprintf("Derivatives trading is restricted in %s", name)
	} else {
		check.Allowed = true
	}

	return check
}
