// Package probe extracts best-effort device and location descriptors
// from incoming requests for the session registry and login history.
// Probing never fails a login: anything it cannot determine degrades to
// an "Unknown" placeholder.
package probe

import (
	"net/http"
	"strings"

	"github.com/jmcleod/aegis/storage"
)

// Unknown is the placeholder value for any attribute the probe could
// not determine.
const Unknown = "Unknown"

// Prober derives device and location information from a request.
type Prober interface {
	Probe(r *http.Request) (storage.DeviceInfo, storage.Location)
}

// UnknownDevice returns a fully degraded device descriptor.
func UnknownDevice() storage.DeviceInfo {
	return storage.DeviceInfo{Kind: Unknown, Agent: Unknown, OS: Unknown}
}

// UnknownLocation returns a fully degraded location descriptor.
func UnknownLocation() storage.Location {
	return storage.Location{City: Unknown, Country: Unknown, Timezone: Unknown}
}

// RequestProber reads the User-Agent header for device information and
// edge-provided geo headers for location. It performs no network
// lookups of its own.
type RequestProber struct{}

// Probe implements Prober.
func (RequestProber) Probe(r *http.Request) (storage.DeviceInfo, storage.Location) {
	if r == nil {
		return UnknownDevice(), UnknownLocation()
	}
	return deviceFromUserAgent(r.Header.Get("User-Agent")), locationFromHeaders(r)
}

func deviceFromUserAgent(ua string) storage.DeviceInfo {
	device := UnknownDevice()
	if ua == "" {
		return device
	}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		device.Kind = "tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		device.Kind = "mobile"
	default:
		device.Kind = "desktop"
	}

	// Order matters: Chrome ships "Safari" in its UA, Edge ships both.
	switch {
	case strings.Contains(lower, "edg/"):
		device.Agent = "Edge"
	case strings.Contains(lower, "firefox/"):
		device.Agent = "Firefox"
	case strings.Contains(lower, "chrome/"):
		device.Agent = "Chrome"
	case strings.Contains(lower, "safari/"):
		device.Agent = "Safari"
	case strings.Contains(lower, "curl/"):
		device.Agent = "curl"
	}

	switch {
	case strings.Contains(lower, "windows"):
		device.OS = "Windows"
	case strings.Contains(lower, "mac os x") || strings.Contains(lower, "macintosh"):
		device.OS = "macOS"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		device.OS = "iOS"
	case strings.Contains(lower, "android"):
		device.OS = "Android"
	case strings.Contains(lower, "linux"):
		device.OS = "Linux"
	}
	return device
}

// locationFromHeaders trusts geo headers set by an edge proxy or CDN.
// Without such a proxy all three fields stay Unknown.
func locationFromHeaders(r *http.Request) storage.Location {
	location := UnknownLocation()
	if city := r.Header.Get("X-Geo-City"); city != "" {
		location.City = city
	}
	if country := r.Header.Get("X-Geo-Country"); country != "" {
		location.Country = country
	} else if country := r.Header.Get("CF-IPCountry"); country != "" {
		location.Country = country
	}
	if tz := r.Header.Get("X-Geo-Timezone"); tz != "" {
		location.Timezone = tz
	}
	return location
}
