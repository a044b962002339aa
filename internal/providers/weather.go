package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// WeatherConfig mirrors the original weather.api_key/default_location/
// location_type/country_code/cache_ttl_minutes/timeout_seconds/enabled
// fields.
type WeatherConfig struct {
	APIKey string
	DefaultLocation string
	LocationType string // "city" or "zipcode"
	CountryCode string
	CacheTTL time.Duration
	Timeout time.Duration
	Enabled bool
}

type weatherCacheEntry struct {
	result string
	expires time.Time
}

// WeatherService fetches and caches a short human-readable weather
// summary from OpenWeatherMap's current-conditions endpoint.
type WeatherService struct {
	cfg WeatherConfig
	client *http.Client

	mu sync.Mutex
	cache map[string]weatherCacheEntry
}

// NewWeatherService constructs a WeatherService bound to cfg.
func NewWeatherService(cfg WeatherConfig) *WeatherService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WeatherService{
		cfg: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache: make(map[string]weatherCacheEntry),
	}
}

// IsConfigured reports whether the service has an API key and is enabled.
func (w *WeatherService) IsConfigured() bool {
	return w.cfg.Enabled && w.cfg.APIKey != ""
}

// BuildAPIURL constructs the OpenWeatherMap request URL for location.
func (w *WeatherService) BuildAPIURL(location string) (string, error) {
	if w.cfg.APIKey == "" {
		return "", fmt.Errorf("providers: weather api key not configured")
	}
	q := url.Values{}
	q.Set("appid", w.cfg.APIKey)
	q.Set("units", "imperial")

	switch w.cfg.LocationType {
	case "zipcode":
		zip := location
		if w.cfg.CountryCode != "" {
			zip = zip + "," + w.cfg.CountryCode
		}
		q.Set("zip", zip)
	default:
		city := location
		if w.cfg.CountryCode != "" {
			city = city + "," + w.cfg.CountryCode
		}
		q.Set("q", city)
	}
	return "https://api.openweathermap.org/data/2.5/weather?" + q.Encode(), nil
}

type owmResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Name string `json:"name"`
}

// GetWeather returns a short summary for the configured default location
// (or location, if non-empty), using a cached result when fresh.
func (w *WeatherService) GetWeather(location string) (string, error) {
	if !w.IsConfigured() {
		return "", fmt.Errorf("providers: weather service not configured")
	}
	if location == "" {
		location = w.cfg.DefaultLocation
	}

	w.mu.Lock()
	if entry, ok := w.cache[location]; ok && time.Now().Before(entry.expires) {
		w.mu.Unlock()
		return entry.result, nil
	}
	w.mu.Unlock()

	apiURL, err := w.BuildAPIURL(location)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Get(apiURL)
	if err != nil {
		return "", fmt.Errorf("providers: weather request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("providers: read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("providers: weather api status %d", resp.StatusCode)
	}
	var parsed owmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("providers: decode weather response: %w", err)
	}
	desc := ""
	if len(parsed.Weather) > 0 {
		desc = parsed.Weather[0].Description
	}
	result := fmt.Sprintf("Weather: %s, %.0f°F, %s", strings.TrimSpace(parsed.Name), parsed.Main.Temp, desc)

	w.mu.Lock()
	w.cache[location] = weatherCacheEntry{result: result, expires: time.Now().Add(w.cfg.CacheTTL)}
	w.mu.Unlock()
	return result, nil
}
