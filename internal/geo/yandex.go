package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultYandexURL = "https://geocode-maps.yandex.ru/1.x"

// GeocoderConfig configures the HTTP geocoder.
type GeocoderConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"GEOCODER_URL"`
	APIKey  string `yaml:"api_key" envconfig:"YANDEX_TOKEN"`
}

// YandexGeocoder resolves addresses with the Yandex HTTP geocoder.
type YandexGeocoder struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewYandexGeocoder builds a geocoder; httpClient defaults to http.DefaultClient.
func NewYandexGeocoder(cfg GeocoderConfig, httpClient *http.Client) *YandexGeocoder {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultYandexURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YandexGeocoder{baseURL: base, apiKey: cfg.APIKey, http: httpClient}
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Geocode returns the first match for text.
func (g *YandexGeocoder) Geocode(ctx context.Context, text string) (Point, error) {
	q := url.Values{
		"geocode": {text},
		"apikey":  {g.apiKey},
		"format":  {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return Point{}, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return Point{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Point{}, fmt.Errorf("geocoder status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Point{}, fmt.Errorf("geocoder decode: %w", err)
	}
	members := out.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Point{}, ErrNotFound
	}
	return parsePos(members[0].GeoObject.Point.Pos)
}

// parsePos reads a "lon lat" pair.
func parsePos(pos string) (Point, error) {
	fields := strings.Fields(pos)
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("geocoder: malformed pos %q", pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocoder: lon: %w", err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocoder: lat: %w", err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}
