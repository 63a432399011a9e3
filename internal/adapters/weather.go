package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// WeatherAPI reports current conditions for location entities.
type WeatherAPI struct {
	Base
	apiKey  string
	baseURL string
}

const weatherAPIBaseURL = "https://api.weatherapi.com/v1"

// NewWeatherAPI creates the adapter; nil without an API key.
func NewWeatherAPI(apiKey string, deps Deps) *WeatherAPI {
	if apiKey == "" {
		return nil
	}
	return &WeatherAPI{
		Base:    newBase("weatherapi", deps, model.TierGeneral, 0.85, 30*time.Minute),
		apiKey:  apiKey,
		baseURL: weatherAPIBaseURL,
	}
}

// RelevantFor matches weather in any jurisdiction.
func (w *WeatherAPI) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainWeather
}

type weatherAPIResponse struct {
	Location struct {
		Name      string `json:"name"`
		Country   string `json:"country"`
		Localtime string `json:"localtime"`
	} `json:"location"`
	Current struct {
		TempC     float64 `json:"temp_c"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
		WindKph  float64 `json:"wind_kph"`
		Humidity int     `json:"humidity"`
	} `json:"current"`
}

// Search fetches current conditions for the claim's location entities.
func (w *WeatherAPI) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	location := firstEntity(req.Claim, model.EntityGPE, model.EntityLoc)
	if location == "" {
		return nil, nil
	}

	return w.cached(ctx, []any{location}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp weatherAPIResponse
		u := w.baseURL + "/current.json?" + params("key", w.apiKey, "q", location).Encode()
		if err := w.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}
		if resp.Location.Name == "" {
			return nil, nil
		}

		text := fmt.Sprintf("Current weather in %s, %s: %s, %.1f°C, wind %.0f km/h, humidity %d%% (observed %s).",
			resp.Location.Name, resp.Location.Country, resp.Current.Condition.Text,
			resp.Current.TempC, resp.Current.WindKph, resp.Current.Humidity, resp.Location.Localtime)
		s := w.snippet(text, "https://www.weatherapi.com/weather/q/"+pathEscape(location), "Current weather: "+resp.Location.Name, optStr(resp.Location.Localtime))
		return capResults([]model.EvidenceSnippet{s}, req.MaxResults), nil
	})
}

// NOAA queries historical US climate records from the Climate Data Online
// service. Complements WeatherAPI: NOAA answers "hottest July on record"
// style claims, not current conditions.
type NOAA struct {
	Base
	token   string
	baseURL string
}

const noaaBaseURL = "https://www.ncei.noaa.gov/cdo-web/api/v2"

// NewNOAA creates the adapter; nil without a CDO token.
func NewNOAA(token string, deps Deps) *NOAA {
	if token == "" {
		return nil
	}
	return &NOAA{
		Base:    newBase("noaa", deps, model.TierGovernment, 0.95, 7*24*time.Hour),
		token:   token,
		baseURL: noaaBaseURL,
	}
}

// RelevantFor matches US weather and climate history.
func (n *NOAA) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction == model.JurisdictionUK || jurisdiction == model.JurisdictionEU {
		return false
	}
	return domain == model.DomainWeather || domain == model.DomainClimate
}

type noaaDatasetsResponse struct {
	Results []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		MaxDate string `json:"maxdate"`
		MinDate string `json:"mindate"`
	} `json:"results"`
}

// Search lists the climate datasets covering the claim's period; dataset
// coverage statements anchor "records began in ..." style claims.
func (n *NOAA) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	return n.cached(ctx, []any{"datasets"}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp noaaDatasetsResponse
		u := n.baseURL + "/datasets?" + params("limit", "5").Encode()
		if err := n.fetchJSON(ctx, u, map[string]string{"token": n.token}, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, ds := range resp.Results {
			text := fmt.Sprintf("NOAA climate dataset %s (%s) covers %s through %s.",
				ds.Name, ds.ID, ds.MinDate, ds.MaxDate)
			s := n.snippet(text, "https://www.ncei.noaa.gov/cdo-web/datasets", ds.Name, optStr(ds.MaxDate))
			out = append(out, s)
		}
		return capResults(out, req.MaxResults), nil
	})
}
