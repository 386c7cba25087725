package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"PulseBoard/internal/domain/models"

	"github.com/jonboulle/clockwork"
	"resty.dev/v3"
)

type owResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
}

// OpenWeather fetches current conditions for the configured cities. Keys are
// city names matched case-insensitively.
type OpenWeather struct {
	client *resty.Client
	apiKey string
	cities map[string]models.City
	clock  clockwork.Clock
}

func NewOpenWeather(client *resty.Client, apiKey string, cities []models.City, clock clockwork.Clock) *OpenWeather {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	byName := make(map[string]models.City, len(cities))
	for _, c := range cities {
		byName[strings.ToLower(c.Name)] = c
	}
	return &OpenWeather{client: client, apiKey: apiKey, cities: byName, clock: clock}
}

func (w *OpenWeather) Fetch(ctx context.Context, city string) (models.WeatherData, error) {
	c, ok := w.cities[strings.ToLower(city)]
	if !ok {
		return models.WeatherData{}, models.InvalidConfig("unknown city %q", city)
	}

	body, err := getBody(ctx, w.client, "/data/2.5/weather", map[string]string{
		"lat":   strconv.FormatFloat(c.Lat, 'f', -1, 64),
		"lon":   strconv.FormatFloat(c.Lon, 'f', -1, 64),
		"appid": w.apiKey,
	})
	if err != nil {
		return models.WeatherData{}, err
	}

	var r owResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return models.WeatherData{}, err
	}
	if r.Main == nil {
		return models.WeatherData{}, fmt.Errorf("%w: weather for %s has no main block", models.ErrUpstreamMalformed, c.Name)
	}

	out := models.WeatherData{
		City:               c.Name,
		CityKo:             c.NameKo,
		TemperatureCelsius: KelvinToCelsius(r.Main.Temp),
		Humidity:           r.Main.Humidity,
		FetchedAt:          w.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if len(r.Weather) > 0 {
		out.Weather = r.Weather[0].Main
		out.Icon = r.Weather[0].Icon
	}
	return out, nil
}

// KelvinToCelsius converts and rounds to two decimals.
func KelvinToCelsius(k float64) float64 {
	return math.Round((k-273.15)*100) / 100
}
