// Package purpleair implements the provider client against the
// PurpleAir v1 sensors API. Any HTTP provider returning the same
// columnar fields/data payload can be substituted.
package purpleair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	fieldSensorIndex  = "sensor_index"
	fieldChannelFlags = "channel_flags"
	fieldLastSeen     = "last_seen"
	fieldName         = "name"
	fieldLatitude     = "latitude"
	fieldLongitude    = "longitude"
)

// Row is one sensor's reading as reported by the provider.
type Row struct {
	ProviderID   string
	Name         string
	Reading      float64
	HasReading   bool
	ChannelFlags int
	LastSeen     time.Time
	Latitude     float64
	Longitude    float64
}

// Client talks to the provider's read API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a provider client.
func NewClient(baseURL, apiKey string, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("purpleair: empty base url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("X-API-Key", apiKey)
	return &Client{http: http, logger: logger}, nil
}

type sensorsResponse struct {
	Fields []string            `json:"fields"`
	Data   [][]json.RawMessage `json:"data"`
}

// FetchByIndex returns current readings for the given provider ids.
// readingField names the provider column carrying the pollutant value.
func (c *Client) FetchByIndex(ctx context.Context, providerIDs []string, readingField string) ([]Row, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("purpleair: client not initialized")
	}
	if readingField == "" {
		return nil, errors.New("purpleair: reading field required")
	}
	if len(providerIDs) == 0 {
		return nil, nil
	}

	fields := []string{fieldSensorIndex, fieldChannelFlags, fieldLastSeen, readingField}
	resp, err := c.get(ctx, map[string]string{
		"fields":    strings.Join(fields, ","),
		"show_only": strings.Join(providerIDs, ","),
	})
	if err != nil {
		return nil, err
	}
	return parseRows(resp, readingField)
}

// ListInBounds returns the provider's sensors inside a lat/lon bounding
// box, optionally filtered by a substring of the sensor name. Used by
// daily housekeeping to onboard new sensors.
func (c *Client) ListInBounds(ctx context.Context, nwLng, nwLat, seLng, seLat float64, nameFilter string) ([]Row, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("purpleair: client not initialized")
	}
	fields := []string{fieldSensorIndex, fieldChannelFlags, fieldLastSeen, fieldName, fieldLatitude, fieldLongitude}
	resp, err := c.get(ctx, map[string]string{
		"fields": strings.Join(fields, ","),
		"nwlng":  formatCoord(nwLng),
		"nwlat":  formatCoord(nwLat),
		"selng":  formatCoord(seLng),
		"selat":  formatCoord(seLat),
	})
	if err != nil {
		return nil, err
	}
	rows, err := parseRows(resp, "")
	if err != nil {
		return nil, err
	}
	if nameFilter == "" {
		return rows, nil
	}
	filter := strings.ToUpper(nameFilter)
	filtered := rows[:0]
	for _, row := range rows {
		if strings.Contains(strings.ToUpper(row.Name), filter) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

func (c *Client) get(ctx context.Context, params map[string]string) (*sensorsResponse, error) {
	var payload sensorsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&payload).
		Get("/v1/sensors")
	if err != nil {
		return nil, fmt.Errorf("purpleair: request failed: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("provider returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return nil, fmt.Errorf("purpleair: http %d", resp.StatusCode())
	}
	return &payload, nil
}

func parseRows(resp *sensorsResponse, readingField string) ([]Row, error) {
	if resp == nil {
		return nil, nil
	}
	index := make(map[string]int, len(resp.Fields))
	for i, field := range resp.Fields {
		index[field] = i
	}
	if _, ok := index[fieldSensorIndex]; !ok {
		return nil, errors.New("purpleair: response missing sensor_index")
	}

	rows := make([]Row, 0, len(resp.Data))
	for _, record := range resp.Data {
		row := Row{}
		id, ok := numberAt(record, index, fieldSensorIndex)
		if !ok {
			continue
		}
		row.ProviderID = strconv.FormatInt(int64(id), 10)
		if flags, ok := numberAt(record, index, fieldChannelFlags); ok {
			row.ChannelFlags = int(flags)
		}
		if seen, ok := numberAt(record, index, fieldLastSeen); ok {
			row.LastSeen = time.Unix(int64(seen), 0).UTC()
		}
		if readingField != "" {
			if reading, ok := numberAt(record, index, readingField); ok {
				row.Reading = reading
				row.HasReading = true
			}
		}
		if lat, ok := numberAt(record, index, fieldLatitude); ok {
			row.Latitude = lat
		}
		if lng, ok := numberAt(record, index, fieldLongitude); ok {
			row.Longitude = lng
		}
		if pos, ok := index[fieldName]; ok && pos < len(record) {
			var name string
			if err := json.Unmarshal(record[pos], &name); err == nil {
				row.Name = name
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func numberAt(record []json.RawMessage, index map[string]int, field string) (float64, bool) {
	pos, ok := index[field]
	if !ok || pos >= len(record) {
		return 0, false
	}
	var value float64
	if err := json.Unmarshal(record[pos], &value); err != nil {
		return 0, false
	}
	return value, true
}

func formatCoord(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
