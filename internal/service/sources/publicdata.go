package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PulseBoard/internal/domain/models"

	"github.com/jonboulle/clockwork"
	"resty.dev/v3"
)

// PublicDataKey is the single cache key of the public-data caches.
const PublicDataKey = "latest"

var (
	// EmptyTraffic is served until the first traffic fetch succeeds.
	EmptyTraffic = json.RawMessage(`{"body":{"items":[]}}`)
	// EmptyEmergency is served until the first emergency fetch succeeds.
	EmptyEmergency = json.RawMessage(`{"items":[]}`)
)

var seoul = time.FixedZone("KST", 9*60*60)

// TrafficEvents passes the ITS event document through unchanged.
type TrafficEvents struct {
	client *resty.Client
	apiKey string
}

func NewTrafficEvents(client *resty.Client, apiKey string) *TrafficEvents {
	return &TrafficEvents{client: client, apiKey: apiKey}
}

func (t *TrafficEvents) Fetch(ctx context.Context, _ string) (json.RawMessage, error) {
	body, err := getBody(ctx, t.client, "", map[string]string{
		"apiKey":    t.apiKey,
		"type":      "all",
		"eventType": "all",
		"getType":   "json",
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: traffic body is not json", models.ErrUpstreamMalformed)
	}
	return json.RawMessage(body), nil
}

// EmergencyMessage is one disaster text message in dashboard form.
type EmergencyMessage struct {
	Message       string `json:"msg"`
	LocationName  string `json:"locationName"`
	CreateDate    string `json:"createDate"`
	RegisterDate  string `json:"registerDate"`
	EmergencyStep string `json:"emergencyStep"`
	Category      string `json:"category"`
	SerialNumber  int64  `json:"serialNumber"`
	ModifyDate    string `json:"modifyDate"`
}

type emergencyRaw struct {
	Msg      string `json:"MSG_CN"`
	Region   string `json:"RCPTN_RGN_NM"`
	Created  string `json:"CRT_DT"`
	Reg      string `json:"REG_YMD"`
	Step     string `json:"EMRG_STEP_NM"`
	Category string `json:"DST_SE_NM"`
	Serial   any    `json:"SN"`
	Modified string `json:"MDFCN_YMD"`
}

// EmergencyAlerts fetches today's and yesterday's disaster messages and
// reshapes them into {"items":[...]}.
type EmergencyAlerts struct {
	client     *resty.Client
	serviceKey string
	clock      clockwork.Clock
}

func NewEmergencyAlerts(client *resty.Client, serviceKey string, clock clockwork.Clock) *EmergencyAlerts {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EmergencyAlerts{client: client, serviceKey: serviceKey, clock: clock}
}

func (e *EmergencyAlerts) Fetch(ctx context.Context, _ string) (json.RawMessage, error) {
	now := e.clock.Now().In(seoul)
	var items []EmergencyMessage
	for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
		body, err := getBody(ctx, e.client, "", map[string]string{
			"serviceKey": e.serviceKey,
			"crtDt":      day.Format("20060102"),
			"numOfRows":  "30",
		})
		if err != nil {
			return nil, err
		}
		page, err := parseEmergency(body)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
	}
	if items == nil {
		items = []EmergencyMessage{}
	}
	return json.Marshal(struct {
		Items []EmergencyMessage `json:"items"`
	}{items})
}

// parseEmergency accepts {"body":[...]} and the wrapped {"today":..,"yesterday":..}
// form where each side is either a document or a JSON string holding one.
func parseEmergency(body []byte) ([]EmergencyMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	if raw, ok := doc["body"]; ok {
		return decodeEmergencyItems(raw)
	}

	var out []EmergencyMessage
	for _, k := range []string{"today", "yesterday"} {
		raw, ok := doc[k]
		if !ok {
			continue
		}
		var inner string
		if json.Unmarshal(raw, &inner) == nil {
			raw = json.RawMessage(inner)
		}
		page, err := parseEmergency(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func decodeEmergencyItems(raw json.RawMessage) ([]EmergencyMessage, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var rows []emergencyRaw
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]EmergencyMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, EmergencyMessage{
			Message:       r.Msg,
			LocationName:  r.Region,
			CreateDate:    r.Created,
			RegisterDate:  r.Reg,
			EmergencyStep: r.Step,
			Category:      r.Category,
			SerialNumber:  serial(r.Serial),
			ModifyDate:    r.Modified,
		})
	}
	return out, nil
}

// serial reads SN, which the API sends as a number or a numeric string.
func serial(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
