package mesh

import (
	"regexp"
	"strconv"
	"time"
)

type EventKind int

const (
	EventTelemetry EventKind = iota
	EventRecord
	EventMessage
	EventIdentity
	EventDisconnect
)

type Telemetry struct {
	Node        string    `json:"node"`
	BatteryPct  float64   `json:"battery_pct"`
	Voltage     float64   `json:"voltage"`
	ChannelUtil float64   `json:"channel_util"`
	AirUtilTx   float64   `json:"air_util_tx"`
	Time        time.Time `json:"time"`
}

// Record categories mirror the six "new record" notices the radio bridge
// emits: speed, temp_high, temp_low, altitude, battery, air_quality.
type Record struct {
	Category string    `json:"category"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit"`
	Node     string    `json:"node"`
	Time     time.Time `json:"time"`
}

type Message struct {
	Channel string    `json:"channel"`
	From    string    `json:"from"`
	Name    string    `json:"name,omitempty"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Event struct {
	Kind      EventKind
	Time      time.Time
	Telemetry *Telemetry
	Record    *Record
	Message   *Message
	Identity  *Identity
}

// Each classifier owns exactly one event category. New categories are a new
// entry in the slice, not an edit to a shared matcher.
type classifier struct {
	re    *regexp.Regexp
	build func(ts time.Time, m []string) Event
}

const timestampLayout = "2006-01-02 15:04:05"

var timestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\s+`)

var recordUnits = map[string]string{
	"speed":       "km/h",
	"temp_high":   "°C",
	"temp_low":    "°C",
	"altitude":    "m",
	"battery":     "%",
	"air_quality": "IAQ",
}

var classifiers = []classifier{
	{
		re: regexp.MustCompile(`Telemetry from (![0-9a-f]+): battery=([\d.]+)% voltage=([\d.]+)V ch_util=([\d.]+)% air_util=([\d.]+)%`),
		build: func(ts time.Time, m []string) Event {
			return Event{Kind: EventTelemetry, Time: ts, Telemetry: &Telemetry{
				Node:        m[1],
				BatteryPct:  parseFloat(m[2]),
				Voltage:     parseFloat(m[3]),
				ChannelUtil: parseFloat(m[4]),
				AirUtilTx:   parseFloat(m[5]),
				Time:        ts,
			}}
		},
	},
	{
		re: regexp.MustCompile(`New record \((speed|temp_high|temp_low|altitude|battery|air_quality)\): (-?[\d.]+) \S* ?from (![0-9a-f]+)`),
		build: func(ts time.Time, m []string) Event {
			return Event{Kind: EventRecord, Time: ts, Record: &Record{
				Category: m[1],
				Value:    parseFloat(m[2]),
				Unit:     recordUnits[m[1]],
				Node:     m[3],
				Time:     ts,
			}}
		},
	},
	{
		re: regexp.MustCompile(`Channel (\d+) message from (![0-9a-f]+)(?: \(([^)]+)\))?: (.*)`),
		build: func(ts time.Time, m []string) Event {
			return Event{Kind: EventMessage, Time: ts, Message: &Message{
				Channel: m[1],
				From:    m[2],
				Name:    m[3],
				Text:    m[4],
				Time:    ts,
			}}
		},
	},
	{
		re: regexp.MustCompile(`Node identity: (![0-9a-f]+)(?: \(([^)]+)\))?`),
		build: func(ts time.Time, m []string) Event {
			return Event{Kind: EventIdentity, Time: ts, Identity: &Identity{ID: m[1], Name: m[2]}}
		},
	},
	{
		re: regexp.MustCompile(`Radio disconnected`),
		build: func(ts time.Time, m []string) Event {
			return Event{Kind: EventDisconnect, Time: ts}
		},
	},
}

// Classify runs a line through the ordered pipeline; the first matching
// classifier wins.
func Classify(line string) (Event, bool) {
	ts := time.Time{}
	if m := timestampRe.FindStringSubmatch(line); m != nil {
		if parsed, err := time.ParseInLocation(timestampLayout, m[1], time.Local); err == nil {
			ts = parsed
		}
		line = line[len(m[0]):]
	}

	for _, c := range classifiers {
		if m := c.re.FindStringSubmatch(line); m != nil {
			return c.build(ts, m), true
		}
	}
	return Event{}, false
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
