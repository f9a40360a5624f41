package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Point struct {
	Measurement string                 `json:"measurement"`
	Tags        map[string]string      `json:"tags,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	Precision   string                 `json:"precision,omitempty"`
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	keyEscaper         = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)
	stringEscaper      = strings.NewReplacer(`"`, `\"`, `\`, `\\`)
)

func validPrecision(p string) bool {
	switch p {
	case "ns", "us", "ms", "s":
		return true
	}
	return false
}

func parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	// naive timestamps are treated as utc
	t, err := time.Parse("2006-01-02T15:04:05.999999999", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", ts)
	}
	return t.UTC(), nil
}

func toPrecision(t time.Time, precision string) int64 {
	switch precision {
	case "s":
		return t.Unix()
	case "ms":
		return t.UnixMilli()
	case "us":
		return t.UnixMicro()
	default:
		return t.UnixNano()
	}
}

func formatField(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val) + "i", true
	case int64:
		return strconv.FormatInt(val, 10) + "i", true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case string:
		return `"` + stringEscaper.Replace(val) + `"`, true
	default:
		return `"` + stringEscaper.Replace(fmt.Sprint(val)) + `"`, true
	}
}

// encodeLine renders a point in influx line protocol. Nil fields are skipped,
// a point with no fields left is rejected.
func encodeLine(p Point, precision string) (string, error) {
	if p.Measurement == "" {
		return "", fmt.Errorf("measurement is required for each point")
	}

	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Measurement))
	for _, k := range sortedKeys(p.Tags) {
		if p.Tags[k] == "" {
			continue
		}
		fmt.Fprintf(&b, ",%s=%s", keyEscaper.Replace(k), keyEscaper.Replace(p.Tags[k]))
	}

	names := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, k := range names {
		if v, ok := formatField(p.Fields[k]); ok {
			fields = append(fields, keyEscaper.Replace(k)+"="+v)
		}
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("point %q has no field values", p.Measurement)
	}
	b.WriteString(" ")
	b.WriteString(strings.Join(fields, ","))

	if p.Timestamp != "" {
		t, err := parseTimestamp(p.Timestamp)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " %d", toPrecision(t, precision))
	}
	return b.String(), nil
}
