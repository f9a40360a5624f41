package storage

import (
	"fmt"
	"sort"
	"strings"
)

type Query struct {
	Start       string            `json:"start"`
	End         string            `json:"end,omitempty"`
	Measurement string            `json:"measurement,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      []string          `json:"fields,omitempty"`
	Agg         string            `json:"agg,omitempty"`
	Window      string            `json:"window,omitempty"`
	Limit       int               `json:"limit"`
	Offset      int               `json:"offset"`
	Order       string            `json:"order"`
	Bucket      string            `json:"bucket,omitempty"`
}

type DeleteRange struct {
	Start       string            `json:"start"`
	End         string            `json:"end"`
	Measurement string            `json:"measurement,omitempty"`
	Predicate   *string           `json:"predicate,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Bucket      string            `json:"bucket,omitempty"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fluxFilter(measurement string, tags map[string]string, fields []string) string {
	filters := make([]string, 0)
	if measurement != "" {
		filters = append(filters, fmt.Sprintf(`r["_measurement"] == "%s"`, measurement))
	}
	for _, k := range sortedKeys(tags) {
		filters = append(filters, fmt.Sprintf(`r["%s"] == "%s"`, k, tags[k]))
	}
	if len(fields) > 0 {
		preds := make([]string, 0, len(fields))
		for _, f := range fields {
			preds = append(preds, fmt.Sprintf(`r["_field"] == "%s"`, f))
		}
		filters = append(filters, "("+strings.Join(preds, " or ")+")")
	}
	if len(filters) == 0 {
		return "true"
	}
	return strings.Join(filters, " and ")
}

// BuildFlux renders q as a flux query against bucket. An aggregate is only
// applied when both the function and the window are given.
func BuildFlux(bucket string, q Query) string {
	stop := q.End
	if stop == "" {
		stop = "now()"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `from(bucket: "%s") |> range(start: %s, stop: %s)`, bucket, q.Start, stop)
	fmt.Fprintf(&b, " |> filter(fn: (r) => %s)", fluxFilter(q.Measurement, q.Tags, q.Fields))

	if q.Agg != "" && q.Window != "" {
		fmt.Fprintf(&b, " |> aggregateWindow(every: %s, fn: %s, createEmpty: false)", q.Window, q.Agg)
	}

	if q.Order == "asc" {
		b.WriteString(` |> sort(columns: ["_time"], desc: false)`)
	} else {
		b.WriteString(` |> sort(columns: ["_time"], desc: true)`)
	}

	if q.Offset > 0 {
		fmt.Fprintf(&b, " |> offset(n: %d)", q.Offset)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " |> limit(n: %d)", q.Limit)
	}
	return b.String()
}

// DeletePredicate returns the explicit predicate if set, otherwise one built
// from the measurement and tags.
func DeletePredicate(d DeleteRange) string {
	if d.Predicate != nil {
		return *d.Predicate
	}
	clauses := make([]string, 0)
	if d.Measurement != "" {
		clauses = append(clauses, fmt.Sprintf(`_measurement="%s"`, d.Measurement))
	}
	for _, k := range sortedKeys(d.Tags) {
		clauses = append(clauses, fmt.Sprintf(`%s="%s"`, k, d.Tags[k]))
	}
	return strings.Join(clauses, " and ")
}
