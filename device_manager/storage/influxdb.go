package storage

import (
	"context"
	"crypto/tls"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nodedash/device_manager/apperr"

	"github.com/go-resty/resty/v2"
)

// TimeSeries is the storage backend behind the /storage endpoints.
type TimeSeries interface {
	WritePoints(ctx context.Context, points []Point, bucket string) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Delete(ctx context.Context, d DeleteRange) error
}

type Factory func(cfg Config) TimeSeries

type Record struct {
	Time        string            `json:"time"`
	Measurement string            `json:"measurement"`
	Field       string            `json:"field"`
	Value       interface{}       `json:"value"`
	Tags        map[string]string `json:"tags"`
}

type Config struct {
	URL       string
	Org       string
	Bucket    string
	Token     string
	VerifySSL bool
	Precision string
}

var ErrMissingFields = apperr.New(apperr.Validation, "Provider config missing required InfluxDB fields (url, org, bucket, token)")

// ParseConfig reads an influxdb provider config. verify_ssl defaults to true
// and precision to ns.
func ParseConfig(raw map[string]interface{}) (Config, error) {
	str := func(key string) string {
		if v, ok := raw[key].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}

	cfg := Config{
		URL:       strings.TrimRight(str("url"), "/"),
		Org:       str("org"),
		Bucket:    str("bucket"),
		Token:     str("token"),
		VerifySSL: true,
		Precision: strings.ToLower(str("precision")),
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" || cfg.Token == "" {
		return Config{}, ErrMissingFields
	}

	switch v := raw["verify_ssl"].(type) {
	case bool:
		cfg.VerifySSL = v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VerifySSL = b
		}
	}

	if cfg.Precision == "" {
		cfg.Precision = "ns"
	}
	if !validPrecision(cfg.Precision) {
		return Config{}, apperr.Newf(apperr.Validation, "invalid precision %q, expected one of ns, us, ms, s", cfg.Precision)
	}
	return cfg, nil
}

type InfluxDB struct {
	client *resty.Client
	cfg    Config
}

func NewInfluxDB(cfg Config, timeout time.Duration) *InfluxDB {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Token "+cfg.Token)
	if !cfg.VerifySSL {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &InfluxDB{client: client, cfg: cfg}
}

func NewFactory(timeout time.Duration) Factory {
	return func(cfg Config) TimeSeries {
		return NewInfluxDB(cfg, timeout)
	}
}

func (i *InfluxDB) bucket(b string) string {
	if b != "" {
		return b
	}
	return i.cfg.Bucket
}

func (i *InfluxDB) check(res *resty.Response, err error, op string) error {
	if err != nil {
		slog.Error("influxdb request failed", "op", op, "url", i.cfg.URL, "error", err)
		return apperr.Wrap(apperr.ExternalService, fmt.Errorf("influxdb %v failed: %w", op, err))
	}
	if res.IsError() {
		slog.Error("influxdb returned error", "op", op, "status", res.StatusCode(), "body", res.String())
		return apperr.Newf(apperr.ExternalService, "influxdb %v returned status %d: %v", op, res.StatusCode(), res.String())
	}
	return nil
}

// WritePoints sends the points as line protocol. Points with different
// precisions are written in separate requests, in order of first appearance.
func (i *InfluxDB) WritePoints(ctx context.Context, points []Point, bucket string) error {
	batches := make(map[string][]string)
	order := make([]string, 0)

	for _, p := range points {
		precision := strings.ToLower(p.Precision)
		if precision == "" {
			precision = i.cfg.Precision
		}
		if !validPrecision(precision) {
			return apperr.Newf(apperr.Validation, "invalid precision %q, expected one of ns, us, ms, s", p.Precision)
		}
		line, err := encodeLine(p, precision)
		if err != nil {
			return apperr.Wrap(apperr.Validation, err)
		}
		if _, ok := batches[precision]; !ok {
			order = append(order, precision)
		}
		batches[precision] = append(batches[precision], line)
	}

	for _, precision := range order {
		res, err := i.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"org": i.cfg.Org, "bucket": i.bucket(bucket), "precision": precision}).
			SetHeader("Content-Type", "text/plain; charset=utf-8").
			SetBody(strings.Join(batches[precision], "\n")).
			Post("/api/v2/write")
		if err := i.check(res, err, "write"); err != nil {
			return err
		}
	}
	return nil
}

func (i *InfluxDB) Query(ctx context.Context, q Query) ([]Record, error) {
	flux := BuildFlux(i.bucket(q.Bucket), q)
	slog.Debug("influxdb query", "flux", flux)

	res, err := i.client.R().
		SetContext(ctx).
		SetQueryParam("org", i.cfg.Org).
		SetHeader("Accept", "application/csv").
		SetBody(map[string]interface{}{
			"query":   flux,
			"type":    "flux",
			"dialect": map[string]interface{}{"annotations": []string{"datatype", "group", "default"}, "header": true},
		}).
		Post("/api/v2/query")
	if err := i.check(res, err, "query"); err != nil {
		return nil, err
	}

	records, err := parseAnnotatedCSV(strings.NewReader(res.String()))
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err)
	}
	return records, nil
}

func (i *InfluxDB) Delete(ctx context.Context, d DeleteRange) error {
	res, err := i.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"org": i.cfg.Org, "bucket": i.bucket(d.Bucket)}).
		SetBody(map[string]string{
			"start":     d.Start,
			"stop":      d.End,
			"predicate": DeletePredicate(d),
		}).
		Post("/api/v2/delete")
	return i.check(res, err, "delete")
}

var internalColumns = map[string]bool{
	"":       true,
	"result": true,
	"table":  true,
}

func parseValue(raw, datatype string) interface{} {
	switch datatype {
	case "double":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "long", "unsignedLong":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case "string", "":
		if datatype == "" {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				return f
			}
		}
	}
	return raw
}

func isHeaderRow(row []string) bool {
	return len(row) > 2 && row[1] == "result" && row[2] == "table"
}

// parseAnnotatedCSV reads the flux csv response. Each table starts with
// optional #annotation rows followed by a header row.
func parseAnnotatedCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = 0

	records := make([]Record, 0)
	var header []string
	var datatypes []string

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error parsing influxdb response: %w", err)
		}
		if len(row) == 0 {
			continue
		}

		if strings.HasPrefix(row[0], "#") {
			if row[0] == "#datatype" {
				datatypes = row
			}
			header = nil
			continue
		}

		if header == nil {
			header = row
			continue
		}

		// blank lines between tables are dropped by the csv reader, so a new
		// table is recognised by its header row
		if isHeaderRow(row) {
			header = row
			continue
		}

		rec := Record{Tags: map[string]string{}}
		for idx, col := range header {
			if idx >= len(row) {
				break
			}
			value := row[idx]
			switch {
			case internalColumns[col]:
			case col == "_time":
				rec.Time = value
			case col == "_measurement":
				rec.Measurement = value
			case col == "_field":
				rec.Field = value
			case col == "_value":
				datatype := ""
				if idx < len(datatypes) {
					datatype = datatypes[idx]
				}
				rec.Value = parseValue(value, datatype)
			case strings.HasPrefix(col, "_"):
			default:
				rec.Tags[col] = value
			}
		}
		records = append(records, rec)
	}

	return records, nil
}
