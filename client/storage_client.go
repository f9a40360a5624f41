package client

import (
	"fmt"

	"nodedash/device_manager/storage"
)

// StorageClient reads and writes time series points through an InfluxDB
// provider.
type StorageClient struct {
	BaseClient
	providerId uint
}

func (c *StorageClient) endpoint(op string) string {
	return fmt.Sprintf("/storage/%d/%s", c.providerId, op)
}

// Write stores the points in bucket, or the provider's default bucket if it
// is empty.
func (c *StorageClient) Write(bucket string, points ...storage.Point) error {
	body := map[string]interface{}{"points": points, "bucket": bucket}
	return c.Post(c.endpoint("write")).Json(body).Do(nil)
}

// Upsert writes one point at its explicit timestamp, replacing the field
// values of an existing point of the same series.
func (c *StorageClient) Upsert(bucket string, point storage.Point) error {
	body := map[string]interface{}{
		"measurement": point.Measurement,
		"tags":        point.Tags,
		"fields":      point.Fields,
		"timestamp":   point.Timestamp,
		"precision":   point.Precision,
		"bucket":      bucket,
	}
	return c.Post(c.endpoint("upsert")).Json(body).Do(nil)
}

func (c *StorageClient) Query(q storage.Query) ([]storage.Record, error) {
	if q.Limit == 0 {
		q.Limit = 100
	}
	if q.Order == "" {
		q.Order = "desc"
	}

	var records []storage.Record
	err := c.Post(c.endpoint("query")).Json(q).Do(&records)
	return records, err
}

func (c *StorageClient) Delete(d storage.DeleteRange) error {
	return c.Post(c.endpoint("delete")).Json(d).Do(nil)
}
