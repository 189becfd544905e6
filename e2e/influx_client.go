//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// influxReader queries the points written by the station's influx sink.
type influxReader struct {
	org    string
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

func newInfluxReader(url, org, bucket, token string) *influxReader {
	c := influxdb2.NewClient(url, token)
	return &influxReader{org: org, bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// ensureBucket creates the bucket when the instance was set up without it.
func (r *influxReader) ensureBucket(ctx context.Context) error {
	org, err := r.client.OrganizationsAPI().FindOrganizationByName(ctx, r.org)
	if err != nil {
		return fmt.Errorf("find org: %w", err)
	}
	if _, err := r.client.BucketsAPI().FindBucketByName(ctx, r.bucket); err == nil {
		return nil
	}
	if _, err := r.client.BucketsAPI().CreateBucketWithName(ctx, org, r.bucket); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// fieldValues returns the values of one field of a measurement written in the
// last hour, filtered by tags.
func (r *influxReader) fieldValues(ctx context.Context, measurement, field string, tags map[string]string) ([]any, error) {
	var filters strings.Builder
	fmt.Fprintf(&filters, `r._measurement == %q and r._field == %q`, measurement, field)
	for k, v := range tags {
		fmt.Fprintf(&filters, ` and r[%q] == %q`, k, v)
	}
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-1h) |> filter(fn: (r) => %s)`, r.bucket, filters.String())
	res, err := r.query.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	var out []any
	for res.Next() {
		out = append(out, res.Record().Value())
	}
	return out, res.Err()
}

func (r *influxReader) close() { r.client.Close() }
