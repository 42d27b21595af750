// Package metrics exports accounting ticks to InfluxDB for dashboards
// that outlive the process. The exporter is optional and strictly
// fire-and-forget: the non-blocking write API buffers points and drops
// them if the database is unreachable, so the accounting tick never
// waits on the network.
package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/logx"
)

var log = logx.New(logx.WithPrefix("metrics.influx"))

// InfluxExporter pushes one point per accounting tick.
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI influxapi.WriteAPI
	host     string
}

// NewInfluxExporter connects to url with token, writing into org/bucket.
// host tags every point so several relays can share a bucket.
func NewInfluxExporter(url, token, org, bucket, host string) *InfluxExporter {
	client := influxdb2.NewClient(url, token)
	e := &InfluxExporter{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		host:     host,
	}
	go func() {
		for err := range e.writeAPI.Errors() {
			log.Warnf("write: %v", err)
		}
	}()
	log.Infof("exporting to %s org=%s bucket=%s", url, org, bucket)
	return e
}

// Observe is wired into the engine's tick observers.
func (e *InfluxExporter) Observe(snap accounting.Snapshot) {
	p := influxdb2.NewPoint(
		"relay_traffic",
		map[string]string{"host": e.host},
		map[string]any{
			"upload_total":   int64(snap.UploadTotal),
			"download_total": int64(snap.DownloadTotal),
			"upload_mbps":    snap.UploadMbps,
			"download_mbps":  snap.DownloadMbps,
		},
		time.Now(),
	)
	e.writeAPI.WritePoint(p)
}

// Close flushes buffered points and shuts the client down.
func (e *InfluxExporter) Close() {
	e.writeAPI.Flush()
	e.client.Close()
}
