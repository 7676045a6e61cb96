// Package export ships benchmark results to InfluxDB, with a gzip JSON spool
// on disk as the fallback sink when the database is unreachable. Export is
// optional; runs without an export section never touch this package.
package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"membench/internal/config"
	"membench/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	resultMeasurement = "membench_result"
	metaMeasurement   = "membench_meta"
)

type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// NewClient connects and health-checks the database described by the profile.
func NewClient(cfg config.DatabaseConfig) (*Client, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":   cfg.Host,
			"status": health.Status,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed with status %q", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

// LastRunID returns the highest run ID written in the past 30 days, zero when
// the bucket holds none. New runs use LastRunID()+1 so IDs stay sequential
// across processes.
func (c *Client) LastRunID() (int, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "%s")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, c.bucket, resultMeasurement)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if result.Record().Value() != nil {
			if id, ok := result.Record().Value().(int64); ok {
				maxID = int(id)
			}
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}
	return maxID, nil
}

// WriteArtifact writes one result point per measurement plus a metadata
// point for the run.
func (c *Client) WriteArtifact(artifact *Artifact) error {
	if artifact == nil {
		return fmt.Errorf("export artifact is nil")
	}
	ctx := context.Background()

	points := resultPoints(artifact)
	if len(points) > 0 {
		if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write result points: %w", err)
		}
	}
	if err := c.writeAPI.WritePoint(ctx, metadataPoint(artifact)); err != nil {
		return fmt.Errorf("failed to write run metadata: %w", err)
	}
	return nil
}

func resultPoints(artifact *Artifact) []*write.Point {
	hostname := ""
	if artifact.System != nil {
		hostname = artifact.System.Hostname
	}

	points := make([]*write.Point, 0, len(artifact.Results))
	for _, r := range artifact.Results {
		point := influxdb2.NewPoint(resultMeasurement,
			map[string]string{
				"run_id":           strconv.Itoa(artifact.RunID),
				"profile_checksum": artifact.ProfileChecksum,
				"hostname":         hostname,
				"pattern":          r.Pattern,
				"working_set":      r.WorkingSet,
			},
			map[string]interface{}{
				"test_name":         r.TestName,
				"num_threads":       r.NumThreads,
				"working_set_bytes": int64(r.WorkingSetBytes),
				"bytes_processed":   int64(r.BytesProcessed),
				"time_seconds":      r.TimeSeconds,
				"bandwidth_gbps":    r.BandwidthGBps,
				"latency_ns":        r.LatencyNs,
				"efficiency_pct":    r.EfficiencyPct,
				"gflops":            r.GFLOPS,
				"suspicious":        strings.Join(r.Suspicious, "; "),
			},
			artifact.EndTime)
		points = append(points, point)
	}
	return points
}

func metadataPoint(artifact *Artifact) *write.Point {
	fields := map[string]interface{}{
		"benchmark_name":   artifact.BenchmarkName,
		"profile_checksum": artifact.ProfileChecksum,
		"started":          artifact.StartTime.Format(time.RFC3339),
		"finished":         artifact.EndTime.Format(time.RFC3339),
		"duration_seconds": int64(artifact.EndTime.Sub(artifact.StartTime).Seconds()),
		"total_results":    len(artifact.Results),
		"config_file":      artifact.ConfigContent,
	}
	if artifact.System != nil {
		fields["hostname"] = artifact.System.Hostname
		fields["os_info"] = artifact.System.OSInfo
		fields["kernel_version"] = artifact.System.KernelVersion
		fields["cpu_model"] = artifact.System.CPUName
		fields["physical_cores"] = int64(artifact.System.PhysicalCores)
		fields["logical_threads"] = int64(artifact.System.LogicalThreads)
	}

	return influxdb2.NewPoint(metaMeasurement,
		map[string]string{
			"run_id": strconv.Itoa(artifact.RunID),
		},
		fields,
		artifact.EndTime)
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Ship sends the artifact to the configured database, falling back to the
// disk spool when the database is unreachable or the write fails. The
// artifact always lands somewhere; the error reports a failed spool only.
func Ship(cfg config.ExportConfig, artifact *Artifact) error {
	logger := logging.GetLogger()

	client, err := NewClient(cfg.DB)
	if err == nil {
		defer client.Close()
		if artifact.RunID == 0 {
			if last, idErr := client.LastRunID(); idErr == nil {
				artifact.RunID = last + 1
			} else {
				logger.WithError(idErr).Warn("Could not determine last run ID, spooling instead")
				err = idErr
			}
		}
		if err == nil {
			if err = client.WriteArtifact(artifact); err == nil {
				logger.WithField("run_id", artifact.RunID).Info("Results exported to InfluxDB")
				return nil
			}
		}
	}

	logger.WithError(err).Warn("Database export failed, writing spool artifact")
	path, spoolErr := WriteArtifactFile(cfg.SpoolDir, artifact)
	if spoolErr != nil {
		return fmt.Errorf("export failed and spool write failed: %w", spoolErr)
	}
	logger.WithField("path", path).Info("Results spooled to disk")
	return nil
}
