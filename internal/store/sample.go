package store

import (
	"fmt"
	"time"
)

// TrafficSample is one 1Hz accounting snapshot as persisted. Time is unix
// milliseconds; totals are cumulative since engine start, deltas are the
// bytes drained on that tick.
type TrafficSample struct {
	Id            int64   `gorm:"column:id" json:"id"`
	Time          int64   `gorm:"column:time" json:"time"`
	UploadTotal   int64   `gorm:"column:upload_total" json:"upload_total"`
	DownloadTotal int64   `gorm:"column:download_total" json:"download_total"`
	UploadDelta   int64   `gorm:"column:upload_delta" json:"upload_delta"`
	DownloadDelta int64   `gorm:"column:download_delta" json:"download_delta"`
	UploadMbps    float64 `gorm:"column:upload_mbps" json:"upload_mbps"`
	DownloadMbps  float64 `gorm:"column:download_mbps" json:"download_mbps"`
	Clients       int     `gorm:"column:clients" json:"clients"`
}

// SampleTable returns the partition table name for day ("20060102").
func SampleTable(day string) string {
	return fmt.Sprintf("traffic_sample_%s", day)
}

// DayOf formats t as a partition key.
func DayOf(t time.Time) string { return t.Format("20060102") }

// EnsureSampleTable creates the partition for day if it doesn't exist,
// with the time index range queries scan on.
func (d *DB) EnsureSampleTable(day string) error {
	table := SampleTable(day)

	var ddl string
	switch d.Driver {
	case "mysql":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			time BIGINT NOT NULL,
			upload_total BIGINT NOT NULL DEFAULT 0,
			download_total BIGINT NOT NULL DEFAULT 0,
			upload_delta BIGINT NOT NULL DEFAULT 0,
			download_delta BIGINT NOT NULL DEFAULT 0,
			upload_mbps DOUBLE NOT NULL DEFAULT 0,
			download_mbps DOUBLE NOT NULL DEFAULT 0,
			clients INT NOT NULL DEFAULT 0
		)`, table)
	default: // sqlite
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time INTEGER NOT NULL,
			upload_total INTEGER NOT NULL DEFAULT 0,
			download_total INTEGER NOT NULL DEFAULT 0,
			upload_delta INTEGER NOT NULL DEFAULT 0,
			download_delta INTEGER NOT NULL DEFAULT 0,
			upload_mbps REAL NOT NULL DEFAULT 0,
			download_mbps REAL NOT NULL DEFAULT 0,
			clients INTEGER NOT NULL DEFAULT 0
		)`, table)
	}
	if err := d.Gorm.Exec(ddl).Error; err != nil {
		return err
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_time ON %s (time)", table, table)
	return d.Gorm.Exec(idx).Error
}

// Range returns the samples with start <= time <= end (unix millis),
// oldest first, reading every day partition the window spans and skipping
// partitions that were never created.
func (d *DB) Range(start, end time.Time, limit int) ([]TrafficSample, error) {
	if end.Before(start) {
		return nil, nil
	}
	var out []TrafficSample
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for !day.After(end) {
		table := SampleTable(DayOf(day))
		day = day.Add(24 * time.Hour)
		if !d.Gorm.Migrator().HasTable(table) {
			continue
		}
		var rows []TrafficSample
		q := d.Gorm.Table(table).
			Where("time BETWEEN ? AND ?", start.UnixMilli(), end.UnixMilli()).
			Order("time ASC")
		if limit > 0 {
			q = q.Limit(limit - len(out))
		}
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
