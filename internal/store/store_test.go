package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "samples.db"), PoolCfg{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "dsn", PoolCfg{}); err != ErrUnsupportedDriver {
		t.Fatalf("err = %v, want ErrUnsupportedDriver", err)
	}
}

func TestSampleTableName(t *testing.T) {
	if got := SampleTable("20250601"); got != "traffic_sample_20250601" {
		t.Fatalf("SampleTable = %q", got)
	}
	day := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	if got := DayOf(day); got != "20250601" {
		t.Fatalf("DayOf = %q", got)
	}
}

func TestEnsureSampleTableIdempotent(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 2; i++ {
		if err := db.EnsureSampleTable("20250601"); err != nil {
			t.Fatalf("ensure #%d: %v", i+1, err)
		}
	}
	if !db.Gorm.Migrator().HasTable("traffic_sample_20250601") {
		t.Fatalf("table missing after ensure")
	}
}

func TestRecorderFlushesAndRangeReads(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, 50*time.Millisecond, 10)
	rec.Start()

	base := time.Now()
	for i := 0; i < 5; i++ {
		rec.Add(TrafficSample{
			Time:          base.Add(time.Duration(i) * time.Second).UnixMilli(),
			UploadTotal:   int64(100 * (i + 1)),
			DownloadTotal: int64(200 * (i + 1)),
			UploadDelta:   100,
			DownloadDelta: 200,
			Clients:       1,
		})
	}
	rec.Shutdown() // final flush

	rows, err := db.Range(base.Add(-time.Minute), base.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Time < rows[i-1].Time {
			t.Fatalf("rows out of order at %d", i)
		}
	}
	if rows[4].UploadTotal != 500 {
		t.Fatalf("last UploadTotal = %d, want 500", rows[4].UploadTotal)
	}
}

func TestRangeSkipsMissingPartitions(t *testing.T) {
	db := openTestDB(t)
	// No partitions ever created: empty result, no error.
	rows, err := db.Range(time.Now().Add(-48*time.Hour), time.Now(), 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestRangeHonorsLimit(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, 50*time.Millisecond, 10)
	rec.Start()
	base := time.Now()
	for i := 0; i < 4; i++ {
		rec.Add(TrafficSample{Time: base.UnixMilli() + int64(i)})
	}
	rec.Shutdown()

	rows, err := db.Range(base.Add(-time.Minute), base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}
