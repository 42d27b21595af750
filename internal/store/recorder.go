package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bridgelab/relaybridge/internal/logx"
)

var recLog = logx.New(logx.WithPrefix("store.recorder"))

// Recorder batches traffic samples and flushes them to their day
// partitions in the background. Add never blocks on the database; when
// the buffer is full the sample is dropped, which a 1Hz producer only
// hits if the database has been down for a while.
type Recorder struct {
	db         *DB
	flushEvery time.Duration
	maxBatch   int

	inCh   chan TrafficSample
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Partition existence: local cache plus singleflight so concurrent
	// first-writers of a new day race into one CREATE TABLE.
	ensuredDays sync.Map
	sf          singleflight.Group
}

// NewRecorder builds a Recorder over db. flushEvery <= 0 defaults to
// 700ms, maxBatch <= 0 to 1000.
func NewRecorder(db *DB, flushEvery time.Duration, maxBatch int) *Recorder {
	if flushEvery <= 0 {
		flushEvery = 700 * time.Millisecond
	}
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		db:         db,
		flushEvery: flushEvery,
		maxBatch:   maxBatch,
		inCh:       make(chan TrafficSample, maxBatch),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the flush worker.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
	recLog.Infof("started flushEvery=%v maxBatch=%d driver=%s", r.flushEvery, r.maxBatch, r.db.Driver)
}

// Shutdown stops the worker after a final flush of whatever is buffered.
func (r *Recorder) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// Add enqueues one sample, dropping it rather than block when the
// recorder is stopped or the buffer is full. The day partition is ensured
// by the flush worker, not here, so Add never touches the database.
func (r *Recorder) Add(s TrafficSample) {
	select {
	case <-r.ctx.Done():
	case r.inCh <- s:
	default:
		recLog.Warnf("buffer full, dropping sample time=%d", s.Time)
	}
}

func (r *Recorder) ensureOnce(day string) error {
	if _, ok := r.ensuredDays.Load(day); ok {
		return nil
	}
	_, err, _ := r.sf.Do(day, func() (any, error) {
		if err := r.db.EnsureSampleTable(day); err != nil {
			return nil, err
		}
		r.ensuredDays.Store(day, struct{}{})
		return nil, nil
	})
	return err
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	buf := make([]TrafficSample, 0, r.maxBatch)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		// Group by day in arrival order so a batch spanning midnight
		// lands in both partitions.
		byDay := make(map[string][]TrafficSample, 2)
		order := make([]string, 0, 2)
		for _, s := range buf {
			day := DayOf(time.UnixMilli(s.Time))
			if _, ok := byDay[day]; !ok {
				order = append(order, day)
			}
			byDay[day] = append(byDay[day], s)
		}
		for _, day := range order {
			if err := r.ensureOnce(day); err != nil {
				recLog.Errorf("ensure day=%s: %v (dropping %d samples)", day, err, len(byDay[day]))
				continue
			}
			rows := byDay[day]
			if err := r.db.Gorm.Table(SampleTable(day)).Create(&rows).Error; err != nil {
				recLog.Errorf("flush day=%s size=%d: %v", day, len(rows), err)
			}
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-r.ctx.Done():
			// Drain what's queued, then flush once more.
			for {
				select {
				case s := <-r.inCh:
					buf = append(buf, s)
					continue
				default:
				}
				break
			}
			flush()
			return
		case s := <-r.inCh:
			buf = append(buf, s)
			if len(buf) >= r.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
