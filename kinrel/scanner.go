package kinrel

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/getsentry/raven-go"
)

// Scan tuning knobs. The service imposes batch size and throughput limits;
// the defaults follow its documented ceilings and a polite poll rate.
const (
	DefaultBatchLimit      = 10000
	DefaultPollInterval    = 1 * time.Second
	DefaultEmptyFetchLimit = 3
	DefaultRetryBudget     = 2 * time.Minute
	DefaultFetchTimeout    = 30 * time.Second
)

// ScanConfig bounds a scan's service usage. Zero values take the defaults.
type ScanConfig struct {
	// BatchLimit is the maximum records requested per fetch.
	BatchLimit int64
	// PollInterval is the minimum delay between fetches on one shard.
	PollInterval time.Duration
	// EmptyFetchLimit is how many consecutive caught-up empty fetches end a
	// split in a bounded scan.
	EmptyFetchLimit int
	// RetryBudget caps back-off retries of transient service failures
	// before the scan fails.
	RetryBudget time.Duration
	// FetchTimeout bounds a single fetch call. A call that neither returns
	// records nor an error within it is treated as transient and retried.
	FetchTimeout time.Duration
}

func (c ScanConfig) withDefaults() ScanConfig {
	if c.BatchLimit == 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.EmptyFetchLimit == 0 {
		c.EmptyFetchLimit = DefaultEmptyFetchLimit
	}
	if c.RetryBudget == 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Scanner runs scans of one configured table.
type Scanner struct {
	svc   KinesisService
	table *TableConfig
	cfg   ScanConfig
}

func NewScanner(svc KinesisService, table *TableConfig, cfg ScanConfig) *Scanner {
	return &Scanner{svc: svc, table: table, cfg: cfg.withDefaults()}
}

// A Scan is one in-flight table scan: one goroutine per shard split feeding
// a shared row channel, read by a single consumer via Next. Rows from
// different shards interleave in no particular order; within one shard they
// arrive in sequence-number order.
type Scan struct {
	rows     chan Row
	errs     chan error
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Scan starts a scan projecting the given columns. Each requested column
// must be a configured decoded column or one of the internal columns.
// Decoded columns that are not requested are never computed.
func (s *Scanner) Scan(columns []string) (sc *Scan, err error) {
	var decoded []ColumnConfig
	needValid := false
	for _, name := range columns {
		if name == MessageValidColumn {
			needValid = true
		}
		if isSyntheticColumn(name) {
			continue
		}
		found := false
		for _, col := range s.table.Columns {
			if col.Name == name {
				decoded = append(decoded, col)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown column %q", name)
		}
	}

	decoder, err := NewDecoder(s.table)
	if err != nil {
		return
	}

	splits, err := enumerateSplits(s.svc, s.table)
	if err != nil {
		return
	}
	if len(splits) == 0 {
		return nil, fmt.Errorf("no shards found for stream %q", s.table.StreamName)
	}

	sc = &Scan{
		rows: make(chan Row),
		errs: make(chan error, len(splits)),
		done: make(chan struct{}),
	}

	// The decoder only runs when a decoded column or the validity verdict
	// is part of the projection.
	needDecode := len(decoded) > 0 || needValid

	for _, split := range splits {
		sc.wg.Add(1)
		go sc.runSplit(s.svc, split, s.cfg, decoder, decoded, needDecode, columns)
	}

	go func() {
		sc.wg.Wait()
		close(sc.rows)
	}()

	return
}

func (sc *Scan) runSplit(svc KinesisService, split Split, cfg ScanConfig,
	decoder Decoder, decoded []ColumnConfig, needDecode bool, columns []string) {
	defer sc.wg.Done()

	cursor := newShardCursor(svc, split, cfg)
	for {
		select {
		case <-sc.done:
			return
		default:
		}

		records, err := cursor.Next(sc.done)
		if err == errEndOfSplit || err == errScanStopped {
			return
		}
		if err != nil {
			log.Printf("Error reading shard %s of %s: %v", split.ShardID, split.Stream, err)
			raven.CaptureError(err, map[string]string{
				"stream": split.Stream,
				"shard":  string(split.ShardID),
			})
			sc.fail(err)
			return
		}

		for i := range records {
			rec := &records[i]
			var fields map[string]Value
			valid := true
			if needDecode {
				var derr error
				fields, derr = decoder.Decode(rec.Data, decoded)
				if derr != nil {
					// Decode problems are data, not failures.
					valid = false
					log.Printf("Invalid record %s in shard %s: %v", rec.SequenceNumber, rec.ShardID, derr)
				}
			}
			select {
			case sc.rows <- assembleRow(fields, rec, valid, columns):
			case <-sc.done:
				return
			}
		}
	}
}

// fail records the first fatal error and cancels the remaining splits.
func (sc *Scan) fail(err error) {
	select {
	case sc.errs <- err:
	default:
	}
	sc.cancel()
}

func (sc *Scan) cancel() {
	sc.stopOnce.Do(func() { close(sc.done) })
}

// Next returns the next row, io.EOF when every split has been exhausted, or
// the scan's fatal error.
func (sc *Scan) Next() (row Row, err error) {
	row, ok := <-sc.rows
	if ok {
		return row, nil
	}
	select {
	case err = <-sc.errs:
	default:
		err = io.EOF
	}
	return
}

// Stop cancels the scan. Each shard worker observes cancellation before its
// next fetch; Stop returns once all of them have released their cursors.
func (sc *Scan) Stop() {
	sc.cancel()
	sc.wg.Wait()
}
