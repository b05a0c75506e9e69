package ingest

import (
	"fmt"
	"time"
)

// Stats tracks timing statistics for profiling a conversion.
type Stats struct {
	// ReadTime is total time spent reading records from the source file.
	ReadTime time.Duration

	// WriteTime is total time spent inserting into the backing store.
	WriteTime time.Duration

	// Rows is the total number of rows inserted.
	Rows int64

	// Restarts counts conversions replayed after the store rejected text.
	Restarts int
}

// String returns a formatted summary of the stats.
func (s *Stats) String() string {
	total := s.ReadTime + s.WriteTime
	if total == 0 {
		return fmt.Sprintf("rows=%d", s.Rows)
	}
	return fmt.Sprintf("read=%.1fs (%.0f%%), write=%.1fs (%.0f%%), rows=%d",
		s.ReadTime.Seconds(), float64(s.ReadTime)/float64(total)*100,
		s.WriteTime.Seconds(), float64(s.WriteTime)/float64(total)*100,
		s.Rows)
}

// TotalTime returns the sum of all timing components.
func (s *Stats) TotalTime() time.Duration {
	return s.ReadTime + s.WriteTime
}

// RowsPerSecond calculates the throughput.
func (s *Stats) RowsPerSecond() float64 {
	total := s.TotalTime()
	if total == 0 {
		return 0
	}
	return float64(s.Rows) / total.Seconds()
}
