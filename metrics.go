package docdb

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// opTimer times one Collection operation and records it into a
// VictoriaMetrics histogram keyed by collection and operation name,
// following the library's own "name{label=...}" metric naming.
type opTimer struct {
	hist  *metrics.Histogram
	start time.Time
}

func startOpTimer(collection, op string) opTimer {
	name := `docdb_op_duration_seconds{collection="` + collection + `",op="` + op + `"}`
	return opTimer{hist: metrics.GetOrCreateHistogram(name), start: time.Now()}
}

func (t opTimer) stop() {
	t.hist.UpdateDuration(t.start)
}

// WriteMetrics writes every docdb_* metric registered so far (plus
// anything else registered in the default VictoriaMetrics registry)
// in Prometheus exposition format, for a caller that wants to expose
// /metrics itself instead of importing an HTTP framework just for
// that.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
