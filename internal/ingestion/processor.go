package ingestion

import (
	"traefiklens/internal/logrecord"
	"traefiklens/internal/parser/traefik"

	"github.com/pterm/pterm"
)

// Sink receives parsed records and the health of the source feeding them.
// *realtime.Session satisfies it.
type Sink interface {
	Ingest(records []logrecord.Record)
	SetSourceStatus(err error)
}

// Recorder counts ingestion outcomes. A nil Recorder is allowed.
type Recorder interface {
	RecordsIngested(source string, n int)
	LinesDropped(source string, n int)
	AgentFetch(result string)
}

// Source is one producer of log lines managed by the Coordinator.
type Source interface {
	Name() string
	Start() error
	Stop()
}

// processor turns raw lines from one source into records for the sink.
type processor struct {
	source   string
	parser   *traefik.Parser
	sink     Sink
	recorder Recorder
	logger   *pterm.Logger
}

// process parses lines, hands the records to the sink and returns how many
// were ingested.
func (p *processor) process(lines []string) int {
	if len(lines) == 0 {
		return 0
	}

	records, dropped := p.parser.ParseLines(lines)
	if dropped > 0 {
		p.logger.Debug("Dropped unparseable log lines",
			p.logger.Args("source", p.source, "dropped", dropped, "total", len(lines)))
	}

	p.sink.Ingest(records)

	if p.recorder != nil {
		p.recorder.RecordsIngested(p.source, len(records))
		p.recorder.LinesDropped(p.source, dropped)
	}

	p.logger.Trace("Processed log lines",
		p.logger.Args("source", p.source, "lines", len(lines), "records", len(records)))

	return len(records)
}
