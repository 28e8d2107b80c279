package pipeline

import (
	"time"

	"github.com/masoudn84/npm-offline-package-mirror/internal/artifact"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
)

// Status is the coarse outcome of a unit.
type Status string

const (
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Outcome refines Status. Failed units carry their error kind as outcome.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeAlreadyExists Outcome = "already-exists"
	OutcomeDryRun        Outcome = "dry-run"
)

// Stage is the step a unit terminated in.
type Stage string

const (
	StageDispatch Stage = "dispatch"
	StageBuild    Stage = "build"
	StageResolve  Stage = "resolve"
	StagePublish  Stage = "publish"
)

// Kinds the pipeline assigns itself; stage errors contribute their own.
const (
	KindCancelled = "Cancelled"
	KindInternal  = "Internal"
)

// Result is the terminal record of one unit.
type Result struct {
	Unit      discovery.Unit
	State     State
	Status    Status
	Outcome   Outcome
	Stage     Stage
	Kind      string // empty on success
	Detail    string
	Source    artifact.Source // source of the archive handed to publish, if any
	Duration  time.Duration
	Timestamp time.Time
}

// OK reports whether the unit counts as published.
func (r Result) OK() bool { return r.Status == StatusPublished }

// Summary aggregates a run.
type Summary struct {
	Total         int
	Published     int // includes dry-run publishes
	AlreadyExists int
	Failed        int
	Cancelled     int
	Fetched       int // published units whose archive came from the upstream
	FailureLog    string
	Duration      time.Duration
	Results       []Result
}

// OK reports whether every unit was published or already existed.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Cancelled == 0
}

// FailedResults returns the non-published results in completion order.
func (s *Summary) FailedResults() []Result {
	var out []Result
	for _, r := range s.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func summarize(results []Result) *Summary {
	s := &Summary{Total: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.Outcome == OutcomeAlreadyExists:
			s.AlreadyExists++
		case r.OK():
			s.Published++
		case r.Kind == KindCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
		if r.OK() && r.Source == artifact.SourceFetched {
			s.Fetched++
		}
	}
	return s
}
