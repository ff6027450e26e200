package jobs

import (
	"time"

	"github.com/kalambet/casefile/internal/remote"
)

// Status is the lifecycle state of a tracked job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether no further automatic transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Progress is the display state derived from a status poll.
type Progress struct {
	Message string
	Percent int
}

// Handle tracks one submitted job. It is mutated only by the Poller, on each
// successful poll, and discarded once a terminal state is consumed.
type Handle struct {
	ID           string
	Kind         remote.JobKind
	Status       Status
	Stage        string
	Progress     Progress
	Intermediate []string
	StartedAt    time.Time
	Budget       time.Duration
}

// stageStep is one entry of a job kind's fixed forward-only stage ordering.
type stageStep struct {
	name    string
	percent int
	message string
}

// Stage tables are display lookups, not validation: unknown stages fall back
// to a generic message and never fail the poll.
var darkWebStages = []stageStep{
	{"initializing", 5, "Preparing investigation"},
	{"refining_query", 15, "Refining search query"},
	{"searching", 35, "Searching dark-web sources"},
	{"filtering", 55, "Filtering results"},
	{"scraping", 75, "Collecting page content"},
	{"generating_summary", 90, "Writing summary"},
}

var reportStages = []stageStep{
	{"queued", 5, "Report queued"},
	{"analyzing", 20, "Analyzing conversation"},
	{"drafting", 50, "Drafting report"},
	{"rendering", 80, "Rendering report"},
}

const unknownStageFloor = 10

// stageProgress maps a raw stage name to its display progress for the given
// kind. prev is the percent shown so far: progress never moves backwards
// while the job is processing, and unrecognized stages hold the line.
func stageProgress(kind remote.JobKind, stage string, prev int) Progress {
	table := darkWebStages
	if kind == remote.KindReport {
		table = reportStages
	}
	for _, s := range table {
		if s.name == stage {
			p := s.percent
			if p < prev {
				p = prev
			}
			return Progress{Message: s.message, Percent: p}
		}
	}
	p := prev
	if p < unknownStageFloor {
		p = unknownStageFloor
	}
	return Progress{Message: "Working…", Percent: p}
}

// cadenceStep lengthens the poll interval once elapsed time passes after.
type cadenceStep struct {
	after    time.Duration
	interval time.Duration
}

var pollCadence = map[remote.JobKind][]cadenceStep{
	remote.KindReport: {
		{0, 2 * time.Second},
		{15 * time.Second, 3 * time.Second},
		{45 * time.Second, 5 * time.Second},
	},
	remote.KindDarkWeb: {
		{0, 3 * time.Second},
		{20 * time.Second, 5 * time.Second},
		{60 * time.Second, 8 * time.Second},
	},
}

// pollInterval returns the cadence step for the elapsed wall-clock time.
func pollInterval(kind remote.JobKind, elapsed time.Duration) time.Duration {
	steps, ok := pollCadence[kind]
	if !ok {
		steps = pollCadence[remote.KindDarkWeb]
	}
	interval := steps[0].interval
	for _, s := range steps {
		if elapsed >= s.after {
			interval = s.interval
		}
	}
	return interval
}

// defaultBudget is the total elapsed-time budget per job kind.
func defaultBudget(kind remote.JobKind) time.Duration {
	if kind == remote.KindDarkWeb {
		return 10 * time.Minute
	}
	return 5 * time.Minute
}
