package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

// State ist der Lebenszyklus-Zustand eines Jobs.
type State string

const (
	StateWaitingChildren State = "waiting-children"
	StateWaiting         State = "waiting"
	StateDelayed         State = "delayed"
	StateActive          State = "active"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// BackoffType bestimmt, wie die Wartezeit zwischen Versuchen wächst.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff beschreibt die Wiederholungsstrategie eines Jobs.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// After liefert die Wartezeit nach dem n-ten fehlgeschlagenen Versuch (n beginnt bei 1).
func (b Backoff) After(attempt int) time.Duration {
	if b.Delay <= 0 || attempt < 1 {
		return 0
	}
	if b.Type == BackoffExponential {
		return b.Delay << min(attempt-1, 20)
	}
	return b.Delay
}

// JobOptions steuert Identität, Wiederholungen und Sichtbarkeit eines Jobs.
type JobOptions struct {
	// JobID ist die eindeutige ID. Existiert bereits ein Job mit dieser ID, ist Add ein No-op.
	JobID            string
	Attempts         int
	Backoff          Backoff
	Delay            time.Duration
	RemoveOnComplete bool
}

// JobSpec beschreibt einen einzureihenden Job.
type JobSpec struct {
	Queue string
	Name  string
	Data  any
	Opts  JobOptions
}

// FlowSpec ist ein Eltern-Job mit Kind-Jobs. Der Eltern-Job wird erst nach allen Kindern sichtbar.
type FlowSpec struct {
	Parent   JobSpec
	Children []JobSpec
}

// FlowHandle enthält die IDs eines eingereihten Flows.
type FlowHandle struct {
	ParentID string
	ChildIDs []string
}

// Job ist ein Job, wie er im Broker gespeichert ist.
type Job struct {
	ID               string
	Name             string
	Queue            string
	Data             json.RawMessage
	Attempts         int
	MaxAttempts      int
	Backoff          Backoff
	Parent           string
	Index            int
	State            State
	Result           string
	FailedReason     string
	Checkpoint       []byte
	RemoveOnComplete bool
	CreatedAt        time.Time
	FinishedAt       time.Time

	token string
}

// Decode entpackt die Nutzdaten des Jobs.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// ChildResult ist das Ergebnis eines erfolgreich abgeschlossenen Kind-Jobs.
type ChildResult struct {
	JobID string
	Index int
	Value string
}

// Counts fasst die Anzahl Jobs je Zustand einer Queue zusammen.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (s JobSpec) hashFields(data []byte, now time.Time, state State, parent string, index int) map[string]any {
	attempts := s.Opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	remove := "0"
	if s.Opts.RemoveOnComplete {
		remove = "1"
	}
	return map[string]any{
		"id":                 s.Opts.JobID,
		"name":               s.Name,
		"queue":              s.Queue,
		"data":               data,
		"attempts":           0,
		"max_attempts":       attempts,
		"backoff":            s.Opts.Backoff.Delay.Milliseconds(),
		"backoff_type":       string(s.Opts.Backoff.Type),
		"parent":             parent,
		"index":              index,
		"state":              string(state),
		"remove_on_complete": remove,
		"created_at":         now.UnixMilli(),
	}
}

func jobFromHash(h map[string]string) *Job {
	j := &Job{
		ID:               h["id"],
		Name:             h["name"],
		Queue:            h["queue"],
		Data:             json.RawMessage(h["data"]),
		Attempts:         atoi(h["attempts"]),
		MaxAttempts:      atoi(h["max_attempts"]),
		Parent:           h["parent"],
		Index:            atoi(h["index"]),
		State:            State(h["state"]),
		Result:           h["result"],
		FailedReason:     h["failed_reason"],
		RemoveOnComplete: h["remove_on_complete"] == "1",
		CreatedAt:        msToTime(h["created_at"]),
		FinishedAt:       msToTime(h["finished_at"]),
		token:            h["token"],
	}
	j.Backoff = Backoff{
		Type:  BackoffType(h["backoff_type"]),
		Delay: time.Duration(atoi(h["backoff"])) * time.Millisecond,
	}
	if cp, ok := h["checkpoint"]; ok && cp != "" {
		j.Checkpoint = []byte(cp)
	}
	return j
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
