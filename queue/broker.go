// Package queue implementiert eine dauerhafte Job-Queue auf Redis.
//
// Jeder Job ist ein Hash unter <prefix>job:<id>. Jede Queue hat ein ZSET
// <prefix>q:<queue>:ready mit der Sichtbarkeitszeit in Millisekunden als Score.
// Ein Claim verschiebt den Score um die Sichtbarkeitsdauer in die Zukunft
// (Lease); läuft die Lease ab, ohne dass der Job abgeschlossen wurde, wird er
// erneut sichtbar. Verzögerte Jobs und Backoff-Wiederholungen sind ebenfalls
// nur Scores in der Zukunft.
//
// Flows: ein Eltern-Job im Zustand waiting-children steht in keinem ZSET. Seine
// offenen Kinder stehen im SET <prefix>job:<id>:pending; sobald das letzte Kind
// abgeschlossen oder endgültig fehlgeschlagen ist, wird der Eltern-Job sichtbar.
// Ergebnisse erfolgreicher Kinder liegen im Hash <prefix>job:<id>:results.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxTxRetries = 5

// Options konfiguriert den Broker.
type Options struct {
	// Prefix für alle Redis-Schlüssel, z.B. "hn".
	Prefix string
	// Visibility ist die Lease-Dauer eines geclaimten Jobs. Standard: 30s.
	Visibility time.Duration
	Logger     *zap.Logger
	// Now ersetzt die Uhr (Tests).
	Now func() time.Time
}

// Broker ist der Zugriff auf die Redis-Queue.
type Broker struct {
	rdb        *redis.Client
	prefix     string
	visibility time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewBroker erstellt einen Broker auf einem bestehenden Redis-Client.
func NewBroker(rdb *redis.Client, opts Options) *Broker {
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Broker{rdb: rdb, prefix: prefix, visibility: opts.Visibility, logger: opts.Logger, now: opts.Now}
}

// Visibility liefert die Lease-Dauer.
func (b *Broker) Visibility() time.Duration { return b.visibility }

func (b *Broker) jobKey(id string) string      { return b.prefix + "job:" + id }
func (b *Broker) pendingKey(id string) string  { return b.jobKey(id) + ":pending" }
func (b *Broker) resultsKey(id string) string  { return b.jobKey(id) + ":results" }
func (b *Broker) readyKey(q string) string     { return b.prefix + "q:" + q + ":ready" }
func (b *Broker) activeKey(q string) string    { return b.prefix + "q:" + q + ":active" }
func (b *Broker) completedKey(q string) string { return b.prefix + "q:" + q + ":completed" }
func (b *Broker) failedKey(q string) string    { return b.prefix + "q:" + q + ":failed" }

// Ping prüft die Verbindung zu Redis.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Add reiht einen Job ein. Existiert bereits ein Job mit derselben ID, wird nichts geändert und added ist false.
// Ein endgültig fehlgeschlagener Job mit derselben ID wird ersetzt, sonst blockierte er feste IDs für immer.
func (b *Broker) Add(ctx context.Context, spec JobSpec) (id string, added bool, err error) {
	if spec.Opts.JobID == "" {
		spec.Opts.JobID = uuid.NewString()
	}
	data, err := json.Marshal(spec.Data)
	if err != nil {
		return "", false, fmt.Errorf("job data: %w", err)
	}
	key := b.jobKey(spec.Opts.JobID)

	var replaced map[string]string
	txf := func(tx *redis.Tx) error {
		prev, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		replaced = nil
		if len(prev) > 0 {
			if State(prev["state"]) != StateFailed {
				added = false
				return nil
			}
			replaced = prev
		}
		now := b.now()
		state := StateWaiting
		if spec.Opts.Delay > 0 {
			state = StateDelayed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if replaced != nil {
				pipe.Del(ctx, key, b.pendingKey(spec.Opts.JobID), b.resultsKey(spec.Opts.JobID))
				pipe.ZRem(ctx, b.failedKey(replaced["queue"]), spec.Opts.JobID)
			}
			pipe.HSet(ctx, key, spec.hashFields(data, now, state, "", 0))
			pipe.ZAdd(ctx, b.readyKey(spec.Queue), &redis.Z{
				Score:  float64(now.Add(spec.Opts.Delay).UnixMilli()),
				Member: spec.Opts.JobID,
			})
			return nil
		})
		added = err == nil
		return err
	}

	if err := b.watch(ctx, txf, key); err != nil {
		return "", false, fmt.Errorf("add job %s: %w", spec.Opts.JobID, err)
	}
	if !added {
		b.logger.Debug("Job existiert bereits, Add ignoriert.", zap.String("job_id", spec.Opts.JobID))
	} else if replaced != nil {
		b.logger.Warn("Endgültig fehlgeschlagener Job ersetzt.", zap.String("job_id", spec.Opts.JobID),
			zap.String("failed_reason", replaced["failed_reason"]))
	}
	return spec.Opts.JobID, added, nil
}

// AddFlow reiht Eltern- und Kind-Jobs atomar ein.
func (b *Broker) AddFlow(ctx context.Context, flow FlowSpec) (FlowHandle, error) {
	parent := flow.Parent
	if parent.Opts.JobID == "" {
		parent.Opts.JobID = uuid.NewString()
	}
	handle := FlowHandle{ParentID: parent.Opts.JobID}

	children := make([]JobSpec, len(flow.Children))
	childData := make([][]byte, len(flow.Children))
	keys := []string{b.jobKey(parent.Opts.JobID)}
	for i, c := range flow.Children {
		if c.Opts.JobID == "" {
			c.Opts.JobID = uuid.NewString()
		}
		data, err := json.Marshal(c.Data)
		if err != nil {
			return FlowHandle{}, fmt.Errorf("child %d data: %w", i, err)
		}
		children[i], childData[i] = c, data
		handle.ChildIDs = append(handle.ChildIDs, c.Opts.JobID)
		keys = append(keys, b.jobKey(c.Opts.JobID))
	}
	parentData, err := json.Marshal(parent.Data)
	if err != nil {
		return FlowHandle{}, fmt.Errorf("parent data: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateFlow
		}
		now := b.now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pkey := b.jobKey(parent.Opts.JobID)
			if len(children) == 0 {
				pipe.HSet(ctx, pkey, parent.hashFields(parentData, now, StateWaiting, "", 0))
				pipe.ZAdd(ctx, b.readyKey(parent.Queue), &redis.Z{Score: float64(now.UnixMilli()), Member: parent.Opts.JobID})
				return nil
			}
			pipe.HSet(ctx, pkey, parent.hashFields(parentData, now, StateWaitingChildren, "", 0))
			members := make([]any, len(children))
			for i, c := range children {
				members[i] = c.Opts.JobID
				pipe.HSet(ctx, b.jobKey(c.Opts.JobID), c.hashFields(childData[i], now, StateWaiting, parent.Opts.JobID, i))
				pipe.ZAdd(ctx, b.readyKey(c.Queue), &redis.Z{
					Score:  float64(now.Add(c.Opts.Delay).UnixMilli()),
					Member: c.Opts.JobID,
				})
			}
			pipe.SAdd(ctx, b.pendingKey(parent.Opts.JobID), members...)
			return nil
		})
		return err
	}

	if err := b.watch(ctx, txf, keys...); err != nil {
		return FlowHandle{}, fmt.Errorf("add flow %s: %w", parent.Opts.JobID, err)
	}
	return handle, nil
}

// watch führt eine optimistische Transaktion aus und wiederholt sie bei Konflikten.
func (b *Broker) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = b.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Claim least den ältesten sichtbaren Job der Queue. Ohne sichtbaren Job wird nil, nil geliefert.
func (b *Broker) Claim(ctx context.Context, queue string) (*Job, error) {
	now := b.now()
	token := uuid.NewString()
	id, err := claimScript.Run(ctx, b.rdb,
		[]string{b.readyKey(queue), b.activeKey(queue)},
		now.UnixMilli(), now.Add(b.visibility).UnixMilli(), b.prefix, token,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queue, err)
	}
	return b.GetJob(ctx, id)
}

// Complete schließt einen Job ab und gibt ihn im Eltern-Job frei.
func (b *Broker) Complete(ctx context.Context, job *Job, result string) error {
	res, err := completeScript.Run(ctx, b.rdb,
		[]string{b.readyKey(job.Queue), b.activeKey(job.Queue), b.completedKey(job.Queue)},
		job.ID, job.token, result, b.now().UnixMilli(), b.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	if res < 0 {
		return fmt.Errorf("complete %s: %w", job.ID, ErrLeaseLost)
	}
	job.State = StateCompleted
	job.Result = result
	return nil
}

// Fail verbucht einen fehlgeschlagenen Versuch. Solange Versuche übrig sind und der Fehler nicht
// permanent ist, wird der Job mit Backoff erneut eingeplant; retrying meldet diesen Fall.
func (b *Broker) Fail(ctx context.Context, job *Job, cause error) (retrying bool, err error) {
	delay := int64(-1)
	if !IsPermanent(cause) && job.Attempts < job.MaxAttempts {
		delay = job.Backoff.After(job.Attempts).Milliseconds()
	}
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	now := b.now()
	visibleAt := now.Add(time.Duration(max(delay, 0)) * time.Millisecond)
	res, err := failScript.Run(ctx, b.rdb,
		[]string{b.readyKey(job.Queue), b.activeKey(job.Queue), b.failedKey(job.Queue)},
		job.ID, job.token, reason, now.UnixMilli(), b.prefix, delay, visibleAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", job.ID, err)
	}
	if res < 0 {
		return false, fmt.Errorf("fail %s: %w", job.ID, ErrLeaseLost)
	}
	job.FailedReason = reason
	if res == 1 {
		job.State = StateDelayed
		return true, nil
	}
	job.State = StateFailed
	return false, nil
}

// Extend verlängert die Lease eines aktiven Jobs (Heartbeat).
func (b *Broker) Extend(ctx context.Context, job *Job, d time.Duration) error {
	res, err := extendScript.Run(ctx, b.rdb,
		[]string{b.readyKey(job.Queue)},
		job.ID, job.token, b.now().Add(d).UnixMilli(), b.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", job.ID, err)
	}
	if res < 0 {
		return fmt.Errorf("extend %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// SaveCheckpoint speichert einen Zwischenstand am Job, den ein späterer Versuch wiederverwenden kann.
func (b *Broker) SaveCheckpoint(ctx context.Context, job *Job, data []byte) error {
	if err := b.rdb.HSet(ctx, b.jobKey(job.ID), "checkpoint", data).Err(); err != nil {
		return fmt.Errorf("checkpoint %s: %w", job.ID, err)
	}
	job.Checkpoint = data
	return nil
}

// ChildResults liefert die Ergebnisse der erfolgreichen Kinder in Einreihungsreihenfolge.
func (b *Broker) ChildResults(ctx context.Context, parentID string) ([]ChildResult, error) {
	raw, err := b.rdb.HGetAll(ctx, b.resultsKey(parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("child results %s: %w", parentID, err)
	}
	out := make([]ChildResult, 0, len(raw))
	for field, value := range raw {
		idx, id, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		out = append(out, ChildResult{JobID: id, Index: n, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// GetJob lädt einen Job.
func (b *Broker) GetJob(ctx context.Context, id string) (*Job, error) {
	h, err := b.rdb.HGetAll(ctx, b.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(h), nil
}

// Failed liefert die zuletzt endgültig fehlgeschlagenen Jobs einer Queue, neueste zuerst.
func (b *Broker) Failed(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := b.rdb.ZRevRange(ctx, b.failedKey(queue), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed jobs %s: %w", queue, err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := b.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Counts zählt die Jobs einer Queue je Zustand.
func (b *Broker) Counts(ctx context.Context, queue string) (Counts, error) {
	now := strconv.FormatInt(b.now().UnixMilli(), 10)
	pipe := b.rdb.Pipeline()
	total := pipe.ZCard(ctx, b.readyKey(queue))
	visible := pipe.ZCount(ctx, b.readyKey(queue), "-inf", now)
	active := pipe.SCard(ctx, b.activeKey(queue))
	completed := pipe.ZCard(ctx, b.completedKey(queue))
	failed := pipe.ZCard(ctx, b.failedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("counts %s: %w", queue, err)
	}
	c := Counts{
		Waiting:   visible.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}
	c.Delayed = max(total.Val()-c.Waiting-c.Active, 0)
	return c, nil
}
