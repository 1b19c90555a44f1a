package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/portunus/door"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// Door is the part of door.Machine the coordinator drives.
type Door interface {
	Open() error
	Status() door.Status
}

// Publisher receives every access event once it is durably logged,
// including updates that close an entry.
type Publisher interface {
	PublishAccessEvent(types.AccessEvent)
}

type CoordinatorConfig struct {
	Verifier  *Verifier
	Directory Resolver
	Door      Door
	Events    store.AccessEventStore
	Ledger    *Ledger
	Publisher Publisher
	Clock     clock.Clock
	Logger    *slog.Logger

	// AppendRetries is how many times a failed log write is retried
	// after the first attempt. RetryBackoff doubles on each retry.
	AppendRetries int
	RetryBackoff  time.Duration

	// Location decides where "today", "week" and "month" start for Stats.
	Location *time.Location

	NewID func() string
}

// Coordinator runs every presentation, manual open, exit and sweep under
// one mutex, which gives door commands and log writes a single total
// order.
type Coordinator struct {
	verifier  *Verifier
	directory Resolver
	door      Door
	events    store.AccessEventStore
	ledger    *Ledger
	publisher Publisher
	clk       clock.Clock
	logger    *slog.Logger
	retries   int
	backoff   time.Duration
	loc       *time.Location
	newID     func() string

	mu sync.Mutex
	// pending holds requests that were decided, and possibly opened the
	// door, but were not fully recorded. A resend with the same id
	// finishes them instead of deciding again.
	pending map[string]types.AccessEvent
}

const maxPending = 1024

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		verifier:  cfg.Verifier,
		directory: cfg.Directory,
		door:      cfg.Door,
		events:    cfg.Events,
		ledger:    cfg.Ledger,
		publisher: cfg.Publisher,
		clk:       cfg.Clock,
		logger:    cfg.Logger,
		retries:   cfg.AppendRetries,
		backoff:   cfg.RetryBackoff,
		loc:       cfg.Location,
		newID:     cfg.NewID,
		pending:   make(map[string]types.AccessEvent),
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.ledger == nil {
		c.ledger = NewLedger()
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.newID == nil {
		c.newID = newID
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.directory == nil && c.verifier != nil {
		c.directory = c.verifier.dir
	}
	return c
}

// Recover rebuilds occupancy from the event log. Older duplicate entries
// for the same person are closed as of now.
func (c *Coordinator) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	open, err := c.events.OpenEntries(ctx)
	if err != nil {
		return fmt.Errorf("load open entries: %w", err)
	}
	stale := c.ledger.Rebuild(open)

	now := c.clk.Now()
	for _, ev := range stale {
		if err := c.closeWithRetry(ctx, ev.ID, now); err != nil && !errors.Is(err, store.ErrAlreadyClosed) {
			return err
		}
		c.logger.Info("closed duplicate open entry", "event_id", ev.ID, "person_id", ev.PersonID)
	}
	c.logger.Info("occupancy recovered", "inside", c.ledger.CurrentCount(), "stale_closed", len(stale))
	return nil
}

// PresentTag handles one tag presentation from the entry reader.
//
// Denials and door-busy results are not errors. The only error outcomes
// are bad input and ErrPersistence: an access is never reported until its
// event is stored.
func (c *Coordinator) PresentTag(ctx context.Context, req types.AccessRequest) (types.AccessResponse, error) {
	if req.TagUID == 0 {
		return types.AccessResponse{}, ErrInvalidTagUID
	}
	eventID := strings.TrimSpace(req.EventID)
	resendable := eventID != ""

	c.mu.Lock()
	defer c.mu.Unlock()

	if resendable {
		resp, found, err := c.replay(ctx, eventID)
		if found || err != nil {
			if err == nil {
				c.logger.Info("access request replayed", "event_id", eventID, "tag_uid", req.TagUID)
			}
			return resp, err
		}
	} else {
		eventID = c.newID()
	}

	now := c.clk.Now()
	uid := req.TagUID
	log := c.logger.With("event_id", eventID, "tag_uid", uid)
	if rt := parseOptionalTimestamp(req.PresentedAt); rt != nil {
		log = log.With("reader_time", rt.Format(time.RFC3339Nano))
	}

	dec := c.verifier.Decide(ctx, uid, now)
	ev := types.AccessEvent{
		ID:         eventID,
		PersonID:   dec.PersonID,
		PersonName: dec.PersonName,
		TagUID:     &uid,
		EntryAt:    now,
		Outcome:    types.OutcomeDenied,
		Reason:     dec.Reason,
	}

	if !dec.Allowed {
		if err := c.appendWithRetry(ctx, ev); err != nil {
			log.Error("denial not logged", "reason", dec.Reason, "err", err)
			c.hold(ev, resendable)
			return types.AccessResponse{}, err
		}
		log.Info("access denied", "person_id", dec.PersonID, "reason", dec.Reason)
		c.publish(ev)
		return c.response(ev, false), nil
	}

	ev.Outcome = types.OutcomeAllowed
	ev.Reason = ""

	if err := c.door.Open(); err != nil {
		if !errors.Is(err, door.ErrDoorBusy) {
			return types.AccessResponse{}, fmt.Errorf("door open: %w", err)
		}
		ev.Reason = types.ReasonDoorBusy
		if err := c.appendWithRetry(ctx, ev); err != nil {
			log.Error("door-busy allow not logged", "person_id", ev.PersonID, "err", err)
			c.hold(ev, resendable)
			return types.AccessResponse{}, err
		}
		log.Warn("access allowed but door busy", "person_id", ev.PersonID)
		c.publish(ev)
		return c.response(ev, false), nil
	}

	// The door is moving. From here on a logging failure is surfaced,
	// never swallowed, and the ledger changes only once the entry is
	// stored.
	if _, inside := c.ledger.OpenEvent(ev.PersonID); inside {
		ev.Reason = types.ReasonReEntry
	}
	if err := c.appendWithRetry(ctx, ev); err != nil {
		log.Error("allowed entry not logged after door opened", "person_id", ev.PersonID, "err", err)
		c.hold(ev, resendable)
		return types.AccessResponse{}, err
	}
	if err := c.settle(ctx, ev); err != nil {
		log.Error("re-entry could not close prior entry", "person_id", ev.PersonID, "err", err)
		c.hold(ev, resendable)
		return types.AccessResponse{}, err
	}
	log.Info("access allowed", "person_id", ev.PersonID, "inside", c.ledger.CurrentCount())
	c.publish(ev)
	return c.response(ev, false), nil
}

// AccessResult is delivered by PresentTagAsync.
type AccessResult struct {
	Response types.AccessResponse
	Err      error
}

// PresentTagAsync queues a presentation and returns at once. The result
// channel receives exactly one value.
func (c *Coordinator) PresentTagAsync(ctx context.Context, req types.AccessRequest) <-chan AccessResult {
	ch := make(chan AccessResult, 1)
	go func() {
		resp, err := c.PresentTag(ctx, req)
		ch <- AccessResult{Response: resp, Err: err}
	}()
	return ch
}

// ManualOpen opens the door without verification. A busy door is an
// error here and nothing is logged, since the door did not move.
func (c *Coordinator) ManualOpen(ctx context.Context, req types.ManualOpenRequest) (types.AccessResponse, error) {
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "unknown"
	}
	eventID := strings.TrimSpace(req.EventID)
	resendable := eventID != ""

	c.mu.Lock()
	defer c.mu.Unlock()

	if resendable {
		if resp, found, err := c.replay(ctx, eventID); found || err != nil {
			return resp, err
		}
	} else {
		eventID = c.newID()
	}

	if err := c.door.Open(); err != nil {
		c.logger.Warn("manual open rejected", "operator", operator, "err", err)
		return types.AccessResponse{}, err
	}

	ev := types.AccessEvent{
		ID:       eventID,
		Operator: operator,
		EntryAt:  c.clk.Now(),
		Outcome:  types.OutcomeAllowed,
		Reason:   types.ReasonManual,
	}
	if err := c.appendWithRetry(ctx, ev); err != nil {
		c.logger.Error("manual open not logged after door opened", "event_id", eventID, "operator", operator, "err", err)
		c.hold(ev, resendable)
		return types.AccessResponse{}, err
	}
	c.logger.Info("manual open", "event_id", eventID, "operator", operator)
	c.publish(ev)
	return c.response(ev, false), nil
}

// RecordExit closes the open entry of the tag's owner. Leaving is never
// blocked, so blocked tags and inactive owners still resolve.
func (c *Coordinator) RecordExit(ctx context.Context, req types.ExitRequest) (types.AccessEvent, error) {
	if req.TagUID == 0 {
		return types.AccessEvent{}, ErrInvalidTagUID
	}

	cred, err := c.directory.Resolve(ctx, req.TagUID)
	if errors.Is(err, store.ErrNotFound) {
		return types.AccessEvent{}, fmt.Errorf("%w: %s", ErrNotInside, types.ReasonUnknownTag)
	}
	if err != nil {
		return types.AccessEvent{}, err
	}
	if cred.Owner == nil {
		return types.AccessEvent{}, fmt.Errorf("%w: %s", ErrNotInside, types.ReasonTagUnassigned)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ledger.OpenEvent(cred.Owner.ID)
	if !ok {
		return types.AccessEvent{}, ErrNotInside
	}
	now := c.clk.Now()
	if err := c.closeEntry(ctx, entry, now); err != nil {
		if errors.Is(err, store.ErrAlreadyClosed) {
			return types.AccessEvent{}, ErrNotInside
		}
		return types.AccessEvent{}, err
	}
	c.logger.Info("exit recorded", "event_id", entry.ID, "person_id", entry.PersonID, "tag_uid", req.TagUID,
		"inside", c.ledger.CurrentCount())
	entry.ExitAt = &now
	return entry, nil
}

// Sweep closes entries that have been open longer than maxDwell and
// returns how many it closed.
func (c *Coordinator) Sweep(ctx context.Context, maxDwell time.Duration) (int, error) {
	if maxDwell <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	cutoff := now.Add(-maxDwell)
	closed := 0
	for _, ev := range c.ledger.Occupants() {
		if ev.EntryAt.After(cutoff) {
			break
		}
		err := c.closeEntry(ctx, ev, now)
		if errors.Is(err, store.ErrAlreadyClosed) {
			continue
		}
		if err != nil {
			return closed, err
		}
		c.logger.Info("stale entry closed", "event_id", ev.ID, "person_id", ev.PersonID, "entry_at", ev.EntryAt)
		closed++
	}
	return closed, nil
}

// closeEntry stamps the exit time on an open entry and removes it from
// the ledger. An entry the store already considers closed is dropped
// from the ledger and reported as store.ErrAlreadyClosed. Callers hold
// c.mu.
func (c *Coordinator) closeEntry(ctx context.Context, ev types.AccessEvent, at time.Time) error {
	err := c.closeWithRetry(ctx, ev.ID, at)
	if errors.Is(err, store.ErrAlreadyClosed) {
		c.ledger.Exit(ev.PersonID)
		return err
	}
	if err != nil {
		return err
	}
	c.ledger.Exit(ev.PersonID)
	ev.ExitAt = &at
	c.publish(ev)
	return nil
}

// replay answers a resent request id. A stored event is returned as is.
// A pending one is appended now, so the door is not commanded twice.
// found is false when the id has never been seen. Callers hold c.mu.
func (c *Coordinator) replay(ctx context.Context, id string) (resp types.AccessResponse, found bool, err error) {
	held, isHeld := c.pending[id]

	ev, err := c.events.GetEvent(ctx, id)
	switch {
	case err == nil:
	case !errors.Is(err, store.ErrNotFound):
		return types.AccessResponse{}, true, fmt.Errorf("%w: lookup %s: %v", ErrPersistence, id, err)
	case !isHeld:
		return types.AccessResponse{}, false, nil
	default:
		if err := c.appendWithRetry(ctx, held); err != nil {
			c.logger.Error("pending event still not logged", "event_id", id, "err", err)
			return types.AccessResponse{}, true, err
		}
		ev = held
	}

	if err := c.settle(ctx, ev); err != nil {
		return types.AccessResponse{}, true, err
	}
	if isHeld {
		delete(c.pending, id)
		c.logger.Info("pending event recorded", "event_id", id, "person_id", ev.PersonID)
		c.publish(ev)
	}
	return c.response(ev, true), true, nil
}

// settle brings the ledger in line with a stored event. An open entry
// replaces the person's older one, which is closed as of the new entry
// time. An entry older than the ledger's is itself closed. Callers hold
// c.mu.
func (c *Coordinator) settle(ctx context.Context, ev types.AccessEvent) error {
	if !ev.Open() {
		return nil
	}
	cur, inside := c.ledger.OpenEvent(ev.PersonID)
	switch {
	case inside && cur.ID == ev.ID:
		return nil
	case inside && cur.EntryAt.After(ev.EntryAt):
		if err := c.closeWithRetry(ctx, ev.ID, cur.EntryAt); err != nil && !gone(err) {
			return err
		}
		return nil
	case inside:
		err := c.closeWithRetry(ctx, cur.ID, ev.EntryAt)
		if err != nil && !gone(err) {
			return err
		}
		if err == nil {
			c.logger.Info("prior entry auto-closed on re-entry", "person_id", ev.PersonID, "prior_event_id", cur.ID)
			cur.ExitAt = &ev.EntryAt
			c.publish(cur)
		}
	}
	c.ledger.Enter(ev)
	return nil
}

// hold keeps ev for a resend of the same request id.
func (c *Coordinator) hold(ev types.AccessEvent, resendable bool) {
	if !resendable {
		return
	}
	if len(c.pending) >= maxPending {
		c.logger.Warn("too many unrecorded requests, not holding", "event_id", ev.ID)
		return
	}
	c.pending[ev.ID] = ev
}

func gone(err error) bool {
	return errors.Is(err, store.ErrAlreadyClosed) || errors.Is(err, store.ErrNotFound)
}

func (c *Coordinator) ListEvents(ctx context.Context, f store.EventFilter) ([]types.AccessEvent, error) {
	return c.events.ListEvents(ctx, f)
}

// Stats counts attempts whose entry time falls in the period containing
// now.
func (c *Coordinator) Stats(ctx context.Context, period types.Period) (types.Stats, error) {
	now := c.clk.Now().In(c.loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)

	var from time.Time
	switch period {
	case types.PeriodToday, "":
		period = types.PeriodToday
		from = day
	case types.PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7 // weeks start on Monday
		from = day.AddDate(0, 0, -offset)
	case types.PeriodMonth:
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, c.loc)
	default:
		return types.Stats{}, ErrInvalidPeriod
	}

	evs, err := c.events.ListEvents(ctx, store.EventFilter{From: from.UTC()})
	if err != nil {
		return types.Stats{}, err
	}

	st := types.Stats{Period: period, Total: len(evs), CurrentOccupancy: c.ledger.CurrentCount()}
	for _, ev := range evs {
		if ev.Outcome == types.OutcomeAllowed {
			st.Allowed++
		} else {
			st.Denied++
		}
	}
	return st, nil
}

func (c *Coordinator) CurrentCount() int { return c.ledger.CurrentCount() }

func (c *Coordinator) IsInside(personID string) bool { return c.ledger.IsInside(personID) }

func (c *Coordinator) Occupants() []types.AccessEvent { return c.ledger.Occupants() }

func (c *Coordinator) DoorStatus() door.Status { return c.door.Status() }

func (c *Coordinator) appendWithRetry(ctx context.Context, ev types.AccessEvent) error {
	return c.retry(ctx, "append", ev.ID, func() error {
		return c.events.AppendEvent(ctx, ev)
	})
}

func (c *Coordinator) closeWithRetry(ctx context.Context, id string, at time.Time) error {
	return c.retry(ctx, "close", id, func() error {
		err := c.events.CloseEvent(ctx, id, at)
		if errors.Is(err, store.ErrAlreadyClosed) || errors.Is(err, store.ErrNotClosable) || errors.Is(err, store.ErrNotFound) {
			return backoffStop{err}
		}
		return err
	})
}

// backoffStop marks an error that retrying cannot fix.
type backoffStop struct{ err error }

func (b backoffStop) Error() string { return b.err.Error() }
func (b backoffStop) Unwrap() error { return b.err }

// retry runs op until it succeeds or the retries run out. Writes are
// idempotent on the event id, so repeating one never duplicates a row.
func (c *Coordinator) retry(ctx context.Context, op, id string, fn func() error) error {
	wait := c.backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var stop backoffStop
		if errors.As(err, &stop) {
			return stop.err
		}
		if attempt >= c.retries {
			break
		}
		c.logger.Warn("event log write failed, retrying", "op", op, "event_id", id, "attempt", attempt+1, "err", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s %s: %v", ErrPersistence, op, id, ctx.Err())
		case <-c.clk.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("%w: %s %s: %v", ErrPersistence, op, id, err)
}

func (c *Coordinator) publish(ev types.AccessEvent) {
	if c.publisher != nil {
		c.publisher.PublishAccessEvent(ev)
	}
}

func (c *Coordinator) response(ev types.AccessEvent, replayed bool) types.AccessResponse {
	resp := types.AccessResponse{
		Allowed:    ev.Outcome == types.OutcomeAllowed,
		Reason:     ev.Reason,
		PersonID:   ev.PersonID,
		EventID:    ev.ID,
		Replayed:   replayed,
		ServerTime: c.clk.Now().Format(time.RFC3339Nano),
	}
	switch {
	case !resp.Allowed:
		resp.Status = types.StatusDenied
	case ev.Reason == types.ReasonDoorBusy:
		resp.Status = types.StatusDoorBusy
	default:
		resp.Status = types.StatusAllowed
		resp.DoorOpened = true
	}
	return resp
}

// parseOptionalTimestamp parses a reader-reported time. Returns nil if
// the string is empty or unparseable.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
