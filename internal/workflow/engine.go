package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/directory"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
	"github.com/JaimeStill/docflow/pkg/keylock"
	"github.com/JaimeStill/docflow/pkg/storage"
)

const archiveTimeout = 30 * time.Second

type engine struct {
	store     Store
	directory directory.Directory
	archiver  Archiver
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	locks     *keylock.Locker[uuid.UUID]
}

// New creates the workflow engine from rt. Store, Directory, and Logger are
// required.
func New(rt *Runtime) System {
	m := rt.Metrics
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}
	now := rt.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &engine{
		store:     rt.Store,
		directory: rt.Directory,
		archiver:  rt.Archiver,
		metrics:   m,
		logger:    rt.Logger.With("system", "workflow"),
		now:       now,
		locks:     keylock.New[uuid.UUID](),
	}
}

func (e *engine) Handler(maxBodySize int64) *Handler {
	return NewHandler(e, e.logger, maxBodySize)
}

func (e *engine) AssignCircuit(ctx context.Context, documentID, circuitID uuid.UUID, actor, comment string) (*documents.Document, error) {
	defer e.metrics.observe("assign", time.Now())

	if circuitID == uuid.Nil {
		return nil, fmt.Errorf("%w: circuit id is required", ErrInvalidRequest)
	}

	unlock, err := e.tryLock(documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var initial circuits.Status
	err = e.store.Tx(ctx, func(tx Tx) error {
		d, err := tx.Document(ctx, documentID)
		if err != nil {
			return err
		}
		if d.State() != documents.Idle {
			return fmt.Errorf("%w: %s", ErrAlreadyAssigned, documentID)
		}

		c, err := tx.Circuit(ctx, circuitID)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return fmt.Errorf("%w: %s", circuits.ErrCircuitInactive, c.Title)
		}

		var ok bool
		if initial, ok = c.InitialStatus(); !ok {
			return fmt.Errorf("%w: %s", circuits.ErrNoInitialStatus, c.Title)
		}

		d.CircuitID = &c.ID
		d.CurrentStatusID = &initial.ID
		if err := tx.UpdateDocument(ctx, d); err != nil {
			return err
		}

		return tx.RecordTransition(ctx, &history.Entry{
			DocumentID: d.ID,
			CircuitID:  c.ID,
			ToStatusID: &initial.ID,
			ActorID:    actor,
			Comment:    comment,
			Outcome:    history.Assigned,
			Timestamp:  e.now(),
		})
	})
	if err != nil {
		return nil, e.conflict(err)
	}

	e.metrics.transitions.WithLabelValues(string(history.Assigned)).Inc()
	e.logger.Info("circuit assigned",
		"document_id", documentID,
		"circuit_id", circuitID,
		"status", initial.Title,
		"actor", actor,
	)

	if initial.IsFinal {
		e.archive(ctx, documentID)
	}
	return e.document(ctx, documentID)
}

func (e *engine) AvailableTransitions(ctx context.Context, documentID uuid.UUID) (iter.Seq[Transition], error) {
	var seq iter.Seq[Transition] = empty[Transition]

	err := e.store.View(ctx, func(tx Tx) error {
		d, err := tx.Document(ctx, documentID)
		if err != nil {
			return err
		}
		if d.State() == documents.Idle {
			return nil
		}

		c, err := tx.Circuit(ctx, *d.CircuitID)
		if err != nil {
			return err
		}
		seq = transitions(c, *d.CurrentStatusID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

func (e *engine) MoveToStatus(ctx context.Context, documentID, targetStatusID uuid.UUID, comment, actor string) (*MoveResult, error) {
	defer e.metrics.observe("move", time.Now())

	if targetStatusID == uuid.Nil {
		return nil, fmt.Errorf("%w: target status id is required", ErrInvalidRequest)
	}

	return e.move(ctx, documentID, func(c *circuits.Circuit, current uuid.UUID) (circuits.Step, error) {
		step, ok := c.Step(current, targetStatusID)
		if !ok {
			return circuits.Step{}, fmt.Errorf("%w: to %s", ErrNoSuchTransition, targetStatusID)
		}
		return step, nil
	}, comment, actor)
}

func (e *engine) MoveToNextStep(ctx context.Context, documentID uuid.UUID, comment, actor string) (*MoveResult, error) {
	defer e.metrics.observe("next", time.Now())

	return e.move(ctx, documentID, func(c *circuits.Circuit, current uuid.UUID) (circuits.Step, error) {
		steps := slices.Collect(c.Outgoing(current))
		switch len(steps) {
		case 0:
			return circuits.Step{}, fmt.Errorf("%w: no outgoing step", ErrNoSuchTransition)
		case 1:
			return steps[0], nil
		default:
			return circuits.Step{}, fmt.Errorf("%w: %d outgoing steps", ErrAmbiguousTransition, len(steps))
		}
	}, comment, actor)
}

// move resolves a step with pick and either commits it or opens its
// approval gate.
func (e *engine) move(
	ctx context.Context,
	documentID uuid.UUID,
	pick func(c *circuits.Circuit, current uuid.UUID) (circuits.Step, error),
	comment, actor string,
) (*MoveResult, error) {
	unlock, err := e.tryLock(documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result MoveResult
		req    *approvals.Request
		from   circuits.Status
		next   circuits.Status
	)

	err = e.store.Tx(ctx, func(tx Tx) error {
		result, req = MoveResult{}, nil
		now := e.now()

		d, err := tx.Document(ctx, documentID)
		if err != nil {
			return err
		}
		switch d.State() {
		case documents.Idle:
			return fmt.Errorf("%w: %s", ErrNotAssigned, documentID)
		case documents.PendingApproval:
			return fmt.Errorf("%w: awaiting approval %s", ErrTransitionInProgress, *d.PendingApprovalID)
		}

		c, err := tx.Circuit(ctx, *d.CircuitID)
		if err != nil {
			return err
		}

		var ok bool
		if from, ok = c.Status(*d.CurrentStatusID); !ok {
			return fmt.Errorf("%w: status %s not in circuit %s", ErrInconsistentState, *d.CurrentStatusID, c.ID)
		}
		if from.IsFinal {
			return fmt.Errorf("%w: %s is final", ErrNoSuchTransition, from.Title)
		}

		step, err := pick(c, from.ID)
		if err != nil {
			return err
		}
		next, _ = c.Status(step.NextStatusID)

		if !step.RequiresApproval {
			return complete(ctx, tx, d, step.ID, next.ID, actor, comment, now)
		}
		if step.Rule == nil {
			return fmt.Errorf("%w: gated step %s has no rule", ErrInconsistentState, step.ID)
		}

		req, err = e.gate(ctx, tx, d, step, actor, comment, now)
		if err != nil {
			return err
		}
		result.RequiresApproval = true
		result.ApprovalID = &req.ID
		result.AutoApproved = req.AutoApproved
		return nil
	})
	if err != nil {
		return nil, e.conflict(err)
	}

	switch {
	case req == nil:
		e.completed(documentID, from, next, actor)
	case req.AutoApproved:
		e.metrics.transitions.WithLabelValues(string(history.ApprovalRequested)).Inc()
		e.metrics.resolutions.WithLabelValues(string(req.Status)).Inc()
		e.logger.Warn("approval auto-approved, no eligible approvers",
			"document_id", documentID,
			"request_id", req.ID,
			"step_id", req.StepID,
		)
		e.completed(documentID, from, next, actor)
	default:
		e.metrics.transitions.WithLabelValues(string(history.ApprovalRequested)).Inc()
		e.logger.Info("approval requested",
			"document_id", documentID,
			"request_id", req.ID,
			"to", next.Title,
			"awaiting", req.Awaiting,
		)
	}

	if (req == nil || req.AutoApproved) && next.IsFinal {
		e.archive(ctx, documentID)
	}

	if result.Document, err = e.document(ctx, documentID); err != nil {
		return nil, err
	}
	return &result, nil
}

// gate opens the approval request for a gated step. The rule is snapshotted
// and restricted to approvers the directory still deems eligible; when none
// remain the request is accepted at once and the step commits.
func (e *engine) gate(
	ctx context.Context,
	tx Tx,
	d *documents.Document,
	step circuits.Step,
	actor, comment string,
	now time.Time,
) (*approvals.Request, error) {
	eligible, err := e.directory.Eligible(ctx, step.Rule.Approvers)
	if err != nil {
		return nil, fmt.Errorf("resolve approvers: %w", err)
	}
	snapshot := step.Rule.Restrict(func(id string) bool {
		return slices.Contains(eligible, id)
	})

	req := approvals.NewRequest(
		d.ID, step.CircuitID, step.ID,
		step.CurrentStatusID, step.NextStatusID,
		snapshot, actor, comment, now,
	)

	requested := approvalEvent(req, history.ApprovalRequested, actor, comment, now)

	if len(snapshot.Approvers) == 0 {
		if err := req.AutoApprove(now); err != nil {
			return nil, err
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return nil, err
		}
		if err := tx.RecordApprovalEvent(ctx, requested); err != nil {
			return nil, err
		}
		accepted := approvalEvent(req, history.Accepted, actor, "no eligible approvers", now)
		if err := tx.RecordApprovalEvent(ctx, accepted); err != nil {
			return nil, err
		}
		return req, complete(ctx, tx, d, step.ID, step.NextStatusID, actor, comment, now)
	}

	if err := tx.InsertRequest(ctx, req); err != nil {
		return nil, err
	}
	d.PendingApprovalID = &req.ID
	if err := tx.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	return req, tx.RecordApprovalEvent(ctx, requested)
}

func (e *engine) ReturnToPreviousStep(ctx context.Context, documentID uuid.UUID, comment, actor string) (*documents.Document, error) {
	defer e.metrics.observe("return", time.Now())

	unlock, err := e.tryLock(documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var from, to circuits.Status
	err = e.store.Tx(ctx, func(tx Tx) error {
		d, err := tx.Document(ctx, documentID)
		if err != nil {
			return err
		}
		switch d.State() {
		case documents.Idle:
			return fmt.Errorf("%w: %s", ErrNotAssigned, documentID)
		case documents.PendingApproval:
			return fmt.Errorf("%w: awaiting approval %s", ErrTransitionInProgress, *d.PendingApprovalID)
		}

		c, err := tx.Circuit(ctx, *d.CircuitID)
		if err != nil {
			return err
		}

		var ok bool
		if from, ok = c.Status(*d.CurrentStatusID); !ok {
			return fmt.Errorf("%w: status %s not in circuit %s", ErrInconsistentState, *d.CurrentStatusID, c.ID)
		}
		if from.IsFinal {
			return fmt.Errorf("%w: %s", ErrFinalStatus, from.Title)
		}

		entries, err := tx.History(ctx, d.ID)
		if err != nil {
			return err
		}
		prev, ok := history.Previous(entries, from.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoHistory, from.Title)
		}
		if to, ok = c.Status(*prev.FromStatusID); !ok {
			return fmt.Errorf("%w: status %s not in circuit %s", ErrInconsistentState, *prev.FromStatusID, c.ID)
		}

		d.CurrentStatusID = &to.ID
		if err := tx.UpdateDocument(ctx, d); err != nil {
			return err
		}

		return tx.RecordTransition(ctx, &history.Entry{
			DocumentID:     d.ID,
			CircuitID:      c.ID,
			FromStatusID:   &from.ID,
			ToStatusID:     &to.ID,
			StepID:         prev.StepID,
			RevertsEntryID: &prev.ID,
			ActorID:        actor,
			Comment:        comment,
			Outcome:        history.Returned,
			Timestamp:      e.now(),
		})
	})
	if err != nil {
		return nil, e.conflict(err)
	}

	e.metrics.transitions.WithLabelValues(string(history.Returned)).Inc()
	e.logger.Info("document returned",
		"document_id", documentID,
		"from", from.Title,
		"to", to.Title,
		"actor", actor,
	)

	return e.document(ctx, documentID)
}

func (e *engine) SubmitResponse(ctx context.Context, requestID uuid.UUID, approverID string, decision approvals.Decision, comment string) (*ResponseResult, error) {
	defer e.metrics.observe("respond", time.Now())

	documentID, unlock, err := e.lockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result ResponseResult
		final  bool
	)

	err = e.store.Tx(ctx, func(tx Tx) error {
		result, final = ResponseResult{}, false
		now := e.now()

		d, req, err := parked(ctx, tx, documentID, requestID)
		if err != nil {
			return err
		}

		verdict, err := req.Respond(approverID, decision, comment, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		result.Request = req

		if verdict == approvals.Pending {
			return tx.RecordApprovalEvent(ctx, approvalEvent(req, history.ApprovalResponse, approverID, comment, now))
		}

		result.Resolved = true
		result.Outcome = verdict

		if d.PendingApprovalID == nil || *d.PendingApprovalID != req.ID {
			return fmt.Errorf("%w: document %s is not parked on request %s", ErrInconsistentState, d.ID, req.ID)
		}

		if verdict == approvals.Rejected {
			d.PendingApprovalID = nil
			if err := tx.UpdateDocument(ctx, d); err != nil {
				return err
			}
			return tx.RecordApprovalEvent(ctx, approvalEvent(req, history.Rejected, approverID, comment, now))
		}

		if err := tx.RecordApprovalEvent(ctx, approvalEvent(req, history.Accepted, approverID, comment, now)); err != nil {
			return err
		}

		c, err := tx.Circuit(ctx, req.CircuitID)
		if err != nil {
			return err
		}
		if next, ok := c.Status(req.ToStatusID); ok {
			final = next.IsFinal
		}

		return complete(ctx, tx, d, req.StepID, req.ToStatusID, approverID, req.Comment, now)
	})
	if err != nil {
		return nil, e.conflict(err)
	}

	e.metrics.responses.WithLabelValues(string(decision)).Inc()

	req := result.Request
	if !result.Resolved {
		e.logger.Info("approval response recorded",
			"request_id", req.ID,
			"approver", approverID,
			"decision", decision,
			"awaiting", req.Awaiting,
		)
		return &result, nil
	}

	e.metrics.resolutions.WithLabelValues(string(req.Status)).Inc()
	e.logger.Info("approval resolved",
		"request_id", req.ID,
		"document_id", req.DocumentID,
		"outcome", result.Outcome,
		"approver", approverID,
	)

	if result.Outcome == approvals.Accepted {
		e.metrics.transitions.WithLabelValues(string(history.Completed)).Inc()
		if final {
			e.archive(ctx, req.DocumentID)
		}
	}
	return &result, nil
}

func (e *engine) WithdrawApproval(ctx context.Context, requestID uuid.UUID, actor, comment string) (*approvals.Request, error) {
	defer e.metrics.observe("withdraw", time.Now())

	documentID, unlock, err := e.lockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var req *approvals.Request
	err = e.store.Tx(ctx, func(tx Tx) error {
		now := e.now()

		d, r, err := parked(ctx, tx, documentID, requestID)
		if err != nil {
			return err
		}

		if !r.Open() {
			return fmt.Errorf("%w: request is %s", approvals.ErrRequestClosed, r.Status)
		}

		allowed, err := e.directory.CanWithdraw(ctx, actor, r)
		if err != nil {
			return fmt.Errorf("check withdrawal authority: %w", err)
		}
		if !allowed {
			return fmt.Errorf("%w: %q", ErrNotAuthorized, actor)
		}

		if d.PendingApprovalID == nil || *d.PendingApprovalID != r.ID {
			return fmt.Errorf("%w: document %s is not parked on request %s", ErrInconsistentState, d.ID, r.ID)
		}

		if err := r.Withdraw(now); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}

		d.PendingApprovalID = nil
		if err := tx.UpdateDocument(ctx, d); err != nil {
			return err
		}

		req = r
		return tx.RecordApprovalEvent(ctx, approvalEvent(r, history.Withdrawn, actor, comment, now))
	})
	if err != nil {
		return nil, e.conflict(err)
	}

	e.metrics.resolutions.WithLabelValues(string(req.Status)).Inc()
	e.logger.Info("approval withdrawn",
		"request_id", req.ID,
		"document_id", req.DocumentID,
		"actor", actor,
	)
	return req, nil
}

func (e *engine) Status(ctx context.Context, documentID uuid.UUID) (*Status, error) {
	var status *Status

	err := e.store.View(ctx, func(tx Tx) error {
		d, err := tx.Document(ctx, documentID)
		if err != nil {
			return err
		}
		s := &Status{Document: d, State: d.State()}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			entries, err := tx.History(gctx, d.ID)
			s.History = entries
			return err
		})

		if d.CircuitID != nil {
			g.Go(func() error {
				c, err := tx.Circuit(gctx, *d.CircuitID)
				if err != nil {
					return err
				}
				s.Circuit = c
				if current, ok := c.Status(*d.CurrentStatusID); ok {
					s.CurrentStatus = &current
					s.AvailableTransitions = slices.Collect(transitions(c, current.ID))
				}
				return nil
			})
		}

		if d.PendingApprovalID != nil {
			g.Go(func() error {
				req, err := tx.Request(gctx, *d.PendingApprovalID)
				s.PendingApproval = req
				return err
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if s.AvailableTransitions == nil {
			s.AvailableTransitions = []Transition{}
		}
		if s.History == nil {
			s.History = []history.Entry{}
		}
		status = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// complete moves d along stepID to the status to and records the
// completed entry. Any pending approval marker is cleared.
func complete(
	ctx context.Context,
	tx Tx,
	d *documents.Document,
	stepID, to uuid.UUID,
	actor, comment string,
	at time.Time,
) error {
	from := *d.CurrentStatusID

	d.CurrentStatusID = &to
	d.PendingApprovalID = nil
	if err := tx.UpdateDocument(ctx, d); err != nil {
		return err
	}

	return tx.RecordTransition(ctx, &history.Entry{
		DocumentID:   d.ID,
		CircuitID:    *d.CircuitID,
		FromStatusID: &from,
		ToStatusID:   &to,
		StepID:       &stepID,
		ActorID:      actor,
		Comment:      comment,
		Outcome:      history.Completed,
		Timestamp:    at,
	})
}

func approvalEvent(req *approvals.Request, outcome history.Outcome, actor, comment string, at time.Time) *history.Entry {
	return &history.Entry{
		DocumentID:        req.DocumentID,
		CircuitID:         req.CircuitID,
		FromStatusID:      &req.FromStatusID,
		ToStatusID:        &req.ToStatusID,
		StepID:            &req.StepID,
		ApprovalRequestID: &req.ID,
		ActorID:           actor,
		Comment:           comment,
		Outcome:           outcome,
		Timestamp:         at,
	}
}

func (e *engine) completed(documentID uuid.UUID, from, to circuits.Status, actor string) {
	e.metrics.transitions.WithLabelValues(string(history.Completed)).Inc()
	e.logger.Info("transition completed",
		"document_id", documentID,
		"from", from.Title,
		"to", to.Title,
		"actor", actor,
	)
}

// tryLock takes the document's in-process lock without waiting.
func (e *engine) tryLock(documentID uuid.UUID) (func(), error) {
	unlock, ok := e.locks.TryLock(documentID)
	if !ok {
		e.metrics.contention.Inc()
		return nil, fmt.Errorf("%w: %s", ErrTransitionInProgress, documentID)
	}
	return unlock, nil
}

// lockRequest waits for the lock of the document requestID belongs to.
func (e *engine) lockRequest(ctx context.Context, requestID uuid.UUID) (uuid.UUID, func(), error) {
	var documentID uuid.UUID
	err := e.store.View(ctx, func(tx Tx) error {
		req, err := tx.Request(ctx, requestID)
		if err != nil {
			return err
		}
		documentID = req.DocumentID
		return nil
	})
	if err != nil {
		return uuid.Nil, nil, err
	}

	unlock, err := e.locks.Lock(ctx, documentID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return documentID, unlock, nil
}

// parked loads the document before the request it is parked on, so two
// instances answering the same request serialize on the document row.
func parked(ctx context.Context, tx Tx, documentID, requestID uuid.UUID) (*documents.Document, *approvals.Request, error) {
	d, err := tx.Document(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	req, err := tx.Request(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.DocumentID != d.ID {
		return nil, nil, fmt.Errorf("%w: request %s belongs to document %s", ErrInconsistentState, req.ID, req.DocumentID)
	}
	return d, req, nil
}

// conflict reports lost cross-instance races as ErrTransitionInProgress.
func (e *engine) conflict(err error) error {
	switch {
	case errors.Is(err, ErrTransitionInProgress):
		e.metrics.contention.Inc()
		return err
	case errors.Is(err, documents.ErrVersionConflict),
		errors.Is(err, approvals.ErrOpenRequestExists):
		e.metrics.contention.Inc()
		return fmt.Errorf("%w: %w", ErrTransitionInProgress, err)
	}
	return err
}

func (e *engine) document(ctx context.Context, id uuid.UUID) (*documents.Document, error) {
	var d *documents.Document
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		d, err = tx.Document(ctx, id)
		return err
	})
	return d, err
}

// archive stores the document's history after it reaches a final status.
// Failures are logged and never surface to the caller.
func (e *engine) archive(ctx context.Context, documentID uuid.UUID) {
	if e.archiver == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if _, err := e.archiver.Archive(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			e.logger.Debug("history archive skipped, storage disabled", "document_id", documentID)
			return
		}
		e.logger.Warn("history archive failed", "document_id", documentID, "error", err)
		return
	}
	e.logger.Info("history archived", "document_id", documentID)
}
