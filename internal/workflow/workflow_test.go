package workflow_test

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/docflow/internal/approvals"
	"github.com/JaimeStill/docflow/internal/circuits"
	"github.com/JaimeStill/docflow/internal/config"
	"github.com/JaimeStill/docflow/internal/directory"
	"github.com/JaimeStill/docflow/internal/documents"
	"github.com/JaimeStill/docflow/internal/history"
	"github.com/JaimeStill/docflow/internal/workflow"
	"github.com/JaimeStill/docflow/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const review = `
title: Review
statuses:
  - title: Draft
    initial: true
  - title: Review
  - title: Approved
    final: true
  - title: Archived
    final: true
steps:
  - from: Draft
    to: Review
  - from: Review
    to: Approved
    rule: %s
  - from: Review
    to: Archived
activate: true
`

type fakeArchiver struct {
	mu       sync.Mutex
	archived []uuid.UUID
	err      error
}

func (f *fakeArchiver) Archive(_ context.Context, id uuid.UUID) (*history.Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.archived = append(f.archived, id)
	return &history.Archive{DocumentID: id, ArchivedAt: time.Now()}, nil
}

type env struct {
	sys      workflow.System
	store    *memStore
	circuit  *circuits.Circuit
	doc      uuid.UUID
	archiver *fakeArchiver
	registry *prometheus.Registry
}

func setup(t *testing.T, rule string, dir config.DirectoryConfig) *env {
	t.Helper()

	def, err := circuits.ParseDefinition(strings.NewReader(fmt.Sprintf(review, rule)))
	require.NoError(t, err)
	c, err := def.Build(time.Now())
	require.NoError(t, err)

	store := newMemStore()
	store.addCircuit(c)

	e := &env{
		store:    store,
		circuit:  c,
		doc:      store.addDocument("7"),
		archiver: &fakeArchiver{},
		registry: prometheus.NewRegistry(),
	}
	e.sys = workflow.New(&workflow.Runtime{
		Store:     store,
		Directory: directory.New(&dir, discard),
		Archiver:  e.archiver,
		Metrics:   workflow.NewMetrics(e.registry),
		Logger:    discard,
	})
	return e
}

func (e *env) status(t *testing.T, title string) uuid.UUID {
	t.Helper()
	for _, s := range e.circuit.Statuses {
		if s.Title == title {
			return s.ID
		}
	}
	t.Fatalf("no status %q", title)
	return uuid.Nil
}

func (e *env) current(t *testing.T) string {
	t.Helper()
	d := e.store.document(e.doc)
	if d.CurrentStatusID == nil {
		return ""
	}
	s, ok := e.circuit.Status(*d.CurrentStatusID)
	require.True(t, ok)
	return s.Title
}

// atReview assigns the document and moves it from Draft to Review.
func (e *env) atReview(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
	require.NoError(t, err)
	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.NoError(t, err)
}

// gate moves a document at Review toward Approved and returns the request id.
func (e *env) gate(t *testing.T) uuid.UUID {
	t.Helper()
	res, err := e.sys.MoveToStatus(context.Background(), e.doc, e.status(t, "Approved"), "ready", "author")
	require.NoError(t, err)
	require.True(t, res.RequiresApproval)
	require.NotNil(t, res.ApprovalID)
	require.False(t, res.AutoApproved)
	return *res.ApprovalID
}

const single42 = `{kind: single, approvers: ["42"]}`

func TestScenarioSingleApprove(t *testing.T) {
	e := setup(t, single42, config.DirectoryConfig{})
	ctx := context.Background()

	d, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "start")
	require.NoError(t, err)
	assert.Equal(t, e.status(t, "Draft"), *d.CurrentStatusID)
	assert.Equal(t, documents.Active, d.State())

	res, err := e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.NoError(t, err)
	assert.False(t, res.RequiresApproval)
	assert.Nil(t, res.ApprovalID)
	assert.Equal(t, "Review", e.current(t))

	id := e.gate(t)
	assert.Equal(t, "Review", e.current(t))
	assert.Equal(t, documents.PendingApproval, e.store.document(e.doc).State())

	out, err := e.sys.SubmitResponse(ctx, id, "42", approvals.Approve, "lgtm")
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, approvals.Accepted, out.Outcome)
	assert.Equal(t, approvals.StatusAccepted, out.Request.Status)

	assert.Equal(t, "Approved", e.current(t))
	assert.Nil(t, e.store.document(e.doc).PendingApprovalID)
	assert.Equal(t, []uuid.UUID{e.doc}, e.archiver.archived)

	assert.Equal(t, []history.Outcome{
		history.Assigned,
		history.Completed,
		history.ApprovalRequested,
		history.Accepted,
		history.Completed,
	}, e.store.outcomes(e.doc))
}

func TestScenarioSingleReject(t *testing.T) {
	e := setup(t, single42, config.DirectoryConfig{})
	ctx := context.Background()
	e.atReview(t)
	id := e.gate(t)

	out, err := e.sys.SubmitResponse(ctx, id, "42", approvals.Reject, "not yet")
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, approvals.Rejected, out.Outcome)

	d := e.store.document(e.doc)
	assert.Equal(t, "Review", e.current(t))
	assert.Equal(t, documents.Active, d.State())
	assert.Contains(t, e.store.outcomes(e.doc), history.Rejected)
	assert.Empty(t, e.archiver.archived)

	t.Run("gate reopens", func(t *testing.T) {
		next := e.gate(t)
		assert.NotEqual(t, id, next)
	})
}

func TestScenarioAnyGroup(t *testing.T) {
	e := setup(t, `{kind: group, type: any, approvers: ["1", "2", "3"]}`, config.DirectoryConfig{})
	e.atReview(t)
	id := e.gate(t)

	out, err := e.sys.SubmitResponse(context.Background(), id, "1", approvals.Approve, "")
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, approvals.Accepted, out.Outcome)
	assert.Equal(t, "Approved", e.current(t))
}

func TestScenarioSequentialGroup(t *testing.T) {
	e := setup(t, `{kind: group, type: sequential, approvers: ["1", "2", "3"]}`, config.DirectoryConfig{})
	ctx := context.Background()
	e.atReview(t)
	id := e.gate(t)

	_, err := e.sys.SubmitResponse(ctx, id, "2", approvals.Approve, "")
	require.ErrorIs(t, err, approvals.ErrNotYourTurn)
	assert.Empty(t, e.store.request(id).Responses)

	out, err := e.sys.SubmitResponse(ctx, id, "1", approvals.Approve, "")
	require.NoError(t, err)
	assert.False(t, out.Resolved)
	assert.Empty(t, out.Outcome)
	assert.Equal(t, []string{"2"}, out.Request.Awaiting)
	assert.Equal(t, history.ApprovalResponse, e.store.outcomes(e.doc)[len(e.store.outcomes(e.doc))-1])
	assert.Equal(t, "Review", e.current(t))

	_, err = e.sys.SubmitResponse(ctx, id, "1", approvals.Approve, "")
	assert.ErrorIs(t, err, approvals.ErrAlreadyResponded)

	_, err = e.sys.SubmitResponse(ctx, id, "2", approvals.Reject, "")
	require.NoError(t, err)
	assert.Equal(t, "Review", e.current(t))

	_, err = e.sys.SubmitResponse(ctx, id, "3", approvals.Approve, "")
	assert.ErrorIs(t, err, approvals.ErrRequestClosed)
}

func TestScenarioConcurrentMoves(t *testing.T) {
	e := setup(t, single42, config.DirectoryConfig{})
	ctx := context.Background()

	_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.store.mu.Lock()
	e.store.pause = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	e.store.mu.Unlock()

	target := e.status(t, "Review")
	done := make(chan error, 1)
	go func() {
		_, err := e.sys.MoveToStatus(ctx, e.doc, target, "", "first")
		done <- err
	}()

	<-entered
	_, err = e.sys.MoveToStatus(ctx, e.doc, target, "", "second")
	require.ErrorIs(t, err, workflow.ErrTransitionInProgress)
	assert.Equal(t, 409, workflow.MapHTTPStatus(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "Review", e.current(t))

	expected := `
# HELP docflow_workflow_transition_conflicts_total Transition attempts refused because another was in progress.
# TYPE docflow_workflow_transition_conflicts_total counter
docflow_workflow_transition_conflicts_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected),
		"docflow_workflow_transition_conflicts_total",
	))
}

func TestMoveWhilePending(t *testing.T) {
	e := setup(t, single42, config.DirectoryConfig{})
	ctx := context.Background()
	e.atReview(t)
	e.gate(t)

	_, err := e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Archived"), "", "author")
	assert.ErrorIs(t, err, workflow.ErrTransitionInProgress)

	_, err = e.sys.ReturnToPreviousStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrTransitionInProgress)
}

func TestAvailableTransitions(t *testing.T) {
	e := setup(t, single42, config.DirectoryConfig{})
	ctx := context.Background()

	titles := func(seq iter.Seq[workflow.Transition]) []string {
		var out []string
		for tr := range seq {
			out = append(out, tr.NextStatusTitle)
		}
		slices.Sort(out)
		return out
	}

	seq, err := e.sys.AvailableTransitions(ctx, e.doc)
	require.NoError(t, err)
	assert.Empty(t, titles(seq), "idle documents offer nothing")

	e.atReview(t)
	seq, err = e.sys.AvailableTransitions(ctx, e.doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Approved", "Archived"}, titles(seq))
	assert.Equal(t, titles(seq), titles(seq), "sequence is restartable")

	for tr := range seq {
		if tr.NextStatusTitle == "Approved" {
			assert.True(t, tr.RequiresApproval)
			require.NotNil(t, tr.Rule)
			assert.Equal(t, approvals.KindSingle, tr.Rule.Kind)
		}
	}

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Archived"), "", "author")
	require.NoError(t, err)
	seq, err = e.sys.AvailableTransitions(ctx, e.doc)
	require.NoError(t, err)
	assert.Empty(t, titles(seq), "final statuses offer nothing")

	_, err = e.sys.AvailableTransitions(ctx, uuid.New())
	assert.ErrorIs(t, err, documents.ErrNotFound)
}

func TestAssignCircuit(t *testing.T) {
	ctx := context.Background()

	t.Run("twice", func(t *testing.T) {
		e := setup(t, single42, config.DirectoryConfig{})
		_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
		require.NoError(t, err)
		_, err = e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
		assert.ErrorIs(t, err, workflow.ErrAlreadyAssigned)
	})

	t.Run("inactive circuit", func(t *testing.T) {
		e := setup(t, single42, config.DirectoryConfig{})
		e.circuit.IsActive = false
		_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
		assert.ErrorIs(t, err, circuits.ErrCircuitInactive)
		assert.Equal(t, documents.Idle, e.store.document(e.doc).State())
	})

	t.Run("unknown circuit", func(t *testing.T) {
		e := setup(t, single42, config.DirectoryConfig{})
		_, err := e.sys.AssignCircuit(ctx, e.doc, uuid.New(), "author", "")
		assert.ErrorIs(t, err, circuits.ErrNotFound)
	})

	t.Run("history entry", func(t *testing.T) {
		e := setup(t, single42, config.DirectoryConfig{})
		_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "go")
		require.NoError(t, err)

		s, err := e.sys.Status(ctx, e.doc)
		require.NoError(t, err)
		require.Len(t, s.History, 1)
		assert.Equal(t, history.Assigned, s.History[0].Outcome)
		assert.Nil(t, s.History[0].FromStatusID)
		assert.Equal(t, "author", s.History[0].ActorID)
	})
}

func TestMoveErrors(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})

	_, err := e.sys.MoveToNextStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrNotAssigned)

	_, err = e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
	require.NoError(t, err)

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Approved"), "", "author")
	assert.ErrorIs(t, err, workflow.ErrNoSuchTransition)

	_, err = e.sys.MoveToStatus(ctx, e.doc, uuid.Nil, "", "author")
	assert.ErrorIs(t, err, workflow.ErrInvalidRequest)
	assert.Equal(t, 400, workflow.MapHTTPStatus(err))

	res, err := e.sys.MoveToNextStep(ctx, e.doc, "", "author")
	require.NoError(t, err)
	assert.Equal(t, e.status(t, "Review"), *res.Document.CurrentStatusID)

	_, err = e.sys.MoveToNextStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrAmbiguousTransition)

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Archived"), "", "author")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.doc}, e.archiver.archived)

	_, err = e.sys.MoveToNextStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrNoSuchTransition)

	_, err = e.sys.ReturnToPreviousStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrFinalStatus)
}

func TestReturnToPreviousStep(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})

	_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
	require.NoError(t, err)

	_, err = e.sys.ReturnToPreviousStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrNoHistory, "assignment is not a completed step")

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.NoError(t, err)

	d, err := e.sys.ReturnToPreviousStep(ctx, e.doc, "needs work", "editor")
	require.NoError(t, err)
	assert.Equal(t, e.status(t, "Draft"), *d.CurrentStatusID)

	s, err := e.sys.Status(ctx, e.doc)
	require.NoError(t, err)
	last := s.History[len(s.History)-1]
	assert.Equal(t, history.Returned, last.Outcome)
	require.NotNil(t, last.RevertsEntryID)
	assert.Equal(t, s.History[1].ID, *last.RevertsEntryID)

	_, err = e.sys.ReturnToPreviousStep(ctx, e.doc, "", "author")
	assert.ErrorIs(t, err, workflow.ErrNoHistory, "the only completed step was reverted")

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.NoError(t, err)
	_, err = e.sys.ReturnToPreviousStep(ctx, e.doc, "", "author")
	require.NoError(t, err)
	assert.Equal(t, "Draft", e.current(t))
}

func TestAutoApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("no eligible approver", func(t *testing.T) {
		e := setup(t, `{kind: group, type: all, approvers: ["1", "2"]}`, config.DirectoryConfig{Approvers: []string{"99"}})
		e.atReview(t)

		res, err := e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Approved"), "", "author")
		require.NoError(t, err)
		assert.True(t, res.RequiresApproval)
		assert.True(t, res.AutoApproved)
		require.NotNil(t, res.ApprovalID)

		req := e.store.request(*res.ApprovalID)
		assert.Equal(t, approvals.StatusAccepted, req.Status)
		assert.True(t, req.AutoApproved)
		assert.Empty(t, req.Rule.Approvers)

		assert.Equal(t, "Approved", e.current(t))
		assert.Nil(t, res.Document.PendingApprovalID)
		assert.Equal(t, []uuid.UUID{e.doc}, e.archiver.archived)
	})

	t.Run("snapshot restricted", func(t *testing.T) {
		e := setup(t, `{kind: group, type: all, approvers: ["1", "2"]}`, config.DirectoryConfig{Approvers: []string{"2"}})
		e.atReview(t)
		id := e.gate(t)

		assert.Equal(t, []string{"2"}, e.store.request(id).Rule.Approvers)

		_, err := e.sys.SubmitResponse(ctx, id, "1", approvals.Approve, "")
		assert.ErrorIs(t, err, approvals.ErrNotAnApprover)

		out, err := e.sys.SubmitResponse(ctx, id, "2", approvals.Approve, "")
		require.NoError(t, err)
		assert.True(t, out.Resolved)
	})
}

func TestWithdrawApproval(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{Administrators: []string{"admin"}})
	e.atReview(t)
	id := e.gate(t)

	_, err := e.sys.WithdrawApproval(ctx, id, "stranger", "")
	require.ErrorIs(t, err, workflow.ErrNotAuthorized)
	assert.Equal(t, 403, workflow.MapHTTPStatus(err))

	req, err := e.sys.WithdrawApproval(ctx, id, "author", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusWithdrawn, req.Status)

	d := e.store.document(e.doc)
	assert.Equal(t, documents.Active, d.State())
	assert.Equal(t, "Review", e.current(t))
	assert.Equal(t, history.Withdrawn, e.store.outcomes(e.doc)[len(e.store.outcomes(e.doc))-1])

	_, err = e.sys.WithdrawApproval(ctx, id, "admin", "")
	assert.ErrorIs(t, err, approvals.ErrRequestClosed)

	_, err = e.sys.SubmitResponse(ctx, id, "42", approvals.Approve, "")
	assert.ErrorIs(t, err, approvals.ErrRequestClosed)

	_, err = e.sys.WithdrawApproval(ctx, uuid.New(), "admin", "")
	assert.ErrorIs(t, err, approvals.ErrNotFound)
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})

	_, err := e.sys.AssignCircuit(ctx, e.doc, e.circuit.ID, "author", "")
	require.NoError(t, err)
	before := e.store.outcomes(e.doc)

	e.store.mu.Lock()
	e.store.conflict = true
	e.store.mu.Unlock()

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.ErrorIs(t, err, workflow.ErrTransitionInProgress)
	assert.ErrorIs(t, err, documents.ErrVersionConflict)

	assert.Equal(t, "Draft", e.current(t))
	assert.Equal(t, before, e.store.outcomes(e.doc))

	_, err = e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Review"), "", "author")
	require.NoError(t, err)
}

func TestArchiveFailureIgnored(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})
	e.archiver.err = storage.ErrDisabled
	e.atReview(t)

	res, err := e.sys.MoveToStatus(ctx, e.doc, e.status(t, "Archived"), "", "author")
	require.NoError(t, err)
	assert.Equal(t, e.status(t, "Archived"), *res.Document.CurrentStatusID)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})

	s, err := e.sys.Status(ctx, e.doc)
	require.NoError(t, err)
	assert.Equal(t, documents.Idle, s.State)
	assert.Nil(t, s.CurrentStatus)
	assert.Empty(t, s.AvailableTransitions)
	assert.NotNil(t, s.History)

	e.atReview(t)
	id := e.gate(t)

	s, err = e.sys.Status(ctx, e.doc)
	require.NoError(t, err)
	assert.Equal(t, documents.PendingApproval, s.State)
	require.NotNil(t, s.CurrentStatus)
	assert.Equal(t, "Review", s.CurrentStatus.Title)
	assert.Len(t, s.AvailableTransitions, 2)
	require.NotNil(t, s.PendingApproval)
	assert.Equal(t, id, s.PendingApproval.ID)
	assert.Equal(t, []string{"42"}, s.PendingApproval.Awaiting)
	assert.Len(t, s.History, 3)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	e := setup(t, single42, config.DirectoryConfig{})
	e.atReview(t)
	id := e.gate(t)

	_, err := e.sys.SubmitResponse(ctx, id, "42", approvals.Approve, "")
	require.NoError(t, err)

	expected := `
# HELP docflow_workflow_transitions_total Committed document transitions by outcome.
# TYPE docflow_workflow_transitions_total counter
docflow_workflow_transitions_total{outcome="approval_requested"} 1
docflow_workflow_transitions_total{outcome="assigned"} 1
docflow_workflow_transitions_total{outcome="completed"} 2
# HELP docflow_workflow_approval_resolutions_total Approval requests closed by final status.
# TYPE docflow_workflow_approval_resolutions_total counter
docflow_workflow_approval_resolutions_total{status="accepted"} 1
`
	err = testutil.GatherAndCompare(e.registry, strings.NewReader(expected),
		"docflow_workflow_transitions_total",
		"docflow_workflow_approval_resolutions_total",
	)
	assert.NoError(t, err)
}

func TestResponseReadsDocumentFirst(t *testing.T) {
	e := setup(t, `{kind: group, type: all, approvers: ["1", "2"]}`, config.DirectoryConfig{})
	ctx := context.Background()
	e.atReview(t)
	id := e.gate(t)

	reset := func() {
		e.store.mu.Lock()
		e.store.trace = nil
		e.store.mu.Unlock()
	}

	reset()
	res, err := e.sys.SubmitResponse(ctx, id, "1", approvals.Approve, "")
	require.NoError(t, err)
	require.False(t, res.Resolved)
	assert.Equal(t, []string{"document", "request"}, e.store.reads())

	reset()
	_, err = e.sys.WithdrawApproval(ctx, id, "author", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"document", "request"}, e.store.reads())
}
