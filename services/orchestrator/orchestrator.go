// Package orchestrator sequences the ledger calls behind each campaign action,
// serialises attempts per campaign and actor, and re-reads the campaign once
// the ledger has confirmed a mutation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
	"crowdfund/core/registry"
	"crowdfund/observability"
)

var (
	// ErrAttemptInFlight is returned when an attempt for the same campaign and
	// actor has not reached a terminal state yet. No ledger call is made.
	ErrAttemptInFlight = errors.New("orchestrator: attempt already in flight")
	// ErrActionNotPermitted is returned when the current campaign state predicts
	// the ledger would refuse the action. Nothing is submitted.
	ErrActionNotPermitted = errors.New("orchestrator: action not permitted")
	// ErrNoSession is returned for mutating attempts without a signing session.
	ErrNoSession = errors.New("orchestrator: no signing session")
)

// Phase is the step an attempt is executing.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseChecking    Phase = "checking_allowance"
	PhaseApproving   Phase = "approving"
	PhaseDonating    Phase = "donating"
	PhaseWithdrawing Phase = "withdrawing"
	PhaseCancelling  Phase = "cancelling"
	PhaseRefunding   Phase = "refunding"
	PhaseCreating    Phase = "creating"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// Stage distinguishes handing a call to the ledger from waiting on its
// confirmation within a submitting phase.
type Stage string

const (
	StageNone                 Stage = ""
	StageSubmitting           Stage = "submitting"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
)

// Session is the signing identity attempts are submitted under.
type Session interface {
	ledger.Signer
	ChainID() (uint64, bool)
}

// Key identifies the busy flag an attempt holds. For campaign creation the
// target is the factory.
type Key struct {
	Target common.Address
	Actor  common.Address
}

// Status is a point-in-time description of an attempt.
type Status struct {
	AttemptID string
	Action    campaign.Action
	Phase     Phase
	Stage     Stage
	Err       error
	TxHashes  []common.Hash
}

// Result describes a finished attempt.
type Result struct {
	AttemptID string
	Action    campaign.Action
	Target    common.Address
	TxHashes  []common.Hash
	// View is the campaign as re-read after success. It is nil on failure, for
	// campaign creation, and when the re-read itself failed.
	View       *campaign.View
	RefreshErr error
}

// Observer is notified on every status transition.
type Observer func(key Key, status Status)

// RefreshFunc is invoked after a confirmed mutation of target.
type RefreshFunc func(ctx context.Context, target common.Address) error

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.OrchestratorMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock sets the function used to project campaigns and stamp attempts.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.now = clock }
}

// WithJournal records finished attempts.
func WithJournal(j *Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver registers a status listener. Observers run synchronously on the
// attempt's goroutine.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithRefresh registers a hook run after every confirmed mutation.
func WithRefresh(fn RefreshFunc) Option {
	return func(o *Orchestrator) { o.refresh = fn }
}

// WithRegistry sets where factory addresses are looked up for campaign creation.
func WithRegistry(r registry.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// Orchestrator runs transaction attempts against the ledger.
type Orchestrator struct {
	ledger    ledger.Ledger
	session   Session
	registry  registry.Registry
	logger    *slog.Logger
	metrics   *observability.OrchestratorMetrics
	journal   *Journal
	observers []Observer
	refresh   RefreshFunc
	now       func() time.Time
	tracer    trace.Tracer

	mu       sync.Mutex
	inFlight map[Key]Status
}

// New constructs an orchestrator submitting through l on behalf of session.
func New(l ledger.Ledger, session Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:   l,
		session:  session,
		registry: registry.Defaults(),
		now:      time.Now,
		tracer:   otel.Tracer("crowdfund/services/orchestrator"),
		inFlight: make(map[Key]Status),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.Orchestrator()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Status returns the state of the attempt holding key, if any.
func (o *Orchestrator) Status(key Key) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.inFlight[key]
	if !ok {
		return Status{Phase: PhaseIdle}, false
	}
	st.TxHashes = append([]common.Hash(nil), st.TxHashes...)
	return st, true
}

// Donate parses text with the amount codec and donates it to target.
func (o *Orchestrator) Donate(ctx context.Context, target common.Address, text string) (Result, error) {
	value, err := amount.Parse(text)
	if err != nil {
		o.metrics.RecordRejection(string(campaign.ActionDonate), string(ledger.KindInvalidAmount))
		return Result{}, ledger.NewError(ledger.KindInvalidAmount, fmt.Sprintf("%q is not a valid amount", text), err)
	}
	return o.DonateAmount(ctx, target, value)
}

// DonateAmount donates value to target. When the allowance granted to the
// campaign is below value an approval for exactly value is confirmed first.
func (o *Orchestrator) DonateAmount(ctx context.Context, target common.Address, value amount.Amount) (Result, error) {
	if value.IsZero() {
		o.metrics.RecordRejection(string(campaign.ActionDonate), string(ledger.KindInvalidAmount))
		return Result{}, ledger.NewError(ledger.KindInvalidAmount, "donation must be greater than zero", amount.ErrInvalidAmount)
	}
	return o.run(ctx, plan{
		action: campaign.ActionDonate,
		target: target,
		value:  value,
		gated:  true,
		steps: func(ctx context.Context, a *attempt) error {
			o.enter(a, PhaseChecking, StageNone)
			allowance, err := o.ledger.Allowance(ctx, a.snapshot.Token, a.key.Actor, a.key.Target)
			if err != nil {
				return err
			}
			if allowance.Less(value) {
				err := o.submit(ctx, a, PhaseApproving, func(ctx context.Context) (ledger.PendingTx, error) {
					return o.ledger.Approve(ctx, o.session, a.snapshot.Token, a.key.Target, value)
				})
				if err != nil {
					return err
				}
			}
			return o.submit(ctx, a, PhaseDonating, func(ctx context.Context) (ledger.PendingTx, error) {
				return o.ledger.Donate(ctx, o.session, a.key.Target, value)
			})
		},
	})
}

// Withdraw transfers the raised funds, net of fees, to the creator.
func (o *Orchestrator) Withdraw(ctx context.Context, target common.Address) (Result, error) {
	return o.single(ctx, campaign.ActionWithdraw, PhaseWithdrawing, target, o.ledger.Withdraw)
}

// Cancel closes the campaign so donors can claim refunds.
func (o *Orchestrator) Cancel(ctx context.Context, target common.Address) (Result, error) {
	return o.single(ctx, campaign.ActionCancel, PhaseCancelling, target, o.ledger.Cancel)
}

// ClaimRefund returns the actor's donation from a cancelled or failed campaign.
func (o *Orchestrator) ClaimRefund(ctx context.Context, target common.Address) (Result, error) {
	return o.single(ctx, campaign.ActionRefund, PhaseRefunding, target, o.ledger.ClaimRefund)
}

// CreateRequest carries the unvalidated fields of a new campaign.
type CreateRequest struct {
	Name        string
	Description string
	Goal        string
	Deadline    time.Time
}

// Create validates req and submits it to the factory deployed on the session's
// chain. The busy flag is keyed by the factory address.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (Result, error) {
	draft, err := campaign.NewDraft(req.Name, req.Description, req.Goal, req.Deadline, o.now())
	if err != nil {
		kind := ledger.KindInvalidAmount
		if errors.Is(err, campaign.ErrInvalidDraft) {
			kind = "invalid_draft"
		}
		o.metrics.RecordRejection(string(campaign.ActionCreate), string(kind))
		return Result{}, err
	}
	chainID, ok := o.session.ChainID()
	if !ok {
		o.metrics.RecordRejection(string(campaign.ActionCreate), "no_session")
		return Result{}, ErrNoSession
	}
	deployment, err := registry.Require(o.registry, chainID)
	if err != nil {
		o.metrics.RecordRejection(string(campaign.ActionCreate), string(ledger.KindConfigurationMissing))
		return Result{}, err
	}
	return o.run(ctx, plan{
		action: campaign.ActionCreate,
		target: deployment.Factory,
		steps: func(ctx context.Context, a *attempt) error {
			return o.submit(ctx, a, PhaseCreating, func(ctx context.Context) (ledger.PendingTx, error) {
				return o.ledger.CreateFundraiser(ctx, o.session, deployment.Factory, draft)
			})
		},
	})
}

type submitFunc func(ctx context.Context, signer ledger.Signer, target common.Address) (ledger.PendingTx, error)

func (o *Orchestrator) single(ctx context.Context, action campaign.Action, phase Phase, target common.Address, call submitFunc) (Result, error) {
	return o.run(ctx, plan{
		action: action,
		target: target,
		gated:  true,
		steps: func(ctx context.Context, a *attempt) error {
			return o.submit(ctx, a, phase, func(ctx context.Context) (ledger.PendingTx, error) {
				return call(ctx, o.session, a.key.Target)
			})
		},
	})
}

type plan struct {
	action campaign.Action
	target common.Address
	value  amount.Amount
	// gated attempts read the campaign first and are refused when the
	// permission evaluator predicts the ledger would reject them.
	gated bool
	steps func(ctx context.Context, a *attempt) error
}

type attempt struct {
	id       string
	key      Key
	action   campaign.Action
	started  time.Time
	snapshot campaign.Snapshot
	status   Status
}

func (o *Orchestrator) run(ctx context.Context, p plan) (Result, error) {
	actor, ok := o.session.Account()
	if !ok {
		o.metrics.RecordRejection(string(p.action), "no_session")
		return Result{}, ErrNoSession
	}
	key := Key{Target: p.target, Actor: actor}
	a := &attempt{
		id:      uuid.NewString(),
		key:     key,
		action:  p.action,
		started: o.now(),
	}
	a.status = Status{AttemptID: a.id, Action: p.action, Phase: PhaseIdle}
	if !o.acquire(key, a.status) {
		o.metrics.RecordRejection(string(p.action), "in_flight")
		return Result{}, fmt.Errorf("%w: %s on %s", ErrAttemptInFlight, p.action, p.target.Hex())
	}
	defer o.release(key)

	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(p.action), trace.WithAttributes(
		attribute.String("attempt.id", a.id),
		attribute.String("campaign", p.target.Hex()),
		attribute.String("actor", actor.Hex()),
	))
	defer span.End()

	logger := o.logger.With(
		slog.String("attempt", a.id),
		slog.String("action", string(p.action)),
		slog.String("campaign", p.target.Hex()),
		slog.String("actor", actor.Hex()),
	)

	if p.gated {
		if err := o.precheck(ctx, a); err != nil {
			if errors.Is(err, ErrActionNotPermitted) {
				o.metrics.RecordRejection(string(p.action), "not_permitted")
				logger.Info("attempt refused locally", slog.Any("error", err))
				span.SetStatus(codes.Error, "not permitted")
				o.enter(a, PhaseIdle, StageNone)
				return Result{AttemptID: a.id, Action: p.action, Target: p.target}, err
			}
			return o.fail(span, logger, a, p, err)
		}
	}

	if err := p.steps(ctx, a); err != nil {
		return o.fail(span, logger, a, p, err)
	}
	return o.succeed(ctx, span, logger, a, p)
}

func (o *Orchestrator) precheck(ctx context.Context, a *attempt) error {
	snapshot, err := o.ledger.Snapshot(ctx, a.key.Target)
	if err != nil {
		return err
	}
	donation, err := o.ledger.Donation(ctx, a.key.Target, a.key.Actor)
	if err != nil {
		return err
	}
	a.snapshot = snapshot
	view := campaign.Project(snapshot, o.now())
	actor := a.key.Actor
	if !campaign.Permissions(view, &actor, donation).Allows(a.action) {
		return fmt.Errorf("%w: %s while campaign is %s", ErrActionNotPermitted, a.action, view.Status)
	}
	return nil
}

// submit hands one call to the ledger and blocks until it is confirmed.
func (o *Orchestrator) submit(ctx context.Context, a *attempt, phase Phase, call func(ctx context.Context) (ledger.PendingTx, error)) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.phase."+string(phase))
	defer span.End()

	o.enter(a, phase, StageSubmitting)
	pending, err := call(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	hash := pending.Hash()
	span.SetAttributes(attribute.String("tx.hash", hash.Hex()))
	a.status.TxHashes = append(a.status.TxHashes, hash)
	o.enter(a, phase, StageAwaitingConfirmation)
	if err := pending.Wait(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (o *Orchestrator) fail(span trace.Span, logger *slog.Logger, a *attempt, p plan, err error) (Result, error) {
	kind := ledger.Classify(err)
	reason := ledger.Reason(err)
	a.status.Err = err
	o.enter(a, PhaseFailed, StageNone)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	o.metrics.RecordAttempt(string(p.action), string(PhaseFailed))
	o.metrics.ObserveDuration(string(p.action), o.now().Sub(a.started))
	if kind == ledger.KindUserDeclined {
		logger.Info("attempt declined", slog.String("reason", reason))
	} else {
		logger.Warn("attempt failed", slog.String("kind", string(kind)), slog.String("reason", reason))
	}
	o.record(logger, a, p, OutcomeFailed, err)

	a.status.Err = nil
	o.enter(a, PhaseIdle, StageNone)
	return Result{
		AttemptID: a.id,
		Action:    p.action,
		Target:    p.target,
		TxHashes:  append([]common.Hash(nil), a.status.TxHashes...),
	}, err
}

func (o *Orchestrator) succeed(ctx context.Context, span trace.Span, logger *slog.Logger, a *attempt, p plan) (Result, error) {
	o.enter(a, PhaseSucceeded, StageNone)
	o.metrics.RecordAttempt(string(p.action), string(PhaseSucceeded))
	o.metrics.ObserveDuration(string(p.action), o.now().Sub(a.started))
	span.SetStatus(codes.Ok, "")

	result := Result{
		AttemptID: a.id,
		Action:    p.action,
		Target:    p.target,
		TxHashes:  append([]common.Hash(nil), a.status.TxHashes...),
	}
	if p.action != campaign.ActionCreate {
		snapshot, err := o.ledger.Snapshot(ctx, p.target)
		if err != nil {
			result.RefreshErr = err
		} else {
			view := campaign.Project(snapshot, o.now())
			result.View = &view
		}
	}
	if o.refresh != nil {
		if err := o.refresh(ctx, p.target); err != nil {
			result.RefreshErr = errors.Join(result.RefreshErr, err)
		}
	}
	if result.RefreshErr != nil {
		logger.Warn("refresh after confirmed attempt failed", slog.Any("error", result.RefreshErr))
	}
	logger.Info("attempt confirmed", slog.Int("transactions", len(result.TxHashes)))
	o.record(logger, a, p, OutcomeSucceeded, nil)

	o.enter(a, PhaseIdle, StageNone)
	return result, nil
}

func (o *Orchestrator) record(logger *slog.Logger, a *attempt, p plan, outcome Outcome, err error) {
	if o.journal == nil {
		return
	}
	entry := Entry{
		ID:         a.id,
		Action:     p.action,
		Target:     p.target.Hex(),
		Actor:      a.key.Actor.Hex(),
		Outcome:    outcome,
		StartedAt:  a.started.UTC(),
		FinishedAt: o.now().UTC(),
	}
	if !p.value.IsZero() {
		entry.Amount = p.value.String()
	}
	for _, hash := range a.status.TxHashes {
		entry.TxHashes = append(entry.TxHashes, hash.Hex())
	}
	if err != nil {
		entry.Kind = string(ledger.Classify(err))
		entry.Reason = ledger.Reason(err)
	}
	if jerr := o.journal.Record(entry); jerr != nil {
		logger.Error("journal attempt", slog.Any("error", jerr))
	}
}

// enter moves a to phase/stage, publishes the status and notifies observers.
func (o *Orchestrator) enter(a *attempt, phase Phase, stage Stage) {
	a.status.Phase = phase
	a.status.Stage = stage
	snapshot := a.status
	snapshot.TxHashes = append([]common.Hash(nil), a.status.TxHashes...)

	o.mu.Lock()
	if _, ok := o.inFlight[a.key]; ok {
		o.inFlight[a.key] = snapshot
	}
	o.mu.Unlock()

	if phase != PhaseIdle {
		o.metrics.RecordPhase(string(a.action), string(phase))
	}
	for _, fn := range o.observers {
		fn(a.key, snapshot)
	}
}

func (o *Orchestrator) acquire(key Key, st Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[key]; busy {
		return false
	}
	o.inFlight[key] = st
	o.metrics.AddInFlight(1)
	return true
}

func (o *Orchestrator) release(key Key) {
	o.mu.Lock()
	delete(o.inFlight, key)
	o.mu.Unlock()
	o.metrics.AddInFlight(-1)
}
