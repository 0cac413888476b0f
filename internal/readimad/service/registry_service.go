package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EmbeddedMhawar/Readimad/internal/metrics"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/store"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/types"
)

var (
	ErrInvalidSerial = errors.New("serial_number is required")
	ErrEmptyBatch    = errors.New("serial_numbers must not be empty")
	ErrBatchTooLarge = errors.New("too many serial_numbers in one batch")
)

// Verification messages shown to the pharmacist.
const (
	MessageAuthentic = "This medicine is authentic and available."
	MessageRedeemed  = "FLAGGED: This medicine is authentic but has ALREADY been sold. Do not dispense."
	MessageUnknown   = "This medicine is NOT authentic (Unknown)."
)

// Rejection reasons reported per serial in a batch.
const (
	ReasonCannotReauthenticate = "cannot_reauthenticate_redeemed"
	ReasonUnavailable          = "backing_store_unavailable"
)

const DefaultMaxBatchSize = 10000

type RegistryConfig struct {
	Logger  *log.Logger
	Metrics *metrics.Metrics

	// LedgerTimeout bounds each ledger call. 0 means only the caller's
	// context applies.
	LedgerTimeout time.Duration

	// MaxBatchSize caps serials per registration. 0 means DefaultMaxBatchSize.
	MaxBatchSize int
}

// RegistryService is the stateless façade over the ledger. It hashes
// serials, validates input, interprets statuses and writes the audit log.
type RegistryService struct {
	ledger   ledger.Ledger
	events   store.EventStore
	logger   *log.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	maxBatch int

	now        func() time.Time
	newBatchID func() string
}

// NewRegistryService wires l and es. es may be nil to disable auditing.
func NewRegistryService(l ledger.Ledger, es store.EventStore, cfg RegistryConfig) *RegistryService {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &RegistryService{
		ledger:     l,
		events:     es,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		timeout:    cfg.LedgerTimeout,
		maxBatch:   cfg.MaxBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
		newBatchID: uuid.NewString,
	}
}

func (s *RegistryService) ledgerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RegisterNewBatch registers serials as authentic. Input problems are
// rejected before the ledger is touched. Per-serial rejections are
// reported, not returned as errors; an error is returned only when no
// serial reached a definite outcome.
func (s *RegistryService) RegisterNewBatch(ctx context.Context, serials []string) (types.BatchRegistrationReport, error) {
	if len(serials) == 0 {
		return types.BatchRegistrationReport{}, ErrEmptyBatch
	}
	if len(serials) > s.maxBatch {
		return types.BatchRegistrationReport{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(serials), s.maxBatch)
	}
	for i, sn := range serials {
		if sn == "" {
			return types.BatchRegistrationReport{}, fmt.Errorf("%w: serial_numbers[%d] is empty", ErrInvalidSerial, i)
		}
	}

	batchID := s.newBatchID()
	keys := identity.HashAll(serials)
	s.logger.Printf("registering batch %s with %d serials", batchID, len(keys))

	lctx, cancel := s.ledgerCtx(ctx)
	start := time.Now()
	res := s.ledger.RegisterBatch(lctx, keys)
	s.metrics.ObserveLedger("register_batch", start)
	cancel()

	now := s.now()
	report := types.BatchRegistrationReport{
		BatchID:    batchID,
		Total:      len(keys),
		Keys:       make([]string, len(keys)),
		ServerTime: now.Format(time.RFC3339Nano),
	}
	events := make([]store.EventRecord, 0, len(keys))
	var firstUnresolved error

	for i, k := range keys {
		report.Keys[i] = k.Hex()

		var r ledger.KeyResult
		if i < len(res.Results) {
			r = res.Results[i]
		} else {
			r = ledger.KeyResult{Key: k, Err: ledger.Unavailable(errors.New("missing batch result"))}
		}

		ev := store.EventRecord{Kind: store.EventRegistered, Key: k, BatchID: batchID, OccurredAt: now}
		switch {
		case r.Err == nil:
			if r.Outcome == ledger.OutcomeCreated {
				report.Created++
			} else {
				report.AlreadyAuthentic++
			}
			ev.Status, ev.Outcome = ledger.StatusAuthentic, r.Outcome.String()
			s.metrics.Registrations.WithLabelValues(r.Outcome.String()).Inc()

		case errors.Is(r.Err, ledger.ErrCannotReauthenticateRedeemed):
			report.Rejected++
			report.Rejections = append(report.Rejections, types.Rejection{Index: i, Key: k.Hex(), Reason: ReasonCannotReauthenticate})
			ev.Status, ev.Outcome, ev.Reason = ledger.StatusRedeemed, "rejected", ReasonCannotReauthenticate
			s.metrics.Registrations.WithLabelValues("rejected").Inc()

		default:
			// Outcome unknown; registration is idempotent so the caller may retry.
			report.Unresolved++
			report.Rejections = append(report.Rejections, types.Rejection{Index: i, Key: k.Hex(), Reason: ReasonUnavailable})
			s.metrics.Registrations.WithLabelValues("unresolved").Inc()
			if firstUnresolved == nil {
				firstUnresolved = r.Err
			}
			continue
		}
		events = append(events, ev)
	}

	s.recordEvents(ctx, events)

	if report.Unresolved == report.Total {
		s.logger.Printf("batch %s: ledger unavailable: %v", batchID, firstUnresolved)
		return types.BatchRegistrationReport{}, fmt.Errorf("register batch %s: %w", batchID, ledger.Unavailable(firstUnresolved))
	}

	report.Message = batchMessage(report)
	s.logger.Printf("batch %s: created=%d already_authentic=%d rejected=%d unresolved=%d",
		batchID, report.Created, report.AlreadyAuthentic, report.Rejected, report.Unresolved)
	return report, nil
}

func batchMessage(r types.BatchRegistrationReport) string {
	if r.Rejected == 0 && r.Unresolved == 0 {
		msg := fmt.Sprintf("Batch registered successfully. %d serials added.", r.Created)
		if r.AlreadyAuthentic > 0 {
			msg += fmt.Sprintf(" %d already registered.", r.AlreadyAuthentic)
		}
		return msg
	}
	return fmt.Sprintf("Batch partially registered. %d added, %d already registered, %d rejected, %d unresolved.",
		r.Created, r.AlreadyAuthentic, r.Rejected, r.Unresolved)
}

// VerifyMedicine reports the status of one serial. Unknown serials are a
// normal result. Verification never redeems.
func (s *RegistryService) VerifyMedicine(ctx context.Context, serial string) (types.VerificationResult, error) {
	if serial == "" {
		return types.VerificationResult{}, ErrInvalidSerial
	}

	key := identity.Hash(serial)
	s.logger.Printf("verifying key %s", key)

	lctx, cancel := s.ledgerCtx(ctx)
	start := time.Now()
	st, err := s.ledger.GetStatus(lctx, key)
	s.metrics.ObserveLedger("get_status", start)
	cancel()
	if err != nil {
		return types.VerificationResult{}, fmt.Errorf("verify %s: %w", key, ledger.Unavailable(err))
	}

	isAuthentic, message := interpret(st)
	now := s.now()

	s.metrics.Verifications.WithLabelValues(st.String()).Inc()
	s.recordEvents(ctx, []store.EventRecord{{
		Kind: store.EventVerified, Key: key, Status: st, Outcome: st.String(), OccurredAt: now,
	}})

	return types.VerificationResult{
		SerialNumber: serial,
		Key:          key.Hex(),
		Status:       st.String(),
		IsAuthentic:  isAuthentic,
		Message:      message,
		ServerTime:   now.Format(time.RFC3339Nano),
	}, nil
}

func interpret(st ledger.Status) (bool, string) {
	switch st {
	case ledger.StatusAuthentic:
		return true, MessageAuthentic
	case ledger.StatusRedeemed:
		return false, MessageRedeemed
	default:
		return false, MessageUnknown
	}
}

// Redeem consumes an authentic serial at the point of sale. A retry after
// a timeout resolves to ledger.ErrAlreadyRedeemed if the first attempt
// landed.
func (s *RegistryService) Redeem(ctx context.Context, serial string) (types.RedemptionResult, error) {
	if serial == "" {
		return types.RedemptionResult{}, ErrInvalidSerial
	}

	key := identity.Hash(serial)

	lctx, cancel := s.ledgerCtx(ctx)
	start := time.Now()
	err := s.ledger.MarkRedeemed(lctx, key)
	s.metrics.ObserveLedger("mark_redeemed", start)
	cancel()

	now := s.now()
	ev := store.EventRecord{Kind: store.EventRedeemed, Key: key, OccurredAt: now}
	switch {
	case err == nil:
		ev.Status, ev.Outcome = ledger.StatusRedeemed, "redeemed"
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		ev.Status, ev.Outcome, ev.Reason = ledger.StatusRedeemed, "rejected", "already_redeemed"
	case errors.Is(err, ledger.ErrNotAuthentic):
		ev.Status, ev.Outcome, ev.Reason = ledger.StatusUnknown, "rejected", "not_authentic"
	default:
		s.metrics.Redemptions.WithLabelValues("unavailable").Inc()
		s.logger.Printf("redeem %s: %v", key, err)
		return types.RedemptionResult{}, fmt.Errorf("redeem %s: %w", key, ledger.Classify(err))
	}

	s.recordEvents(ctx, []store.EventRecord{ev})

	if err != nil {
		s.metrics.Redemptions.WithLabelValues(ev.Reason).Inc()
		s.logger.Printf("redeem %s rejected: %s", key, ev.Reason)
		return types.RedemptionResult{}, fmt.Errorf("redeem %s: %w", key, err)
	}

	s.metrics.Redemptions.WithLabelValues("ok").Inc()
	s.logger.Printf("redeemed %s", key)
	return types.RedemptionResult{
		SerialNumber: serial,
		Key:          key.Hex(),
		Status:       ledger.StatusRedeemed.String(),
		RedeemedAt:   now.Format(time.RFC3339Nano),
	}, nil
}

// History returns the audit trail for serial, oldest first.
func (s *RegistryService) History(ctx context.Context, serial string) ([]types.AuditEvent, error) {
	if serial == "" {
		return nil, ErrInvalidSerial
	}
	if s.events == nil {
		return []types.AuditEvent{}, nil
	}

	key := identity.Hash(serial)
	recs, err := s.events.EventsForKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}

	out := make([]types.AuditEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.AuditEvent{
			Kind:       string(r.Kind),
			BatchID:    r.BatchID,
			Status:     r.Status.String(),
			Outcome:    r.Outcome,
			Reason:     r.Reason,
			OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out, nil
}

// Ping reports whether the ledger backend is reachable. Backends without
// a health check are assumed healthy.
func (s *RegistryService) Ping(ctx context.Context) error {
	p, ok := s.ledger.(ledger.Pinger)
	if !ok {
		return nil
	}
	lctx, cancel := s.ledgerCtx(ctx)
	defer cancel()
	return p.Ping(lctx)
}

// recordEvents persists audit events. Errors are logged and counted but
// never returned: a failed audit write must not undo or hide a ledger
// transition that already happened.
func (s *RegistryService) recordEvents(ctx context.Context, evs []store.EventRecord) {
	if s.events == nil || len(evs) == 0 {
		return
	}
	if err := s.events.RecordEvents(ctx, evs); err != nil {
		s.metrics.EventWriteFails.Add(float64(len(evs)))
		s.logger.Printf("audit write failed (%d events): %v", len(evs), err)
	}
}
