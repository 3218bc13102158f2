package video

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorcall-backend/internal/domain"
	apperrors "tutorcall-backend/pkg/errors"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/pagination"
	"tutorcall-backend/pkg/quality"
)

const (
	maxSubjectLength = 255
	maxReasonLength  = 500
	sweepBatchSize   = 100
)

// Service coordinates the call session lifecycle
type Service struct {
	calls        CallStore
	users        UserDirectory
	notifier     Notifier
	cache        StatsCache
	reservations ReservationLookup
	availability *AvailabilityRegistry
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewService creates a new call service.
// reservations, presence and m may be nil.
func NewService(
	calls CallStore,
	users UserDirectory,
	notifier Notifier,
	cache StatsCache,
	reservations ReservationLookup,
	presence PresenceChecker,
	m *metrics.Metrics,
) *Service {
	return &Service{
		calls:        calls,
		users:        users,
		notifier:     notifier,
		cache:        cache,
		reservations: reservations,
		availability: NewAvailabilityRegistry(calls, presence),
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// StartCallInput contains call initiation data
type StartCallInput struct {
	CallerID      uuid.UUID
	ReceiverID    uuid.UUID
	Kind          domain.CallKind
	Subject       *string
	ReservationID *uuid.UUID
}

// Start creates an initiated call from caller to receiver
func (s *Service) Start(ctx context.Context, input *StartCallInput) (*domain.CallSession, error) {
	if err := validateStart(input); err != nil {
		return nil, err
	}

	caller, err := s.users.GetByID(ctx, input.CallerID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if _, err := s.users.GetByID(ctx, input.ReceiverID); err != nil {
		return nil, s.mapError(err)
	}

	reservationID := s.resolveReservation(ctx, input.ReservationID)
	call := domain.NewCallSession(input.CallerID, input.ReceiverID, input.Kind, input.Subject, reservationID, s.now())

	if err := s.calls.CreateIfAvailable(ctx, call); err != nil {
		s.recordRefused("start", err)
		return nil, s.mapError(err)
	}

	s.recordTransition(call)
	logger.FromContext(ctx).Info("Call started",
		append(logger.CallFields(call.CallID, call.CallerID, call.ReceiverID),
			zap.String("call_type", string(call.Kind)))...)

	event := domain.NewCallEvent(domain.EventIncoming, call, caller.UserID, s.now())
	event.ActorName = caller.Name()
	s.notify(ctx, call.ReceiverID, event)
	s.invalidate(ctx, call.CallerID, call.ReceiverID)

	return call, nil
}

func validateStart(input *StartCallInput) error {
	if input.CallerID == uuid.Nil || input.ReceiverID == uuid.Nil {
		return apperrors.ValidationError("caller and receiver are required")
	}
	if input.CallerID == input.ReceiverID {
		return apperrors.ValidationError("cannot call yourself")
	}
	if !input.Kind.Valid() {
		return apperrors.ValidationError("call_type must be video or audio")
	}
	if input.Subject != nil && utf8.RuneCountInString(*input.Subject) > maxSubjectLength {
		return apperrors.ValidationError(fmt.Sprintf("subject must be at most %d characters", maxSubjectLength))
	}
	return nil
}

// resolveReservation stamps the reservation only when the lookup confirms it.
// A failing lookup never blocks the call.
func (s *Service) resolveReservation(ctx context.Context, reservationID *uuid.UUID) *uuid.UUID {
	if reservationID == nil || s.reservations == nil {
		return reservationID
	}

	ok, err := s.reservations.Exists(ctx, *reservationID)
	if err != nil {
		logger.FromContext(ctx).Warn("Reservation lookup failed, call will not be linked",
			zap.String("reservation_id", reservationID.String()),
			zap.Error(err))
		s.recordSideEffectFailure("reservation_lookup")
		return nil
	}
	if !ok {
		logger.FromContext(ctx).Info("Unknown reservation, call will not be linked",
			zap.String("reservation_id", reservationID.String()))
		return nil
	}
	return reservationID
}

// Answer moves an initiated call to active
func (s *Service) Answer(ctx context.Context, callID, requester uuid.UUID) (*domain.CallSession, error) {
	now := s.now()
	call, err := s.calls.Mutate(ctx, callID, func(c *domain.CallSession) (bool, error) {
		return true, c.Answer(requester, now)
	})
	if err != nil {
		s.recordRefused("answer", err)
		return nil, s.mapError(err)
	}

	s.recordTransition(call)
	logger.FromContext(ctx).Info("Call answered", logger.CallFields(call.CallID, call.CallerID, call.ReceiverID)...)

	s.notify(ctx, call.CallerID, domain.NewCallEvent(domain.EventAnswered, call, requester, now))
	s.invalidate(ctx, call.CallerID, call.ReceiverID)
	return call, nil
}

// Reject terminates an initiated call on behalf of the receiver
func (s *Service) Reject(ctx context.Context, callID, requester uuid.UUID, reason string) (*domain.CallSession, error) {
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, apperrors.ValidationError(fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}

	now := s.now()
	call, err := s.calls.Mutate(ctx, callID, func(c *domain.CallSession) (bool, error) {
		return true, c.Reject(requester, reason, now)
	})
	if err != nil {
		s.recordRefused("reject", err)
		return nil, s.mapError(err)
	}

	s.recordTransition(call)
	logger.FromContext(ctx).Info("Call rejected",
		append(logger.CallFields(call.CallID, call.CallerID, call.ReceiverID),
			zap.String("reason", *call.EndReason))...)

	s.notify(ctx, call.CallerID, domain.NewCallEvent(domain.EventRejected, call, requester, now))
	s.invalidate(ctx, call.CallerID, call.ReceiverID)
	return call, nil
}

// EndCallInput contains call termination data
type EndCallInput struct {
	CallID    uuid.UUID
	Requester uuid.UUID
	Reason    string
	// Duration is the client-measured duration in seconds; negative values are ignored
	Duration *int
}

// End terminates the call. Ending a terminal call returns it unchanged.
func (s *Service) End(ctx context.Context, input *EndCallInput) (*domain.CallSession, error) {
	if utf8.RuneCountInString(input.Reason) > maxReasonLength {
		return nil, apperrors.ValidationError(fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}

	now := s.now()
	var ended bool
	call, err := s.calls.Mutate(ctx, input.CallID, func(c *domain.CallSession) (bool, error) {
		changed, err := c.End(input.Requester, input.Reason, input.Duration, now)
		ended = changed
		return changed, err
	})
	if err != nil {
		s.recordRefused("end", err)
		return nil, s.mapError(err)
	}
	if !ended {
		return call, nil
	}

	s.recordTransition(call)
	logger.FromContext(ctx).Info("Call ended",
		append(logger.CallFields(call.CallID, call.CallerID, call.ReceiverID),
			zap.Stringer("ended_by", input.Requester),
			zap.Int("duration", call.Duration))...)

	s.notify(ctx, call.Counterpart(input.Requester), domain.NewCallEvent(domain.EventEnded, call, input.Requester, now))
	s.invalidate(ctx, call.CallerID, call.ReceiverID)
	return call, nil
}

// MarkMissed terminates an initiated call that was never answered.
// Called by the ring-timeout sweeper.
func (s *Service) MarkMissed(ctx context.Context, callID uuid.UUID, reason string) (*domain.CallSession, error) {
	now := s.now()
	call, err := s.calls.Mutate(ctx, callID, func(c *domain.CallSession) (bool, error) {
		return true, c.Miss(reason, now)
	})
	if err != nil {
		return nil, s.mapError(err)
	}

	s.recordTransition(call)
	logger.FromContext(ctx).Info("Call missed", logger.CallFields(call.CallID, call.CallerID, call.ReceiverID)...)

	event := domain.NewCallEvent(domain.EventMissed, call, call.CallerID, now)
	if caller, err := s.users.GetByID(ctx, call.CallerID); err == nil {
		event.ActorName = caller.Name()
	}
	s.notify(ctx, call.ReceiverID, event)
	s.notify(ctx, call.CallerID, event)
	s.invalidate(ctx, call.CallerID, call.ReceiverID)
	return call, nil
}

// SweepUnanswered marks as missed every initiated call older than ringTimeout.
// Calls that were answered or ended meanwhile are skipped. Returns the number marked.
func (s *Service) SweepUnanswered(ctx context.Context, ringTimeout time.Duration) (int, error) {
	cutoff := s.now().Add(-ringTimeout)
	missed := 0

	for {
		ids, err := s.calls.ListStaleInitiated(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return missed, s.mapError(err)
		}

		progressed := false
		for _, id := range ids {
			if _, err := s.MarkMissed(ctx, id, ""); err != nil {
				if apperrors.KindOf(err) == apperrors.ErrCodeInvalidState || apperrors.KindOf(err) == apperrors.ErrCodeCallNotFound {
					continue
				}
				return missed, err
			}
			missed++
			progressed = true
		}

		if len(ids) < sweepBatchSize || !progressed {
			return missed, nil
		}
	}
}

// ToggleMute sets the requester's mute flag
func (s *Service) ToggleMute(ctx context.Context, callID, requester uuid.UUID, muted bool) (*domain.Participant, error) {
	return s.toggle(ctx, "toggle_mute", callID, requester, func(p *domain.Participant) bool {
		return p.SetMuted(muted)
	})
}

// ToggleVideo sets the requester's video flag
func (s *Service) ToggleVideo(ctx context.Context, callID, requester uuid.UUID, enabled bool) (*domain.Participant, error) {
	return s.toggle(ctx, "toggle_video", callID, requester, func(p *domain.Participant) bool {
		return p.SetVideo(enabled)
	})
}

// ToggleScreenShare sets the requester's screen-sharing flag and marks the
// session as having used screen sharing.
func (s *Service) ToggleScreenShare(ctx context.Context, callID, requester uuid.UUID, enabled bool) (*domain.Participant, error) {
	p, err := s.toggle(ctx, "toggle_screen_share", callID, requester, func(p *domain.Participant) bool {
		return p.SetScreenSharing(enabled)
	})
	if err != nil || !enabled {
		return p, err
	}

	// Sticky flag on the call row; it only ever goes false -> true
	if _, err := s.calls.Mutate(ctx, callID, func(c *domain.CallSession) (bool, error) {
		if c.ScreenShared {
			return false, nil
		}
		c.ScreenShared = true
		return true, nil
	}); err != nil {
		return nil, s.mapError(err)
	}
	return p, nil
}

func (s *Service) toggle(ctx context.Context, op string, callID, requester uuid.UUID, set func(*domain.Participant) bool) (*domain.Participant, error) {
	var changed bool
	call, err := s.calls.MutateParticipant(ctx, callID, requester, func(p *domain.Participant) (bool, error) {
		changed = set(p)
		return changed, nil
	})
	if err != nil {
		s.recordRefused(op, err)
		return nil, s.mapError(err)
	}

	p := call.Participant(requester)
	if changed {
		event := domain.NewCallEvent(domain.EventParticipant, call, requester, s.now())
		event.Participant = p
		s.notify(ctx, call.Counterpart(requester), event)
	}
	return p, nil
}

// ReportQuality records the requester's latest connection-quality sample
// and returns the call's aggregated quality.
func (s *Service) ReportQuality(ctx context.Context, callID, requester uuid.UUID, sample *quality.Sample) (*domain.QualitySummary, error) {
	if err := validateSample(sample); err != nil {
		return nil, err
	}

	call, err := s.calls.MutateParticipant(ctx, callID, requester, func(p *domain.Participant) (bool, error) {
		p.RecordQuality(sample)
		return true, nil
	})
	if err != nil {
		s.recordRefused("quality", err)
		return nil, s.mapError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordQualityScore(quality.ParticipantScore(sample))
	}
	return call.Quality(), nil
}

func validateSample(sample *quality.Sample) error {
	if !sample.HasMetrics() {
		return apperrors.ValidationError("at least one of bitrate, latency or packet_loss is required")
	}
	if sample.Bitrate != nil && *sample.Bitrate < 0 {
		return apperrors.ValidationError("bitrate must not be negative")
	}
	if sample.Latency != nil && *sample.Latency < 0 {
		return apperrors.ValidationError("latency must not be negative")
	}
	if sample.PacketLoss != nil && (*sample.PacketLoss < 0 || *sample.PacketLoss > 1) {
		return apperrors.ValidationError("packet_loss must be between 0 and 1")
	}
	return nil
}

// GetCall returns a call snapshot to one of its parties
func (s *Service) GetCall(ctx context.Context, callID, requester uuid.UUID) (*domain.CallSession, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if !call.IsParty(requester) {
		return nil, apperrors.ForbiddenError("You are not a participant of this call")
	}
	return call, nil
}

// HistoryPage is one page of a user's calls, newest first
type HistoryPage struct {
	Calls      []*domain.CallSession `json:"calls"`
	Pagination pagination.Meta       `json:"pagination"`
}

// GetHistory lists the user's calls as caller or receiver
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, filter domain.CallFilter, page *pagination.Params) (*HistoryPage, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, apperrors.ValidationError("call_type must be video or audio")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.ValidationError("unknown call status")
	}
	if page == nil {
		page = pagination.New(pagination.DefaultPage, pagination.DefaultLimit)
	}

	calls, total, err := s.calls.ListByUser(ctx, userID, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, s.mapError(err)
	}
	if calls == nil {
		calls = []*domain.CallSession{}
	}

	return &HistoryPage{
		Calls:      calls,
		Pagination: pagination.BuildMeta(page, total),
	}, nil
}

// ComputeStatistics aggregates the user's calls straight from the store
func (s *Service) ComputeStatistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	stats, err := s.calls.Statistics(ctx, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return stats, nil
}

// GetStatistics is ComputeStatistics behind the statistics cache
func (s *Service) GetStatistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	if s.cache != nil {
		stats, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("Statistics cache read failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		} else if ok {
			return stats, nil
		}
	}

	stats, err := s.ComputeStatistics(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, stats); err != nil {
			logger.FromContext(ctx).Warn("Statistics cache write failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
	return stats, nil
}

// IsAvailable reports whether userID can receive a new call
func (s *Service) IsAvailable(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.availability.IsAvailable(ctx, userID)
	if err != nil {
		return false, s.mapError(err)
	}
	return ok, nil
}

// SetAvailability records the user's opt-in flag for incoming calls
func (s *Service) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) error {
	if err := s.availability.SetAvailability(ctx, userID, available); err != nil {
		return s.mapError(err)
	}

	logger.FromContext(ctx).Info("Call availability updated",
		zap.String("user_id", userID.String()),
		zap.Bool("available", available))
	s.invalidate(ctx, userID)
	return nil
}

// CheckAvailability resolves the user and reports their reachability
func (s *Service) CheckAvailability(ctx context.Context, userID uuid.UUID) (*domain.Availability, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, s.mapError(err)
	}

	availability, err := s.availability.Check(ctx, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return availability, nil
}

// notify delivers an event; failures are logged and counted, never returned
func (s *Service) notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to notify user",
			zap.String("user_id", userID.String()),
			zap.String("call_id", event.CallID.String()),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		s.recordSideEffectFailure("notifier")
	}
}

// invalidate drops cached data for each distinct user
func (s *Service) invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := s.cache.Invalidate(ctx, id); err != nil {
			logger.FromContext(ctx).Warn("Failed to invalidate cache",
				zap.String("user_id", id.String()),
				zap.Error(err))
			s.recordSideEffectFailure("cache")
		}
	}
}

// mapError converts store and domain errors into AppErrors
func (s *Service) mapError(err error) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.CallNotFoundError()
	case errors.Is(err, domain.ErrUserNotFound):
		return apperrors.UserNotFoundError()
	case errors.Is(err, domain.ErrNotReceiver):
		return apperrors.ForbiddenError("Only the receiver can perform this action")
	case errors.Is(err, domain.ErrNotParticipant):
		return apperrors.ForbiddenError("You are not a participant of this call")
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.InvalidStateError(err.Error())
	case errors.Is(err, domain.ErrReceiverBusy):
		return apperrors.UserNotAvailableError()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.ServiceUnavailableError("request cancelled")
	default:
		return apperrors.DatabaseError(err)
	}
}

func (s *Service) recordTransition(call *domain.CallSession) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCallTransition(string(call.Kind), string(call.Status))
	switch {
	case call.Status == domain.CallStatusInitiated:
		s.metrics.IncActiveCalls()
	case call.IsTerminal():
		s.metrics.DecActiveCalls()
		s.metrics.RecordCallDuration(string(call.Kind), time.Duration(call.Duration)*time.Second)
	}
}

func (s *Service) recordRefused(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCallRefused(op, string(apperrors.KindOf(s.mapError(err))))
}

func (s *Service) recordSideEffectFailure(collaborator string) {
	if s.metrics != nil {
		s.metrics.RecordSideEffectFailure(collaborator)
	}
}
