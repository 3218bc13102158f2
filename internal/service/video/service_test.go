package video

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/internal/repository/memory"
	apperrors "tutorcall-backend/pkg/errors"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/pagination"
	"tutorcall-backend/pkg/quality"
)

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	args := m.Called(ctx, userID, event)
	return args.Error(0)
}

// MockStatsCache is a mock implementation of StatsCache
type MockStatsCache struct {
	mock.Mock
}

func (m *MockStatsCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStatsCache) Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CallStatistics), args.Bool(1), args.Error(2)
}

func (m *MockStatsCache) Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error {
	args := m.Called(ctx, userID, stats)
	return args.Error(0)
}

// MockReservationLookup is a mock implementation of ReservationLookup
type MockReservationLookup struct {
	mock.Mock
}

func (m *MockReservationLookup) Exists(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	args := m.Called(ctx, reservationID)
	return args.Bool(0), args.Error(1)
}

// MockPresence is a mock implementation of PresenceChecker
type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

var start = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

type fixture struct {
	svc          *Service
	store        *memory.CallRepository
	users        *memory.UserRepository
	notifier     *MockNotifier
	cache        *MockStatsCache
	reservations *MockReservationLookup
	presence     *MockPresence
	alice        *domain.User
	bob          *domain.User
	carol        *domain.User
	clock        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:        memory.NewCallRepository(),
		notifier:     new(MockNotifier),
		cache:        new(MockStatsCache),
		reservations: new(MockReservationLookup),
		presence:     new(MockPresence),
		alice:        &domain.User{UserID: uuid.New(), Username: "alice", DisplayName: "Alice"},
		bob:          &domain.User{UserID: uuid.New(), Username: "bob"},
		carol:        &domain.User{UserID: uuid.New(), Username: "carol"},
		clock:        start,
	}
	f.users = memory.NewUserRepository(f.alice, f.bob, f.carol)
	f.svc = NewService(f.store, f.users, f.notifier, f.cache, f.reservations, f.presence, metrics.NewMetrics("test"))
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// relaxed accepts any side effect
func (f *fixture) relaxed() *fixture {
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func (f *fixture) startCall(t *testing.T, caller, receiver *domain.User) *domain.CallSession {
	t.Helper()
	call, err := f.svc.Start(context.Background(), &StartCallInput{
		CallerID:   caller.UserID,
		ReceiverID: receiver.UserID,
		Kind:       domain.CallKindVideo,
	})
	require.NoError(t, err)
	return call
}

func assertKind(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.KindOf(err), err.Error())
}

func eventOfType(et domain.CallEventType) interface{} {
	return mock.MatchedBy(func(e *domain.CallEvent) bool { return e.Type == et })
}

func TestStart_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Setup expectations
	f.notifier.On("Notify", mock.Anything, f.bob.UserID, mock.MatchedBy(func(e *domain.CallEvent) bool {
		return e.Type == domain.EventIncoming && e.ActorName == "Alice" && e.ActorID == f.alice.UserID
	})).Return(nil).Once()
	f.cache.On("Invalidate", mock.Anything, f.alice.UserID).Return(nil).Once()
	f.cache.On("Invalidate", mock.Anything, f.bob.UserID).Return(nil).Once()

	// Execute
	subject := "Algebra revision"
	call, err := f.svc.Start(ctx, &StartCallInput{
		CallerID:   f.alice.UserID,
		ReceiverID: f.bob.UserID,
		Kind:       domain.CallKindVideo,
		Subject:    &subject,
	})

	// Assert
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, call.CallID)
	assert.Equal(t, domain.CallStatusInitiated, call.Status)
	require.NotNil(t, call.StartedAt)
	assert.Equal(t, start, *call.StartedAt)
	assert.Equal(t, f.alice.UserID, call.Caller().UserID)
	assert.Equal(t, domain.ParticipantActive, call.Caller().Status)
	assert.Equal(t, f.bob.UserID, call.Receiver().UserID)
	assert.Equal(t, domain.ParticipantInvited, call.Receiver().Status)

	stored, err := f.store.Get(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, call.CallID, stored.CallID)

	f.notifier.AssertExpectations(t)
	f.cache.AssertExpectations(t)
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := string(make([]byte, 300))

	tests := []struct {
		name  string
		input *StartCallInput
	}{
		{"self call", &StartCallInput{CallerID: f.alice.UserID, ReceiverID: f.alice.UserID, Kind: domain.CallKindAudio}},
		{"missing receiver", &StartCallInput{CallerID: f.alice.UserID, Kind: domain.CallKindAudio}},
		{"bad kind", &StartCallInput{CallerID: f.alice.UserID, ReceiverID: f.bob.UserID, Kind: "screen"}},
		{"long subject", &StartCallInput{CallerID: f.alice.UserID, ReceiverID: f.bob.UserID, Kind: domain.CallKindVideo, Subject: &long}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Start(ctx, tt.input)
			assertKind(t, err, apperrors.ErrCodeValidation)
		})
	}
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestLengthLimitsCountCharacters(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	subject := strings.Repeat("ş", 200)
	call, err := f.svc.Start(ctx, &StartCallInput{
		CallerID:   f.alice.UserID,
		ReceiverID: f.bob.UserID,
		Kind:       domain.CallKindVideo,
		Subject:    &subject,
	})
	require.NoError(t, err)
	assert.Equal(t, subject, *call.Subject)

	tooLong := strings.Repeat("ş", maxSubjectLength+1)
	_, err = f.svc.Start(ctx, &StartCallInput{
		CallerID:   f.carol.UserID,
		ReceiverID: f.alice.UserID,
		Kind:       domain.CallKindAudio,
		Subject:    &tooLong,
	})
	assertKind(t, err, apperrors.ErrCodeValidation)

	_, err = f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID, Reason: strings.Repeat("ğ", maxReasonLength+1)})
	assertKind(t, err, apperrors.ErrCodeValidation)

	rejected, err := f.svc.Reject(ctx, call.CallID, f.bob.UserID, strings.Repeat("ğ", 300))
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, rejected.Status)
}

func TestStart_UnknownReceiver(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), &StartCallInput{
		CallerID:   f.alice.UserID,
		ReceiverID: uuid.New(),
		Kind:       domain.CallKindVideo,
	})
	assertKind(t, err, apperrors.ErrCodeUserNotFound)
}

func TestStart_ReceiverBusyAndAvailabilityLifecycle(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	available, err := f.svc.IsAvailable(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.True(t, available)

	call := f.startCall(t, f.alice, f.bob)

	available, err = f.svc.IsAvailable(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.False(t, available, "receiver is busy right after start")

	_, err = f.svc.Start(ctx, &StartCallInput{CallerID: f.carol.UserID, ReceiverID: f.bob.UserID, Kind: domain.CallKindAudio})
	assertKind(t, err, apperrors.ErrCodeUserNotAvailable)

	_, err = f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)

	available, _ = f.svc.IsAvailable(ctx, f.bob.UserID)
	assert.False(t, available, "still busy while active")

	_, err = f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID})
	require.NoError(t, err)

	available, _ = f.svc.IsAvailable(ctx, f.bob.UserID)
	assert.True(t, available, "free again once terminal")
}

func TestStart_OnlyReceiverIsChecked(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	first := f.startCall(t, f.alice, f.bob)
	_, err := f.svc.Answer(ctx, first.CallID, f.bob.UserID)
	require.NoError(t, err)

	second, err := f.svc.Start(ctx, &StartCallInput{CallerID: f.alice.UserID, ReceiverID: f.carol.UserID, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiated, second.Status)

	_, err = f.svc.Start(ctx, &StartCallInput{CallerID: f.carol.UserID, ReceiverID: f.alice.UserID, Kind: domain.CallKindAudio})
	assertKind(t, err, apperrors.ErrCodeUserNotAvailable)
}

func TestStart_OptedOutReceiver(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	require.NoError(t, f.svc.SetAvailability(ctx, f.bob.UserID, false))

	_, err := f.svc.Start(ctx, &StartCallInput{CallerID: f.alice.UserID, ReceiverID: f.bob.UserID, Kind: domain.CallKindVideo})
	assertKind(t, err, apperrors.ErrCodeUserNotAvailable)
}

func TestStart_Reservation(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	known, unknown, broken := uuid.New(), uuid.New(), uuid.New()

	f.reservations.On("Exists", mock.Anything, known).Return(true, nil)
	f.reservations.On("Exists", mock.Anything, unknown).Return(false, nil)
	f.reservations.On("Exists", mock.Anything, broken).Return(false, errors.New("connection refused"))

	tests := []struct {
		name string
		id   uuid.UUID
		want *uuid.UUID
	}{
		{"known reservation is stamped", known, &known},
		{"unknown reservation is dropped", unknown, nil},
		{"lookup failure does not block the call", broken, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &domain.User{UserID: uuid.New(), Username: "caller"}
			receiver := &domain.User{UserID: uuid.New(), Username: "receiver"}
			f.users.Add(caller)
			f.users.Add(receiver)

			id := tt.id
			call, err := f.svc.Start(ctx, &StartCallInput{
				CallerID:      caller.UserID,
				ReceiverID:    receiver.UserID,
				Kind:          domain.CallKindAudio,
				ReservationID: &id,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, call.ReservationID)
		})
	}
}

func TestStart_ConcurrentToSameReceiver(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, caller := range []*domain.User{f.alice, f.carol} {
		wg.Add(1)
		go func(i int, caller *domain.User) {
			defer wg.Done()
			_, errs[i] = f.svc.Start(ctx, &StartCallInput{CallerID: caller.UserID, ReceiverID: f.bob.UserID, Kind: domain.CallKindVideo})
		}(i, caller)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertKind(t, err, apperrors.ErrCodeUserNotAvailable)
	}
	assert.Equal(t, 1, succeeded)
}

func TestCallScenario_AnswerMuteEnd(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	call := f.startCall(t, f.alice, f.bob)

	f.clock = start.Add(5 * time.Second)
	answered, err := f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, answered.Status)
	require.NotNil(t, answered.AnsweredAt)
	assert.Equal(t, f.clock, *answered.AnsweredAt)

	p, err := f.svc.ToggleMute(ctx, call.CallID, f.alice.UserID, true)
	require.NoError(t, err)
	assert.True(t, p.IsMuted)

	current, err := f.svc.GetCall(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, current.Status, "toggles never change call status")

	f.clock = start.Add(10 * time.Minute)
	d := 185
	ended, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID, Duration: &d})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.Equal(t, 185, ended.Duration)
	require.NotNil(t, ended.EndReason)
	assert.Equal(t, domain.ReasonEnded, *ended.EndReason)

	f.clock = start.Add(20 * time.Minute)
	again, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID, Reason: "retry"})
	require.NoError(t, err)
	assert.Equal(t, ended.Duration, again.Duration)
	assert.Equal(t, *ended.EndReason, *again.EndReason)
	assert.Equal(t, *ended.EndedAt, *again.EndedAt)

	// One ended notification for bob, not two
	endedCalls := 0
	for _, c := range f.notifier.Calls {
		if e, ok := c.Arguments.Get(2).(*domain.CallEvent); ok && e.Type == domain.EventEnded {
			endedCalls++
		}
	}
	assert.Equal(t, 1, endedCalls)
}

func TestEnd_WallClockDuration(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)

	f.clock = start.Add(2*time.Minute + 400*time.Millisecond)
	ended, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.bob.UserID, Reason: "Lesson over"})
	require.NoError(t, err)
	assert.Equal(t, 120, ended.Duration)
	assert.Equal(t, "Lesson over", *ended.EndReason)
	assert.Equal(t, domain.ParticipantLeft, ended.Receiver().Status)
}

func TestEnd_NotifiesCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, f.bob.UserID, eventOfType(domain.EventIncoming)).Return(nil)
	f.cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)
	call := f.startCall(t, f.alice, f.bob)

	f.notifier.On("Notify", mock.Anything, f.alice.UserID, eventOfType(domain.EventEnded)).Return(nil).Once()

	_, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.bob.UserID})
	require.NoError(t, err)

	f.notifier.AssertExpectations(t)
	f.cache.AssertNumberOfCalls(t, "Invalidate", 4)
}

func TestEnd_Forbidden(t *testing.T) {
	f := newFixture(t).relaxed()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.End(context.Background(), &EndCallInput{CallID: call.CallID, Requester: f.carol.UserID})
	assertKind(t, err, apperrors.ErrCodeForbidden)
}

func TestEnd_UnknownCall(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.End(context.Background(), &EndCallInput{CallID: uuid.New(), Requester: f.alice.UserID})
	assertKind(t, err, apperrors.ErrCodeCallNotFound)
}

func TestAnswer_Errors(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.Answer(ctx, call.CallID, f.alice.UserID)
	assertKind(t, err, apperrors.ErrCodeForbidden)

	_, err = f.svc.Answer(ctx, uuid.New(), f.bob.UserID)
	assertKind(t, err, apperrors.ErrCodeCallNotFound)

	_, err = f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	assertKind(t, err, apperrors.ErrCodeInvalidState)
}

func TestAnswer_AfterEndIsInvalidState(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID})
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	assertKind(t, err, apperrors.ErrCodeInvalidState)

	stored, _ := f.store.Get(ctx, call.CallID)
	assert.Nil(t, stored.AnsweredAt, "a refused answer never mutates")
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, f.bob.UserID, eventOfType(domain.EventIncoming)).Return(nil)
	f.cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)
	call := f.startCall(t, f.alice, f.bob)

	f.notifier.On("Notify", mock.Anything, f.alice.UserID, eventOfType(domain.EventRejected)).Return(nil).Once()

	rejected, err := f.svc.Reject(ctx, call.CallID, f.bob.UserID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, rejected.Status)
	assert.Equal(t, 0, rejected.Duration)
	assert.Equal(t, domain.ReasonRejected, *rejected.EndReason)
	require.NotNil(t, rejected.EndedAt)

	_, err = f.svc.Reject(ctx, call.CallID, f.bob.UserID, "")
	assertKind(t, err, apperrors.ErrCodeInvalidState)

	f.notifier.AssertExpectations(t)
}

func TestReject_ByCallerForbidden(t *testing.T) {
	f := newFixture(t).relaxed()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.Reject(context.Background(), call.CallID, f.alice.UserID, "")
	assertKind(t, err, apperrors.ErrCodeForbidden)
}

func TestAnswerRejectRace(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	var wg sync.WaitGroup
	var answerErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, answerErr = f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = f.svc.Reject(ctx, call.CallID, f.bob.UserID, "")
	}()
	wg.Wait()

	stored, err := f.store.Get(ctx, call.CallID)
	require.NoError(t, err)
	if answerErr == nil {
		assertKind(t, rejectErr, apperrors.ErrCodeInvalidState)
		assert.Equal(t, domain.CallStatusActive, stored.Status)
	} else {
		require.NoError(t, rejectErr)
		assertKind(t, answerErr, apperrors.ErrCodeInvalidState)
		assert.Equal(t, domain.CallStatusRejected, stored.Status)
	}
}

func TestSideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("push gateway down"))
	f.cache.On("Invalidate", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	call := f.startCall(t, f.alice, f.bob)
	_, err := f.svc.Answer(ctx, call.CallID, f.bob.UserID)
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, stored.Status, "transition committed despite failures")
}

func TestToggles(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	p, err := f.svc.ToggleVideo(ctx, call.CallID, f.bob.UserID, false)
	require.NoError(t, err)
	assert.False(t, p.VideoEnabled)
	assert.Equal(t, f.bob.UserID, p.UserID)

	// Same value twice is fine
	p, err = f.svc.ToggleVideo(ctx, call.CallID, f.bob.UserID, false)
	require.NoError(t, err)
	assert.False(t, p.VideoEnabled)

	stored, _ := f.store.Get(ctx, call.CallID)
	assert.True(t, stored.Caller().VideoEnabled, "only the requester's flag changes")

	_, err = f.svc.ToggleMute(ctx, call.CallID, f.carol.UserID, true)
	assertKind(t, err, apperrors.ErrCodeForbidden)

	_, err = f.svc.ToggleMute(ctx, uuid.New(), f.alice.UserID, true)
	assertKind(t, err, apperrors.ErrCodeCallNotFound)
}

func TestToggle_NotifiesCounterpartOnlyOnChange(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.ToggleMute(ctx, call.CallID, f.alice.UserID, true)
	require.NoError(t, err)
	_, err = f.svc.ToggleMute(ctx, call.CallID, f.alice.UserID, true)
	require.NoError(t, err)

	updates := 0
	for _, c := range f.notifier.Calls {
		if e, ok := c.Arguments.Get(2).(*domain.CallEvent); ok && e.Type == domain.EventParticipant {
			updates++
			assert.Equal(t, f.bob.UserID, c.Arguments.Get(1))
		}
	}
	assert.Equal(t, 1, updates)
}

func TestToggleScreenShare(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)

	p, err := f.svc.ToggleScreenShare(ctx, call.CallID, f.alice.UserID, true)
	require.NoError(t, err)
	assert.True(t, p.ScreenSharing)

	p, err = f.svc.ToggleScreenShare(ctx, call.CallID, f.alice.UserID, false)
	require.NoError(t, err)
	assert.False(t, p.ScreenSharing)

	stored, _ := f.store.Get(ctx, call.CallID)
	assert.True(t, stored.ScreenShared, "session flag stays set")
}

func TestReportQuality(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	call := f.startCall(t, f.alice, f.bob)
	v := func(x float64) *float64 { return &x }

	_, err := f.svc.ReportQuality(ctx, call.CallID, f.alice.UserID, &quality.Sample{Resolution: "720p"})
	assertKind(t, err, apperrors.ErrCodeValidation)

	_, err = f.svc.ReportQuality(ctx, call.CallID, f.alice.UserID, &quality.Sample{PacketLoss: v(1.5)})
	assertKind(t, err, apperrors.ErrCodeValidation)

	_, err = f.svc.ReportQuality(ctx, call.CallID, f.carol.UserID, &quality.Sample{Bitrate: v(500)})
	assertKind(t, err, apperrors.ErrCodeForbidden)

	summary, err := f.svc.ReportQuality(ctx, call.CallID, f.alice.UserID, &quality.Sample{Bitrate: v(1000), Latency: v(0)})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.Score, 1e-9)
	assert.Equal(t, quality.LabelExcellent, summary.Label)

	summary, err = f.svc.ReportQuality(ctx, call.CallID, f.bob.UserID, &quality.Sample{PacketLoss: v(0.6)})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, summary.Score, 1e-9)
	assert.Equal(t, quality.LabelGood, summary.Label)

	// Last write wins
	summary, err = f.svc.ReportQuality(ctx, call.CallID, f.bob.UserID, &quality.Sample{PacketLoss: v(0)})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.Score, 1e-9)
}

func TestMarkMissedAndSweep(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()
	dave := &domain.User{UserID: uuid.New(), Username: "dave"}
	f.users.Add(dave)

	stale := f.startCall(t, f.alice, f.bob)

	f.clock = start.Add(10 * time.Second)
	answered := f.startCall(t, f.carol, dave)
	_, err := f.svc.Answer(ctx, answered.CallID, dave.UserID)
	require.NoError(t, err)

	f.clock = start.Add(time.Minute)
	n, err := f.svc.SweepUnanswered(ctx, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	missed, _ := f.store.Get(ctx, stale.CallID)
	assert.Equal(t, domain.CallStatusMissed, missed.Status)
	assert.Equal(t, domain.ReasonMissed, *missed.EndReason)
	assert.Equal(t, 0, missed.Duration)

	active, _ := f.store.Get(ctx, answered.CallID)
	assert.Equal(t, domain.CallStatusActive, active.Status)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, f.bob.UserID, eventOfType(domain.EventMissed))

	_, err = f.svc.MarkMissed(ctx, answered.CallID, "")
	assertKind(t, err, apperrors.ErrCodeInvalidState)

	// Nothing left to sweep
	n, err = f.svc.SweepUnanswered(ctx, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetCall_Forbidden(t *testing.T) {
	f := newFixture(t).relaxed()
	call := f.startCall(t, f.alice, f.bob)

	_, err := f.svc.GetCall(context.Background(), call.CallID, f.carol.UserID)
	assertKind(t, err, apperrors.ErrCodeForbidden)
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.clock = start.Add(time.Duration(i) * time.Minute)
		call := f.startCall(t, f.alice, f.bob)
		_, err := f.svc.End(ctx, &EndCallInput{CallID: call.CallID, Requester: f.alice.UserID})
		require.NoError(t, err)
	}

	page, err := f.svc.GetHistory(ctx, f.bob.UserID, domain.CallFilter{Status: domain.CallStatusEnded}, pagination.New(1, 2))
	require.NoError(t, err)
	assert.Len(t, page.Calls, 2)
	assert.Equal(t, pagination.Meta{CurrentPage: 1, LastPage: 2, PerPage: 2, Total: 3}, page.Pagination)

	empty, err := f.svc.GetHistory(ctx, f.carol.UserID, domain.CallFilter{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty.Calls)
	assert.Empty(t, empty.Calls)

	_, err = f.svc.GetHistory(ctx, f.bob.UserID, domain.CallFilter{Kind: "fax"}, nil)
	assertKind(t, err, apperrors.ErrCodeValidation)
}

func TestGetStatistics_Cache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cached := &domain.CallStatistics{TotalCalls: 42}

	f.cache.On("Get", mock.Anything, f.alice.UserID).Return(cached, true, nil).Once()

	stats, err := f.svc.GetStatistics(ctx, f.alice.UserID)
	require.NoError(t, err)
	assert.Same(t, cached, stats)

	f.cache.On("Get", mock.Anything, f.bob.UserID).Return(nil, false, nil).Once()
	f.cache.On("Set", mock.Anything, f.bob.UserID, mock.AnythingOfType("*domain.CallStatistics")).Return(nil).Once()

	stats, err = f.svc.GetStatistics(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCalls)

	f.cache.AssertExpectations(t)
}

func TestGetStatistics_CacheErrorFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	stats, err := f.svc.GetStatistics(context.Background(), f.alice.UserID)
	require.NoError(t, err)
	assert.NotNil(t, stats)
}

func TestComputeStatistics(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	// Alice calls Bob; Bob rejects
	c1 := f.startCall(t, f.alice, f.bob)
	_, err := f.svc.Reject(ctx, c1.CallID, f.bob.UserID, "")
	require.NoError(t, err)

	// Alice calls Bob; it times out
	c2 := f.startCall(t, f.alice, f.bob)
	_, err = f.svc.MarkMissed(ctx, c2.CallID, "")
	require.NoError(t, err)

	// Bob calls Alice; 60s audio call
	f.clock = start.Add(time.Hour)
	c3, err := f.svc.Start(ctx, &StartCallInput{CallerID: f.bob.UserID, ReceiverID: f.alice.UserID, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, c3.CallID, f.alice.UserID)
	require.NoError(t, err)
	f.clock = start.Add(time.Hour + time.Minute)
	_, err = f.svc.End(ctx, &EndCallInput{CallID: c3.CallID, Requester: f.bob.UserID})
	require.NoError(t, err)

	stats, err := f.svc.ComputeStatistics(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatistics{
		TotalCalls:     3,
		TotalDuration:  60,
		VideoCalls:     2,
		AudioCalls:     1,
		CompletedCalls: 1,
		MissedCalls:    1,
		RejectedCalls:  1,
	}, *stats)

	aliceStats, err := f.svc.ComputeStatistics(ctx, f.alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, aliceStats.MissedCalls)
	assert.Equal(t, 0, aliceStats.RejectedCalls)
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t).relaxed()
	ctx := context.Background()

	f.presence.On("IsUserOnline", mock.Anything, f.bob.UserID).Return(true, nil)

	got, err := f.svc.CheckAvailability(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.True(t, got.Online)

	f.startCall(t, f.alice, f.bob)
	got, err = f.svc.CheckAvailability(ctx, f.bob.UserID)
	require.NoError(t, err)
	assert.False(t, got.Available)
	assert.True(t, got.InCall)
	assert.False(t, got.OptedOut)

	_, err = f.svc.CheckAvailability(ctx, uuid.New())
	assertKind(t, err, apperrors.ErrCodeUserNotFound)
}

func TestCheckAvailability_PresenceFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.presence.On("IsUserOnline", mock.Anything, f.carol.UserID).Return(false, errors.New("timeout"))

	got, err := f.svc.CheckAvailability(context.Background(), f.carol.UserID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.False(t, got.Online)
}

func TestSetAvailability_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.cache.On("Invalidate", mock.Anything, f.carol.UserID).Return(nil).Once()

	require.NoError(t, f.svc.SetAvailability(context.Background(), f.carol.UserID, false))

	available, err := f.svc.IsAvailable(context.Background(), f.carol.UserID)
	require.NoError(t, err)
	assert.False(t, available)
	f.cache.AssertExpectations(t)
}
