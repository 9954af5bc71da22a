package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

// fakeRepo keeps appointments in a map. It does not enforce the overlap
// rule itself so the service check is what is under test.
type fakeRepo struct {
	mu     sync.Mutex
	rows   map[int64]Appointment
	nextID int64

	saveErr     error
	findErr     error
	failFindsAt map[int]bool // 1-based FindOverlappingCandidates calls that fail
	finds       int
	lastQuery   ListQuery
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[int64]Appointment)}
}

func (r *fakeRepo) FindOverlappingCandidates(_ context.Context, practitionerID string, from, to time.Time, excludeID *int64) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finds++
	if r.findErr != nil || r.failFindsAt[r.finds] {
		return nil, errors.New("connection reset")
	}

	var out []Appointment
	for _, a := range r.rows {
		if a.PractitionerID == nil || *a.PractitionerID != practitionerID || a.Status == StatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeRepo) SaveAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return nil, r.saveErr
	}
	row := *a
	if row.ID == 0 {
		r.nextID++
		row.ID = r.nextID
		row.CreatedAt = time.Now()
		row.Version = 0
	} else if stored, ok := r.rows[row.ID]; !ok {
		return nil, ErrNotFound
	} else if stored.Version != row.Version {
		return nil, ErrStaleWrite
	}
	row.Version++
	row.UpdatedAt = time.Now()
	r.rows[row.ID] = row
	return &row, nil
}

func (r *fakeRepo) DeleteAppointment(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeRepo) FindAppointment(_ context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *fakeRepo) ListAppointments(_ context.Context, q ListQuery) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastQuery = q
	var out []Appointment
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *fakeRepo) ListDueReminders(_ context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.rows {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			continue
		}
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeLocker struct {
	calls []string
	err   error
}

func (l *fakeLocker) WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error {
	l.calls = append(l.calls, practitionerID)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []notification.Event
	err     error
	failFor map[int64]bool // appointment ids whose dispatch fails
}

func (n *fakeNotifier) Dispatch(_ context.Context, ev notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, ev)
	if n.failFor[ev.AppointmentID] {
		return notification.ErrDispatch
	}
	return n.err
}

func (n *fakeNotifier) types() []notification.Type {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []notification.Type
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

var testNow = time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	locker   *fakeLocker
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     newFakeRepo(),
		locker:   &fakeLocker{},
		notifier: &fakeNotifier{},
	}
	cfg := config.Config{
		ClinicLocation: time.UTC,
		ReminderLead:   24 * time.Hour,
	}
	f.svc = NewService(f.repo, f.locker, f.notifier, cfg, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func strPtr(s string) *string { return &s }

// interleavingRepo runs hook once, right after the first FindAppointment
// returns, to commit a competing write between a read and its save.
type interleavingRepo struct {
	*fakeRepo
	hook  func()
	fired bool
}

func (r *interleavingRepo) FindAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := r.fakeRepo.FindAppointment(ctx, id)
	if !r.fired && r.hook != nil {
		r.fired = true
		r.hook()
	}
	return a, err
}

// T is a future start used across the scenarios.
var T = time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)

func (f *fixture) create(t *testing.T, start time.Time, minutes int, practitioner *string) (*Appointment, error) {
	t.Helper()
	return f.svc.CreateAppointment(context.Background(), CreateInput{
		StartTime:       start,
		DurationMinutes: minutes,
		PatientID:       "P1",
		PractitionerID:  practitioner,
		Type:            TypePhysiotherapy,
	})
}

func TestCreateAppointment_Assigned(t *testing.T) {
	f := newFixture(t)

	ap, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	assert.NotZero(t, ap.ID)
	assert.Equal(t, StatusScheduled, ap.Status)
	assert.Equal(t, T.Add(time.Hour), ap.EndTime())
	assert.Equal(t, []string{"F1"}, f.locker.calls)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notification.TypeAssigned, f.notifier.events[0].Type)
	assert.Equal(t, ap.ID, f.notifier.events[0].AppointmentID)
}

func TestCreateAppointment_PendingAssignment(t *testing.T) {
	f := newFixture(t)

	ap, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		StartTime:       T,
		DurationMinutes: 30,
		PatientID:       "P1",
	})
	require.NoError(t, err)

	assert.Nil(t, ap.PractitionerID)
	assert.Equal(t, TypeConsultation, ap.Type)
	assert.Empty(t, f.locker.calls, "unassigned bookings take no lock")
	assert.Equal(t, []notification.Type{notification.TypePendingAssignment}, f.notifier.types())
}

func TestCreateAppointment_NormalizesToUTC(t *testing.T) {
	f := newFixture(t)
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	ap, err := f.create(t, time.Date(2030, 3, 4, 5, 0, 0, 0, bogota), 30, strPtr("F1"))
	require.NoError(t, err)

	assert.Equal(t, time.UTC, ap.StartTime.Location())
	assert.True(t, ap.StartTime.Equal(T))
}

func TestCreateAppointment_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"past start", CreateInput{StartTime: testNow.Add(-time.Minute), DurationMinutes: 30, PatientID: "P1"}},
		{"zero duration", CreateInput{StartTime: T, DurationMinutes: 0, PatientID: "P1"}},
		{"duration over a day", CreateInput{StartTime: T, DurationMinutes: 1441, PatientID: "P1"}},
		{"missing patient", CreateInput{StartTime: T, DurationMinutes: 30}},
		{"unknown type", CreateInput{StartTime: T, DurationMinutes: 30, PatientID: "P1", Type: "surgery"}},
		{"empty practitioner", CreateInput{StartTime: T, DurationMinutes: 30, PatientID: "P1", PractitionerID: strPtr("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.CreateAppointment(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Empty(t, f.repo.rows)
			assert.Empty(t, f.notifier.events)
		})
	}
}

func TestCreateAppointment_OverlapAndAdjacency(t *testing.T) {
	f := newFixture(t)

	_, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	_, err = f.create(t, T.Add(30*time.Minute), 30, strPtr("F1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	third, err := f.create(t, T.Add(60*time.Minute), 30, strPtr("F1"))
	require.NoError(t, err, "back to back bookings do not overlap")
	assert.NotZero(t, third.ID)

	_, err = f.create(t, T.Add(30*time.Minute), 30, strPtr("F2"))
	assert.NoError(t, err, "other practitioners are unaffected")

	assert.Len(t, f.repo.rows, 3)
	assert.Len(t, f.notifier.events, 3, "rejected bookings notify nobody")
}

func TestCreateAppointment_UnassignedNeverConflicts(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.create(t, T, 60, nil)
		require.NoError(t, err)
	}
	assert.Len(t, f.repo.rows, 3)
}

func TestCreateAppointment_LockNotAcquired(t *testing.T) {
	f := newFixture(t)
	f.locker.err = redisclient.ErrLockNotAcquired

	_, err := f.create(t, T, 30, strPtr("F1"))
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Empty(t, f.repo.rows)
}

func TestCreateAppointment_StorageConstraintIsConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.saveErr = ErrConflict

	_, err := f.create(t, T, 30, strPtr("F1"))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestCreateAppointment_RepositoryError(t *testing.T) {
	f := newFixture(t)
	f.repo.findErr = errors.New("boom")

	_, err := f.create(t, T, 30, strPtr("F1"))
	require.Error(t, err)
	assert.Equal(t, KindRepository, KindOf(err))
}

func TestCreateAppointment_DispatchFailureIsSuppressed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notification.ErrDispatch

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)
	assert.NotNil(t, ap)
	assert.Len(t, f.notifier.events, 1)
}

func TestUpdateAppointment_ConflictLeavesStoredUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)
	third, err := f.create(t, T.Add(60*time.Minute), 30, strPtr("F1"))
	require.NoError(t, err)

	moved := T.Add(30 * time.Minute)
	_, err = f.svc.UpdateAppointment(ctx, third.ID, UpdateInput{StartTime: &moved})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := f.svc.GetAppointment(ctx, third.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(T.Add(60*time.Minute)))
	assert.Len(t, f.notifier.events, 2)
}

func TestUpdateAppointment_ExcludesItself(t *testing.T) {
	f := newFixture(t)

	ap, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	shifted := T.Add(15 * time.Minute)
	updated, err := f.svc.UpdateAppointment(context.Background(), ap.ID, UpdateInput{StartTime: &shifted})
	require.NoError(t, err)

	assert.True(t, updated.StartTime.Equal(shifted))
	assert.Equal(t, notification.TypeModified, f.notifier.events[1].Type)
}

func TestUpdateAppointment_AssignPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)
	pending, err := f.create(t, T, 30, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointment(ctx, pending.ID, UpdateInput{PractitionerID: strPtr("F1")})
	assert.ErrorIs(t, err, ErrConflict)

	updated, err := f.svc.UpdateAppointment(ctx, pending.ID, UpdateInput{PractitionerID: strPtr("F2")})
	require.NoError(t, err)
	require.NotNil(t, updated.PractitionerID)
	assert.Equal(t, "F2", *updated.PractitionerID)
}

func TestUpdateAppointment_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)

	confirmed := StatusConfirmed
	updated, err := f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	scheduled := StatusScheduled
	_, err = f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{Status: &scheduled})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	completed := StatusCompleted
	_, err = f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)

	minutes := 45
	_, err = f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{DurationMinutes: &minutes})
	require.Error(t, err, "terminal appointments stay terminal")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.CancelAppointment(ctx, ap.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	stored, err := f.svc.GetAppointment(ctx, ap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestUpdateAppointment_ToCancelledEmitsCancelled(t *testing.T) {
	f := newFixture(t)

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)

	cancelled := StatusCancelled
	_, err = f.svc.UpdateAppointment(context.Background(), ap.ID, UpdateInput{Status: &cancelled})
	require.NoError(t, err)

	assert.Equal(t, []notification.Type{notification.TypeAssigned, notification.TypeCancelled}, f.notifier.types())
}

func TestCancelAppointment_FreesInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.create(t, T, 60, strPtr("F1"))
	assert.NoError(t, err)
}

func TestCancelAppointment_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, ap.ID)
	require.NoError(t, err)
	again, err := f.svc.CancelAppointment(ctx, ap.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, again.Status)
	assert.Equal(t, []notification.Type{notification.TypeAssigned, notification.TypeCancelled}, f.notifier.types())
}

func TestDeleteAppointment_ReturnsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)

	snapshot, err := f.svc.DeleteAppointment(ctx, ap.ID)
	require.NoError(t, err)
	assert.Equal(t, ap.ID, snapshot.ID)
	assert.Equal(t, notification.TypeCancelled, f.notifier.events[1].Type)

	_, err = f.svc.GetAppointment(ctx, ap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperations_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetAppointment(ctx, 99)
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = f.svc.UpdateAppointment(ctx, 99, UpdateInput{})
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = f.svc.CancelAppointment(ctx, 99)
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = f.svc.DeleteAppointment(ctx, 99)
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Empty(t, f.notifier.events)
}

func TestListAppointments_DayInClinicTimezone(t *testing.T) {
	f := newFixture(t)
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)
	f.svc.cfg.ClinicLocation = bogota

	day := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.ListAppointments(context.Background(), ListFilter{Day: &day, ParticipantID: "F1"})
	require.NoError(t, err)

	q := f.repo.lastQuery
	require.NotNil(t, q.From)
	require.NotNil(t, q.To)
	assert.Equal(t, time.Date(2030, 3, 3, 5, 0, 0, 0, time.UTC), *q.From)
	assert.Equal(t, time.Date(2030, 3, 4, 5, 0, 0, 0, time.UTC), *q.To)
	assert.Equal(t, "F1", q.ParticipantID)
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	q := AvailabilityQuery{StartTime: T.Add(30 * time.Minute), DurationMinutes: 30, PatientID: "P2", PractitionerID: strPtr("F1")}
	ok, err := f.svc.CheckAvailability(ctx, q)
	require.NoError(t, err)
	assert.False(t, ok)

	q.StartTime = T.Add(time.Hour)
	ok, err = f.svc.CheckAvailability(ctx, q)
	require.NoError(t, err)
	assert.True(t, ok)

	q.StartTime, q.PractitionerID = T, nil
	ok, err = f.svc.CheckAvailability(ctx, q)
	require.NoError(t, err)
	assert.True(t, ok)

	q.DurationMinutes = 0
	_, err = f.svc.CheckAvailability(ctx, q)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.create(t, time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC), 60, strPtr("F1"))
	require.NoError(t, err)

	q := SlotQuery{
		Date:            T,
		StartHour:       8,
		EndHour:         11,
		StepMinutes:     30,
		DurationMinutes: 30,
		PatientID:       "P2",
		PractitionerID:  strPtr("F1"),
	}

	slots, err := f.svc.Slots(ctx, q)
	require.NoError(t, err)

	var got []string
	for _, s := range slots {
		got = append(got, s.Format("15:04"))
	}
	assert.Equal(t, []string{"08:00", "08:30", "10:00", "10:30"}, got)

	q.PractitionerID = nil
	all, err := f.svc.Slots(ctx, q)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestSlots_FailedCandidateIsExcludedOnly(t *testing.T) {
	f := newFixture(t)
	f.repo.failFindsAt = map[int]bool{2: true}

	slots, err := f.svc.Slots(context.Background(), SlotQuery{
		Date:            T,
		StartHour:       8,
		EndHour:         10,
		StepMinutes:     30,
		DurationMinutes: 30,
		PatientID:       "P2",
		PractitionerID:  strPtr("F1"),
	})
	require.NoError(t, err)

	require.Len(t, slots, 3)
	assert.Equal(t, "08:00", slots[0].Format("15:04"))
	assert.Equal(t, "09:00", slots[1].Format("15:04"))
}

func TestSendReminders(t *testing.T) {
	f := newFixture(t)

	soon := testNow.Add(3 * time.Hour)
	_, err := f.create(t, soon, 30, strPtr("F1"))
	require.NoError(t, err)
	_, err = f.create(t, testNow.Add(48*time.Hour), 30, strPtr("F1"))
	require.NoError(t, err)
	f.notifier.events = nil

	n, err := f.svc.SendReminders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notification.TypeReminder, f.notifier.events[0].Type)
	assert.True(t, f.notifier.events[0].StartTime.Equal(soon))
}

func TestCreateAppointment_ConcurrentOverlapsBookOnce(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = redisclient.NewLocalLocker(5 * time.Second)

	const n = 12
	var (
		wg    sync.WaitGroup
		ready = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			_, errs[i] = f.svc.CreateAppointment(context.Background(), CreateInput{
				StartTime:       T.Add(time.Duration(i) * time.Minute),
				DurationMinutes: 60,
				PatientID:       "P1",
				PractitionerID:  strPtr("F1"),
			})
		}(i)
	}
	close(ready)
	wg.Wait()

	booked := 0
	for _, err := range errs {
		if err == nil {
			booked++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, booked)
	assert.Len(t, f.repo.rows, 1)
}

func TestUpdateAppointment_CancelledMeanwhileStaysCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ap, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	repo := &interleavingRepo{fakeRepo: f.repo}
	repo.hook = func() {
		_, err := f.svc.CancelAppointment(ctx, ap.ID)
		require.NoError(t, err)
	}
	f.svc.repo = repo

	thirty := 30
	_, err = f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{DurationMinutes: &thirty})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	stored := f.repo.rows[ap.ID]
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Equal(t, 60, stored.DurationMinutes)
	assert.Equal(t, []notification.Type{notification.TypeAssigned, notification.TypeCancelled}, f.notifier.types())
}

func TestCancelAppointment_ReloadsAfterConcurrentUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ap, err := f.create(t, T, 60, strPtr("F1"))
	require.NoError(t, err)

	confirmed := StatusConfirmed
	repo := &interleavingRepo{fakeRepo: f.repo}
	repo.hook = func() {
		_, err := f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{Status: &confirmed})
		require.NoError(t, err)
	}
	f.svc.repo = repo

	cancelled, err := f.svc.CancelAppointment(ctx, ap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 3, cancelled.Version)
	assert.Equal(t, []notification.Type{
		notification.TypeAssigned, notification.TypeModified, notification.TypeCancelled,
	}, f.notifier.types())
}

func TestUpdateAppointment_RacingCancelNeverRevives(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = redisclient.NewLocalLocker(5 * time.Second)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		ap, err := f.create(t, T.Add(time.Duration(i)*2*time.Hour), 30, strPtr("F1"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		ready := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-ready
			minutes := 45
			_, _ = f.svc.UpdateAppointment(ctx, ap.ID, UpdateInput{DurationMinutes: &minutes})
		}()
		go func() {
			defer wg.Done()
			<-ready
			_, err := f.svc.CancelAppointment(ctx, ap.ID)
			assert.NoError(t, err)
		}()
		close(ready)
		wg.Wait()

		stored, err := f.repo.FindAppointment(ctx, ap.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stored.Status, "appointment %d", ap.ID)
	}
}

func TestUpdateAppointment_StaleWriteGivesUpAsConflict(t *testing.T) {
	f := newFixture(t)

	ap, err := f.create(t, T, 30, strPtr("F1"))
	require.NoError(t, err)
	f.repo.saveErr = ErrStaleWrite

	minutes := 45
	_, err = f.svc.UpdateAppointment(context.Background(), ap.ID, UpdateInput{DurationMinutes: &minutes})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestSendReminders_CountsOnlyDispatched(t *testing.T) {
	f := newFixture(t)

	first, err := f.create(t, testNow.Add(2*time.Hour), 30, strPtr("F1"))
	require.NoError(t, err)
	_, err = f.create(t, testNow.Add(4*time.Hour), 30, strPtr("F1"))
	require.NoError(t, err)
	f.notifier.failFor = map[int64]bool{first.ID: true}

	n, err := f.svc.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
