package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appointly/booking-engine/internal/config"
	redisclient "github.com/appointly/booking-engine/internal/redis"
)

// fakeRepo is an in-memory Repository. Its ReserveSlot and
// TransitionAppointment honor the same guards as the Postgres
// implementation: the conditional capacity increment, the status
// compare-and-set, and the one-cancellation-per-appointment rule.
type fakeRepo struct {
	mu            sync.Mutex
	clock         int
	users         map[uuid.UUID]User
	types         map[uuid.UUID]AppointmentType
	availability  map[uuid.UUID]Availability
	slots         map[uuid.UUID]*Slot
	appointments  map[uuid.UUID]*Appointment
	history       map[uuid.UUID][]History // oldest first
	cancellations map[uuid.UUID]Cancellation
	ratings       map[uuid.UUID]map[uuid.UUID]Rating
	comms         map[uuid.UUID][]Communication
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         make(map[uuid.UUID]User),
		types:         make(map[uuid.UUID]AppointmentType),
		availability:  make(map[uuid.UUID]Availability),
		slots:         make(map[uuid.UUID]*Slot),
		appointments:  make(map[uuid.UUID]*Appointment),
		history:       make(map[uuid.UUID][]History),
		cancellations: make(map[uuid.UUID]Cancellation),
		ratings:       make(map[uuid.UUID]map[uuid.UUID]Rating),
		comms:         make(map[uuid.UUID][]Communication),
	}
}

// tick hands out strictly increasing timestamps so ledger ordering is
// deterministic. Callers must hold mu.
func (r *fakeRepo) tick() time.Time {
	r.clock++
	return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.clock) * time.Millisecond)
}

func (r *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *fakeRepo) GetAppointmentTypeByID(_ context.Context, id uuid.UUID) (*AppointmentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.types[id]
	if !ok {
		return nil, ErrTypeNotFound
	}
	return &at, nil
}

func (r *fakeRepo) ListAppointmentTypes(_ context.Context) ([]AppointmentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppointmentType, 0, len(r.types))
	for _, at := range r.types {
		out = append(out, at)
	}
	return out, nil
}

func (r *fakeRepo) CreateAvailability(_ context.Context, av *Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	av.CreatedAt = r.tick()
	av.UpdatedAt = av.CreatedAt
	r.availability[av.ID] = *av
	return nil
}

func (r *fakeRepo) GetAvailabilityByID(_ context.Context, id uuid.UUID) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	av, ok := r.availability[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &av, nil
}

func (r *fakeRepo) ListAvailability(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, av := range r.availability {
		if av.ProfessionalID == professionalID && !av.StartTime.Before(from) && !av.StartTime.After(to) {
			out = append(out, av)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertSlots(_ context.Context, slots []Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range slots {
		s := slots[i]
		r.slots[s.ID] = &s
	}
	return nil
}

func (r *fakeRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) ListAvailableSlots(_ context.Context, professionalID *uuid.UUID, from, to time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Slot
	for _, s := range r.slots {
		if !s.IsAvailable {
			continue
		}
		if professionalID != nil && s.ProfessionalID != *professionalID {
			continue
		}
		if s.StartTime.Before(from) || s.StartTime.After(to) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeRepo) ReserveSlot(_ context.Context, p ReserveParams) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[p.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.CurrentBookings >= slot.MaxBookings {
		return nil, ErrSlotUnavailable
	}
	if slot.ProfessionalID != p.ProfessionalID {
		return nil, ErrProfessionalMismatch
	}

	slot.CurrentBookings++
	slot.IsAvailable = slot.CurrentBookings < slot.MaxBookings

	now := r.tick()
	appt := &Appointment{
		ID:             uuid.New(),
		RequesterID:    p.RequesterID,
		ProfessionalID: p.ProfessionalID,
		SlotID:         p.SlotID,
		TypeID:         p.TypeID,
		StartTime:      slot.StartTime,
		EndTime:        slot.EndTime,
		Status:         p.Status,
		Metadata:       p.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.appointments[appt.ID] = appt

	changedBy := p.RequesterID
	r.history[appt.ID] = append(r.history[appt.ID], History{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		ChangedBy:     &changedBy,
		PreviousState: nil,
		NewState:      snapshotOf(appt),
		ChangeType:    ChangeStatus,
		ChangeSource:  SourceUser,
		CreatedAt:     r.tick(),
	})

	cp := *appt
	return &cp, nil
}

func (r *fakeRepo) TransitionAppointment(_ context.Context, p TransitionParams) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appointments[p.AppointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != p.From {
		return nil, ErrStatusConflict
	}
	if p.To == StatusCancelled {
		if _, exists := r.cancellations[p.AppointmentID]; exists {
			return nil, ErrAlreadyCancelled
		}
	}

	appt.Status = p.To
	appt.UpdatedAt = r.tick()

	changedBy := p.ChangedBy
	prev := p.Previous
	r.history[appt.ID] = append(r.history[appt.ID], History{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		ChangedBy:     &changedBy,
		PreviousState: &prev,
		NewState:      p.Next,
		ChangeType:    p.Change,
		ChangeSource:  p.Source,
		CreatedAt:     r.tick(),
	})

	if p.To == StatusCancelled {
		r.cancellations[p.AppointmentID] = Cancellation{
			ID:            uuid.New(),
			AppointmentID: p.AppointmentID,
			CancelledBy:   &changedBy,
			Reason:        p.Notes,
			CreatedAt:     r.tick(),
		}
		if slot, ok := r.slots[p.SlotID]; ok && slot.CurrentBookings > 0 {
			slot.CurrentBookings--
			slot.IsAvailable = slot.CurrentBookings < slot.MaxBookings
		}
	}

	cp := *appt
	return &cp, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (r *fakeRepo) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, appt := range r.appointments {
		switch {
		case f.Role != nil && *f.Role == RoleRequester:
			if appt.RequesterID != f.UserID {
				continue
			}
		case f.Role != nil && *f.Role == RoleProfessional:
			if appt.ProfessionalID != f.UserID {
				continue
			}
		default:
			if appt.RequesterID != f.UserID && appt.ProfessionalID != f.UserID {
				continue
			}
		}
		if f.Status != nil && appt.Status != *f.Status {
			continue
		}
		if f.From != nil && appt.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && appt.StartTime.After(*f.To) {
			continue
		}
		out = append(out, *appt)
	}
	return out, nil
}

func (r *fakeRepo) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[appointmentID]
	out := make([]History, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (r *fakeRepo) GetCancellation(_ context.Context, appointmentID uuid.UUID) (*Cancellation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cancellations[appointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &c, nil
}

func (r *fakeRepo) CreateRating(_ context.Context, rating *Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser, ok := r.ratings[rating.AppointmentID]
	if !ok {
		byUser = make(map[uuid.UUID]Rating)
		r.ratings[rating.AppointmentID] = byUser
	}
	if _, exists := byUser[rating.RatedBy]; exists {
		return ErrDuplicateRating
	}
	rating.CreatedAt = r.tick()
	byUser[rating.RatedBy] = *rating
	return nil
}

func (r *fakeRepo) CreateCommunication(_ context.Context, c *Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.CreatedAt = r.tick()
	r.comms[c.AppointmentID] = append(r.comms[c.AppointmentID], *c)
	return nil
}

func (r *fakeRepo) ListCommunications(_ context.Context, appointmentID uuid.UUID) ([]Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Communication(nil), r.comms[appointmentID]...), nil
}

// passLocker hands the critical section straight through.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker simulates a lock held by someone else on every attempt.
type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, uuid.UUID, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *fakeNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) byType(eventType string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, ev := range n.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		DefaultSlotMinutes:  30,
		DefaultSlotCapacity: 1,
		LookaheadDays:       30,
	}
}

func newTestService(t *testing.T, locker redisclient.Locker) (*Service, *fakeRepo, *fakeNotifier) {
	t.Helper()
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	svc := NewService(repo, locker, notifier, testConfig(), zap.NewNop())
	return svc, repo, notifier
}

func (r *fakeRepo) seedUser(t *testing.T) uuid.UUID {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.users[id] = User{ID: id, Name: "user-" + id.String()[:8]}
	return id
}

func (r *fakeRepo) seedType(t *testing.T) uuid.UUID {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.types[id] = AppointmentType{ID: id, Name: "Consultation", DurationMinutes: 30, IsActive: true}
	return id
}

func (r *fakeRepo) seedSlot(t *testing.T, professionalID uuid.UUID, maxBookings int) uuid.UUID {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	id := uuid.New()
	r.slots[id] = &Slot{
		ID:             id,
		AvailabilityID: uuid.New(),
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		IsAvailable:    true,
		MaxBookings:    maxBookings,
	}
	return id
}

func TestCreateAppointmentConcurrentContention(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})

	professional := repo.seedUser(t)
	typeID := repo.seedType(t)
	slotID := repo.seedSlot(t, professional, 2)

	const attempts = 8
	requesters := make([]uuid.UUID, attempts)
	for i := range requesters {
		requesters[i] = repo.seedUser(t)
	}

	errCh := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(requester uuid.UUID) {
			defer wg.Done()
			_, err := svc.CreateAppointment(context.Background(), CreateAppointmentInput{
				RequesterID:    requester,
				ProfessionalID: professional,
				SlotID:         slotID,
				TypeID:         typeID,
			})
			errCh <- err
		}(requesters[i])
	}
	wg.Wait()
	close(errCh)

	var successes, unavailable int
	for err := range errCh {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 2 {
		t.Fatalf("successes = %d, want exactly 2", successes)
	}
	if unavailable != attempts-2 {
		t.Fatalf("unavailable = %d, want %d", unavailable, attempts-2)
	}

	slot, err := repo.GetSlotByID(context.Background(), slotID)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	if slot.CurrentBookings != 2 {
		t.Fatalf("current_bookings = %d, want 2", slot.CurrentBookings)
	}
	if slot.IsAvailable {
		t.Fatal("slot still available after capacity exhausted")
	}
}

func TestCreateAppointmentLockContentionFallsThrough(t *testing.T) {
	// When the lock cannot be acquired the reservation goes straight to
	// the store, whose conditional update still decides the winner.
	svc, repo, _ := newTestService(t, busyLocker{})

	professional := repo.seedUser(t)
	requester := repo.seedUser(t)
	typeID := repo.seedType(t)
	slotID := repo.seedSlot(t, professional, 1)

	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: professional,
		SlotID:         slotID,
		TypeID:         typeID,
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})

	professional := repo.seedUser(t)
	other := repo.seedUser(t)
	requester := repo.seedUser(t)
	typeID := repo.seedType(t)
	slotID := repo.seedSlot(t, professional, 1)

	ctx := context.Background()

	// Slot belongs to a different professional than the one requested.
	_, err := svc.CreateAppointment(ctx, CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: other,
		SlotID:         slotID,
		TypeID:         typeID,
	})
	if !errors.Is(err, ErrProfessionalMismatch) {
		t.Fatalf("mismatch: error = %v, want ErrProfessionalMismatch", err)
	}

	// Unknown appointment type.
	_, err = svc.CreateAppointment(ctx, CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: professional,
		SlotID:         slotID,
		TypeID:         uuid.New(),
	})
	if !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("unknown type: error = %v, want ErrTypeNotFound", err)
	}

	// Unknown slot.
	_, err = svc.CreateAppointment(ctx, CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: professional,
		SlotID:         uuid.New(),
		TypeID:         typeID,
	})
	if !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("unknown slot: error = %v, want ErrSlotNotFound", err)
	}

	// Unknown requester.
	_, err = svc.CreateAppointment(ctx, CreateAppointmentInput{
		RequesterID:    uuid.New(),
		ProfessionalID: professional,
		SlotID:         slotID,
		TypeID:         typeID,
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown requester: error = %v, want ErrUserNotFound", err)
	}

	// Failed attempts must not consume capacity.
	slot, err := repo.GetSlotByID(ctx, slotID)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	if slot.CurrentBookings != 0 {
		t.Fatalf("current_bookings = %d after failed attempts, want 0", slot.CurrentBookings)
	}
}

func bookAppointment(t *testing.T, svc *Service, repo *fakeRepo, maxBookings int) (appt *Appointment, requester, professional, slotID uuid.UUID) {
	t.Helper()
	professional = repo.seedUser(t)
	requester = repo.seedUser(t)
	typeID := repo.seedType(t)
	slotID = repo.seedSlot(t, professional, maxBookings)

	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: professional,
		SlotID:         slotID,
		TypeID:         typeID,
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	return appt, requester, professional, slotID
}

func TestCancelRestoresCapacityOnce(t *testing.T) {
	svc, repo, notifier := newTestService(t, passLocker{})
	appt, requester, _, slotID := bookAppointment(t, svc, repo, 1)

	ctx := context.Background()
	actor := Actor{ID: requester, Roles: []Role{RoleRequester}}

	slot, _ := repo.GetSlotByID(ctx, slotID)
	if slot.IsAvailable {
		t.Fatal("slot should be full after booking")
	}

	updated, err := svc.UpdateAppointmentStatus(ctx, actor, appt.ID, StatusCancelled, nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}

	slot, _ = repo.GetSlotByID(ctx, slotID)
	if slot.CurrentBookings != 0 {
		t.Fatalf("current_bookings = %d after cancel, want 0", slot.CurrentBookings)
	}
	if !slot.IsAvailable {
		t.Fatal("slot should reopen after cancel")
	}

	c, err := repo.GetCancellation(ctx, appt.ID)
	if err != nil {
		t.Fatalf("GetCancellation: %v", err)
	}
	if c.CancelledBy == nil || *c.CancelledBy != requester {
		t.Fatalf("cancelled_by = %v, want %s", c.CancelledBy, requester)
	}

	// A second cancel passes the state machine (cancelled -> cancelled)
	// but must hit the one-cancellation rule and leave the slot alone.
	_, err = svc.UpdateAppointmentStatus(ctx, actor, appt.ID, StatusCancelled, nil)
	if !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("second cancel: error = %v, want ErrAlreadyCancelled", err)
	}

	slot, _ = repo.GetSlotByID(ctx, slotID)
	if slot.CurrentBookings != 0 {
		t.Fatalf("current_bookings = %d after duplicate cancel, want 0", slot.CurrentBookings)
	}

	cancelled := notifier.byType(EventAppointmentCancelled)
	if len(cancelled) != 1 {
		t.Fatalf("cancellation events = %d, want 1", len(cancelled))
	}
	if cancelled[0].UserID != updated.ProfessionalID {
		t.Fatalf("cancellation notified %s, want the professional %s", cancelled[0].UserID, updated.ProfessionalID)
	}
}

func TestHistoryLedgerNewestFirst(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})
	appt, requester, _, _ := bookAppointment(t, svc, repo, 1)

	ctx := context.Background()
	actor := Actor{ID: requester, Roles: []Role{RoleRequester}}

	if _, err := svc.UpdateAppointmentStatus(ctx, actor, appt.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.UpdateAppointmentStatus(ctx, actor, appt.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	entries, err := svc.History(ctx, appt.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}

	// Newest first: completed, confirmed, creation.
	if entries[0].NewState.Status != StatusCompleted {
		t.Errorf("entries[0].new_state.status = %s, want completed", entries[0].NewState.Status)
	}
	if entries[0].PreviousState == nil || entries[0].PreviousState.Status != StatusConfirmed {
		t.Errorf("entries[0].previous_state = %+v, want confirmed", entries[0].PreviousState)
	}
	if entries[1].NewState.Status != StatusConfirmed {
		t.Errorf("entries[1].new_state.status = %s, want confirmed", entries[1].NewState.Status)
	}
	if entries[2].PreviousState != nil {
		t.Errorf("creation entry has previous_state %+v, want nil", entries[2].PreviousState)
	}
	if entries[2].NewState.Status != StatusScheduled {
		t.Errorf("creation entry new_state.status = %s, want scheduled", entries[2].NewState.Status)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Fatalf("ledger not newest-first at index %d", i)
		}
	}
}

func TestTerminalStateAndAdminOverride(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})
	appt, requester, _, _ := bookAppointment(t, svc, repo, 1)

	ctx := context.Background()
	requesterActor := Actor{ID: requester, Roles: []Role{RoleRequester}}
	admin := Actor{ID: repo.seedUser(t), Roles: []Role{RoleAdmin}}

	if _, err := svc.UpdateAppointmentStatus(ctx, requesterActor, appt.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := svc.UpdateAppointmentStatus(ctx, requesterActor, appt.ID, StatusScheduled, nil)
	if !errors.Is(err, ErrTerminalState) {
		t.Fatalf("non-admin leaving completed: error = %v, want ErrTerminalState", err)
	}

	updated, err := svc.UpdateAppointmentStatus(ctx, admin, appt.ID, StatusScheduled, nil)
	if err != nil {
		t.Fatalf("admin override: %v", err)
	}
	if updated.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", updated.Status)
	}

	entries, err := svc.History(ctx, appt.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	newest := entries[0]
	if newest.PreviousState == nil || newest.PreviousState.Status != StatusCompleted {
		t.Fatalf("override entry previous_state = %+v, want completed", newest.PreviousState)
	}
	if newest.ChangeSource != SourceAdmin {
		t.Fatalf("override entry change_source = %s, want admin", newest.ChangeSource)
	}
}

func TestUpdateStatusAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})
	appt, _, _, _ := bookAppointment(t, svc, repo, 1)

	stranger := Actor{ID: repo.seedUser(t), Roles: []Role{RoleRequester}}
	_, err := svc.UpdateAppointmentStatus(context.Background(), stranger, appt.ID, StatusCancelled, nil)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stranger transition: error = %v, want ErrNotAuthorized", err)
	}

	_, err = svc.UpdateAppointmentStatus(context.Background(), stranger, appt.ID, "unknown", nil)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status: error = %v, want ErrInvalidStatus", err)
	}
}

func TestRateAppointment(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})
	appt, requester, professional, _ := bookAppointment(t, svc, repo, 1)

	ctx := context.Background()
	requesterActor := Actor{ID: requester, Roles: []Role{RoleRequester}}

	// Only completed appointments can be rated.
	_, err := svc.RateAppointment(ctx, requesterActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: 5})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rating before completion: error = %v, want ErrInvalidInput", err)
	}

	if _, err := svc.UpdateAppointmentStatus(ctx, requesterActor, appt.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, bad := range []int{0, 6, -1} {
		if _, err := svc.RateAppointment(ctx, requesterActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: bad}); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %d: error = %v, want ErrInvalidRating", bad, err)
		}
	}

	stranger := Actor{ID: repo.seedUser(t), Roles: []Role{RoleRequester}}
	if _, err := svc.RateAppointment(ctx, stranger, RateAppointmentInput{AppointmentID: appt.ID, Rating: 4}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stranger rating: error = %v, want ErrNotAuthorized", err)
	}

	rating, err := svc.RateAppointment(ctx, requesterActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: 4})
	if err != nil {
		t.Fatalf("RateAppointment: %v", err)
	}
	if rating.RatedBy != requester {
		t.Fatalf("rated_by = %s, want %s", rating.RatedBy, requester)
	}

	if _, err := svc.RateAppointment(ctx, requesterActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: 3}); !errors.Is(err, ErrDuplicateRating) {
		t.Fatalf("duplicate rating: error = %v, want ErrDuplicateRating", err)
	}

	// Each side rates independently.
	professionalActor := Actor{ID: professional, Roles: []Role{RoleProfessional}}
	if _, err := svc.RateAppointment(ctx, professionalActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: 5}); err != nil {
		t.Fatalf("professional rating: %v", err)
	}
}

func TestAddCommunication(t *testing.T) {
	svc, repo, notifier := newTestService(t, passLocker{})
	appt, requester, professional, _ := bookAppointment(t, svc, repo, 1)

	ctx := context.Background()
	requesterActor := Actor{ID: requester, Roles: []Role{RoleRequester}}

	comm, err := svc.AddCommunication(ctx, requesterActor, AddCommunicationInput{
		AppointmentID: appt.ID,
		RecipientID:   professional,
		MessageType:   "text",
		Content:       "Running five minutes late.",
	})
	if err != nil {
		t.Fatalf("AddCommunication: %v", err)
	}
	if comm.Visibility != VisibilityPublic {
		t.Fatalf("visibility = %s, want public default", comm.Visibility)
	}

	// Recipient must be on the appointment.
	_, err = svc.AddCommunication(ctx, requesterActor, AddCommunicationInput{
		AppointmentID: appt.ID,
		RecipientID:   repo.seedUser(t),
		MessageType:   "text",
		Content:       "hello",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("outside recipient: error = %v, want ErrInvalidInput", err)
	}

	stranger := Actor{ID: repo.seedUser(t), Roles: []Role{RoleRequester}}
	_, err = svc.AddCommunication(ctx, stranger, AddCommunicationInput{
		AppointmentID: appt.ID,
		RecipientID:   requester,
		MessageType:   "text",
		Content:       "hello",
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stranger sender: error = %v, want ErrNotAuthorized", err)
	}

	msgs := notifier.byType(EventNewMessage)
	if len(msgs) != 1 {
		t.Fatalf("message events = %d, want 1", len(msgs))
	}
	if msgs[0].UserID != professional {
		t.Fatalf("message event went to %s, want %s", msgs[0].UserID, professional)
	}
}

func TestCreateAvailabilityGeneratesSlots(t *testing.T) {
	svc, repo, _ := newTestService(t, passLocker{})

	professional := repo.seedUser(t)
	actor := Actor{ID: professional, Roles: []Role{RoleProfessional}}
	start := time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC)

	av, slots, err := svc.CreateAvailability(context.Background(), actor, CreateAvailabilityInput{
		ProfessionalID: professional,
		StartTime:      start,
		EndTime:        start.Add(3 * time.Hour),
		GenerateSlots:  true,
		SlotMinutes:    30,
	})
	if err != nil {
		t.Fatalf("CreateAvailability: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("generated %d slots, want 6", len(slots))
	}

	listed, err := svc.ListAvailableSlots(context.Background(), &professional, &start, nil)
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(listed) != 6 {
		t.Fatalf("listed %d slots, want 6", len(listed))
	}
	for _, s := range listed {
		if s.AvailabilityID != av.ID {
			t.Fatalf("slot %s belongs to %s, want %s", s.ID, s.AvailabilityID, av.ID)
		}
	}

	// Only the professional themselves (or an admin) can declare a window.
	other := Actor{ID: repo.seedUser(t), Roles: []Role{RoleProfessional}}
	_, _, err = svc.CreateAvailability(context.Background(), other, CreateAvailabilityInput{
		ProfessionalID: professional,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("foreign window: error = %v, want ErrNotAuthorized", err)
	}

	_, _, err = svc.CreateAvailability(context.Background(), actor, CreateAvailabilityInput{
		ProfessionalID: professional,
		StartTime:      start,
		EndTime:        start,
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window: error = %v, want ErrInvalidWindow", err)
	}
}

func TestBookingLifecycle(t *testing.T) {
	svc, repo, notifier := newTestService(t, passLocker{})

	professional := repo.seedUser(t)
	requester := repo.seedUser(t)
	typeID := repo.seedType(t)
	professionalActor := Actor{ID: professional, Roles: []Role{RoleProfessional}}
	requesterActor := Actor{ID: requester, Roles: []Role{RoleRequester}}

	start := time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC)
	_, slots, err := svc.CreateAvailability(context.Background(), professionalActor, CreateAvailabilityInput{
		ProfessionalID: professional,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		GenerateSlots:  true,
		SlotMinutes:    30,
	})
	if err != nil {
		t.Fatalf("CreateAvailability: %v", err)
	}

	ctx := context.Background()
	appt, err := svc.CreateAppointment(ctx, CreateAppointmentInput{
		RequesterID:    requester,
		ProfessionalID: professional,
		SlotID:         slots[0].ID,
		TypeID:         typeID,
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	if _, err := svc.UpdateAppointmentStatus(ctx, professionalActor, appt.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.UpdateAppointmentStatus(ctx, professionalActor, appt.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.RateAppointment(ctx, requesterActor, RateAppointmentInput{AppointmentID: appt.ID, Rating: 5}); err != nil {
		t.Fatalf("rate: %v", err)
	}

	detail, err := svc.GetAppointment(ctx, requesterActor, appt.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if detail.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", detail.Status)
	}
	if len(detail.History) != 3 {
		t.Fatalf("history entries = %d, want 3", len(detail.History))
	}

	role := RoleRequester
	appts, err := svc.ListAppointments(ctx, ListAppointmentsInput{UserID: requester, Role: &role})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(appts) != 1 || appts[0].ID != appt.ID {
		t.Fatalf("listed appointments = %+v, want the booked one", appts)
	}

	if got := len(notifier.byType(EventAppointmentCreated)); got != 2 {
		t.Fatalf("created events = %d, want 2 (both parties)", got)
	}
	if got := len(notifier.byType(EventAppointmentConfirmed)); got != 2 {
		t.Fatalf("confirmed events = %d, want 2", got)
	}
	if got := len(notifier.byType(EventAppointmentCompleted)); got != 1 {
		t.Fatalf("completed events = %d, want 1", got)
	}
}
