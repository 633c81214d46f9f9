package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Email = email
	return &u, nil
}

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.DurationMinutes,
		&t.IsVirtual,
		&t.ColorCode,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTypeNotFound
		}
		return nil, err
	}

	return &t, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var av Availability
	var pattern *string

	err := row.Scan(
		&av.ID,
		&av.ProfessionalID,
		&av.StartTime,
		&av.EndTime,
		&av.IsRecurring,
		&pattern,
		&av.DurationMinutes,
		&av.Type,
		&av.CreatedAt,
		&av.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	if pattern != nil {
		p := RecurrencePattern(*pattern)
		av.RecurrencePattern = &p
	}
	return &av, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.AvailabilityID,
		&s.ProfessionalID,
		&s.StartTime,
		&s.EndTime,
		&s.IsAvailable,
		&s.MaxBookings,
		&s.CurrentBookings,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var metadata []byte

	err := row.Scan(
		&a.ID,
		&a.RequesterID,
		&a.ProfessionalID,
		&a.SlotID,
		&a.TypeID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Metadata = decodeMap(metadata)
	return &a, nil
}

// decodeMap deserializes a stored JSON column. Malformed payloads degrade
// to the raw stored value instead of failing the read.
func decodeMap(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"raw": string(b)}
	}
	return m
}

func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

const appointmentCols = `id, requester_id, professional_id, slot_id, appointment_type_id,
	start_time, end_time, status, metadata, created_at, updated_at`

const slotCols = `id, availability_id, professional_id, start_time, end_time,
	is_available, max_bookings, current_bookings, created_at`

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetAppointmentTypeByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, duration_minutes, is_virtual, color_code, is_active, created_at, updated_at
		FROM appointment_types
		WHERE id = $1 AND is_active
	`, id)
	return scanAppointmentType(row)
}

func (r *PgRepository) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, duration_minutes, is_virtual, color_code, is_active, created_at, updated_at
		FROM appointment_types
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentType
	for rows.Next() {
		t, err := scanAppointmentType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAvailability(ctx context.Context, av *Availability) error {
	var pattern *string
	if av.RecurrencePattern != nil {
		p := string(*av.RecurrencePattern)
		pattern = &p
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability (id, professional_id, start_time, end_time, is_recurring,
			recurrence_pattern, duration_minutes, availability_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, av.ID, av.ProfessionalID, av.StartTime, av.EndTime, av.IsRecurring,
		pattern, av.DurationMinutes, av.Type)
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, professional_id, start_time, end_time, is_recurring,
			recurrence_pattern, duration_minutes, availability_type, created_at, updated_at
		FROM availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) ListAvailability(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, professional_id, start_time, end_time, is_recurring,
			recurrence_pattern, duration_minutes, availability_type, created_at, updated_at
		FROM availability
		WHERE professional_id = $1
		  AND end_time >= $2
		  AND start_time <= $3
		ORDER BY start_time
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		av, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *av)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointment_slots (id, availability_id, professional_id,
				start_time, end_time, is_available, max_bookings, current_bookings, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, s.ID, s.AvailabilityID, s.ProfessionalID, s.StartTime, s.EndTime,
			s.IsAvailable, s.MaxBookings, s.CurrentBookings, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM appointment_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, professionalID *uuid.UUID, from, to time.Time) ([]Slot, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + slotCols + `
		FROM appointment_slots
		WHERE is_available
		  AND current_bookings < max_bookings
		  AND end_time >= $1
		  AND start_time <= $2
	`)
	args := []any{from, to}
	if professionalID != nil {
		args = append(args, *professionalID)
		sb.WriteString(" AND professional_id = $" + strconv.Itoa(len(args)))
	}
	sb.WriteString(" ORDER BY start_time")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// ReserveSlot is the single atomic unit behind CreateAppointment. The
// conditional UPDATE takes the row lock and enforces the capacity
// invariant, so two concurrent reservations against a one-capacity slot
// can never both pass the guard.
func (r *PgRepository) ReserveSlot(ctx context.Context, p ReserveParams) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		slotProfessional uuid.UUID
		start, end       time.Time
	)
	err = tx.QueryRow(ctx, `
		UPDATE appointment_slots
		SET current_bookings = current_bookings + 1,
		    is_available = (current_bookings + 1) < max_bookings
		WHERE id = $1
		  AND current_bookings < max_bookings
		RETURNING professional_id, start_time, end_time
	`, p.SlotID).Scan(&slotProfessional, &start, &end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifySlotFailure(ctx, tx, p.SlotID)
		}
		return nil, fmt.Errorf("increment slot bookings: %w", err)
	}

	if slotProfessional != p.ProfessionalID {
		return nil, ErrProfessionalMismatch
	}

	metadata, err := encodeMap(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, requester_id, professional_id, slot_id,
			appointment_type_id, start_time, end_time, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentCols+`
	`, id, p.RequesterID, p.ProfessionalID, p.SlotID, p.TypeID, start, end, p.Status, metadata)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	newState, err := json.Marshal(snapshotOf(appt))
	if err != nil {
		return nil, fmt.Errorf("encode state snapshot: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_history (id, appointment_id, changed_by_user_id,
			previous_state, new_state, change_type, change_source, created_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, now())
	`, uuid.New(), appt.ID, p.RequesterID, newState, ChangeStatus, SourceUser)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}

	return appt, nil
}

// classifySlotFailure tells a missing slot apart from an exhausted one
// after the conditional update matched nothing.
func (r *PgRepository) classifySlotFailure(ctx context.Context, tx pgx.Tx, slotID uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment_slots WHERE id = $1)
	`, slotID).Scan(&exists); err != nil {
		return fmt.Errorf("check slot existence: %w", err)
	}
	if !exists {
		return ErrSlotNotFound
	}
	return ErrSlotUnavailable
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, p TransitionParams) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols+`
	`, p.AppointmentID, p.To, p.From)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyTransitionFailure(ctx, tx, p.AppointmentID)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	prevState, err := json.Marshal(p.Previous)
	if err != nil {
		return nil, fmt.Errorf("encode previous state: %w", err)
	}
	newState, err := json.Marshal(p.Next)
	if err != nil {
		return nil, fmt.Errorf("encode new state: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_history (id, appointment_id, changed_by_user_id,
			previous_state, new_state, change_type, change_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, uuid.New(), p.AppointmentID, p.ChangedBy, prevState, newState, p.Change, p.Source)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if p.To == StatusCancelled {
		if err := r.recordCancellation(ctx, tx, p); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) classifyTransitionFailure(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check appointment existence: %w", err)
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStatusConflict
}

// recordCancellation writes the one-to-one cancellation row and hands the
// booking back to the slot. The unique constraint on appointment_id makes
// a second cancellation fail inside the same transaction, so neither a
// duplicate row nor a double decrement can ever land.
func (r *PgRepository) recordCancellation(ctx context.Context, tx pgx.Tx, p TransitionParams) error {
	notified, err := json.Marshal([]uuid.UUID{})
	if err != nil {
		return fmt.Errorf("encode notified users: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO cancellations (id, appointment_id, cancelled_by_user_id,
			reason, notified_users, is_notified, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())
		ON CONFLICT (appointment_id) DO NOTHING
	`, uuid.New(), p.AppointmentID, p.ChangedBy, p.Notes, notified)
	if err != nil {
		return fmt.Errorf("insert cancellation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyCancelled
	}

	// Restore capacity. is_available is recomputed from the counters, not
	// hardcoded, so slots with max_bookings > 1 stay consistent.
	_, err = tx.Exec(ctx, `
		UPDATE appointment_slots
		SET current_bookings = current_bookings - 1,
		    is_available = (current_bookings - 1) < max_bookings
		WHERE id = $1
		  AND current_bookings > 0
	`, p.SlotID)
	if err != nil {
		return fmt.Errorf("restore slot capacity: %w", err)
	}

	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + appointmentCols + `
		FROM appointments
		WHERE `)

	args := []any{f.UserID}
	switch {
	case f.Role != nil && *f.Role == RoleProfessional:
		sb.WriteString("professional_id = $1")
	case f.Role != nil && *f.Role == RoleRequester:
		sb.WriteString("requester_id = $1")
	default:
		sb.WriteString("(professional_id = $1 OR requester_id = $1)")
	}

	if f.Status != nil {
		args = append(args, *f.Status)
		sb.WriteString(" AND status = $" + strconv.Itoa(len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		sb.WriteString(" AND end_time >= $" + strconv.Itoa(len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		sb.WriteString(" AND start_time <= $" + strconv.Itoa(len(args)))
	}
	sb.WriteString(" ORDER BY start_time")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, changed_by_user_id, previous_state, new_state,
			change_type, change_source, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at DESC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []History
	for rows.Next() {
		var h History
		var prev, next []byte

		err := rows.Scan(
			&h.ID,
			&h.AppointmentID,
			&h.ChangedBy,
			&prev,
			&next,
			&h.ChangeType,
			&h.ChangeSource,
			&h.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if len(prev) > 0 {
			var snap StateSnapshot
			if err := json.Unmarshal(prev, &snap); err == nil {
				h.PreviousState = &snap
			}
		}
		if len(next) > 0 {
			_ = json.Unmarshal(next, &h.NewState)
		}

		result = append(result, h)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetCancellation(ctx context.Context, appointmentID uuid.UUID) (*Cancellation, error) {
	var c Cancellation
	var notified []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, cancelled_by_user_id, reason, notified_users, is_notified, created_at
		FROM cancellations
		WHERE appointment_id = $1
	`, appointmentID).Scan(
		&c.ID,
		&c.AppointmentID,
		&c.CancelledBy,
		&c.Reason,
		&notified,
		&c.IsNotified,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	_ = json.Unmarshal(notified, &c.NotifiedUsers)
	return &c, nil
}

func (r *PgRepository) CreateRating(ctx context.Context, rt *Rating) error {
	ct, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_ratings (id, appointment_id, rated_by_user_id,
			rating, feedback, is_anonymous, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (appointment_id, rated_by_user_id) DO NOTHING
	`, rt.ID, rt.AppointmentID, rt.RatedBy, rt.Rating, rt.Feedback, rt.IsAnonymous)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateRating
	}
	return nil
}

func (r *PgRepository) CreateCommunication(ctx context.Context, c *Communication) error {
	attachments, err := json.Marshal(c.AttachmentURLs)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO communication_logs (id, appointment_id, sender_user_id, recipient_user_id,
			message_type, content, attachment_urls, is_read, visibility_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, now())
	`, c.ID, c.AppointmentID, c.SenderID, c.RecipientID, c.MessageType, c.Content, attachments, c.Visibility)
	if err != nil {
		return fmt.Errorf("insert communication: %w", err)
	}
	return nil
}

func (r *PgRepository) ListCommunications(ctx context.Context, appointmentID uuid.UUID) ([]Communication, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, sender_user_id, recipient_user_id, message_type,
			content, attachment_urls, is_read, read_at, visibility_level, created_at
		FROM communication_logs
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Communication
	for rows.Next() {
		var c Communication
		var attachments []byte

		err := rows.Scan(
			&c.ID,
			&c.AppointmentID,
			&c.SenderID,
			&c.RecipientID,
			&c.MessageType,
			&c.Content,
			&attachments,
			&c.IsRead,
			&c.ReadAt,
			&c.Visibility,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		_ = json.Unmarshal(attachments, &c.AttachmentURLs)
		result = append(result, c)
	}
	return result, rows.Err()
}
