package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates every table the engine persists to. Statements are
// IF NOT EXISTS so running it repeatedly is safe. Cascade rules: deleting
// a professional removes their availability and slots, deleting an
// availability removes its slots, deleting an appointment removes its
// history, cancellation, ratings and communications.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS appointment_types (
			id UUID PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			duration_minutes INT NOT NULL,
			is_virtual BOOLEAN NOT NULL DEFAULT false,
			color_code TEXT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS availability (
			id UUID PRIMARY KEY,
			professional_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			is_recurring BOOLEAN NOT NULL DEFAULT false,
			recurrence_pattern TEXT,
			duration_minutes INT NOT NULL,
			availability_type TEXT NOT NULL DEFAULT 'regular',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (recurrence_pattern IN ('daily', 'weekly', 'monthly', 'custom')),
			CHECK (end_time > start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS appointment_slots (
			id UUID PRIMARY KEY,
			availability_id UUID NOT NULL REFERENCES availability(id) ON DELETE CASCADE,
			professional_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT true,
			max_bookings INT NOT NULL DEFAULT 1,
			current_bookings INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (current_bookings <= max_bookings),
			CHECK (current_bookings >= 0),
			CHECK (end_time > start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id UUID PRIMARY KEY,
			requester_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			professional_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			slot_id UUID NOT NULL REFERENCES appointment_slots(id) ON DELETE CASCADE,
			appointment_type_id UUID NOT NULL REFERENCES appointment_types(id) ON DELETE CASCADE,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (status IN ('scheduled', 'confirmed', 'pending', 'cancelled', 'completed')),
			CHECK (end_time > start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS appointment_history (
			id UUID PRIMARY KEY,
			appointment_id UUID NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
			changed_by_user_id UUID REFERENCES users(id) ON DELETE SET NULL,
			previous_state JSONB,
			new_state JSONB NOT NULL,
			change_type TEXT NOT NULL,
			change_source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (change_type IN ('status_change', 'reschedule', 'cancellation', 'metadata_update')),
			CHECK (change_source IN ('user', 'admin', 'system'))
		)`,
		`CREATE TABLE IF NOT EXISTS cancellations (
			id UUID PRIMARY KEY,
			appointment_id UUID UNIQUE NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
			cancelled_by_user_id UUID REFERENCES users(id) ON DELETE SET NULL,
			reason TEXT,
			notified_users JSONB,
			is_notified BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS appointment_ratings (
			id UUID PRIMARY KEY,
			appointment_id UUID NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
			rated_by_user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			rating INT NOT NULL,
			feedback TEXT,
			is_anonymous BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (appointment_id, rated_by_user_id),
			CHECK (rating BETWEEN 1 AND 5)
		)`,
		`CREATE TABLE IF NOT EXISTS communication_logs (
			id UUID PRIMARY KEY,
			appointment_id UUID NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
			sender_user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			recipient_user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			message_type TEXT NOT NULL,
			content TEXT,
			attachment_urls JSONB,
			is_read BOOLEAN NOT NULL DEFAULT false,
			read_at TIMESTAMPTZ,
			visibility_level TEXT NOT NULL DEFAULT 'public',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (visibility_level IN ('public', 'private', 'admin_only'))
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			reference_data JSONB,
			context_data JSONB,
			delivery_channel TEXT,
			is_read BOOLEAN NOT NULL DEFAULT false,
			is_sent BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			read_at TIMESTAMPTZ,
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_availability_by_professional
			ON availability (professional_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_by_professional
			ON appointment_slots (professional_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_by_availability
			ON appointment_slots (availability_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_by_professional
			ON appointments (professional_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_by_requester
			ON appointments (requester_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_by_slot
			ON appointments (slot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_by_appointment
			ON appointment_history (appointment_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_by_user
			ON notifications (user_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_unsent
			ON notifications (is_sent) WHERE NOT is_sent`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
