package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// UUIDsToPgtype converts []uuid.UUID to []pgtype.UUID
func UUIDsToPgtype(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, len(ids))
	for i, id := range ids {
		out[i] = UUIDToPgtype(id)
	}
	return out
}

// PgtypeToUUIDs converts []pgtype.UUID to []uuid.UUID
func PgtypeToUUIDs(ids []pgtype.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = PgtypeToUUID(id)
	}
	return out
}

// OptionToPgtext converts mo.Option[string] to pgtype.Text
func OptionToPgtext(opt mo.Option[string]) pgtype.Text {
	if s, ok := opt.Get(); ok {
		return pgtype.Text{String: s, Valid: true}
	}
	return pgtype.Text{}
}

// PgtextToOption converts pgtype.Text to mo.Option[string]
func PgtextToOption(t pgtype.Text) mo.Option[string] {
	if !t.Valid {
		return mo.None[string]()
	}
	return mo.Some(t.String)
}

// TimeToPgtype converts time.Time to pgtype.Timestamptz
func TimeToPgtype(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// PgtypeToTime converts pgtype.Timestamptz to time.Time
func PgtypeToTime(t pgtype.Timestamptz) time.Time {
	return t.Time
}
