package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	oldValues, _ := json.Marshal(rec.OldValues)
	newValues, _ := json.Marshal(rec.NewValues)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, entity_name, entity_id, action, user_id, username, occurred_at,
		                       client_ip, user_agent, old_values, new_values, description, result, error_message)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID, rec.EntityName, rec.EntityID, string(rec.Action), rec.UserID, rec.Username,
		rec.Timestamp, rec.ClientIP, rec.UserAgent, oldValues, newValues,
		rec.Description, string(rec.Result), rec.ErrorMessage,
	)
	return err
}
