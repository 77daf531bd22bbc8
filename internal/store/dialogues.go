package store

import (
	"context"
	"fmt"
	"time"
)

// DialogueEntry is one message in a client's conversation log.
type DialogueEntry struct {
	ID             int64
	ProjectID      string
	ClientID       string
	Role           string // user | assistant
	Message        string
	IsFirstMessage bool
	Timestamp      time.Time
}

// AppendDialogue stores one conversation message.
func (d *DB) AppendDialogue(ctx context.Context, projectID, clientID, role, message string, first bool) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO dialogues (project_id, client_id, role, message, is_first_message)
		VALUES (?, ?, ?, ?, ?)`, projectID, clientID, role, message, boolInt(first))
	if err != nil {
		return fmt.Errorf("append dialogue: %w", err)
	}
	return nil
}

// DialogueHistory returns the client's conversation in chronological order.
// limit <= 0 means no limit.
func (d *DB) DialogueHistory(ctx context.Context, projectID, clientID string, limit int) ([]DialogueEntry, error) {
	query := `SELECT id, project_id, client_id, role, message, is_first_message, timestamp
		FROM dialogues WHERE project_id = ? AND client_id = ? ORDER BY timestamp, id`
	args := []any{projectID, clientID}
	if limit > 0 {
		// Keep the most recent messages but preserve chronological order.
		query = `SELECT * FROM (
			SELECT id, project_id, client_id, role, message, is_first_message, timestamp
			FROM dialogues WHERE project_id = ? AND client_id = ?
			ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp, id`
		args = append(args, limit)
	}
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialogue history: %w", err)
	}
	defer rows.Close()

	var out []DialogueEntry
	for rows.Next() {
		var e DialogueEntry
		var first int
		var ts string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ClientID, &e.Role, &e.Message, &first, &ts); err != nil {
			return nil, err
		}
		e.IsFirstMessage = first != 0
		e.Timestamp, _ = time.Parse("2006-01-02 15:04:05", ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasDialogue reports whether the client has talked to the bot before.
func (d *DB) HasDialogue(ctx context.Context, projectID, clientID string) (bool, error) {
	var n int
	err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM dialogues WHERE project_id = ? AND client_id = ?`,
		projectID, clientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has dialogue: %w", err)
	}
	return n > 0, nil
}

// SaveFeedback stores a client comment.
func (d *DB) SaveFeedback(ctx context.Context, projectID, clientID, comment string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO feedback (project_id, client_id, comment) VALUES (?, ?, ?)`,
		projectID, clientID, comment)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// ProviderSwitch is one entry in the AI provider audit trail.
type ProviderSwitch struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	SwitchedAt time.Time `json:"timestamp"`
}

// RecordProviderSwitch appends to the switch history.
func (d *DB) RecordProviderSwitch(ctx context.Context, from, to, reason string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO provider_switches (from_provider, to_provider, reason) VALUES (?, ?, ?)`,
		from, to, reason)
	if err != nil {
		return fmt.Errorf("record switch: %w", err)
	}
	return nil
}

// ProviderSwitchHistory lists switches, oldest first.
func (d *DB) ProviderSwitchHistory(ctx context.Context) ([]ProviderSwitch, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT from_provider, to_provider, COALESCE(reason,''), switched_at
		FROM provider_switches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("switch history: %w", err)
	}
	defer rows.Close()

	var out []ProviderSwitch
	for rows.Next() {
		var s ProviderSwitch
		var ts string
		if err := rows.Scan(&s.From, &s.To, &s.Reason, &ts); err != nil {
			return nil, err
		}
		s.SwitchedAt, _ = time.Parse("2006-01-02 15:04:05", ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResetProviderSwitchHistory clears the audit trail.
func (d *DB) ResetProviderSwitchHistory(ctx context.Context) error {
	_, err := d.ExecContext(ctx, `DELETE FROM provider_switches`)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
