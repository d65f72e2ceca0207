package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldreport/internal/reminder"
	logx "fieldreport/pkg/logx"
)

// dialect captures the few places sqlite and postgres differ.
type dialect struct {
	name string
	// numbered placeholders ($1, $2...) instead of "?"
	numbered bool
	isUnique func(err error) bool
}

// sqlStore implements Store on database/sql. Scheduled times are naive
// wall-clock text in reminder.TimeLayout, read and written in loc, so
// "scheduled <= now" compares lexically on both engines. Created/sent stamps
// use RFC 3339. Connection-code stamps are fixed-width UTC (stampLayout) so
// expiry comparisons survive DST shifts.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	d   dialect
	loc *time.Location
}

// stampLayout is RFC 3339 with a fixed-width fraction; in UTC it sorts lexically.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const reminderColumns = `id, staff_name, chat_id, message, scheduled_time, status, created_at, sent_at, error_message, detail_id`

func newSQLStore(db *sql.DB, d dialect, loc *time.Location, log logx.Logger) *sqlStore {
	if loc == nil {
		loc = time.Local
	}
	return &sqlStore{db: db, log: log, d: d, loc: loc}
}

// migrate runs the embedded schema one statement at a time.
func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) fmtSchedule(t time.Time) string { return t.In(s.loc).Format(reminder.TimeLayout) }

func (s *sqlStore) parseSchedule(v string) (time.Time, error) {
	return time.ParseInLocation(reminder.TimeLayout, v, s.loc)
}

func fmtStamp(t time.Time) string { return t.UTC().Format(stampLayout) }

func parseStamp(v string) (time.Time, error) { return time.Parse(stampLayout, v) }

func (s *sqlStore) CreateReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.Status == "" {
		r.Status = reminder.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var detail any
	if r.DetailID != nil {
		detail = *r.DetailID
	}
	var sentAt any
	if r.SentAt != nil {
		sentAt = r.SentAt.Format(time.RFC3339Nano)
	}
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO reminders(staff_name, chat_id, message, scheduled_time, status, created_at, sent_at, error_message, detail_id)
		 VALUES(?,?,?,?,?,?,?,?,?) RETURNING id`),
		r.StaffName, nullStr(r.ChatID), r.Message, s.fmtSchedule(r.ScheduledTime), string(r.Status),
		r.CreatedAt.Format(time.RFC3339Nano), sentAt, nullStr(r.ErrorMessage), detail,
	).Scan(&r.ID)
	if err != nil {
		if r.DetailID != nil && s.d.isUnique(err) {
			return reminder.Reminder{}, fmt.Errorf("detail %d: %w", *r.DetailID, reminder.ErrDetailHasReminder)
		}
		return reminder.Reminder{}, err
	}
	return s.GetReminder(ctx, r.ID)
}

func (s *sqlStore) GetReminder(ctx context.Context, id int64) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), id)
	r, err := s.scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	return r, err
}

func (s *sqlStore) ListReminders(ctx context.Context, f reminder.Filter) ([]reminder.Reminder, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StaffName != "" {
		where = append(where, "staff_name = ?")
		args = append(args, f.StaffName)
	}
	if f.DetailID != nil {
		where = append(where, "detail_id = ?")
		args = append(args, *f.DetailID)
	}
	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	return s.queryReminders(ctx, s.q(query), args...)
}

func (s *sqlStore) DueReminders(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	return s.queryReminders(ctx, s.q(
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = 'pending' AND scheduled_time <= ?
		 ORDER BY scheduled_time ASC, id ASC`),
		s.fmtSchedule(now),
	)
}

func (s *sqlStore) UpdateStatus(ctx context.Context, id int64, status reminder.Status, sentAt *time.Time, errMsg string) error {
	var sent any
	if sentAt != nil {
		sent = sentAt.Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE reminders SET status = ?, sent_at = ?, error_message = ? WHERE id = ? AND status = 'pending'`),
		string(status), sent, nullStr(errMsg), id,
	)
	if err != nil {
		return err
	}
	return s.checkPendingWrite(ctx, id, res)
}

func (s *sqlStore) UpdateReminder(ctx context.Context, id int64, p reminder.Patch) (reminder.Reminder, error) {
	var (
		set  []string
		args []any
	)
	if p.StaffName != nil {
		set = append(set, "staff_name = ?")
		args = append(args, *p.StaffName)
	}
	if p.ChatID != nil {
		set = append(set, "chat_id = ?")
		args = append(args, nullStr(*p.ChatID))
	}
	if p.Message != nil {
		set = append(set, "message = ?")
		args = append(args, *p.Message)
	}
	if p.ScheduledTime != nil {
		set = append(set, "scheduled_time = ?")
		args = append(args, s.fmtSchedule(*p.ScheduledTime))
	}
	if len(set) == 0 {
		r, err := s.GetReminder(ctx, id)
		if err != nil {
			return reminder.Reminder{}, err
		}
		if r.Status != reminder.StatusPending {
			return reminder.Reminder{}, fmt.Errorf("reminder %d is %s: %w", id, r.Status, reminder.ErrNotPending)
		}
		return r, nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE reminders SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = 'pending'`), args...)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if err := s.checkPendingWrite(ctx, id, res); err != nil {
		return reminder.Reminder{}, err
	}
	return s.GetReminder(ctx, id)
}

func (s *sqlStore) DeleteReminder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM reminders WHERE id = ? AND status = 'pending'`), id)
	if err != nil {
		return err
	}
	return s.checkPendingWrite(ctx, id, res)
}

// checkPendingWrite turns a zero-row pending-only write into ErrNotFound or
// ErrNotPending.
func (s *sqlStore) checkPendingWrite(ctx context.Context, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	r, err := s.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("reminder %d is %s: %w", id, r.Status, reminder.ErrNotPending)
}

func (s *sqlStore) PutPending(ctx context.Context, pc reminder.PendingConnection) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO pending_connections(chat_id, code, created_at, expires_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET code = excluded.code, created_at = excluded.created_at, expires_at = excluded.expires_at`),
		pc.ChatID, pc.Code, fmtStamp(pc.CreatedAt), fmtStamp(pc.ExpiresAt),
	)
	return err
}

func (s *sqlStore) GetPending(ctx context.Context, chatID string) (reminder.PendingConnection, bool, error) {
	var (
		pc               reminder.PendingConnection
		created, expires string
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT chat_id, code, created_at, expires_at FROM pending_connections WHERE chat_id = ?`), chatID,
	).Scan(&pc.ChatID, &pc.Code, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.PendingConnection{}, false, nil
	}
	if err != nil {
		return reminder.PendingConnection{}, false, err
	}
	if pc.CreatedAt, err = parseStamp(created); err != nil {
		return reminder.PendingConnection{}, false, fmt.Errorf("pending %s created_at: %w", chatID, err)
	}
	if pc.ExpiresAt, err = parseStamp(expires); err != nil {
		return reminder.PendingConnection{}, false, fmt.Errorf("pending %s expires_at: %w", chatID, err)
	}
	return pc, true, nil
}

func (s *sqlStore) DeletePending(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pending_connections WHERE chat_id = ?`), chatID)
	return err
}

func (s *sqlStore) DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pending_connections WHERE expires_at <= ?`), fmtStamp(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) BindStaff(ctx context.Context, staffName, chatID string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO staff_connections(staff_name, chat_id, connected_at) VALUES(?,?,?)
		 ON CONFLICT(staff_name) DO UPDATE SET chat_id = excluded.chat_id, connected_at = excluded.connected_at`),
		staffName, chatID, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqlStore) LookupStaff(ctx context.Context, staffName string) (string, bool, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT chat_id FROM staff_connections WHERE staff_name = ?`), staffName).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return chatID, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r                      reminder.Reminder
		chatID, sentAt, errMsg sql.NullString
		scheduled, created, st string
		detail                 sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.StaffName, &chatID, &r.Message, &scheduled, &st, &created, &sentAt, &errMsg, &detail); err != nil {
		return reminder.Reminder{}, err
	}
	var err error
	if r.ScheduledTime, err = s.parseSchedule(scheduled); err != nil {
		return reminder.Reminder{}, fmt.Errorf("reminder %d scheduled_time: %w", r.ID, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return reminder.Reminder{}, fmt.Errorf("reminder %d created_at: %w", r.ID, err)
	}
	if sentAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, sentAt.String)
		if err != nil {
			return reminder.Reminder{}, fmt.Errorf("reminder %d sent_at: %w", r.ID, err)
		}
		r.SentAt = &t
	}
	r.Status = reminder.Status(st)
	r.ChatID = chatID.String
	r.ErrorMessage = errMsg.String
	if detail.Valid {
		v := detail.Int64
		r.DetailID = &v
	}
	return r, nil
}

func (s *sqlStore) queryReminders(ctx context.Context, query string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Reminder
	for rows.Next() {
		r, err := s.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// splitStatements drops "--" comment lines first so a ";" inside a comment
// never splits a statement.
func splitStatements(schema string) []string {
	lines := strings.Split(schema, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "--") {
			continue
		}
		kept = append(kept, ln)
	}
	var out []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
