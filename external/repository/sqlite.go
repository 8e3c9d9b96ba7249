package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/foxseedlab/stagewarden/internal/repository"
	_ "modernc.org/sqlite"
)

// SQLiteRepository serves single-node deployments; all writes go through one connection.
type SQLiteRepository struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewSQLiteRepository(db *sql.DB) repository.Repository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SQLiteRepository) InsertTalk(ctx context.Context, input repository.CreateTalkInput) error {
	return r.exec(ctx, insertTalkQuery,
		input.MessageID, input.UserID, nullableString(input.UserNickname), input.UserTag,
		nullableString(repository.JoinRoles(input.UserRoles)), input.JoinedAt.UTC(), false)
}

func (r *SQLiteRepository) UpdateTalkOnLeave(ctx context.Context, input repository.UpdateTalkOnLeaveInput) error {
	return r.exec(ctx, updateTalkOnLeaveQuery, input.SecondsOnStage, input.MessageID, input.UserID)
}

func (r *SQLiteRepository) UpdateTalkSummary(ctx context.Context, input repository.UpdateTalkSummaryInput) error {
	return r.exec(ctx, updateTalkSummaryQuery, input.Summary, input.ModeratorID, input.MessageID, input.UserID)
}

func (r *SQLiteRepository) UpdateTalkRoles(ctx context.Context, input repository.UpdateTalkRolesInput) error {
	q, err := updateTalkRolesQuery(input.Action)
	if err != nil {
		return err
	}
	return r.exec(ctx, q, nullableString(repository.JoinRoles(input.UserRoles)), input.ModeratorID, input.MessageID, input.UserID)
}

func (r *SQLiteRepository) UpdateTalkBan(ctx context.Context, input repository.UpdateTalkBanInput) error {
	return r.exec(ctx, updateTalkBanQuery, input.Banned, input.ModeratorID, input.MessageID, input.UserID)
}

func (r *SQLiteRepository) CountTalksByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countTalksByUserQuery, userID).Scan(&n)
	return n, err
}

func (r *SQLiteRepository) ListTalksByUser(ctx context.Context, userID string) ([]repository.Talk, error) {
	return r.listTalks(ctx, listTalksByUserQuery, userID)
}

func (r *SQLiteRepository) ListTalks(ctx context.Context) ([]repository.Talk, error) {
	return r.listTalks(ctx, listTalksQuery)
}

func (r *SQLiteRepository) listTalks(ctx context.Context, query string, args ...any) ([]repository.Talk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var list []repository.Talk
	for rows.Next() {
		t, err := scanTalk(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) UpsertActivity(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, upsertActivityQuery, userID, at.UTC())
}

func (r *SQLiteRepository) ListRecentActivity(ctx context.Context, limit int) ([]repository.Activity, error) {
	rows, err := r.db.QueryContext(ctx, listRecentActivityQuery, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var list []repository.Activity
	for rows.Next() {
		var a repository.Activity
		if err := rows.Scan(&a.UserID, &a.LastStageDatetime); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}
