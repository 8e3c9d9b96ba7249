package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.pool.Exec(ctx, rebindDollar(query), args...)
	return err
}

func (r *PostgresRepository) InsertTalk(ctx context.Context, input repository.CreateTalkInput) error {
	return r.exec(ctx, insertTalkQuery,
		input.MessageID, input.UserID, nullableString(input.UserNickname), input.UserTag,
		nullableString(repository.JoinRoles(input.UserRoles)), input.JoinedAt, false)
}

func (r *PostgresRepository) UpdateTalkOnLeave(ctx context.Context, input repository.UpdateTalkOnLeaveInput) error {
	return r.exec(ctx, updateTalkOnLeaveQuery, input.SecondsOnStage, input.MessageID, input.UserID)
}

func (r *PostgresRepository) UpdateTalkSummary(ctx context.Context, input repository.UpdateTalkSummaryInput) error {
	return r.exec(ctx, updateTalkSummaryQuery, input.Summary, input.ModeratorID, input.MessageID, input.UserID)
}

func (r *PostgresRepository) UpdateTalkRoles(ctx context.Context, input repository.UpdateTalkRolesInput) error {
	q, err := updateTalkRolesQuery(input.Action)
	if err != nil {
		return err
	}
	return r.exec(ctx, q, nullableString(repository.JoinRoles(input.UserRoles)), input.ModeratorID, input.MessageID, input.UserID)
}

func (r *PostgresRepository) UpdateTalkBan(ctx context.Context, input repository.UpdateTalkBanInput) error {
	return r.exec(ctx, updateTalkBanQuery, input.Banned, input.ModeratorID, input.MessageID, input.UserID)
}

func (r *PostgresRepository) CountTalksByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, rebindDollar(countTalksByUserQuery), userID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListTalksByUser(ctx context.Context, userID string) ([]repository.Talk, error) {
	return r.listTalks(ctx, listTalksByUserQuery, userID)
}

func (r *PostgresRepository) ListTalks(ctx context.Context) ([]repository.Talk, error) {
	return r.listTalks(ctx, listTalksQuery)
}

func (r *PostgresRepository) listTalks(ctx context.Context, query string, args ...any) ([]repository.Talk, error) {
	rows, err := r.pool.Query(ctx, rebindDollar(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (r *PostgresRepository) UpsertActivity(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, upsertActivityQuery, userID, at)
}

func (r *PostgresRepository) ListRecentActivity(ctx context.Context, limit int) ([]repository.Activity, error) {
	rows, err := r.pool.Query(ctx, rebindDollar(listRecentActivityQuery), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
