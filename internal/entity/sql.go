package entity

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"skillbot/internal/domain"
)

// SQLRepository implements domain.EntityRepository on the records table.
// Records are scoped to their owner: a user never sees another user's rows.
type SQLRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLRepository wraps a migrated database handle.
func NewSQLRepository(db *sql.DB, logger *slog.Logger) *SQLRepository {
	return &SQLRepository{db: sqlx.NewDb(db, "sqlite"), logger: logger, now: time.Now}
}

func (r *SQLRepository) Create(ctx context.Context, userID, entity string, payload map[string]any) (*domain.RecordResult, error) {
	now := r.now().UTC()
	rec := domain.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Entity:    entity,
		Data:      merge(nil, payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	row, err := fromRecord(rec)
	if err != nil {
		return nil, domain.Execution("create "+entity, err)
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO records (id, user_id, entity, data, search, created_at, updated_at)
		VALUES (:id, :user_id, :entity, :data, :search, :created_at, :updated_at)`, row)
	if err != nil {
		return nil, domain.Persistence("create "+entity, err)
	}
	r.logger.Info("record created", "entity", entity, "id", rec.ID, "user", userID)
	return &domain.RecordResult{Success: true, Record: &rec}, nil
}

func (r *SQLRepository) Read(ctx context.Context, userID, entity, id string) (*domain.RecordResult, error) {
	rec, err := r.get(ctx, userID, entity, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return notFound(entity, id), nil
	}
	return &domain.RecordResult{Success: true, Record: rec}, nil
}

func (r *SQLRepository) Update(ctx context.Context, userID, entity, id string, payload map[string]any) (*domain.RecordResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.Persistence("update "+entity, err)
	}
	defer tx.Rollback()

	var row dbRecord
	err = tx.GetContext(ctx, &row, `SELECT * FROM records WHERE id = ? AND user_id = ? AND entity = ?`, id, userID, entity)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, id), nil
	}
	if err != nil {
		return nil, domain.Persistence("update "+entity, err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, domain.Persistence("update "+entity, err)
	}
	rec.Data = merge(rec.Data, payload)
	rec.UpdatedAt = r.now().UTC()

	updated, err := fromRecord(rec)
	if err != nil {
		return nil, domain.Execution("update "+entity, err)
	}
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE records SET data = :data, search = :search, updated_at = :updated_at
		WHERE id = :id`, updated); err != nil {
		return nil, domain.Persistence("update "+entity, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.Persistence("update "+entity, err)
	}
	r.logger.Info("record updated", "entity", entity, "id", id, "user", userID)
	return &domain.RecordResult{Success: true, Record: &rec}, nil
}

func (r *SQLRepository) Delete(ctx context.Context, userID, entity, id string) (*domain.RecordResult, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ? AND user_id = ? AND entity = ?`, id, userID, entity)
	if err != nil {
		return nil, domain.Persistence("delete "+entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, domain.Persistence("delete "+entity, err)
	}
	if n == 0 {
		return notFound(entity, id), nil
	}
	r.logger.Info("record deleted", "entity", entity, "id", id, "user", userID)
	return &domain.RecordResult{Success: true, Record: &domain.Record{ID: id, UserID: userID, Entity: entity}}, nil
}

func (r *SQLRepository) List(ctx context.Context, userID, entity string, page domain.Page) (*domain.RecordResult, error) {
	return r.query(ctx, userID, entity, "", page)
}

func (r *SQLRepository) Search(ctx context.Context, userID, entity, query string, page domain.Page) (*domain.RecordResult, error) {
	return r.query(ctx, userID, entity, query, page)
}

func (r *SQLRepository) query(ctx context.Context, userID, entity, text string, page domain.Page) (*domain.RecordResult, error) {
	page = normalizePage(page)
	args := map[string]any{
		"user_id": userID,
		"entity":  entity,
		"limit":   page.Limit,
		"offset":  page.Offset,
	}
	where := "user_id = :user_id AND entity = :entity"
	if text = strings.TrimSpace(text); text != "" {
		where += " AND search LIKE :pattern"
		args["pattern"] = "%" + strings.ToLower(text) + "%"
	}

	countQuery, countArgs, err := sqlx.Named("SELECT COUNT(*) FROM records WHERE "+where, args)
	if err != nil {
		return nil, domain.Execution("list "+entity, err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, domain.Persistence("list "+entity, err)
	}

	listQuery, listArgs, err := sqlx.Named(
		"SELECT * FROM records WHERE "+where+" ORDER BY created_at DESC, id LIMIT :limit OFFSET :offset", args)
	if err != nil {
		return nil, domain.Execution("list "+entity, err)
	}
	var rows []dbRecord
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(listQuery), listArgs...); err != nil {
		return nil, domain.Persistence("list "+entity, err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, domain.Persistence("list "+entity, err)
		}
		records = append(records, rec)
	}
	return &domain.RecordResult{Success: true, Records: records, Total: total}, nil
}

func (r *SQLRepository) get(ctx context.Context, userID, entity, id string) (*domain.Record, error) {
	var row dbRecord
	err := r.db.GetContext(ctx, &row, `SELECT * FROM records WHERE id = ? AND user_id = ? AND entity = ?`, id, userID, entity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("read "+entity, err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, domain.Persistence("read "+entity, err)
	}
	return &rec, nil
}

var _ domain.EntityRepository = (*SQLRepository)(nil)
