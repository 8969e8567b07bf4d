package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = sql.ErrNoRows

const schema = `
create table if not exists ocr_results (
	image_hash  text        not null,
	prompt      text        not null,
	model       text        not null,
	chat_id     bigint,
	output      text        not null,
	created_at  timestamptz not null default now(),
	primary key (image_hash, prompt, model)
)`

// ResultRow: закэшированный результат OCR.
type ResultRow struct {
	ImageHash string
	Prompt    string
	Model     string
	ChatID    int64
	Output    string
	CreatedAt time.Time
}

type ResultRepo struct{ DB *sql.DB }

func NewResultRepo(db *sql.DB) *ResultRepo { return &ResultRepo{DB: db} }

func (r *ResultRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Find возвращает кэш по (imageHash, prompt, model).
// Если maxAge > 0 и запись старше, вернёт ErrNotFound (чтобы вызвать OCR заново).
func (r *ResultRepo) Find(ctx context.Context, imageHash, prompt, model string, maxAge time.Duration) (*ResultRow, error) {
	const q = `select coalesce(chat_id,0), output, created_at
	           from ocr_results
	           where image_hash=$1 and prompt=$2 and model=$3`
	row := ResultRow{ImageHash: imageHash, Prompt: prompt, Model: model}
	if err := r.DB.QueryRowContext(ctx, q, imageHash, prompt, model).Scan(&row.ChatID, &row.Output, &row.CreatedAt); err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert сохраняет/обновляет результат. PK: (image_hash, prompt, model).
func (r *ResultRepo) Upsert(ctx context.Context, row ResultRow) error {
	const q = `
insert into ocr_results(image_hash, prompt, model, chat_id, output)
values ($1,$2,$3,$4,$5)
on conflict (image_hash, prompt, model)
do update set output=excluded.output, chat_id=excluded.chat_id, created_at=now()`
	_, err := r.DB.ExecContext(ctx, q, row.ImageHash, row.Prompt, row.Model, nullInt64(row.ChatID), row.Output)
	return err
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
