package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/lead-intel/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

var _ Store = (*PostgresStore)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the pipeline tables when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const jobColumns = `id, user_id, job_type, prompt, prompt_hash, status,
	search_provider, analysis_provider, analysis_model, cached_from_job_id,
	error_message, retryable, failed_stage, attempts, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.ResearchJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO research_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		job.ID,
		job.UserID,
		string(job.Type),
		job.Prompt,
		job.PromptHash,
		string(job.Status),
		job.SearchProvider,
		job.AnalysisProvider,
		job.AnalysisModel,
		job.CachedFromJobID,
		job.ErrorMessage,
		job.Retryable,
		string(job.FailedStage),
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const updateJobSQL = `
	UPDATE research_jobs
	SET status = $2,
		search_provider = $3,
		analysis_provider = $4,
		analysis_model = $5,
		cached_from_job_id = $6,
		error_message = $7,
		retryable = $8,
		failed_stage = $9,
		attempts = $10,
		updated_at = $11,
		completed_at = $12
	WHERE id = $1`

func updateJobArgs(job *domain.ResearchJob) []any {
	return []any{
		job.ID,
		string(job.Status),
		job.SearchProvider,
		job.AnalysisProvider,
		job.AnalysisModel,
		job.CachedFromJobID,
		job.ErrorMessage,
		job.Retryable,
		string(job.FailedStage),
		job.Attempts,
		job.UpdatedAt,
		job.CompletedAt,
	}
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.ResearchJob) error {
	command, err := s.pool.Exec(ctx, updateJobSQL, updateJobArgs(job)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdvanceJob(ctx context.Context, job *domain.ResearchJob) error {
	command, err := s.pool.Exec(ctx, updateJobSQL+` AND status NOT IN ('COMPLETED', 'FAILED')`, updateJobArgs(job)...)
	if err != nil {
		return fmt.Errorf("advance job: %w", err)
	}
	if command.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, job.ID); err != nil {
		return err
	}
	return ErrJobTerminal
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.ResearchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) LatestCompletedByHash(ctx context.Context, promptHash string, jobType domain.JobType, since time.Time) (*domain.ResearchJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM research_jobs
		WHERE prompt_hash = $1 AND job_type = $2 AND status = 'COMPLETED' AND completed_at >= $3
		ORDER BY completed_at DESC
		LIMIT 1
	`, promptHash, string(jobType), since)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.ResearchJob, error) {
	var (
		job         domain.ResearchJob
		jobType     string
		status      string
		failedStage string
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&jobType,
		&job.Prompt,
		&job.PromptHash,
		&status,
		&job.SearchProvider,
		&job.AnalysisProvider,
		&job.AnalysisModel,
		&job.CachedFromJobID,
		&job.ErrorMessage,
		&job.Retryable,
		&failedStage,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.FailedStage = domain.Stage(failedStage)
	return &job, nil
}

func (s *PostgresStore) SaveSources(ctx context.Context, sources []domain.Source) error {
	if len(sources) == 0 {
		return nil
	}
	insert := psql.Insert("sources").Columns("id", "url", "title", "content", "excerpt", "strategy", "scraped_at")
	for _, source := range sources {
		insert = insert.Values(source.ID, source.URL, source.Title, source.Content, source.Excerpt, source.Strategy, source.ScrapedAt)
	}
	query, args, err := insert.Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build sources insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert sources: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSources(ctx context.Context, urls []string, since time.Time) (map[string]domain.Source, error) {
	out := make(map[string]domain.Source)
	if len(urls) == 0 {
		return out, nil
	}
	query, args, err := psql.
		Select("id", "url", "title", "content", "excerpt", "strategy", "scraped_at").
		Options("DISTINCT ON (url)").
		From("sources").
		Where(sq.Eq{"url": urls}).
		Where(sq.GtOrEq{"scraped_at": since}).
		Where(sq.NotEq{"content": ""}).
		OrderBy("url", "scraped_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources lookup: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out[source.URL] = source
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachSources(ctx context.Context, jobID string, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var offset int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM job_sources WHERE job_id = $1`, jobID).Scan(&offset); err != nil {
			return fmt.Errorf("count job sources: %w", err)
		}
		insert := psql.Insert("job_sources").Columns("job_id", "source_id", "position")
		for i, id := range sourceIDs {
			insert = insert.Values(jobID, id, offset+i)
		}
		query, args, err := insert.Suffix("ON CONFLICT (job_id, source_id) DO NOTHING").ToSql()
		if err != nil {
			return fmt.Errorf("build job sources insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("attach sources: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListJobSources(ctx context.Context, jobID string) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.url, s.title, s.content, s.excerpt, s.strategy, s.scraped_at
		FROM job_sources js
		JOIN sources s ON s.id = js.source_id
		WHERE js.job_id = $1
		ORDER BY js.position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, source)
	}
	return out, rows.Err()
}

func scanSource(rows pgx.Rows) (domain.Source, error) {
	var source domain.Source
	if err := rows.Scan(
		&source.ID,
		&source.URL,
		&source.Title,
		&source.Content,
		&source.Excerpt,
		&source.Strategy,
		&source.ScrapedAt,
	); err != nil {
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	return source, nil
}

func (s *PostgresStore) ReplaceResults(ctx context.Context, jobID string, insights []domain.Insight, items []domain.ActionItem) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM insights WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("delete insights: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM action_items WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("delete action items: %w", err)
		}

		batch := &pgx.Batch{}
		for i, insight := range insights {
			batch.Queue(`
				INSERT INTO insights (id, job_id, title, category, body, confidence, position, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, insight.ID, jobID, insight.Title, insight.Category, insight.Body, insight.Confidence, i, insight.CreatedAt)
		}
		for i, item := range items {
			batch.Queue(`
				INSERT INTO action_items (id, job_id, description, priority, effort, position, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, jobID, item.Description, string(item.Priority), item.Effort, i, item.CreatedAt)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListInsights(ctx context.Context, jobID string) ([]domain.Insight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, title, category, body, confidence, created_at
		FROM insights
		WHERE job_id = $1
		ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []domain.Insight
	for rows.Next() {
		var insight domain.Insight
		if err := rows.Scan(
			&insight.ID,
			&insight.JobID,
			&insight.Title,
			&insight.Category,
			&insight.Body,
			&insight.Confidence,
			&insight.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, insight)
	}
	return out, rows.Err()
}

const actionItemColumns = `id, job_id, description, priority, effort, COALESCE(external_task_id, ''), created_at`

func (s *PostgresStore) ListActionItems(ctx context.Context, jobID string) ([]domain.ActionItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionItemColumns+`
		FROM action_items
		WHERE job_id = $1
		ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionItem
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetActionItem(ctx context.Context, itemID string) (*domain.ActionItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actionItemColumns+` FROM action_items WHERE id = $1`, itemID)
	return scanActionItem(row)
}

func scanActionItem(row pgx.Row) (*domain.ActionItem, error) {
	var (
		item     domain.ActionItem
		priority string
	)
	err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.Description,
		&priority,
		&item.Effort,
		&item.ExternalTaskID,
		&item.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan action item: %w", err)
	}
	item.Priority = domain.Priority(priority)
	return &item, nil
}

func (s *PostgresStore) SetActionItemTask(ctx context.Context, itemID, externalTaskID string) (string, error) {
	var stored string
	err := s.pool.QueryRow(ctx, `
		UPDATE action_items
		SET external_task_id = COALESCE(external_task_id, $2)
		WHERE id = $1
		RETURNING external_task_id
	`, itemID, externalTaskID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("set action item task: %w", err)
	}
	return stored, nil
}
