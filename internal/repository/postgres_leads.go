package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iago/lead-intel/internal/domain"
)

func (s *PostgresStore) CreateLeadGroup(ctx context.Context, group domain.LeadGroup, leads []domain.Lead) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_groups (id, job_id, user_id, created_at) VALUES ($1,$2,$3,$4)
		`, group.ID, group.JobID, group.UserID, group.CreatedAt); err != nil {
			return fmt.Errorf("insert lead group: %w", err)
		}
		if len(leads) == 0 {
			return nil
		}

		insert := psql.Insert("leads").Columns(
			"id", "group_id", "user_id", "name", "email", "company", "industry", "company_size",
			"pain_points", "notes", "signals", "score", "tier", "position", "created_at", "updated_at",
		)
		for i, lead := range leads {
			painPoints, err := json.Marshal(nonNil(lead.PainPoints))
			if err != nil {
				return fmt.Errorf("encode pain points: %w", err)
			}
			signals, err := json.Marshal(lead.Signals)
			if err != nil {
				return fmt.Errorf("encode signals: %w", err)
			}
			insert = insert.Values(
				lead.ID, group.ID, lead.UserID, lead.Name, lead.Email, lead.Company, lead.Industry, lead.CompanySize,
				painPoints, lead.Notes, signals, lead.Score, string(lead.Tier), i, lead.CreatedAt, lead.UpdatedAt,
			)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build leads insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert leads: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetLeadGroup(ctx context.Context, groupID string) (*domain.LeadGroup, error) {
	var group domain.LeadGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, user_id, created_at FROM lead_groups WHERE id = $1
	`, groupID).Scan(&group.ID, &group.JobID, &group.UserID, &group.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead group: %w", err)
	}
	return &group, nil
}

func (s *PostgresStore) ListLeadGroupsByJob(ctx context.Context, jobID string) ([]domain.LeadGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, user_id, created_at FROM lead_groups WHERE job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list lead groups: %w", err)
	}
	defer rows.Close()

	var out []domain.LeadGroup
	for rows.Next() {
		var group domain.LeadGroup
		if err := rows.Scan(&group.ID, &group.JobID, &group.UserID, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead group: %w", err)
		}
		out = append(out, group)
	}
	return out, rows.Err()
}

var leadColumns = []string{
	"id", "group_id", "user_id", "name", "email", "company", "industry", "company_size",
	"pain_points", "notes", "signals", "score", "tier", "COALESCE(promoted_to_crm_id, '')", "created_at", "updated_at",
}

func (s *PostgresStore) ListLeads(ctx context.Context, groupID string) ([]domain.Lead, error) {
	return s.queryLeads(ctx, psql.Select(leadColumns...).From("leads").
		Where(sq.Eq{"group_id": groupID}).OrderBy("position"))
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	leads, err := s.queryLeads(ctx, psql.Select(leadColumns...).From("leads").Where(sq.Eq{"id": leadID}))
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, ErrNotFound
	}
	return &leads[0], nil
}

func (s *PostgresStore) queryLeads(ctx context.Context, builder sq.SelectBuilder) ([]domain.Lead, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build leads query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		var (
			lead       domain.Lead
			painPoints []byte
			signals    []byte
			tier       string
		)
		if err := rows.Scan(
			&lead.ID,
			&lead.GroupID,
			&lead.UserID,
			&lead.Name,
			&lead.Email,
			&lead.Company,
			&lead.Industry,
			&lead.CompanySize,
			&painPoints,
			&lead.Notes,
			&signals,
			&lead.Score,
			&tier,
			&lead.PromotedToCRMID,
			&lead.CreatedAt,
			&lead.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		if err := json.Unmarshal(painPoints, &lead.PainPoints); err != nil {
			return nil, fmt.Errorf("decode pain points: %w", err)
		}
		if err := json.Unmarshal(signals, &lead.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		lead.Tier = domain.Tier(tier)
		out = append(out, lead)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, leadID string, score int, tier domain.Tier) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE leads SET score = $2, tier = $3, updated_at = $4 WHERE id = $1
	`, leadID, score, string(tier), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update lead score: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTargetProfile(ctx context.Context, userID string) (*domain.TargetProfile, error) {
	var (
		profile    domain.TargetProfile
		industries []byte
		painPoints []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, industries, company_size, pain_points, updated_at
		FROM target_profiles WHERE user_id = $1
	`, userID).Scan(&profile.UserID, &industries, &profile.CompanySize, &painPoints, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target profile: %w", err)
	}
	if err := json.Unmarshal(industries, &profile.Industries); err != nil {
		return nil, fmt.Errorf("decode industries: %w", err)
	}
	if err := json.Unmarshal(painPoints, &profile.PainPoints); err != nil {
		return nil, fmt.Errorf("decode pain points: %w", err)
	}
	return &profile, nil
}

func (s *PostgresStore) SaveTargetProfile(ctx context.Context, profile domain.TargetProfile) error {
	industries, err := json.Marshal(nonNil(profile.Industries))
	if err != nil {
		return fmt.Errorf("encode industries: %w", err)
	}
	painPoints, err := json.Marshal(nonNil(profile.PainPoints))
	if err != nil {
		return fmt.Errorf("encode pain points: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO target_profiles (user_id, industries, company_size, pain_points, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE
		SET industries = EXCLUDED.industries,
			company_size = EXCLUDED.company_size,
			pain_points = EXCLUDED.pain_points,
			updated_at = EXCLUDED.updated_at
	`, profile.UserID, industries, profile.CompanySize, painPoints, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save target profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDefaultPipeline(ctx context.Context, userID string) (*domain.SalesPipeline, error) {
	return getDefaultPipeline(ctx, s.pool, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getDefaultPipeline(ctx context.Context, db querier, userID string) (*domain.SalesPipeline, error) {
	var pipeline domain.SalesPipeline
	err := db.QueryRow(ctx, `
		SELECT id, user_id, name, is_default, created_at
		FROM sales_pipelines WHERE user_id = $1 AND is_default
	`, userID).Scan(&pipeline.ID, &pipeline.UserID, &pipeline.Name, &pipeline.IsDefault, &pipeline.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default pipeline: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT id, pipeline_id, name, stage_order, close_probability, is_closed, is_won
		FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY stage_order
	`, pipeline.ID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage domain.PipelineStage
		if err := rows.Scan(
			&stage.ID,
			&stage.PipelineID,
			&stage.Name,
			&stage.Order,
			&stage.CloseProbability,
			&stage.Closed,
			&stage.Won,
		); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		pipeline.Stages = append(pipeline.Stages, stage)
	}
	return &pipeline, rows.Err()
}

func (s *PostgresStore) EnsureDefaultPipeline(ctx context.Context, candidate domain.SalesPipeline) (*domain.SalesPipeline, error) {
	var stored *domain.SalesPipeline
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		command, err := tx.Exec(ctx, `
			INSERT INTO sales_pipelines (id, user_id, name, is_default, created_at)
			VALUES ($1,$2,$3,TRUE,$4)
			ON CONFLICT (user_id) WHERE is_default DO NOTHING
		`, candidate.ID, candidate.UserID, candidate.Name, candidate.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert pipeline: %w", err)
		}
		if command.RowsAffected() > 0 {
			batch := &pgx.Batch{}
			for _, stage := range candidate.Stages {
				batch.Queue(`
					INSERT INTO pipeline_stages (id, pipeline_id, name, stage_order, close_probability, is_closed, is_won)
					VALUES ($1,$2,$3,$4,$5,$6,$7)
				`, stage.ID, candidate.ID, stage.Name, stage.Order, stage.CloseProbability, stage.Closed, stage.Won)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert stages: %w", err)
			}
		}
		stored, err = getDefaultPipeline(ctx, tx, candidate.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *PostgresStore) PromoteLead(ctx context.Context, leadID string, record domain.CRMLead) (string, bool, error) {
	var (
		crmID   string
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var existing string
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(promoted_to_crm_id, '') FROM leads WHERE id = $1 FOR UPDATE
		`, leadID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock lead: %w", err)
		}
		if existing != "" {
			crmID = existing
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO crm_leads (id, user_id, source_lead_id, pipeline_id, stage_id, name, email, company, status, score, tier, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			record.ID,
			record.UserID,
			leadID,
			record.PipelineID,
			record.StageID,
			record.Name,
			record.Email,
			record.Company,
			string(record.Status),
			record.Score,
			string(record.Tier),
			record.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert crm lead: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE leads SET promoted_to_crm_id = $2, updated_at = $3 WHERE id = $1
		`, leadID, record.ID, record.CreatedAt); err != nil {
			return fmt.Errorf("mark lead promoted: %w", err)
		}
		crmID = record.ID
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return crmID, created, nil
}

func (s *PostgresStore) GetCRMLead(ctx context.Context, crmID string) (*domain.CRMLead, error) {
	var (
		record domain.CRMLead
		status string
		tier   string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, source_lead_id, pipeline_id, stage_id, name, email, company, status, score, tier, created_at
		FROM crm_leads WHERE id = $1
	`, crmID).Scan(
		&record.ID,
		&record.UserID,
		&record.SourceLeadID,
		&record.PipelineID,
		&record.StageID,
		&record.Name,
		&record.Email,
		&record.Company,
		&status,
		&record.Score,
		&tier,
		&record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crm lead: %w", err)
	}
	record.Status = domain.CRMLeadStatus(status)
	record.Tier = domain.Tier(tier)
	return &record, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
