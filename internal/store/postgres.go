package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anavarrete/formcoach/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users & API Keys ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Techniques ---

func (s *PostgresStore) GetTechnique(ctx context.Context, id uuid.UUID) (*models.Technique, error) {
	var t models.Technique
	err := s.pool.QueryRow(ctx,
		`SELECT id, sport, name, description, created_at FROM techniques WHERE id = $1`, id,
	).Scan(&t.ID, &t.Sport, &t.Name, &t.Description, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get technique: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTechniques(ctx context.Context) ([]*models.Technique, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sport, name, description, created_at FROM techniques ORDER BY sport, name`)
	if err != nil {
		return nil, fmt.Errorf("list techniques: %w", err)
	}
	defer rows.Close()

	var techniques []*models.Technique
	for rows.Next() {
		var t models.Technique
		if err := rows.Scan(&t.ID, &t.Sport, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan technique: %w", err)
		}
		techniques = append(techniques, &t)
	}
	return techniques, rows.Err()
}

// --- Analysis Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO analysis_jobs (id, user_id, technique_id, status, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.UserID, job.TechniqueID, job.Status, job.RetryCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	for i := range job.Media {
		m := &job.Media[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO media_items (id, job_id, type, storage_url, filename, size_bytes, camera_angle, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.JobID, m.Type, m.StorageURL, m.Filename, m.SizeBytes, m.CameraAngle, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("create media item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, technique_id, status, error_message, processing_started_at, retry_count, created_at, updated_at
		 FROM analysis_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.UserID, &j.TechniqueID, &j.Status, &j.ErrorMessage,
		&j.ProcessingStartedAt, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, type, storage_url, filename, size_bytes, camera_angle, created_at
		 FROM media_items WHERE job_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("get job media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.MediaItem
		if err := rows.Scan(&m.ID, &m.JobID, &m.Type, &m.StorageURL, &m.Filename,
			&m.SizeBytes, &m.CameraAngle, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		j.Media = append(j.Media, m)
	}
	return &j, rows.Err()
}

func (s *PostgresStore) BeginProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = $2, processing_started_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusProcessing, startedAt.UTC(), models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("begin processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, assessment *models.Assessment) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE analysis_jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, models.JobStatusCompleted, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Job was reaped or already terminal; the caller discards the result.
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO assessments (id, job_id, score, tier, summary, model_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		assessment.ID, assessment.JobID, assessment.Score, assessment.Tier,
		assessment.Summary, assessment.ModelUsed, assessment.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create assessment: %w", err)
	}

	for i := range assessment.Issues {
		is := &assessment.Issues[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO assessment_issues (id, assessment_id, title, detail, severity, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			is.ID, is.AssessmentID, is.Title, is.Detail, is.Severity, is.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("create assessment issue: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit complete job: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusFailed, message, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ResetJobForRetry(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reset job: %w", err)
	}
	defer tx.Rollback(ctx)

	var j models.AnalysisJob
	err = tx.QueryRow(ctx,
		`UPDATE analysis_jobs
		 SET status = $2, error_message = NULL, processing_started_at = NULL,
		     retry_count = retry_count + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $3 AND retry_count < $4
		 RETURNING id, user_id, technique_id, status, error_message, processing_started_at, retry_count, created_at, updated_at`,
		id, models.JobStatusPending, models.JobStatusFailed, models.MaxJobRetries,
	).Scan(&j.ID, &j.UserID, &j.TechniqueID, &j.Status, &j.ErrorMessage,
		&j.ProcessingStartedAt, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Not FAILED, or the retry ceiling was reached.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}

	// Drop artifacts from the failed run so COMPLETED-only invariants hold
	// after the re-run. assessment_issues goes via ON DELETE CASCADE.
	_, err = tx.Exec(ctx, `DELETE FROM assessments WHERE job_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete stale assessment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reset job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ReapStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE analysis_jobs SET status = $1, error_message = $2, updated_at = NOW()
		 WHERE status = $3 AND processing_started_at < $4
		 RETURNING id`,
		models.JobStatusFailed, message, models.JobStatusProcessing, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("reap stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reaped job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Assessments ---

func (s *PostgresStore) GetAssessmentByJobID(ctx context.Context, jobID uuid.UUID) (*models.Assessment, error) {
	var a models.Assessment
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, score, tier, summary, model_used, created_at
		 FROM assessments WHERE job_id = $1`, jobID,
	).Scan(&a.ID, &a.JobID, &a.Score, &a.Tier, &a.Summary, &a.ModelUsed, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment by job: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, assessment_id, title, detail, severity, created_at
		 FROM assessment_issues WHERE assessment_id = $1 ORDER BY created_at`, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get assessment issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var is models.AssessmentIssue
		if err := rows.Scan(&is.ID, &is.AssessmentID, &is.Title, &is.Detail, &is.Severity, &is.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assessment issue: %w", err)
		}
		a.Issues = append(a.Issues, is)
	}
	return &a, rows.Err()
}

// --- Training Plans ---

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *models.TrainingPlan) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create plan: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO training_plans (id, job_id, user_id, duration_weeks, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.JobID, plan.UserID, plan.DurationWeeks, plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	for i := range plan.Exercises {
		e := &plan.Exercises[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO exercises (id, plan_id, week, day, name, description, instructions, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.PlanID, e.Week, e.Day, e.Name, e.Description, e.Instructions, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create exercise: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.TrainingPlan, error) {
	var p models.TrainingPlan
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, user_id, duration_weeks, created_at, updated_at
		 FROM training_plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.JobID, &p.UserID, &p.DurationWeeks, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, plan_id, week, day, name, description, instructions, image_url, created_at, updated_at
		 FROM exercises WHERE plan_id = $1 ORDER BY week, day, created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("get plan exercises: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Exercise
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Week, &e.Day, &e.Name, &e.Description,
			&e.Instructions, &e.ImageURL, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan exercise: %w", err)
		}
		p.Exercises = append(p.Exercises, e)
	}
	return &p, rows.Err()
}

func (s *PostgresStore) UpdateExerciseInstructions(ctx context.Context, planID uuid.UUID, byName map[string]string) (int64, error) {
	if len(byName) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin update instructions: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for name, instructions := range byName {
		tag, err := tx.Exec(ctx,
			`UPDATE exercises SET instructions = $3, updated_at = NOW()
			 WHERE plan_id = $1 AND name = $2`,
			planID, name, instructions)
		if err != nil {
			return 0, fmt.Errorf("update exercise instructions: %w", err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit update instructions: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) UpdateExerciseImageURL(ctx context.Context, planID uuid.UUID, name, url string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exercises SET image_url = $3, updated_at = NOW()
		 WHERE plan_id = $1 AND name = $2`,
		planID, name, url)
	if err != nil {
		return 0, fmt.Errorf("update exercise image url: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
