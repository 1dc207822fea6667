package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/models"
)

// ApplicationRepository manages applications and their API keys.
type ApplicationRepository struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewApplicationRepository creates a new application repository.
func NewApplicationRepository(pool *pgxpool.Pool, logger *logrus.Logger) *ApplicationRepository {
	return &ApplicationRepository{pool: pool, logger: logger}
}

// CreateApplication registers an application and issues its first API key
// in one transaction.
func (r *ApplicationRepository) CreateApplication(ctx context.Context, name string) (*models.Application, *models.APIKey, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck

	app := &models.Application{Name: name, IsActive: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO applications (name, is_active, activated)
		VALUES ($1, true, NOW())
		RETURNING id, activated, created, modified
	`, name).Scan(&app.ID, &app.Activated, &app.Created, &app.Modified)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert application: %w", err)
	}

	key := &models.APIKey{AppID: app.ID, Value: uuid.NewString(), IsActive: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO api_keys (app_id, value, is_active, activated)
		VALUES ($1, $2, true, NOW())
		RETURNING id, activated, created, modified
	`, key.AppID, key.Value).Scan(&key.ID, &key.Activated, &key.Created, &key.Modified)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"app_id": app.ID,
		"name":   app.Name,
	}).Info("Application created")
	return app, key, nil
}

// CreateKey issues an additional API key for an existing application.
func (r *ApplicationRepository) CreateKey(ctx context.Context, appID int64) (*models.APIKey, error) {
	key := &models.APIKey{AppID: appID, Value: uuid.NewString(), IsActive: true}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (app_id, value, is_active, activated)
		VALUES ($1, $2, true, NOW())
		RETURNING id, activated, created, modified
	`, key.AppID, key.Value).Scan(&key.ID, &key.Activated, &key.Created, &key.Modified)
	if err != nil {
		return nil, fmt.Errorf("failed to insert api key: %w", err)
	}
	return key, nil
}

// DeactivateKey revokes a key. Requests presenting it stop authenticating
// immediately; the row is kept for audit.
func (r *ApplicationRepository) DeactivateKey(ctx context.Context, appID int64, value string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE api_keys
		SET is_active = false, deactivated = NOW(), modified = NOW()
		WHERE app_id = $1 AND value = $2 AND is_active = true
	`, appID, value)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", value, ErrNotFound)
	}
	return nil
}

// DeleteApplication soft-deletes an application together with its keys.
func (r *ApplicationRepository) DeleteApplication(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck

	result, err := tx.Exec(ctx, `
		UPDATE applications
		SET is_active = false, is_deleted = true, deleted = NOW(), modified = NOW()
		WHERE id = $1 AND is_deleted = false
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		UPDATE api_keys
		SET is_active = false, is_deleted = true, deleted = NOW(), modified = NOW()
		WHERE app_id = $1 AND is_deleted = false
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api keys: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by id. Returns nil without error
// when no row exists.
func (r *ApplicationRepository) GetApplication(ctx context.Context, id int64) (*models.Application, error) {
	app, err := scanApplication(r.pool.QueryRow(ctx, `
		SELECT id, name, is_active, is_deleted, activated, deactivated, deleted, created, modified
		FROM applications WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

// GetApplicationByKeyValue resolves an API key value to its owning
// application. Only active, undeleted keys of active, undeleted applications
// match; anything else returns nil without error.
func (r *ApplicationRepository) GetApplicationByKeyValue(ctx context.Context, value string) (*models.Application, error) {
	app, err := scanApplication(r.pool.QueryRow(ctx, `
		SELECT a.id, a.name, a.is_active, a.is_deleted, a.activated, a.deactivated, a.deleted, a.created, a.modified
		FROM applications a
		JOIN api_keys k ON k.app_id = a.id
		WHERE k.value = $1
		  AND k.is_active = true AND k.is_deleted = false
		  AND a.is_active = true AND a.is_deleted = false
	`, value))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	return app, nil
}

// ListKeys returns every key issued to an application, newest first.
func (r *ApplicationRepository) ListKeys(ctx context.Context, appID int64) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, app_id, value, is_active, is_deleted, activated, deactivated, deleted, created, modified
		FROM api_keys WHERE app_id = $1
		ORDER BY created DESC, id DESC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var key models.APIKey
		err := rows.Scan(&key.ID, &key.AppID, &key.Value, &key.IsActive, &key.IsDeleted,
			&key.Activated, &key.Deactivated, &key.Deleted, &key.Created, &key.Modified)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func scanApplication(row pgx.Row) (*models.Application, error) {
	var app models.Application
	err := row.Scan(&app.ID, &app.Name, &app.IsActive, &app.IsDeleted,
		&app.Activated, &app.Deactivated, &app.Deleted, &app.Created, &app.Modified)
	if err != nil {
		return nil, err
	}
	return &app, nil
}
