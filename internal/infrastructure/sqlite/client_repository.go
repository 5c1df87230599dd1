package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const clientColumns = `id, secret, label, scopes, created_at, updated_at`

// clientRow mirrors the client table; scopes are a JSON array.
type clientRow struct {
	ID        string    `db:"id"`
	Secret    string    `db:"secret"`
	Label     string    `db:"label"`
	Scopes    string    `db:"scopes"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func newClientRow(c *domain.Client) (clientRow, error) {
	scopes, err := marshalStrings(c.Scopes)
	if err != nil {
		return clientRow{}, err
	}
	return clientRow{
		ID:        c.ID,
		Secret:    c.Secret,
		Label:     c.Label,
		Scopes:    scopes,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}, nil
}

func (row clientRow) toDomain() (*domain.Client, error) {
	scopes, err := unmarshalStrings(row.Scopes)
	if err != nil {
		return nil, err
	}
	return &domain.Client{
		ID:        row.ID,
		Secret:    row.Secret,
		Label:     row.Label,
		Scopes:    scopes,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

type clientRepository struct {
	db *DB
}

func NewClientRepository(db *DB) repository.ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) Create(ctx context.Context, client *domain.Client) error {
	row, err := newClientRow(client)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `INSERT INTO client (`+clientColumns+`)
		VALUES (:id, :secret, :label, :scopes, :created_at, :updated_at)`, row)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("client %s: %w", client.ID, repository.ErrDuplicate)
	case err != nil:
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (r *clientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	var row clientRow
	err := r.db.GetContext(ctx, &row, `SELECT `+clientColumns+` FROM client WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	return row.toDomain()
}

// Update rewrites the mutable columns; id and created_at never change.
func (r *clientRepository) Update(ctx context.Context, client *domain.Client) error {
	row, err := newClientRow(client)
	if err != nil {
		return err
	}
	result, err := r.db.NamedExecContext(ctx, `UPDATE client
		SET secret = :secret, label = :label, scopes = :scopes, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return clientAffected(result, client.ID)
}

func (r *clientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM client WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return clientAffected(result, id)
}

func (r *clientRepository) List(ctx context.Context) ([]*domain.Client, error) {
	var rows []clientRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+clientColumns+` FROM client ORDER BY label, id`); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	clients := make([]*domain.Client, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func clientAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("client %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
