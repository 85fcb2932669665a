package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// CreateOperator inserts an operator. A zero ID is generated.
func (db *DB) CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO operators (id, operator_id, name, role, api_key_hash)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		op.ID, op.OperatorID, op.Name, string(op.Role), op.APIKeyHash,
	).Scan(&op.CreatedAt)
	if err != nil {
		return model.Operator{}, fmt.Errorf("storage: create operator: %w", err)
	}
	return op, nil
}

// GetOperator returns the operator with operatorID.
func (db *DB) GetOperator(ctx context.Context, operatorID string) (model.Operator, error) {
	var op model.Operator
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT id, operator_id, name, role, api_key_hash, created_at FROM operators WHERE operator_id = $1`, operatorID,
	).Scan(&op.ID, &op.OperatorID, &op.Name, &role, &op.APIKeyHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Operator{}, ErrNotFound
	}
	if err != nil {
		return model.Operator{}, fmt.Errorf("storage: get operator: %w", err)
	}
	op.Role = model.OperatorRole(role)
	return op, nil
}

// CountOperators returns the number of operators.
func (db *DB) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count operators: %w", err)
	}
	return n, nil
}
