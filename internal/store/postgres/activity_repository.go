// Copyright 2026 The Bastion Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bastion-admin/bastion/internal/audit"
)

// ActivityRepository persists the activity trail. It is an audit.Sink and
// an audit.Reader.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Record appends one activity
func (r *ActivityRepository) Record(ctx context.Context, a *audit.Activity) error {
	props := a.Properties
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode activity properties: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO activity_log (
			id, log_name, event, description,
			causer_id, causer_type, subject_id, subject_type,
			properties, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`,
		a.ID, a.LogName, a.Event, a.Description,
		a.CauserID, a.CauserType, a.SubjectID, a.SubjectType,
		raw, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// List returns matching activities, newest first
func (r *ActivityRepository) List(ctx context.Context, q audit.Query) ([]audit.Activity, error) {
	var before any
	if !q.Before.IsZero() {
		before = q.Before
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, log_name, event, description,
			COALESCE(causer_id, ''), COALESCE(causer_type, ''),
			COALESCE(subject_id, ''), COALESCE(subject_type, ''),
			properties, created_at
		FROM activity_log
		WHERE ($1 = '' OR log_name = $1)
		  AND ($2 = '' OR event = $2)
		  AND ($3 = '' OR causer_id = $3)
		  AND ($4 = '' OR subject_id = $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC, id DESC
		LIMIT $6
	`, q.LogName, q.Event, q.CauserID, q.SubjectID, before, q.PageSize())
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Activity, error) {
		var a audit.Activity
		var raw []byte
		if err := row.Scan(
			&a.ID, &a.LogName, &a.Event, &a.Description,
			&a.CauserID, &a.CauserType, &a.SubjectID, &a.SubjectType,
			&raw, &a.CreatedAt,
		); err != nil {
			return a, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.Properties); err != nil {
				return a, err
			}
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}
	return out, nil
}
