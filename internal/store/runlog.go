package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// AppendRunStep appends a step record to a run's audit trail with a
// per-run monotonic sequence number. The sequence is assigned inside a
// transaction so concurrent appends for the same run never collide.
func (s *LibSQLStore) AppendRunStep(ctx context.Context, rs *WorkflowRunStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_run_steps WHERE run_id = ?`, rs.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	rs.Sequence = seq

	res, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_run_steps (run_id, step_order, step_type, action_type, status, input, output, error, duration_ms, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.RunID, rs.StepOrder, string(rs.Type), nullStr(string(rs.ActionType)),
		string(rs.Status), nullRaw(rs.Input), nullRaw(rs.Output), nullStr(rs.Error),
		rs.DurationMs, seq, timeOrNow(rs.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert run step: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rs.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run step: %w", err)
	}
	return nil
}

// ListRunSteps returns a run's step records ordered by sequence.
func (s *LibSQLStore) ListRunSteps(ctx context.Context, runID string) ([]*WorkflowRunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_order, step_type, action_type, status, input, output, error, duration_ms, sequence, timestamp
		 FROM workflow_run_steps WHERE run_id = ? ORDER BY sequence ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*WorkflowRunStep
	for rows.Next() {
		rs := &WorkflowRunStep{}
		var stepType, status string
		var actionType, input, output, errMsg sql.NullString
		if err := rows.Scan(&rs.ID, &rs.RunID, &rs.StepOrder, &stepType, &actionType,
			&status, &input, &output, &errMsg, &rs.DurationMs, &rs.Sequence, &rs.Timestamp); err != nil {
			return nil, err
		}
		rs.Type = schema.StepType(stepType)
		rs.ActionType = schema.ActionType(actionType.String)
		rs.Status = schema.RunStepStatus(status)
		rs.Input = rawOrNil(input)
		rs.Output = rawOrNil(output)
		rs.Error = errMsg.String
		steps = append(steps, rs)
	}
	return steps, rows.Err()
}
