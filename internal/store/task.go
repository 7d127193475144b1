package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TaskState is one of the four states a Task moves through.
type TaskState string

const (
	TaskNotStarted TaskState = "NOT_STARTED"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskComplete   TaskState = "COMPLETE"
	TaskFailed     TaskState = "FAILED"
)

func (t TaskState) Terminal() bool {
	return t == TaskComplete || t == TaskFailed
}

// Task's identity is the broker message id it's bound to.
type Task struct {
	ID       uuid.UUID
	State    TaskState
	Updated  *time.Time
	Deadline *time.Time
}

// CommitTask is a Task specialized with the fields the Commit worker needs.
type CommitTask struct {
	Task
	PublishID  uuid.UUID
	CommitMode string // "phase1" or "phase2" -- see SPEC_FULL.md Open Question 1
}

// CreateTask inserts a Task row with the given id (== message id) and an
// optional deadline.
func (s *PostgresStore) CreateTask(ctx context.Context, id uuid.UUID, deadline *time.Time) (*Task, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, state, updated, deadline) VALUES ($1, $2, NOW(), $3)
	`, id, TaskNotStarted, deadline)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// CreateCommitTask inserts a Task plus its CommitTask extension row.
func (s *PostgresStore) CreateCommitTask(ctx context.Context, id, publishID uuid.UUID, commitMode string, deadline *time.Time) (*CommitTask, error) {
	if _, err := s.CreateTask(ctx, id, deadline); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commit_tasks (id, publish_id, commit_mode) VALUES ($1, $2, $3)
	`, id, publishID, commitMode)
	if err != nil {
		return nil, fmt.Errorf("create commit task: %w", err)
	}
	return s.GetCommitTask(ctx, id)
}

// GetTask loads a Task by id.
func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, state, updated, deadline FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.State, &t.Updated, &t.Deadline)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// GetCommitTask loads a CommitTask (joined with its Task row) by id.
func (s *PostgresStore) GetCommitTask(ctx context.Context, id uuid.UUID) (*CommitTask, error) {
	var ct CommitTask
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.state, t.updated, t.deadline, c.publish_id, c.commit_mode
		FROM commit_tasks c JOIN tasks t ON t.id = c.id
		WHERE c.id = $1
	`, id).Scan(&ct.ID, &ct.State, &ct.Updated, &ct.Deadline, &ct.PublishID, &ct.CommitMode)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("commit task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get commit task: %w", err)
	}
	return &ct, nil
}

// SetTaskState transitions task to state, stamping updated.
func (s *PostgresStore) SetTaskState(ctx context.Context, id uuid.UUID, state TaskState) error {
	ct, err := s.pool.Exec(ctx, `UPDATE tasks SET state = $1, updated = NOW() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("set task state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ClaimTaskForProcessing atomically transitions a task from NOT_STARTED to
// IN_PROGRESS, returning the updated row iff this caller won the race (i.e.
// no other attempt has already claimed it). Returns (nil, nil) if the task
// was not in NOT_STARTED state.
func (s *PostgresStore) ClaimTaskForProcessing(ctx context.Context, id uuid.UUID) (*Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks SET state = $1, updated = NOW()
		WHERE id = $2 AND state = $3
		RETURNING id, state, updated, deadline
	`, TaskInProgress, id, TaskNotStarted).Scan(&t.ID, &t.State, &t.Updated, &t.Deadline)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return &t, nil
}

// FixNullTimestamps sets updated=now() for any Task/Publish whose updated
// column is null (Janitor sweep 1).
func (s *PostgresStore) FixNullTimestamps(ctx context.Context, tx pgx.Tx) (int64, error) {
	var total int64
	ct, err := tx.Exec(ctx, `UPDATE tasks SET updated = NOW() WHERE updated IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("fix null task timestamps: %w", err)
	}
	total += ct.RowsAffected()
	ct, err = tx.Exec(ctx, `UPDATE publishes SET updated = NOW() WHERE updated IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("fix null publish timestamps: %w", err)
	}
	total += ct.RowsAffected()
	return total, nil
}

// FailAbandoned transitions any non-terminal Task/Publish whose updated is
// older than timeout to FAILED (Janitor sweep 2).
func (s *PostgresStore) FailAbandoned(ctx context.Context, tx pgx.Tx, timeout time.Duration) (int64, error) {
	var total int64
	ct, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $1, updated = NOW()
		WHERE state NOT IN ($2, $3) AND updated < NOW() - $4::interval
	`, TaskFailed, TaskComplete, TaskFailed, timeout.String())
	if err != nil {
		return 0, fmt.Errorf("fail abandoned tasks: %w", err)
	}
	total += ct.RowsAffected()
	ct, err = tx.Exec(ctx, `
		UPDATE publishes SET state = $1, updated = NOW()
		WHERE state NOT IN ($2, $3) AND updated < NOW() - $4::interval
	`, PublishFailed, PublishCommitted, PublishFailed, timeout.String())
	if err != nil {
		return 0, fmt.Errorf("fail abandoned publishes: %w", err)
	}
	total += ct.RowsAffected()
	return total, nil
}

// DeleteTerminalOlderThan deletes any Task/Publish in a terminal state whose
// updated is older than horizon (Janitor sweep 3; Items cascade via FK).
func (s *PostgresStore) DeleteTerminalOlderThan(ctx context.Context, tx pgx.Tx, horizon time.Duration) (int64, error) {
	var total int64
	ct, err := tx.Exec(ctx, `
		DELETE FROM publishes
		WHERE state IN ($1, $2) AND updated < NOW() - $3::interval
	`, PublishCommitted, PublishFailed, horizon.String())
	if err != nil {
		return 0, fmt.Errorf("delete old publishes: %w", err)
	}
	total += ct.RowsAffected()
	ct, err = tx.Exec(ctx, `
		DELETE FROM tasks
		WHERE state IN ($1, $2) AND updated < NOW() - $3::interval
	`, TaskComplete, TaskFailed, horizon.String())
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	total += ct.RowsAffected()
	return total, nil
}

// RunJanitorSweep runs all three Janitor sweeps in one transaction.
func (s *PostgresStore) RunJanitorSweep(ctx context.Context, publishTimeout, historyTimeout time.Duration) (fixed, abandoned, deleted int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("janitor sweep: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if fixed, err = s.FixNullTimestamps(ctx, tx); err != nil {
		return
	}
	if abandoned, err = s.FailAbandoned(ctx, tx, publishTimeout); err != nil {
		return
	}
	if deleted, err = s.DeleteTerminalOlderThan(ctx, tx, historyTimeout); err != nil {
		return
	}
	if err = tx.Commit(ctx); err != nil {
		err = fmt.Errorf("janitor sweep: commit: %w", err)
		return
	}
	return
}
