package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks against the shared embedded database. Every
// exported method is a single store transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type row struct {
	id, title, description, createdBy, status, priority string
	assignedTo, parentTask                              sql.NullString
	childTasks, dependsOnTasks, notes                   string
	createdAt, updatedAt                                time.Time
}

func scanTask(s interface {
	Scan(...interface{}) error
}) (*Task, error) {
	var r row
	if err := s.Scan(&r.id, &r.title, &r.description, &r.assignedTo, &r.createdBy,
		&r.status, &r.priority, &r.parentTask, &r.childTasks, &r.dependsOnTasks,
		&r.notes, &r.createdAt, &r.updatedAt); err != nil {
		return nil, err
	}
	t := &Task{
		ID:          r.id,
		Title:       r.title,
		Description: r.description,
		CreatedBy:   r.createdBy,
		Status:      Status(r.status),
		Priority:    Priority(r.priority),
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
	if r.assignedTo.Valid {
		v := r.assignedTo.String
		t.AssignedTo = &v
	}
	if r.parentTask.Valid {
		v := r.parentTask.String
		t.ParentTask = &v
	}
	if err := json.Unmarshal([]byte(r.childTasks), &t.ChildTasks); err != nil {
		return nil, fmt.Errorf("decoding child_tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(r.dependsOnTasks), &t.DependsOnTasks); err != nil {
		return nil, fmt.Errorf("decoding depends_on_tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(r.notes), &t.Notes); err != nil {
		return nil, fmt.Errorf("decoding notes: %w", err)
	}
	return t, nil
}

const selectCols = `id, title, description, assigned_to, created_by, status, priority,
	parent_task, child_tasks, depends_on_tasks, notes, created_at, updated_at`

func getTx(ctx context.Context, tx *sql.Tx, id string) (*Task, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+selectCols+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// Get returns a single task by id.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectCols+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func exists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func appendChild(ctx context.Context, tx *sql.Tx, parentID, childID string) error {
	parent, err := getTx(ctx, tx, parentID)
	if err != nil {
		return err
	}
	parent.ChildTasks = append(parent.ChildTasks, childID)
	return updateChildren(ctx, tx, parent.ID, parent.ChildTasks)
}

func updateChildren(ctx context.Context, tx *sql.Tx, id string, children []string) error {
	data, err := json.Marshal(children)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE tasks SET child_tasks = ?, updated_at = ? WHERE id = ?",
		string(data), time.Now().UTC(), id)
	return err
}

func removeChild(ctx context.Context, tx *sql.Tx, parentID, childID string) error {
	parent, err := getTx(ctx, tx, parentID)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	filtered := make([]string, 0, len(parent.ChildTasks))
	for _, c := range parent.ChildTasks {
		if c != childID {
			filtered = append(filtered, c)
		}
	}
	return updateChildren(ctx, tx, parent.ID, filtered)
}

// activePhaseTx returns the most recently created root task that is
// currently active; ties are broken by most recently created.
func activePhaseTx(ctx context.Context, tx *sql.Tx) (*Task, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+selectCols+" FROM tasks WHERE parent_task IS NULL ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roots []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, root := range roots {
		active, err := phaseActiveTx(ctx, tx, root)
		if err != nil {
			return nil, err
		}
		if active {
			return root, nil
		}
	}
	return nil, nil
}

// phaseActiveTx implements the phase-completion predicate: recursively
// descend via parent_task; the phase is active iff any transitive
// descendant is non-terminal.
func phaseActiveTx(ctx context.Context, tx *sql.Tx, root *Task) (bool, error) {
	if root.Status.active() {
		return true, nil
	}
	queue := append([]string(nil), root.ChildTasks...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		child, err := getTx(ctx, tx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return false, err
		}
		if child.Status.active() {
			return true, nil
		}
		queue = append(queue, child.ChildTasks...)
	}
	return false, nil
}

// activeDescendantsTx recursively lists descendants of root still
// active, for the candidate-parents suggestion attached to a refused
// second phase.
func activeDescendantsTx(ctx context.Context, tx *sql.Tx, root *Task) ([]string, error) {
	var result []string
	queue := append([]string(nil), root.ID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t, err := getTx(ctx, tx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if t.Status.active() {
			result = append(result, t.ID)
		}
		queue = append(queue, t.ChildTasks...)
	}
	return result, nil
}

// CreateTaskRequest is the payload for CreateSelfTask.
type CreateTaskRequest struct {
	Title       string
	Description string
	Priority    Priority
	ParentTask  *string
	DependsOn   []string
}

// CreateSelfTask creates a task on behalf of its creator, enforcing
// the single-active-phase invariant for new root tasks and requiring
// a parent for non-admin callers.
func (s *Store) CreateSelfTask(ctx context.Context, callerID string, isAdmin bool, callerCurrentTask *string, req CreateTaskRequest) (*Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBadRequest)
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}

	var created *Task
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		parent := req.ParentTask
		if !isAdmin && parent == nil {
			parent = callerCurrentTask
		}
		if !isAdmin && parent == nil {
			suggestions, err := recentTasksByCreator(ctx, tx, callerID, 5)
			if err != nil {
				return err
			}
			return &PhaseConflict{CandidateParents: suggestions}
		}

		if parent == nil {
			// Creating a new root task (phase). Refuse if a phase is
			// already active.
			active, err := activePhaseTx(ctx, tx)
			if err != nil {
				return err
			}
			if active != nil {
				candidates, err := activeDescendantsTx(ctx, tx, active)
				if err != nil {
					return err
				}
				return &PhaseConflict{ActivePhaseID: active.ID, CandidateParents: candidates}
			}
		} else {
			ok, err := exists(ctx, tx, *parent)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: parent_task %s", ErrNotFound, *parent)
			}
		}

		for _, dep := range req.DependsOn {
			ok, err := exists(ctx, tx, dep)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrDependencyMissing, dep)
			}
		}

		now := time.Now().UTC()
		t := &Task{
			ID:             uuid.NewString(),
			Title:          req.Title,
			Description:    req.Description,
			CreatedBy:      callerID,
			Status:         StatusUnassigned,
			Priority:       req.Priority,
			ParentTask:     parent,
			ChildTasks:     []string{},
			DependsOnTasks: req.DependsOn,
			Notes:          []Note{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := insertTask(ctx, tx, t); err != nil {
			return err
		}
		if parent != nil {
			if err := appendChild(ctx, tx, *parent, t.ID); err != nil {
				return err
			}
		}
		if err := logAction(ctx, tx, callerID, "create_self_task", &t.ID, nil); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, t *Task) error {
	children, err := json.Marshal(t.ChildTasks)
	if err != nil {
		return err
	}
	deps, err := json.Marshal(t.DependsOnTasks)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(t.Notes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to, created_by, status, priority,
			parent_task, child_tasks, depends_on_tasks, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, nullableString(t.AssignedTo), t.CreatedBy, string(t.Status),
		string(t.Priority), nullableString(t.ParentTask), string(children), string(deps),
		string(notes), t.CreatedAt, t.UpdatedAt)
	return err
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func recentTasksByCreator(ctx context.Context, tx *sql.Tx, createdBy string, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM tasks WHERE created_by = ? ORDER BY created_at DESC LIMIT ?", createdBy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func logAction(ctx context.Context, tx *sql.Tx, agentID, actionType string, taskID *string, details map[string]interface{}) error {
	data, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO action_log (agent_id, action_type, task_id, timestamp, details) VALUES (?, ?, ?, ?, ?)",
		agentID, actionType, nullableString(taskID), time.Now().UTC(), string(data))
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
