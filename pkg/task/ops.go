package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignTaskRequest covers the three ways an admin can hand work to
// an agent: a single new task, a batch of new tasks, or a set of
// existing unassigned task ids.
type AssignTaskRequest struct {
	AgentID string

	// Mode A
	TaskTitle       string
	TaskDescription string
	Priority        Priority

	// Mode B
	Tasks []CreateTaskRequest

	// Mode C
	TaskIDs []string

	EnforceWorkloadGate bool
}

// maxWorkloadScore is the optional assignment gate: active task count
// plus 2x the high-priority subset.
const maxWorkloadScore = 15

// WorkloadScore computes the score view_status exposes: active task
// count plus 2x the high-priority subset.
func WorkloadScore(tasks []*Task) int {
	score := 0
	for _, t := range tasks {
		if !t.Status.active() {
			continue
		}
		score++
		if t.Priority == PriorityHigh {
			score += 2
		}
	}
	return score
}

func agentTasksTx(ctx context.Context, tx *sql.Tx, agentID string) ([]*Task, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+selectCols+" FROM tasks WHERE assigned_to = ?", agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AssignTask hands tasks to an agent via exactly one of the three
// request modes: a single new task, a batch of new tasks, or existing
// unassigned task ids.
func (s *Store) AssignTask(ctx context.Context, adminID string, isAdminTarget bool, req AssignTaskRequest) ([]*Task, error) {
	if isAdminTarget {
		return nil, fmt.Errorf("%w: cannot assign tasks to an admin identity", ErrConflict)
	}

	var assigned []*Task
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		if req.EnforceWorkloadGate {
			current, err := agentTasksTx(ctx, tx, req.AgentID)
			if err != nil {
				return err
			}
			if WorkloadScore(current) > maxWorkloadScore {
				return fmt.Errorf("%w: agent %s workload score exceeds %d", ErrConflict, req.AgentID, maxWorkloadScore)
			}
		}

		var toAssign []*Task
		switch {
		case req.TaskTitle != "": // single new task
			t, err := newAssignedTask(ctx, tx, adminID, req.AgentID, CreateTaskRequest{
				Title: req.TaskTitle, Description: req.TaskDescription, Priority: req.Priority,
			})
			if err != nil {
				return err
			}
			toAssign = append(toAssign, t)

		case len(req.Tasks) > 0: // batch of new tasks
			for _, def := range req.Tasks {
				t, err := newAssignedTask(ctx, tx, adminID, req.AgentID, def)
				if err != nil {
					return err
				}
				toAssign = append(toAssign, t)
			}

		case len(req.TaskIDs) > 0: // existing unassigned task ids
			for _, id := range req.TaskIDs {
				t, err := getTx(ctx, tx, id)
				if err != nil {
					return err
				}
				if t.Status != StatusUnassigned {
					return fmt.Errorf("%w: task %s is not unassigned", ErrConflict, id)
				}
				t.AssignedTo = &req.AgentID
				t.Status = StatusPending
				if err := updateAssignment(ctx, tx, t); err != nil {
					return err
				}
				toAssign = append(toAssign, t)
			}

		default:
			return fmt.Errorf("%w: assign_task requires task_title, tasks, or task_ids", ErrBadRequest)
		}

		if err := logAction(ctx, tx, adminID, "assign_task", nil, map[string]interface{}{"agent_id": req.AgentID}); err != nil {
			return err
		}
		assigned = toAssign
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func newAssignedTask(ctx context.Context, tx *sql.Tx, createdBy, agentID string, def CreateTaskRequest) (*Task, error) {
	if def.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBadRequest)
	}
	if def.Priority == "" {
		def.Priority = PriorityMedium
	}
	for _, dep := range def.DependsOn {
		ok, err := exists(ctx, tx, dep)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDependencyMissing, dep)
		}
	}
	now := time.Now().UTC()
	t := &Task{
		ID:             uuid.NewString(),
		Title:          def.Title,
		Description:    def.Description,
		AssignedTo:     &agentID,
		CreatedBy:      createdBy,
		Status:         StatusPending,
		Priority:       def.Priority,
		ParentTask:     def.ParentTask,
		ChildTasks:     []string{},
		DependsOnTasks: def.DependsOn,
		Notes:          []Note{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := insertTask(ctx, tx, t); err != nil {
		return nil, err
	}
	if def.ParentTask != nil {
		if err := appendChild(ctx, tx, *def.ParentTask, t.ID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func updateAssignment(ctx context.Context, tx *sql.Tx, t *Task) error {
	_, err := tx.ExecContext(ctx, "UPDATE tasks SET assigned_to = ?, status = ?, updated_at = ? WHERE id = ?",
		nullableString(t.AssignedTo), string(t.Status), time.Now().UTC(), t.ID)
	return err
}

// UpdateTaskStatus transitions a set of tasks to newStatus, appending
// an optional note to each; non-admin callers may only touch tasks
// assigned to them.
func (s *Store) UpdateTaskStatus(ctx context.Context, callerID string, isAdmin bool, ids []string, newStatus Status, note string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			t, err := getTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if !isAdmin && (t.AssignedTo == nil || *t.AssignedTo != callerID) {
				return fmt.Errorf("%w: task %s is not assigned to caller", ErrUnauthorized, id)
			}
			t.Status = newStatus
			t.UpdatedAt = time.Now().UTC()
			if note != "" {
				t.Notes = append(t.Notes, Note{Author: callerID, Timestamp: t.UpdatedAt, Content: note})
			}
			if err := updateStatusAndNotes(ctx, tx, t); err != nil {
				return err
			}
			if err := logAction(ctx, tx, callerID, "update_task_status", &id, map[string]interface{}{"status": string(newStatus)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateStatusAndNotes(ctx context.Context, tx *sql.Tx, t *Task) error {
	notes, err := marshalNotes(t.Notes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE tasks SET status = ?, notes = ?, updated_at = ? WHERE id = ?",
		string(t.Status), notes, t.UpdatedAt, t.ID)
	return err
}

func marshalNotes(notes []Note) (string, error) {
	data, err := marshalJSON(notes)
	return data, err
}

// DeleteTask removes a task, refusing when dependents exist unless
// forceDelete is set, and either orphaning or cascading children
// depending on cascadeChildren.
func (s *Store) DeleteTask(ctx context.Context, adminID, id string, forceDelete, cascadeChildren bool) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		dependents, err := findDependents(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(dependents) > 0 && !forceDelete {
			return fmt.Errorf("%w: task %s has %d dependents, use force_delete", ErrConflict, id, len(dependents))
		}

		var toDelete []string
		if cascadeChildren {
			toDelete, err = collectDescendants(ctx, tx, id)
			if err != nil {
				return err
			}
		} else {
			for _, childID := range t.ChildTasks {
				child, err := getTx(ctx, tx, childID)
				if err != nil {
					if err == ErrNotFound {
						continue
					}
					return err
				}
				child.ParentTask = nil
				if err := updateParent(ctx, tx, child); err != nil {
					return err
				}
			}
			toDelete = []string{id}
		}

		for _, delID := range toDelete {
			if err := purgeReferences(ctx, tx, delID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", delID); err != nil {
				return err
			}
		}

		if t.ParentTask != nil {
			if err := removeChild(ctx, tx, *t.ParentTask, id); err != nil {
				return err
			}
		}

		return logAction(ctx, tx, adminID, "delete_task", &id, map[string]interface{}{"cascade": cascadeChildren})
	})
}

func updateParent(ctx context.Context, tx *sql.Tx, t *Task) error {
	_, err := tx.ExecContext(ctx, "UPDATE tasks SET parent_task = ?, updated_at = ? WHERE id = ?",
		nullableString(t.ParentTask), time.Now().UTC(), t.ID)
	return err
}

func collectDescendants(ctx context.Context, tx *sql.Tx, rootID string) ([]string, error) {
	root, err := getTx(ctx, tx, rootID)
	if err != nil {
		return nil, err
	}
	result := []string{rootID}
	queue := append([]string(nil), root.ChildTasks...)
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
		result = append(result, id)
		queue = append(queue, t.ChildTasks...)
	}
	return result, nil
}

func findDependents(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, depends_on_tasks FROM tasks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dependents []string
	for rows.Next() {
		var taskID, deps string
		if err := rows.Scan(&taskID, &deps); err != nil {
			return nil, err
		}
		var list []string
		if err := unmarshalJSON(deps, &list); err != nil {
			return nil, err
		}
		for _, d := range list {
			if d == id {
				dependents = append(dependents, taskID)
				break
			}
		}
	}
	return dependents, rows.Err()
}

// purgeReferences removes id from every other task's child_tasks and
// depends_on_tasks lists so deleting a task never leaves a dangling
// reference.
func purgeReferences(ctx context.Context, tx *sql.Tx, id string) error {
	rows, err := tx.QueryContext(ctx, "SELECT id, child_tasks, depends_on_tasks FROM tasks")
	if err != nil {
		return err
	}
	type patch struct {
		id       string
		children []string
		deps     []string
	}
	var patches []patch
	for rows.Next() {
		var taskID, children, deps string
		if err := rows.Scan(&taskID, &children, &deps); err != nil {
			rows.Close()
			return err
		}
		var childList, depList []string
		if err := unmarshalJSON(children, &childList); err != nil {
			rows.Close()
			return err
		}
		if err := unmarshalJSON(deps, &depList); err != nil {
			rows.Close()
			return err
		}
		newChildren := removeString(childList, id)
		newDeps := removeString(depList, id)
		if len(newChildren) != len(childList) || len(newDeps) != len(depList) {
			patches = append(patches, patch{id: taskID, children: newChildren, deps: newDeps})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range patches {
		childData, err := marshalJSON(p.children)
		if err != nil {
			return err
		}
		depData, err := marshalJSON(p.deps)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET child_tasks = ?, depends_on_tasks = ? WHERE id = ?",
			childData, depData, p.id); err != nil {
			return err
		}
	}
	return nil
}

func removeString(list []string, target string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// BulkOperation is one entry of a bulk_task_operations batch.
type BulkOperation struct {
	TaskID   string
	Kind     string // "update_status", "update_priority", "add_note", "reassign"
	Status   Status
	Priority Priority
	Note     string
	AgentID  string
}

// BulkTaskOperations applies every operation in one transaction; any
// failure aborts the whole batch.
func (s *Store) BulkTaskOperations(ctx context.Context, callerID string, isAdmin bool, ops []BulkOperation) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, op := range ops {
			if op.Kind == "reassign" && !isAdmin {
				return fmt.Errorf("%w: reassign is admin-only", ErrUnauthorized)
			}
			t, err := getTx(ctx, tx, op.TaskID)
			if err != nil {
				return err
			}
			if !isAdmin && op.Kind != "reassign" && (t.AssignedTo == nil || *t.AssignedTo != callerID) {
				return fmt.Errorf("%w: task %s is not assigned to caller", ErrUnauthorized, op.TaskID)
			}

			switch op.Kind {
			case "update_status":
				t.Status = op.Status
			case "update_priority":
				t.Priority = op.Priority
			case "add_note":
				t.Notes = append(t.Notes, Note{Author: callerID, Timestamp: time.Now().UTC(), Content: op.Note})
			case "reassign":
				t.AssignedTo = &op.AgentID
			default:
				return fmt.Errorf("%w: unknown bulk operation %q", ErrBadRequest, op.Kind)
			}
			t.UpdatedAt = time.Now().UTC()
			if err := updateFull(ctx, tx, t); err != nil {
				return err
			}
			if err := logAction(ctx, tx, callerID, "bulk_"+op.Kind, &op.TaskID, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateFull(ctx context.Context, tx *sql.Tx, t *Task) error {
	notes, err := marshalJSON(t.Notes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, priority = ?, assigned_to = ?, notes = ?, updated_at = ? WHERE id = ?`,
		string(t.Status), string(t.Priority), nullableString(t.AssignedTo), notes, t.UpdatedAt, t.ID)
	return err
}

// ListVisible implements the view_tasks permission filter: an admin
// sees all tasks; a non-admin sees tasks assigned to them, unassigned
// tasks, and tasks they created.
func (s *Store) ListVisible(ctx context.Context, callerID string, isAdmin bool) ([]*Task, error) {
	var rows *sql.Rows
	var err error
	if isAdmin {
		rows, err = s.db.QueryContext(ctx, "SELECT "+selectCols+" FROM tasks ORDER BY created_at DESC")
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+selectCols+" FROM tasks WHERE assigned_to = ? OR assigned_to IS NULL OR created_by = ? ORDER BY created_at DESC",
			callerID, callerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchOptions configures search_tasks.
type SearchOptions struct {
	MinRelevanceScore float64
	SearchFields      []string // defaults to title+description
}

// SearchResult pairs a task with its relevance score and a snippet.
type SearchResult struct {
	Task    *Task
	Score   float64
	Snippet string
}

// SearchTasks runs permission-filtered, field-weighted term-frequency
// scoring with whole-word and early-position bonuses.
func (s *Store) SearchTasks(ctx context.Context, callerID string, isAdmin bool, query string, opts SearchOptions) ([]SearchResult, error) {
	visible, err := s.ListVisible(ctx, callerID, isAdmin)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	fields := opts.SearchFields
	if len(fields) == 0 {
		fields = []string{"title", "description"}
	}

	var results []SearchResult
	for _, t := range visible {
		score, snippet := scoreTask(t, terms, fields)
		if score < opts.MinRelevanceScore {
			continue
		}
		if score > 0 {
			results = append(results, SearchResult{Task: t, Score: score, Snippet: snippet})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// fieldWeight assigns title more weight than description or notes.
func fieldWeight(field string) float64 {
	switch field {
	case "title":
		return 3.0
	case "description":
		return 1.0
	case "notes":
		return 0.5
	default:
		return 1.0
	}
}

func scoreTask(t *Task, terms []string, fields []string) (float64, string) {
	var score float64
	var snippet string
	for _, field := range fields {
		text := fieldText(t, field)
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, term := range terms {
			count := strings.Count(lower, term)
			if count == 0 {
				continue
			}
			s := fieldWeight(field) * float64(count)
			if wholeWordMatch(lower, term) {
				s *= 1.5
			}
			if idx := strings.Index(lower, term); idx >= 0 && idx < 20 {
				s *= 1.2
			}
			score += s
			if snippet == "" {
				snippet = snippetAround(text, lower, term)
			}
		}
	}
	return score, snippet
}

func fieldText(t *Task, field string) string {
	switch field {
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "notes":
		var b strings.Builder
		for _, n := range t.Notes {
			b.WriteString(n.Content)
			b.WriteString(" ")
		}
		return b.String()
	default:
		return ""
	}
}

func wholeWordMatch(lower, term string) bool {
	idx := strings.Index(lower, term)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(lower[idx-1])
		afterIdx := idx + len(term)
		after := afterIdx >= len(lower) || !isWordChar(lower[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(lower[idx+1:], term)
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '_'
}

func snippetAround(original, lower, term string) string {
	idx := strings.Index(lower, term)
	if idx < 0 {
		return ""
	}
	start := idx - 20
	if start < 0 {
		start = 0
	}
	end := idx + len(term) + 20
	if end > len(original) {
		end = len(original)
	}
	return "..." + original[start:end] + "..."
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
