package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// TaskStatus is the status of an externally owned task record.
type TaskStatus string

// Task statuses understood when aggregating stats. Unknown values count as pending.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDeferred   TaskStatus = "deferred"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// PRDSource is the reference a task carries back to the PRD it was generated from.
type PRDSource struct {
	PRDID    string    `json:"prdId,omitempty"`
	FileName string    `json:"fileName,omitempty"`
	FilePath string    `json:"filePath,omitempty"`
	FileHash string    `json:"fileHash,omitempty"`
	FileSize int64     `json:"fileSize,omitempty"`
	LinkedAt time.Time `json:"linkedAt,omitzero"`
}

// Task is a task record owned by the task subsystem. Only id, title, status and
// prdSource are interpreted; every other field round-trips untouched.
type Task struct {
	ID        string
	Title     string
	Status    TaskStatus
	PRDSource *PRDSource

	raw   map[string]json.RawMessage
	order []string
}

// UnmarshalJSON keeps the full record so unknown fields survive a write-back.
func (t *Task) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	order, err := objectKeyOrder(data)
	if err != nil {
		return err
	}

	var parsed Task
	parsed.raw = raw
	parsed.order = order

	if idRaw, ok := raw["id"]; ok {
		id, err := decodeTaskID(idRaw)
		if err != nil {
			return err
		}
		parsed.ID = id
	}
	if v, ok := raw["title"]; ok {
		_ = json.Unmarshal(v, &parsed.Title)
	}
	if v, ok := raw["status"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("task %s: status: %w", parsed.ID, err)
		}
		parsed.Status = TaskStatus(s)
	}
	if v, ok := raw["prdSource"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		var src PRDSource
		if err := json.Unmarshal(v, &src); err != nil {
			return fmt.Errorf("task %s: prdSource: %w", parsed.ID, err)
		}
		parsed.PRDSource = &src
	}

	*t = parsed
	return nil
}

// MarshalJSON writes the original fields back in their original order,
// patching status and prdSource from the struct.
func (t Task) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(t.raw)+2)
	for k, v := range t.raw {
		fields[k] = v
	}
	order := slices.Clone(t.order)

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, ok := fields[key]; !ok {
			order = append(order, key)
		}
		fields[key] = b
		return nil
	}

	if _, ok := fields["id"]; !ok {
		if err := set("id", t.ID); err != nil {
			return nil, err
		}
	}
	if t.Title != "" {
		if _, ok := fields["title"]; !ok {
			if err := set("title", t.Title); err != nil {
				return nil, err
			}
		}
	}
	if t.Status != "" {
		if err := set("status", t.Status); err != nil {
			return nil, err
		}
	}
	if t.PRDSource != nil {
		if err := set("prdSource", t.PRDSource); err != nil {
			return nil, err
		}
	} else if _, ok := fields["prdSource"]; ok {
		delete(fields, "prdSource")
		order = slices.DeleteFunc(order, func(k string) bool { return k == "prdSource" })
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.PRDSource != nil {
		src := *t.PRDSource
		c.PRDSource = &src
	}
	c.raw = make(map[string]json.RawMessage, len(t.raw))
	for k, v := range t.raw {
		c.raw[k] = slices.Clone(v)
	}
	c.order = slices.Clone(t.order)
	return &c
}

// decodeTaskID accepts both numeric (1, 2) and string ("1", "2.1") ids.
func decodeTaskID(raw json.RawMessage) (string, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("task id: %w", err)
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		n = id
		return n.String(), nil
	}
	return "", fmt.Errorf("task id: unsupported JSON type %s", strings.TrimSpace(string(raw)))
}

// objectKeyOrder returns the top-level keys of a JSON object in document order.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("task: expected JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("task: expected object key")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// TaskCollection is the task document: { "tasks": [...] }. Other top-level
// fields are preserved verbatim.
type TaskCollection struct {
	Tasks []*Task `json:"tasks"`

	extra map[string]json.RawMessage
}

// NewTaskCollection returns an empty task document.
func NewTaskCollection() *TaskCollection {
	return &TaskCollection{Tasks: []*Task{}}
}

// UnmarshalJSON decodes the tasks array and keeps sibling keys.
func (c *TaskCollection) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var tasks []*Task
	if v, ok := raw["tasks"]; ok {
		if err := json.Unmarshal(v, &tasks); err != nil {
			return err
		}
		delete(raw, "tasks")
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	c.Tasks = tasks
	c.extra = raw
	return nil
}

// MarshalJSON writes the tasks array together with any preserved sibling keys.
func (c TaskCollection) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.extra)+1)
	for k, v := range c.extra {
		out[k] = v
	}
	tasks := c.Tasks
	if tasks == nil {
		tasks = []*Task{}
	}
	out["tasks"] = tasks
	return json.Marshal(out)
}

// Find returns the task with the given id, or nil.
func (c *TaskCollection) Find(id string) *Task {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Get is Find with a wrapped ErrTaskNotFound.
func (c *TaskCollection) Get(id string) (*Task, error) {
	if t := c.Find(id); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// Remove deletes every task whose id is in ids and returns how many were removed.
func (c *TaskCollection) Remove(ids []string) int {
	before := len(c.Tasks)
	c.Tasks = slices.DeleteFunc(c.Tasks, func(t *Task) bool { return slices.Contains(ids, t.ID) })
	return before - len(c.Tasks)
}

// StatsFor aggregates the statuses of the given task ids. Ids without a
// matching task are skipped.
func (c *TaskCollection) StatsFor(ids []string) TaskStats {
	var stats TaskStats
	for _, id := range ids {
		if t := c.Find(id); t != nil {
			stats.Add(t.Status)
		}
	}
	return stats
}

// LinkedTo returns every task whose prdSource points at prdID.
func (c *TaskCollection) LinkedTo(prdID string) []*Task {
	var out []*Task
	for _, t := range c.Tasks {
		if t.PRDSource != nil && t.PRDSource.PRDID == prdID {
			out = append(out, t)
		}
	}
	return out
}
