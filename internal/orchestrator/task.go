package orchestrator

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/health"
)

// TaskStatus is the lifecycle state of one collection task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskSuccess     TaskStatus = "success"
	TaskFailed      TaskStatus = "failed"
	TaskCancelled   TaskStatus = "cancelled"
	TaskTimeout     TaskStatus = "timeout"
	TaskRateLimited TaskStatus = "rate_limited"
)

// terminal reports whether the status is final.
func (s TaskStatus) terminal() bool {
	switch s {
	case TaskSuccess, TaskFailed, TaskCancelled, TaskTimeout, TaskRateLimited:
		return true
	}
	return false
}

// CollectionTask is one unit of work inside a plan.
type CollectionTask struct {
	ID         string
	Source     string
	Priority   Priority
	Params     collector.Params
	Timeout    time.Duration
	MaxRetries int

	Status     TaskStatus
	Attempts   int
	DependsOn  []string // task ids
	Dependents []string

	Result   *collector.CollectionResult
	Analysis *health.Analysis
	Error    string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	seq int64 // FIFO tiebreak within a priority band
}

// Duration returns the task runtime when known.
func (t *CollectionTask) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// PlanStatus is the lifecycle state of a collection plan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanTimeout   PlanStatus = "timeout"
	PlanCancelled PlanStatus = "cancelled"
)

// CollectionPlan is an ordered set of tasks with a concurrency cap and a
// total deadline.
type CollectionPlan struct {
	ID          string
	Name        string
	Tasks       map[string]*CollectionTask
	Concurrency int
	Deadline    time.Duration

	Status      PlanStatus
	StartedAt   *time.Time
	CompletedAt *time.Time

	Succeeded int
	Failed    int
}

// newPlan builds a plan from source configs, wiring task dependencies from
// source-name dependencies.
func newPlan(name string, sources []SourceConfig, concurrency int, deadline time.Duration, now time.Time) *CollectionPlan {
	plan := &CollectionPlan{
		ID:          uuid.New().String(),
		Name:        name,
		Tasks:       make(map[string]*CollectionTask, len(sources)),
		Concurrency: concurrency,
		Deadline:    deadline,
		Status:      PlanPending,
	}

	bySource := make(map[string]*CollectionTask, len(sources))
	for i, sc := range sources {
		task := &CollectionTask{
			ID:         uuid.New().String(),
			Source:     sc.Name,
			Priority:   sc.Priority,
			Params:     sc.Params,
			Timeout:    sc.Timeout,
			MaxRetries: sc.MaxRetries,
			Status:     TaskPending,
			CreatedAt:  now,
			seq:        int64(i),
		}
		plan.Tasks[task.ID] = task
		bySource[sc.Name] = task
	}

	for _, sc := range sources {
		task := bySource[sc.Name]
		for _, depSource := range sc.DependsOn {
			dep, ok := bySource[depSource]
			if !ok {
				continue // dependency not part of this plan
			}
			task.DependsOn = append(task.DependsOn, dep.ID)
			dep.Dependents = append(dep.Dependents, task.ID)
		}
	}

	return plan
}

// readyTasks returns pending tasks whose dependencies have all completed,
// ordered by priority descending then FIFO by creation sequence. This is the
// sole scheduling tiebreak.
func (p *CollectionPlan) readyTasks(completed map[string]bool) []*CollectionTask {
	var ready []*CollectionTask
	for _, t := range p.Tasks {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

// TaskBySource finds a task by source name.
func (p *CollectionPlan) TaskBySource(source string) *CollectionTask {
	for _, t := range p.Tasks {
		if t.Source == source {
			return t
		}
	}
	return nil
}
