// Package progress 提供带权重的多步骤进度状态机。
// 步骤沿 pending → running → (completed|failed) 单向流转，
// 每次流转都会向监听器发一个事件用于展示。
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status 步骤状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step 一个已注册的步骤
type Step struct {
	Name       string                 `json:"name"`
	Weight     int                    `json:"weight"`
	Status     Status                 `json:"status"`
	StartedAt  time.Time              `json:"started_at,omitempty"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// Event 一次状态流转
type Event struct {
	Step       string  `json:"step"`
	Status     Status  `json:"status"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message,omitempty"`
}

// Listener 事件监听器
type Listener func(Event)

// Report 跑完后的进度汇总
type Report struct {
	Percentage  float64 `json:"percentage"`
	Steps       []Step  `json:"steps"`
	FailedSteps []string `json:"failed_steps,omitempty"`
}

// Tracker 进度跟踪器。非法流转（完成未开始的步骤、重复完成）
// 属于编程错误，一律返回错误而不是静默忽略
type Tracker struct {
	mu        sync.Mutex
	steps     []*Step
	index     map[string]*Step
	listeners []Listener
	logger    *logrus.Entry
}

// New 创建空的进度跟踪器
func New() *Tracker {
	return &Tracker{
		index:  make(map[string]*Step),
		logger: logrus.WithField("component", "progress"),
	}
}

// RegisterStep 注册一个步骤及其相对权重。必须在任何流转之前完成注册
func (t *Tracker) RegisterStep(name string, weight int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.index[name]; dup {
		return fmt.Errorf("step %q already registered", name)
	}
	if weight <= 0 {
		return fmt.Errorf("step %q weight must be positive", name)
	}
	step := &Step{Name: name, Weight: weight, Status: StatusPending}
	t.steps = append(t.steps, step)
	t.index[name] = step
	return nil
}

// AddListener 注册事件监听器
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// StartStep 把步骤置为 running
func (t *Tracker) StartStep(name string) error {
	t.mu.Lock()
	step, ok := t.index[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown step %q", name)
	}
	if step.Status != StatusPending {
		t.mu.Unlock()
		return fmt.Errorf("cannot start step %q: status is %s", name, step.Status)
	}
	step.Status = StatusRunning
	step.StartedAt = time.Now()
	event := t.eventLocked(step, "")
	t.mu.Unlock()

	t.emit(event)
	return nil
}

// CompleteStep 把步骤置为 completed 并附带元数据。
// 完成一个未开始的步骤或重复完成都是错误
func (t *Tracker) CompleteStep(name string, meta map[string]interface{}) error {
	t.mu.Lock()
	step, ok := t.index[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown step %q", name)
	}
	if step.Status != StatusRunning {
		t.mu.Unlock()
		return fmt.Errorf("cannot complete step %q: status is %s", name, step.Status)
	}
	step.Status = StatusCompleted
	step.FinishedAt = time.Now()
	step.Meta = meta
	event := t.eventLocked(step, "")
	t.mu.Unlock()

	t.emit(event)
	return nil
}

// FailStep 把步骤置为 failed 并记录原因
func (t *Tracker) FailStep(name, reason string) error {
	t.mu.Lock()
	step, ok := t.index[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown step %q", name)
	}
	if step.Status != StatusRunning {
		t.mu.Unlock()
		return fmt.Errorf("cannot fail step %q: status is %s", name, step.Status)
	}
	step.Status = StatusFailed
	step.FinishedAt = time.Now()
	step.Reason = reason
	event := t.eventLocked(step, reason)
	t.mu.Unlock()

	t.emit(event)
	return nil
}

// Percentage 返回按权重聚合的完成百分比
func (t *Tracker) Percentage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentageLocked()
}

func (t *Tracker) percentageLocked() float64 {
	total, done := 0, 0
	for _, step := range t.steps {
		total += step.Weight
		if step.Status == StatusCompleted {
			done += step.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(done) / float64(total)
}

func (t *Tracker) eventLocked(step *Step, message string) Event {
	return Event{
		Step:       step.Name,
		Status:     step.Status,
		Percentage: t.percentageLocked(),
		Message:    message,
	}
}

func (t *Tracker) emit(event Event) {
	t.mu.Lock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"step":       event.Step,
		"status":     event.Status,
		"percentage": fmt.Sprintf("%.1f", event.Percentage),
	}).Debug("progress event")

	for _, l := range listeners {
		l(event)
	}
}

// Report 生成最终进度报告
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := &Report{Percentage: t.percentageLocked()}
	for _, step := range t.steps {
		report.Steps = append(report.Steps, *step)
		if step.Status == StatusFailed {
			report.FailedSteps = append(report.FailedSteps, step.Name)
		}
	}
	return report
}
