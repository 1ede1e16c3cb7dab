// Package temporal provides optional durable execution for deliberations.
// When a Temporal host is configured, deliberation rounds run as activities
// under a workflow whose history survives worker restarts; when it is not,
// callers fall back to the in-process engine and nothing here is dialed.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/troika-ai/troika/internal/deliberate"
)

// DefaultTaskQueue is the queue the deliberation worker polls.
const DefaultTaskQueue = "troika-deliberation"

// ErrDisabled is returned when no Temporal host is configured.
var ErrDisabled = errors.New("temporal not configured")

// Config holds Temporal connection settings. An empty HostPort disables
// durable execution.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.TaskQueue == "" {
		c.TaskQueue = DefaultTaskQueue
	}
	return c
}

// Manager owns the Temporal client and worker lifecycle. The client dials
// lazily, so an unreachable cluster surfaces on first use rather than
// blocking startup.
type Manager struct {
	cfg  Config
	acts *Activities

	mu     sync.Mutex
	client client.Client
	worker worker.Worker
}

// NewManager creates a Manager. No connection is made until Start or the
// first workflow execution.
func NewManager(cfg Config, acts *Activities) *Manager {
	return &Manager{cfg: cfg.withDefaults(), acts: acts}
}

// Enabled reports whether a Temporal host is configured.
func (m *Manager) Enabled() bool { return m.cfg.HostPort != "" }

// TaskQueue returns the configured task queue name.
func (m *Manager) TaskQueue() string { return m.cfg.TaskQueue }

func (m *Manager) dial() (client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if m.cfg.HostPort == "" {
		return nil, ErrDisabled
	}
	c, err := client.Dial(client.Options{
		HostPort:  m.cfg.HostPort,
		Namespace: m.cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}
	m.client = c
	return c, nil
}

// Client returns the Temporal client, dialing on first use.
func (m *Manager) Client() (client.Client, error) {
	return m.dial()
}

// Start dials the cluster and begins the worker polling the task queue,
// registering the deliberation workflow and its activities.
func (m *Manager) Start() error {
	c, err := m.dial()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.worker != nil {
		return nil
	}

	w := worker.New(c, m.cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(DeliberationWorkflow)
	w.RegisterActivity(m.acts.ExecuteRound)
	w.RegisterActivity(m.acts.RecordResult)

	if err := w.Start(); err != nil {
		return fmt.Errorf("temporal worker start: %w", err)
	}
	m.worker = w
	return nil
}

// Deliberate starts a durable deliberation and blocks until it completes.
func (m *Manager) Deliberate(ctx context.Context, input DeliberationInput) (*deliberate.Result, error) {
	c, err := m.dial()
	if err != nil {
		return nil, err
	}
	if input.DeliberationID == "" {
		input.DeliberationID = uuid.NewString()
	}

	// The workflow ID is derived from the deliberation ID, so a retry with
	// the same ID attaches to the running workflow rather than starting a
	// second one. Once a run completes, the ID may only be reused if that
	// run failed.
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    "deliberation-" + input.DeliberationID,
		TaskQueue:             m.cfg.TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, DeliberationWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start deliberation workflow: %w", err)
	}

	var result deliberate.Result
	if err := run.Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.worker != nil {
		m.worker.Stop()
		m.worker = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}
