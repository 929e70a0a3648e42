// Package orchestrator is the composition root (spec.md §9: "container
// is a composition root, not a runtime registry"): it wires config,
// the MCP connection manager, the validation pipeline, the outbound
// LLM client, and the workflow state machine into one entry point,
// HandleRequest, that the CLI/daemon front end calls per request.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/taskorch/pkg/config"
	"github.com/kadirpekel/taskorch/pkg/history"
	"github.com/kadirpekel/taskorch/pkg/mcp"
	"github.com/kadirpekel/taskorch/pkg/outbound"
	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/validate"
	"github.com/kadirpekel/taskorch/pkg/workflow"
)

// Orchestrator owns every long-lived collaborator for one running
// process: the MCP servers, the shared tool-call history, the
// validation pipeline, and the session table driving the workflow
// machine (spec.md §2, §3).
type Orchestrator struct {
	cfg *config.Config
	log *slog.Logger

	mcpMgr   *mcp.Manager
	catalog  *Catalog
	ring     *history.Ring
	pipeline *validate.Pipeline
	machine  *workflow.Machine

	sessionsMu sync.Mutex
	sessions   map[string]*session.Session

	idleTimeout time.Duration
	stopReaper  chan struct{}
}

// New builds an Orchestrator from cfg: it registers every configured
// MCP server (without yet connecting — call Start to connect) and
// wires the validation pipeline and workflow machine around them.
func New(cfg *config.Config, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}

	mgr := mcp.NewManager(log)
	for name, sc := range cfg.MCPServers {
		env := make(map[string]string, len(sc.Env))
		for _, kv := range sc.Env {
			k, v, ok := splitEnvPair(kv)
			if ok {
				env[k] = v
			}
		}
		mgr.AddServer(mcp.Config{
			Name:                 name,
			Command:              sc.Command,
			Args:                 sc.Args,
			Env:                  env,
			HandshakeTimeout:     sc.HandshakeTimeout,
			MaxReconnectAttempts: sc.MaxReconnectAttempts,
			ReconnectBaseDelay:   sc.ReconnectBaseDelay,
			ReconnectMaxDelay:    sc.ReconnectMaxDelay,
		})
	}

	catalog := NewCatalog(mgr, cfg.Validation.MCPCacheTTL)
	ring := history.New(cfg.Validation.HistoryMaxSize)

	llmClient := outbound.NewClient(outbound.ClientConfig{
		Service: "llm",
		BaseURL: cfg.LLM.Endpoint,
		APIKey:  cfg.LLM.APIKey,
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,

		RequestTimeout: cfg.LLM.Timeout,
		Queue: outbound.QueueConfig{
			MaxConcurrent:        cfg.LLM.Queue.MaxConcurrent,
			MinInterRequestDelay: cfg.LLM.Queue.MinInterRequestDelay,
			MaxInterRequestDelay: cfg.LLM.Queue.MaxInterRequestDelay,
			BurstLimit:           cfg.LLM.Queue.BurstLimit,
			BurstWindow:          cfg.LLM.Queue.BurstWindow,
			QueueTimeout:         cfg.LLM.Queue.QueueTimeout,
			MaxQueueDepth:        cfg.LLM.Queue.MaxQueueDepth,
		},
		Logger: log,
	})
	llm := outbound.NewLLMClient(llmClient, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens)

	vc := cfg.Validation
	vc.SetDefaults()
	historyStage := validate.NewHistoryStage(ring)
	historyStage.Window, historyStage.FailureThreshold, historyStage.LowSuccessRate = vc.AntiRepetitionWindow, vc.MaxFailuresBeforeBlock, vc.MinSuccessRate
	schemaStage := validate.NewSchemaStage(catalog)
	schemaStage.Threshold = vc.SimilarityThreshold
	syncStage := validate.NewMCPSyncStage(catalog)
	syncStage.Threshold = vc.SimilarityThreshold

	pipeline := validate.NewPipeline(validate.NewMetrics(),
		validate.NewFormatStage(),
		historyStage,
		schemaStage,
		syncStage,
		validate.NewLLMStage(llm),
	)

	deps := workflow.Dependencies{
		Classifier: newClassifier(llm),
		Chat:       newChatter(llm),
		Dev:        newDevRunner(llm),
		Enricher:   newEnricher(ring),
		Planner:    newPlanner(llm),
		Selector:   newSelector(catalog),
		ToolPlan:   newToolPlanner(llm, catalog, pipeline),
		Exec:       newExecutor(mgr, ring),
		Verify:     newVerifier(llm),
		Replan:     newReplanner(llm),
		Summarize:  newSummarizer(llm),
	}

	machine := workflow.NewMachine(workflow.Config{
		HandlerTimeout:        cfg.Workflow.HandlerTimeout,
		TransitionTimeout:     cfg.Workflow.TransitionTimeout,
		ItemPacingDelay:       cfg.Workflow.ItemPacingDelay,
		BlockedCheckThreshold: cfg.Workflow.BlockedCheckThreshold,
		DefaultMaxAttempts:    cfg.Workflow.DefaultMaxAttempts,
	}, workflow.NewHandlers(deps), log)

	return &Orchestrator{
		cfg:         cfg,
		log:         log,
		mcpMgr:      mgr,
		catalog:     catalog,
		ring:        ring,
		pipeline:    pipeline,
		machine:     machine,
		sessions:    make(map[string]*session.Session),
		idleTimeout: 30 * time.Minute,
		stopReaper:  make(chan struct{}),
	}, nil
}

// splitEnvPair splits a "KEY=VALUE" string, used to adapt
// config.MCPServerConfig.Env's slice form to mcp.Config.Env's map form.
func splitEnvPair(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// Start connects every configured MCP server and launches the idle
// session reaper. Call once before the first HandleRequest.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.mcpMgr.ConnectAll(ctx); err != nil {
		return err
	}
	go o.reapIdleSessions()
	return nil
}

// Close shuts down every MCP server connection and stops the reaper.
func (o *Orchestrator) Close() error {
	close(o.stopReaper)
	o.mcpMgr.CloseAll()
	return nil
}

func (o *Orchestrator) reapIdleSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopReaper:
			return
		case <-ticker.C:
			o.sessionsMu.Lock()
			for id, sess := range o.sessions {
				if sess.IdleSince() > o.idleTimeout {
					delete(o.sessions, id)
				}
			}
			o.sessionsMu.Unlock()
		}
	}
}

// getOrCreateSession returns the session for id, creating one on first
// use (spec.md §3: "Session: created on first request under a new id,
// destroyed on idle timeout").
func (o *Orchestrator) getOrCreateSession(id string) *session.Session {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()

	if sess, ok := o.sessions[id]; ok {
		return sess
	}
	sess := session.New(id, 200)
	o.sessions[sess.ID] = sess
	return sess
}

// HandleRequest drives one user message through the workflow machine
// for sessionID, publishing progress frames to sink as it runs (spec.md
// §6 External Interfaces). A fresh sessionID starts a new session at
// WORKFLOW_START; an existing in-flight or paused session resumes from
// its recorded state.
func (o *Orchestrator) HandleRequest(ctx context.Context, sessionID, message string, sink EventSink) (*session.Session, error) {
	if sink == nil {
		sink = NoopSink()
	}

	sess := o.getOrCreateSession(sessionID)
	sess.Touch()
	sess.Input = message

	sink.Publish(Event{Type: EventStatus, Data: map[string]any{"session_id": sess.ID, "state": sess.CurrentState()}})

	runCtx := withSink(ctx, sink)
	if err := o.machine.Run(runCtx, sess); err != nil {
		sink.Publish(Event{Type: EventError, Data: map[string]any{"error": err.Error()}})
		return sess, err
	}

	if sess.LastAnalysis != "" {
		sink.Publish(Event{Type: EventSummary, Data: map[string]any{"text": sess.LastAnalysis}})
	}
	sink.Publish(Event{Type: EventDone, Data: map[string]any{"session_id": sess.ID}})
	return sess, nil
}

// CancelSession cancels an in-flight or suspended session, satisfying
// every suspension point that observes sess.Cancelled() (spec.md §5).
func (o *Orchestrator) CancelSession(sessionID string) error {
	o.sessionsMu.Lock()
	sess, ok := o.sessions[sessionID]
	o.sessionsMu.Unlock()
	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}
	sess.Cancel()
	return nil
}

// Metrics returns the validation pipeline's accumulated metrics.
func (o *Orchestrator) Metrics() *validate.Metrics { return o.pipeline.Metrics() }
