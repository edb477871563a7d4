// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

// Package supervisor owns the process-level lifecycle: it starts and
// restarts the Gateway, the channel adapters, the Scheduler, and the
// Heartbeat service, and it runs the single shared outbound-bus consumer
// that routes every OutboundMessage to whichever component's Send matches
// msg.Channel. Grounded on yy1588133-myclaw/internal/gateway/gateway.go's
// Run/Shutdown shape, generalized from one fixed channel set into a
// restart-supervised component table.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/asteroniris/asteroniris/pkg/agent"
	"github.com/asteroniris/asteroniris/pkg/audit"
	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/channels"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/gateway"
	"github.com/asteroniris/asteroniris/pkg/heartbeat"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/planner"
	"github.com/asteroniris/asteroniris/pkg/providers"
	"github.com/asteroniris/asteroniris/pkg/scheduler"
	"github.com/asteroniris/asteroniris/pkg/security"
	"github.com/asteroniris/asteroniris/pkg/tools"
	"github.com/asteroniris/asteroniris/pkg/voice"
)

// sender is satisfied by every channel adapter and by gateway.Server, so
// the outbound dispatcher can treat them uniformly.
type sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Supervisor wires the long-running components together and keeps them
// alive with exponential-backoff restarts, bounded by a circuit breaker per
// component so a component that keeps crashing stops being retried instead
// of spinning forever.
type Supervisor struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	agentLoop *agent.AgentLoop
	gw        *gateway.Server
	sched     *scheduler.Service
	hb        *heartbeat.HeartbeatService
	policy    *security.Policy
	auditor   *audit.Ledger

	mu       sync.Mutex
	channels map[string]channels.Channel
	senders  map[string]sender
	breakers map[string]*gobreaker.CircuitBreaker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds every component from cfg but starts nothing. Call Run to
// start the component set and block until the context is cancelled.
func New(cfg *config.Config, msgBus *bus.MessageBus) (*Supervisor, error) {
	agentLoop, err := agent.NewAgentLoop(cfg, msgBus)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build agent loop: %w", err)
	}

	workspace := cfg.WorkspacePath()
	maxRestarts := cfg.Scheduler.MaxRestartAttempts
	if maxRestarts <= 0 {
		maxRestarts = 10
	}

	ledger, ledgerErr := audit.Open(workspace)
	if ledgerErr != nil {
		logger.ErrorCF("supervisor", "failed to open action intent ledger", map[string]interface{}{"error": ledgerErr.Error()})
	}

	s := &Supervisor{
		cfg:       cfg,
		bus:       msgBus,
		agentLoop: agentLoop,
		gw:        gateway.New(cfg.Gateway, msgBus),
		sched:     scheduler.NewService(workspace, cfg.Scheduler.TickIntervalSeconds, cfg.Scheduler.SelfTaskCap),
		hb:        heartbeat.NewHeartbeatService(workspace, cfg.Heartbeat.IntervalSeconds, cfg.Heartbeat.Enabled),
		policy:    security.NewPolicy(security.PolicyConfig{Level: security.AutonomyLevel(cfg.Autonomy.Level), WorkspaceOnly: cfg.Autonomy.WorkspaceOnly, AllowedCommands: cfg.Autonomy.AllowedCommands, ForbiddenPaths: cfg.Autonomy.ForbiddenPaths, MaxActionsPerHour: cfg.Autonomy.MaxActionsPerHour, MaxCostPerDayCents: cfg.Autonomy.MaxCostPerDayCents}),
		auditor:   ledger,
		channels:  make(map[string]channels.Channel),
		senders:   make(map[string]sender),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		stopCh:    make(chan struct{}),
	}

	if err := s.buildChannels(msgBus); err != nil {
		return nil, err
	}
	if err := s.wireVoice(); err != nil {
		return nil, err
	}
	s.wireScheduler(maxRestarts)

	agentLoop.SetSelfTaskSink(func(entity, description string, expiresAt time.Time) error {
		_, err := s.sched.EnqueueSelfTask(entity, description, expiresAt)
		return err
	})

	s.hb.SetDelivery(msgBus, cfg.Heartbeat.Channel, cfg.Heartbeat.ChatID)
	s.hb.SetOnHeartbeat(func(prompt string) (string, error) {
		return s.agentLoop.ProcessDirect(context.Background(), prompt, "system:heartbeat")
	})
	s.hb.SetRecallContext(func() string {
		return s.agentLoop.RecentActivitySummary("system:heartbeat")
	})
	s.hb.SetJobSweeper(func(now time.Time) int {
		return len(s.sched.HarvestExpired(now))
	})

	for _, p := range s.webhookProviders() {
		s.gw.RegisterWebhook(p)
	}

	return s, nil
}

// webhookProviders collects the AsWebhookProvider() registrations of every
// generic webhook channel, so New can register them in one pass without
// exposing the channel map's concrete types to the caller.
func (s *Supervisor) webhookProviders() []gateway.WebhookProvider {
	var out []gateway.WebhookProvider
	for _, ch := range s.channels {
		if wc, ok := ch.(*channels.WebhookChannel); ok {
			out = append(out, wc.AsWebhookProvider())
		}
	}
	return out
}

func (s *Supervisor) buildChannels(msgBus *bus.MessageBus) error {
	cfg := s.cfg

	if cfg.Channels.Telegram.Enabled {
		ch, err := channels.NewTelegramChannel(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return fmt.Errorf("supervisor: build telegram channel: %w", err)
		}
		s.register(ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := channels.NewDiscordChannel(cfg.Channels.Discord, msgBus)
		if err != nil {
			return fmt.Errorf("supervisor: build discord channel: %w", err)
		}
		s.register(ch)
	}
	if cfg.Channels.Lark.Enabled {
		s.register(channels.NewWebhookChannel(cfg.Channels.Lark, msgBus))
	}
	for _, whCfg := range cfg.Channels.Generic {
		if whCfg.Enabled {
			s.register(channels.NewWebhookChannel(whCfg, msgBus))
		}
	}

	s.senders["ws"] = s.gw
	return nil
}

// auditable is satisfied by every channel built on BaseChannel, so register
// can wire the supervisor's shared ledger in without depending on the
// channels' concrete types.
type auditable interface {
	SetAuditor(ledger *audit.Ledger)
}

func (s *Supervisor) register(ch channels.Channel) {
	if a, ok := ch.(auditable); ok && s.auditor != nil {
		a.SetAuditor(s.auditor)
	}
	s.channels[ch.Name()] = ch
	s.senders[ch.Name()] = ch
	s.breakers[ch.Name()] = newComponentBreaker(ch.Name())
}

func newComponentBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WarnCF("supervisor", "component circuit state changed", map[string]interface{}{"component": name, "from": from.String(), "to": to.String()})
		},
	})
}

// wireVoice attaches a Groq transcriber to every channel that accepts one,
// when a Groq API key is configured.
func (s *Supervisor) wireVoice() error {
	if s.cfg.Providers.Groq.APIKey == "" {
		return nil
	}
	transcriber := voice.NewGroqTranscriber(s.cfg.Providers.Groq.APIKey, "")
	if ch, ok := s.channels["telegram"].(*channels.TelegramChannel); ok {
		ch.SetTranscriber(transcriber)
	}
	return nil
}

// wireScheduler registers the kind=agent (plan) and kind=user (gated
// shell) job runners. kind=agent payloads are parsed by the Planner and
// executed through the same Tool Registry path as the agent loop's own
// tool calls; kind=user payloads go through Security Policy.CheckCommand
// before ExecTool ever sees them.
func (s *Supervisor) wireScheduler(maxRestarts int) {
	workspace := s.cfg.WorkspacePath()

	toolRegistry := tools.NewToolRegistry()
	execTool := tools.NewExecTool(workspace)
	toolRegistry.Register(execTool)

	var provider providers.LLMProvider
	if p, err := providers.CreateProvider(s.cfg); err == nil {
		provider = p
	} else {
		logger.WarnCF("supervisor", "scheduler plan runner has no provider", map[string]interface{}{"error": err.Error()})
	}

	store, err := planner.NewFileStore(workspace)
	if err != nil {
		logger.ErrorCF("supervisor", "failed to open plan store", map[string]interface{}{"error": err.Error()})
	}
	executor := planner.NewExecutor(store)
	parser := planner.NewParser()

	s.sched.SetRunner(scheduler.KindAgent, func(ctx context.Context, job scheduler.Job) (string, error) {
		raw := strings.TrimPrefix(job.Payload, "plan:")
		plan, err := parser.Parse([]byte(raw), job.Origin)
		if err != nil {
			return "", fmt.Errorf("scheduler: parse plan: %w", err)
		}
		runner := &planner.DefaultStepRunner{
			Tools:     toolRegistry,
			Provider:  provider,
			Model:     s.cfg.Agents.Defaults.Model,
			Entity:    job.Origin,
			Workspace: workspace,
		}
		report, err := executor.Execute(ctx, plan, runner)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("plan %s finished: %s", plan.ID, report.Status), nil
	})

	s.sched.SetRunner(scheduler.KindUser, func(ctx context.Context, job scheduler.Job) (string, error) {
		fields := strings.Fields(job.Payload)
		if len(fields) == 0 {
			return "", fmt.Errorf("scheduler: empty command payload")
		}
		decision := s.policy.CheckCommand(fields[0], fields[1:])
		if !decision.Allowed {
			return "", fmt.Errorf("scheduler: command rejected: %s", decision.Reason)
		}
		return execTool.Execute(ctx, map[string]interface{}{"command": job.Payload})
	})
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// everything down in reverse order.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.gw.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start gateway: %w", err)
	}

	s.mu.Lock()
	for name, ch := range s.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("supervisor", "channel failed to start", map[string]interface{}{"channel": name, "error": err.Error()})
			continue
		}
		s.wg.Add(1)
		go s.superviseChannel(ctx, name, ch)
	}
	s.mu.Unlock()

	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start scheduler: %w", err)
	}

	if s.cfg.Heartbeat.Enabled {
		if err := s.hb.Start(); err != nil {
			logger.WarnCF("supervisor", "heartbeat did not start", map[string]interface{}{"error": err.Error()})
		}
	}

	s.wg.Add(1)
	go s.dispatchOutbound(ctx)

	s.wg.Add(1)
	go s.superviseAgentLoop(ctx)

	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// dispatchOutbound is the single consumer of the shared outbound bus; it
// routes each message to the sender registered for msg.Channel.
func (s *Supervisor) dispatchOutbound(ctx context.Context) {
	defer s.wg.Done()
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		s.mu.Lock()
		dest, found := s.senders[msg.Channel]
		s.mu.Unlock()
		if !found {
			logger.WarnCF("supervisor", "no channel registered for outbound message", map[string]interface{}{"channel": msg.Channel})
			continue
		}
		if err := dest.Send(ctx, msg); err != nil {
			logger.ErrorCF("supervisor", "outbound delivery failed", map[string]interface{}{"channel": msg.Channel, "error": err.Error()})
		}
	}
}

// superviseAgentLoop restarts AgentLoop.Run with exponential backoff if it
// returns (it normally only returns on ctx cancellation, but a future panic
// recovery or unexpected return is covered the same way every other
// component is).
func (s *Supervisor) superviseAgentLoop(ctx context.Context) {
	defer s.wg.Done()
	backoff := 2 * time.Second
	const maxBackoff = 60 * time.Second
	attempts := 0
	for {
		err := s.agentLoop.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		attempts++
		if err != nil {
			logger.ErrorCF("supervisor", "agent loop exited", map[string]interface{}{"error": err.Error(), "attempt": attempts})
		}
		if attempts >= 10 {
			logger.ErrorCF("supervisor", "agent loop exceeded restart budget, giving up", nil)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// superviseChannel restarts a channel's Start loop through a circuit
// breaker: once it trips after 10 consecutive failures, restarts stop
// until the breaker's cooldown elapses.
func (s *Supervisor) superviseChannel(ctx context.Context, name string, ch channels.Channel) {
	defer s.wg.Done()
	backoff := 2 * time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if !ch.IsRunning() {
			_, err := s.breakers[name].Execute(func() (interface{}, error) {
				return nil, ch.Start(ctx)
			})
			if err != nil {
				logger.ErrorCF("supervisor", "channel restart failed", map[string]interface{}{"channel": name, "error": err.Error()})
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = 2 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown stops every component in the reverse order Run started them.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.hb.Stop()
	s.sched.Stop()

	s.mu.Lock()
	for name, ch := range s.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("supervisor", "channel stop error", map[string]interface{}{"channel": name, "error": err.Error()})
		}
	}
	s.mu.Unlock()

	s.agentLoop.Stop()
	s.agentLoop.Shutdown()

	if err := s.gw.Stop(ctx); err != nil {
		logger.WarnCF("supervisor", "gateway stop error", map[string]interface{}{"error": err.Error()})
	}

	s.wg.Wait()
	return nil
}

// AgentLoop exposes the underlying agent loop for direct invocation (CLI
// one-shot commands, health checks).
func (s *Supervisor) AgentLoop() *agent.AgentLoop { return s.agentLoop }

// Scheduler exposes the job store for CLI cron subcommands.
func (s *Supervisor) Scheduler() *scheduler.Service { return s.sched }
