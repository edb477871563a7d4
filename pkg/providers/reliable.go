// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/scrub"
)

// link pairs one provider client with a circuit breaker guarding it.
type link struct {
	name     string
	provider LLMProvider
	breaker  *gobreaker.CircuitBreaker
}

// ReliableProvider composes an ordered chain of (primary, fallbacks). Each
// call retries the current link with exponential backoff until its retry
// budget is exhausted or its breaker trips, then moves to the next link.
// The scrubber runs over every outbound message and every inbound content
// block, on every link, so a fallback provider never sees — or leaks —
// anything the reference flow already redacted.
type ReliableProvider struct {
	links   []link
	retries int
	backoff time.Duration
}

// NewReliableProvider builds a chain from a primary provider plus zero or
// more fallbacks, each guarded by its own circuit breaker.
func NewReliableProvider(primaryName string, primary LLMProvider, maxFailures int, retries int, backoff time.Duration) *ReliableProvider {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if retries < 0 {
		retries = 2
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	rp := &ReliableProvider{retries: retries, backoff: backoff}
	rp.links = append(rp.links, newLink(primaryName, primary, maxFailures))
	return rp
}

// AddFallback appends a fallback link to the chain, consulted only after
// the prior link's retry budget is exhausted or its breaker is open.
func (rp *ReliableProvider) AddFallback(name string, provider LLMProvider, maxFailures int) {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	rp.links = append(rp.links, newLink(name, provider, maxFailures))
}

func newLink(name string, provider LLMProvider, maxFailures int) link {
	settings := gobreaker.Settings{
		Name:        "provider:" + name,
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
	}
	return link{name: name, provider: provider, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func scrubMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		m.Content = scrub.Text(m.Content)
		out[i] = m
	}
	return out
}

func scrubResponse(resp *LLMResponse) *LLMResponse {
	if resp == nil {
		return resp
	}
	resp.Content = scrub.Text(resp.Content)
	return resp
}

// Chat tries each link in order; within a link it retries with exponential
// backoff up to the configured budget before moving on. The final error
// names every provider that was attempted.
func (rp *ReliableProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	scrubbed := scrubMessages(messages)

	var attempted []string
	var lastErr error

	for _, l := range rp.links {
		attempted = append(attempted, l.name)

		for attempt := 0; attempt <= rp.retries; attempt++ {
			result, err := l.breaker.Execute(func() (interface{}, error) {
				return l.provider.Chat(ctx, scrubbed, tools, model, options)
			})
			if err == nil {
				return scrubResponse(result.(*LLMResponse)), nil
			}
			lastErr = err

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				break // breaker is open: stop retrying this link, move to fallback
			}
			if attempt == rp.retries {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(rp.backoff * time.Duration(1<<uint(attempt))):
			}
		}
	}

	return nil, fmt.Errorf("all providers failed (%s): %w", strings.Join(attempted, " -> "), lastErr)
}

// ChatStream streams from the primary link only; streaming fallback would
// require buffering partial output from a failed stream and replaying it
// against a second provider mid-turn, so a stream failure surfaces directly
// rather than silently retrying into a second half-spoken response.
func (rp *ReliableProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (<-chan StreamEvent, error) {
	if len(rp.links) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	scrubbed := scrubMessages(messages)
	events, err := rp.links[0].provider.ChatStream(ctx, scrubbed, tools, model, options)
	if err != nil {
		return nil, err
	}

	scrubbedEvents := make(chan StreamEvent, 8)
	go func() {
		defer close(scrubbedEvents)
		for ev := range events {
			if ev.TextDelta != "" {
				ev.TextDelta = scrub.Text(ev.TextDelta)
			}
			scrubbedEvents <- ev
		}
	}()
	return scrubbedEvents, nil
}

func (rp *ReliableProvider) GetDefaultModel() string {
	if len(rp.links) == 0 {
		return ""
	}
	return rp.links[0].provider.GetDefaultModel()
}

func (rp *ReliableProvider) SupportsTools() bool {
	return len(rp.links) > 0 && rp.links[0].provider.SupportsTools()
}

func (rp *ReliableProvider) SupportsStreaming() bool {
	return len(rp.links) > 0 && rp.links[0].provider.SupportsStreaming()
}

func (rp *ReliableProvider) SupportsVision() bool {
	return len(rp.links) > 0 && rp.links[0].provider.SupportsVision()
}

// CreateReliableProviderForModel resolves the primary provider for model
// (same resolution rule as CreateProviderForModel) and, if its config names
// a FallbackTo provider, chains it in behind a circuit breaker.
func CreateReliableProviderForModel(model, providerName string, cfg *config.Config) (LLMProvider, error) {
	primaryName, pcfg, err := resolveProviderConfig(model, providerName, cfg)
	if err != nil {
		return nil, err
	}
	if pcfg.APIKey == "" && !strings.HasPrefix(model, "bedrock/") {
		return nil, fmt.Errorf("no API key configured for provider (model: %s)", model)
	}
	if pcfg.APIBase == "" {
		return nil, fmt.Errorf("no API base configured for provider (model: %s)", model)
	}

	primary := NewHTTPProvider(pcfg.APIKey, pcfg.APIBase, pcfg.UserAgent)
	rp := NewReliableProvider(primaryName, primary, pcfg.CircuitBreakerMax, 2, 500*time.Millisecond)

	if pcfg.FallbackTo != "" {
		fallbackCfg := cfg.GetProviderConfig(strings.ToLower(pcfg.FallbackTo))
		if fallbackCfg != nil && fallbackCfg.APIKey != "" && fallbackCfg.APIBase != "" {
			fallback := NewHTTPProvider(fallbackCfg.APIKey, fallbackCfg.APIBase, fallbackCfg.UserAgent)
			rp.AddFallback(strings.ToLower(pcfg.FallbackTo), fallback, fallbackCfg.CircuitBreakerMax)
		}
	}

	return rp, nil
}
