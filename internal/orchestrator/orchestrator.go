// Package orchestrator coordinates the detection pipeline: it buffers
// sensitive-input facts, builds detection contexts for incoming network
// requests, runs the heuristic engine, escalates inconclusive verdicts to the
// AI analyzer, and fires the best-effort persistence and notification side
// effects. All collaborators arrive as ports, so the package has no hidden
// global state and multiple independent instances can coexist in tests.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/heuristics"
)

const (
	defaultInputRetention    = 10 * time.Second
	defaultCorrelationWindow = 5 * time.Second
	defaultAITimeout         = 10 * time.Second
)

// Orchestrator owns the sensitive-input buffer and drives request analysis.
// The buffer is the only mutable shared state; it is guarded by a mutex so
// concurrent HandleSensitiveInput and AnalyzeNetworkRequest calls never
// observe a half-pruned view.
type Orchestrator struct {
	engine    *heuristics.Engine
	settings  schemas.SettingsStore
	events    schemas.EventRepository // optional
	ai        schemas.AIAnalyzer      // optional
	messenger schemas.Messenger       // optional
	logger    *zap.Logger

	inputRetention    time.Duration
	correlationWindow time.Duration
	aiTimeout         time.Duration

	now func() time.Time

	mu            sync.Mutex
	buffer        map[string]schemas.SensitiveInput // keyed by field ID, latest write wins
	currentDomain string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithInputRetention overrides how long buffered inputs are retained. The
// retention must cover the widest rule window.
func WithInputRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.inputRetention = d }
}

// WithCorrelationWindow overrides the horizon used when building contexts.
func WithCorrelationWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.correlationWindow = d }
}

// WithAITimeout bounds a single AI escalation call.
func WithAITimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.aiTimeout = d }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. Engine, settings and logger are required; the
// event repository, AI analyzer and messenger are optional collaborators
// whose absence simply disables the corresponding side effect.
func New(
	engine *heuristics.Engine,
	settings schemas.SettingsStore,
	events schemas.EventRepository,
	ai schemas.AIAnalyzer,
	messenger schemas.Messenger,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if engine == nil || settings == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil engine, settings or logger")
	}
	o := &Orchestrator{
		engine:            engine,
		settings:          settings,
		events:            events,
		ai:                ai,
		messenger:         messenger,
		logger:            logger.Named("orchestrator"),
		inputRetention:    defaultInputRetention,
		correlationWindow: defaultCorrelationWindow,
		aiTimeout:         defaultAITimeout,
		now:               time.Now,
		buffer:            make(map[string]schemas.SensitiveInput),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.inputRetention < o.correlationWindow {
		return nil, fmt.Errorf("input retention %s must cover the correlation window %s", o.inputRetention, o.correlationWindow)
	}
	return o, nil
}

// SetCurrentDomain records the domain of the page currently being monitored.
// The capture side calls this on navigation.
func (o *Orchestrator) SetCurrentDomain(domain string) {
	o.mu.Lock()
	o.currentDomain = domain
	o.mu.Unlock()
}

// CurrentDomain returns the last recorded page domain.
func (o *Orchestrator) CurrentDomain() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentDomain
}

// HandleSensitiveInput upserts an input fact into the buffer (latest write
// per field wins) and prunes entries past the retention horizon.
func (o *Orchestrator) HandleSensitiveInput(input schemas.SensitiveInput) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buffer[input.FieldID] = input
	for id, in := range o.buffer {
		if now.Sub(in.Timestamp) > o.inputRetention {
			delete(o.buffer, id)
		}
	}
}

// RecentInputs returns the buffered inputs younger than the given window.
func (o *Orchestrator) RecentInputs(within time.Duration) []schemas.SensitiveInput {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]schemas.SensitiveInput, 0, len(o.buffer))
	for _, in := range o.buffer {
		if now.Sub(in.Timestamp) < within {
			out = append(out, in)
		}
	}
	return out
}

// ClearInputBuffer discards every buffered input.
func (o *Orchestrator) ClearInputBuffer() {
	o.mu.Lock()
	o.buffer = make(map[string]schemas.SensitiveInput)
	o.mu.Unlock()
}

// AnalyzeNetworkRequest classifies a network request. Whitelisted domains
// bypass the engine entirely. An UNKNOWN heuristic verdict may be escalated
// to the AI analyzer; AI failures degrade back to UNKNOWN and are never
// surfaced to the caller. Persistence and notification are best-effort and
// cannot change the returned result. tabID <= 0 means no tab to notify.
func (o *Orchestrator) AnalyzeNetworkRequest(ctx context.Context, request *schemas.NetworkRequest, tabID int) (schemas.AnalysisResult, error) {
	start := time.Now()
	if request == nil {
		return schemas.AnalysisResult{}, fmt.Errorf("network request must not be nil")
	}

	if o.settings.IsWhitelisted(request.Domain) {
		o.logger.Debug("Domain whitelisted, skipping analysis", zap.String("domain", request.Domain))
		return schemas.AnalysisResult{
			Verdict:        schemas.VerdictSafe,
			Confidence:     1.0,
			Reason:         "whitelisted",
			Recommendation: schemas.RecommendationProceed,
			AnalysisTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	detectionCtx := &schemas.DetectionContext{
		Request:       *request,
		RecentInputs:  o.RecentInputs(o.correlationWindow),
		CurrentDomain: o.CurrentDomain(),
	}
	heuristic := o.engine.Analyze(detectionCtx)

	snapshot, err := o.settings.All(ctx)
	if err != nil {
		o.logger.Warn("Failed to load settings, continuing with defaults", zap.Error(err))
		snapshot = schemas.SettingsSnapshot{}
	}

	result := schemas.AnalysisResult{
		Verdict:        heuristic.Verdict,
		Confidence:     heuristic.Confidence,
		Reason:         heuristic.Reason,
		MatchedRuleIDs: matchedIDs(heuristic.MatchedRules),
	}

	var aiRecommendation schemas.Recommendation
	if heuristic.Verdict == schemas.VerdictUnknown && snapshot.AIAnalysisEnabled {
		if aiResp, ok := o.consultAI(ctx, detectionCtx, heuristic); ok {
			result.Verdict = aiResp.Verdict
			result.Confidence = aiResp.Confidence
			result.Reason = aiResp.Reason
			result.UsedAI = true
			aiRecommendation = aiResp.Recommendation
		}
	}

	if aiRecommendation != "" {
		result.Recommendation = aiRecommendation
	} else {
		result.Recommendation = schemas.Recommend(result.Verdict)
	}
	result.AnalysisTimeMs = time.Since(start).Milliseconds()

	o.dispatchSideEffects(ctx, request, tabID, snapshot, heuristic, result)
	return result, nil
}

// consultAI escalates an inconclusive verdict to the AI port under a bounded
// timeout. The call runs detached; on timeout it is abandoned and its
// eventual result discarded.
func (o *Orchestrator) consultAI(ctx context.Context, detectionCtx *schemas.DetectionContext, heuristic schemas.DetectionResult) (schemas.AIAnalysisResponse, bool) {
	if o.ai == nil || !o.ai.IsEnabled() {
		return schemas.AIAnalysisResponse{}, false
	}

	aiCtx, cancel := context.WithTimeout(ctx, o.aiTimeout)
	defer cancel()

	if !o.ai.IsAvailable(aiCtx) {
		o.logger.Debug("AI analyzer not available, keeping heuristic verdict")
		return schemas.AIAnalysisResponse{}, false
	}

	req := schemas.AIAnalysisRequest{
		Request:             detectionCtx.Request,
		RecentInputs:        detectionCtx.RecentInputs,
		CurrentDomain:       detectionCtx.CurrentDomain,
		ExternalScripts:     detectionCtx.ExternalScripts,
		HeuristicVerdict:    heuristic.Verdict,
		HeuristicConfidence: heuristic.Confidence,
	}

	type outcome struct {
		resp schemas.AIAnalysisResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := o.ai.Analyze(aiCtx, req)
		ch <- outcome{resp: resp, err: err}
	}()

	select {
	case <-aiCtx.Done():
		o.logger.Warn("AI analysis timed out, falling back to heuristic verdict",
			zap.Duration("timeout", o.aiTimeout))
		return schemas.AIAnalysisResponse{}, false
	case out := <-ch:
		if out.err != nil {
			o.logger.Warn("AI analysis failed, falling back to heuristic verdict", zap.Error(out.err))
			return schemas.AIAnalysisResponse{}, false
		}
		return sanitizeAIResponse(out.resp), true
	}
}

// dispatchSideEffects persists the event and notifies the tab. The two
// stages run independently; either failing is logged and swallowed.
func (o *Orchestrator) dispatchSideEffects(ctx context.Context, request *schemas.NetworkRequest, tabID int, snapshot schemas.SettingsSnapshot, heuristic schemas.DetectionResult, result schemas.AnalysisResult) {
	var g errgroup.Group

	if result.Verdict != schemas.VerdictSafe && o.events != nil {
		event := schemas.DetectionEvent{
			ID:             uuid.New().String(),
			Verdict:        result.Verdict,
			Confidence:     result.Confidence,
			Reason:         result.Reason,
			Recommendation: result.Recommendation,
			MatchedRuleID:  dominantRuleID(heuristic.MatchedRules),
			RequestID:      request.ID,
			RequestType:    request.Type,
			TargetDomain:   request.Domain,
			CurrentDomain:  o.CurrentDomain(),
			Timestamp:      o.now().UTC(),
		}
		g.Go(func() error {
			if err := o.events.Save(ctx, event); err != nil {
				o.logger.Warn("Failed to persist detection event",
					zap.String("event_id", event.ID), zap.Error(err))
			}
			return nil
		})
	}

	if o.shouldNotify(snapshot, result.Verdict, tabID) {
		msg := schemas.TabMessage{
			Type: schemas.MessageTypeShowWarning,
			Payload: schemas.WarningPayload{
				Verdict:        result.Verdict,
				Recommendation: result.Recommendation,
				Message:        result.Reason,
				TargetURL:      request.URL,
			},
		}
		g.Go(func() error {
			if err := o.messenger.SendToTab(ctx, tabID, msg); err != nil {
				o.logger.Warn("Failed to notify tab",
					zap.Int("tab_id", tabID), zap.Error(err))
			}
			return nil
		})
	}

	// Side effects log their own failures and always return nil.
	_ = g.Wait()
}

func (o *Orchestrator) shouldNotify(snapshot schemas.SettingsSnapshot, verdict schemas.Verdict, tabID int) bool {
	if o.messenger == nil || !snapshot.NotificationsEnabled || tabID <= 0 {
		return false
	}
	if verdict.RequiresAction() {
		return true
	}
	return verdict == schemas.VerdictUnknown && snapshot.ShowUnknownWarnings
}

// sanitizeAIResponse forces the response onto the closed enums and clamps
// confidence, so a sloppy model cannot smuggle out-of-range values inward.
func sanitizeAIResponse(resp schemas.AIAnalysisResponse) schemas.AIAnalysisResponse {
	resp.Verdict = schemas.ParseVerdict(string(resp.Verdict))
	if rec, ok := schemas.ParseRecommendation(string(resp.Recommendation)); ok {
		resp.Recommendation = rec
	} else {
		resp.Recommendation = schemas.Recommend(resp.Verdict)
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	} else if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return resp
}

func matchedIDs(matches []schemas.RuleMatch) []string {
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.RuleID
	}
	return ids
}

// dominantRuleID is the first match, which evaluation order guarantees to be
// the highest-priority one.
func dominantRuleID(matches []schemas.RuleMatch) string {
	if len(matches) == 0 {
		return ""
	}
	return matches[0].RuleID
}
