package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/ai"
	"github.com/formsentry/formsentry/internal/heuristics"
	"github.com/formsentry/formsentry/internal/observability"
	"github.com/formsentry/formsentry/internal/orchestrator"
	"github.com/formsentry/formsentry/internal/settings"
	"github.com/formsentry/formsentry/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// factLine is one NDJSON line of a recorded capture session.
type factLine struct {
	Kind string `json:"kind"` // "page", "input" or "request"

	// page
	Domain string `json:"domain,omitempty"`

	// input
	FieldID     string `json:"field_id,omitempty"`
	FieldType   string `json:"field_type,omitempty"`
	InputLength int    `json:"input_length,omitempty"`
	DOMPath     string `json:"dom_path,omitempty"`

	// request
	Type        string            `json:"type,omitempty"`
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	PayloadSize int               `json:"payload_size,omitempty"`
	TabID       int               `json:"tab_id,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

var replayInput string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded fact stream (NDJSON) through the detection pipeline",
	Long: `Reads newline-delimited JSON facts ("page", "input" and "request" lines) from
a file or stdin, feeds them to the detection orchestrator in order, and prints
one analysis result per network request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		in := cmd.InOrStdin()
		if replayInput != "" && replayInput != "-" {
			f, err := os.Open(replayInput)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()
			in = f
		}
		return runReplay(cmd.Context(), in, cmd.OutOrStdout(), logger)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "-", "fact stream file, or - for stdin")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, in io.Reader, out io.Writer, logger *zap.Logger) error {
	orch, cleanup, err := buildOrchestrator(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fact factLine
		if err := json.Unmarshal(raw, &fact); err != nil {
			logger.Warn("Skipping malformed fact line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}

		switch fact.Kind {
		case "page":
			orch.SetCurrentDomain(fact.Domain)
		case "input":
			input, err := schemas.NewSensitiveInput(fact.FieldID, schemas.SensitiveFieldType(fact.FieldType), fact.InputLength, fact.Timestamp, fact.DOMPath)
			if err != nil {
				logger.Warn("Skipping invalid input fact", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			orch.HandleSensitiveInput(input)
		case "request":
			request, err := schemas.NewNetworkRequest(schemas.RequestType(fact.Type), fact.URL, fact.Method, fact.Headers, fact.PayloadSize, fact.Timestamp)
			if err != nil {
				logger.Warn("Skipping invalid request fact", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			result, err := orch.AnalyzeNetworkRequest(ctx, &request, fact.TabID)
			if err != nil {
				return fmt.Errorf("analysis failed at line %d: %w", lineNo, err)
			}
			encoded, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			fmt.Fprintln(out, string(encoded))
		default:
			logger.Warn("Skipping fact with unknown kind", zap.Int("line", lineNo), zap.String("kind", fact.Kind))
		}
	}
	return scanner.Err()
}

// buildOrchestrator wires the detection pipeline from the loaded config. The
// event store and AI analyzer are attached only when configured.
func buildOrchestrator(ctx context.Context, logger *zap.Logger) (*orchestrator.Orchestrator, func(), error) {
	cleanup := func() {}

	engine, err := heuristics.NewEngineWithRules(logger, heuristics.NewRegistry().SortedByPriority())
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to build engine: %w", err)
	}

	settingsStore := settings.NewFromConfig(appCfg.Settings)

	var events schemas.EventRepository
	if appCfg.Storage.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, appCfg.Storage.PostgresURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		cleanup = pool.Close
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		events = st
	}

	var analyzer schemas.AIAnalyzer
	if appCfg.AI.Enabled {
		analyzer, err = ai.NewGeminiAnalyzer(appCfg.AI, logger)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
	}

	orch, err := orchestrator.New(
		engine,
		settingsStore,
		events,
		analyzer,
		&logMessenger{logger: logger},
		logger,
		orchestrator.WithCorrelationWindow(appCfg.Detection.CorrelationWindow),
		orchestrator.WithInputRetention(appCfg.Detection.InputRetention),
		orchestrator.WithAITimeout(appCfg.Detection.AITimeout),
	)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return orch, cleanup, nil
}

// logMessenger satisfies the messenger port in CLI replays, where there is no
// tab to message; warnings land in the log instead.
type logMessenger struct {
	logger *zap.Logger
}

func (m *logMessenger) SendToTab(_ context.Context, tabID int, msg schemas.TabMessage) error {
	m.logger.Warn("Warning dispatched",
		zap.Int("tab_id", tabID),
		zap.String("verdict", string(msg.Payload.Verdict)),
		zap.String("recommendation", string(msg.Payload.Recommendation)),
		zap.String("target_url", msg.Payload.TargetURL),
		zap.String("message", msg.Payload.Message))
	return nil
}
