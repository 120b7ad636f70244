package assist

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"lexwrite/api/internal/metrics"
)

type Service struct {
	llm           Completer
	configured    bool
	assistModel   string
	citationModel string
	logger        *zap.Logger
}

type Options struct {
	AssistModel   string
	CitationModel string
	Logger        *zap.Logger
}

func NewService(llm Completer, configured bool, opts Options) *Service {
	if opts.AssistModel == "" {
		opts.AssistModel = "gpt-3.5-turbo"
	}
	if opts.CitationModel == "" {
		opts.CitationModel = "gpt-4"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		llm:           llm,
		configured:    configured && llm != nil,
		assistModel:   opts.AssistModel,
		citationModel: opts.CitationModel,
		logger:        opts.Logger,
	}
}

// Assist runs one editor action. Validation happens only after the key check
// so an unconfigured deployment reports that first.
func (s *Service) Assist(ctx context.Context, req Request) (string, error) {
	if !s.configured {
		return "", ErrNotConfigured
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		metrics.AssistRequestsTotal.WithLabelValues(actionLabel(req.Action), "invalid").Inc()
		return "", err
	}

	result, err := s.complete(ctx, string(req.Action), Completion{
		Model:       s.assistModel,
		System:      prompt.System,
		Prompt:      prompt.User,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (s *Service) complete(ctx context.Context, label string, c Completion) (string, error) {
	start := time.Now()
	out, err := s.llm.Complete(ctx, c)
	metrics.AssistDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AssistRequestsTotal.WithLabelValues(label, "upstream_error").Inc()
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			s.logger.Warn("llm upstream rejected request",
				zap.String("action", label),
				zap.Int("status", upstream.Status))
		} else {
			s.logger.Error("llm request failed", zap.String("action", label), zap.Error(err))
		}
		return "", err
	}
	metrics.AssistRequestsTotal.WithLabelValues(label, "ok").Inc()
	return out, nil
}

// actionLabel keeps metric cardinality bounded for junk actions.
func actionLabel(a Action) string {
	if Valid(a) {
		return string(a)
	}
	return "unknown"
}
