package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/llm-gateway-api/internal/analytics"
	"github.com/nulzo/llm-gateway-api/internal/convert"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/core/pipeline"
	"github.com/nulzo/llm-gateway-api/internal/core/registry"
	"github.com/nulzo/llm-gateway-api/internal/core/resolver"
	"github.com/nulzo/llm-gateway-api/internal/httpclient"
	"github.com/nulzo/llm-gateway-api/internal/store/model"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"go.uber.org/zap"
)

// RequestMeta carries per-request ambient data extracted at the HTTP
// edge: correlation ids, an explicit provider override, and the
// client-supplied key for passthrough providers.
type RequestMeta struct {
	RequestID      string
	ConversationID string
	Provider       string
	ClientKey      string
}

// Service is the request dispatch core: resolve the model, pick a
// credential, run the middleware chain, convert wire formats, call
// upstream with bounded key-rotation retries, and convert back.
type Service interface {
	Chat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (*api.ChatResponse, error)
	StreamChat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (<-chan api.StreamResult, error)
	Messages(ctx context.Context, req *api.MessagesRequest, meta RequestMeta) (*api.MessagesResponse, error)
	StreamMessages(ctx context.Context, req *api.MessagesRequest, meta RequestMeta) (<-chan api.AnthropicStreamResult, error)
	ListModels(ctx context.Context) api.ModelList
	Resolve(rawModel, explicitProvider string) (resolver.Result, error)
}

type service struct {
	logger   *zap.Logger
	engine   *resolver.Engine
	registry *registry.Registry
	chain    *pipeline.Chain
	ingestor analytics.Ingestor
	http     httpclient.HTTPClient
}

func NewService(log *zap.Logger, engine *resolver.Engine, reg *registry.Registry, chain *pipeline.Chain, ingestor analytics.Ingestor, client httpclient.HTTPClient) Service {
	if client == nil {
		client = &http.Client{}
	}
	return &service{
		logger:   log,
		engine:   engine,
		registry: reg,
		chain:    chain,
		ingestor: ingestor,
		http:     client,
	}
}

func (s *service) Resolve(rawModel, explicitProvider string) (resolver.Result, error) {
	return s.engine.Resolve(rawModel, explicitProvider)
}

// dispatch holds everything the upstream call needs once resolution,
// auth and the request-phase middleware have run.
type dispatch struct {
	cfg     domain.ProviderConfig
	auth    registry.AuthParams
	rc      *pipeline.RequestContext
	req     *api.ChatRequest
	resolve resolver.Result
	started time.Time
}

func (s *service) prepare(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (*dispatch, error) {
	res, err := s.engine.Resolve(req.Model, meta.Provider)
	if err != nil {
		return nil, err
	}

	cfg, err := s.registry.Get(res.Provider)
	if err != nil {
		return nil, err
	}

	auth, err := s.registry.ClientAuth(res.Provider, meta.ClientKey)
	if err != nil {
		return nil, err
	}

	requestID := meta.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	rc := &pipeline.RequestContext{
		RequestID:      requestID,
		ConversationID: meta.ConversationID,
		Provider:       res.Provider,
		Model:          res.Model,
		Messages:       req.Messages,
		ClientKey:      meta.ClientKey,
		Stream:         req.Stream,
		Metadata:       map[string]interface{}{},
	}
	rc, err = s.chain.ProcessRequest(ctx, rc)
	if err != nil {
		return nil, err
	}

	// Middleware may have rewritten the target or the messages.
	outbound := *req
	outbound.Model = rc.Model
	outbound.Messages = rc.Messages

	if rc.Provider != res.Provider {
		cfg, err = s.registry.Get(rc.Provider)
		if err != nil {
			return nil, err
		}
		auth, err = s.registry.ClientAuth(rc.Provider, meta.ClientKey)
		if err != nil {
			return nil, err
		}
		res.Provider = rc.Provider
	}
	res.Model = rc.Model

	return &dispatch{
		cfg:     cfg,
		auth:    auth,
		rc:      rc,
		req:     &outbound,
		resolve: res,
		started: time.Now(),
	}, nil
}

func (s *service) Chat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (*api.ChatResponse, error) {
	d, err := s.prepare(ctx, req, meta)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout())
	defer cancel()

	resp, err := s.callUpstream(ctx, d)
	if err != nil {
		s.record(d, nil, statusOf(err), false, nil)
		return nil, err
	}

	out := &pipeline.ResponseContext{
		Response: resp,
		Request:  d.rc,
		Metadata: map[string]interface{}{},
	}
	out, err = s.chain.ProcessResponse(ctx, out)
	if err != nil {
		return nil, err
	}

	s.record(d, out.Response, http.StatusOK, false, nil)
	return out.Response, nil
}

// callUpstream performs the bounded key-rotation loop: try the current
// credential, and on an auth/quota failure exclude it and rotate. The
// loop is bounded by the credential count, enforced by the rotator's
// exhaustion check.
func (s *service) callUpstream(ctx context.Context, d *dispatch) (*api.ChatResponse, error) {
	key := d.auth.APIKey
	exclude := make(map[string]struct{})

	for {
		resp, err := s.sendOnce(ctx, d, key)
		if err == nil {
			return resp, nil
		}
		if d.auth.Next == nil || !httpclient.RotationTrigger(err) {
			return nil, upstreamToDomain(err, d.resolve.Provider)
		}

		exclude[key] = struct{}{}
		s.logger.Warn("rotating provider credential",
			zap.String("provider", d.resolve.Provider),
			zap.String("request_id", d.rc.RequestID),
			zap.Int("excluded", len(exclude)),
			zap.Error(err),
		)

		key, err = d.auth.Next(exclude)
		if err != nil {
			var exhausted *domain.AllKeysExhaustedError
			if errors.As(err, &exhausted) {
				s.logger.Error("provider credentials exhausted",
					zap.String("provider", exhausted.Provider),
					zap.Int("key_count", exhausted.KeyCount),
					zap.String("request_id", d.rc.RequestID),
				)
			}
			return nil, err
		}
	}
}

// sendOnce performs a single upstream attempt, converting the request
// and response bodies when the provider's dialect differs from the
// gateway's native chat shape.
func (s *service) sendOnce(ctx context.Context, d *dispatch, key string) (*api.ChatResponse, error) {
	url := upstreamURL(d.cfg)
	headers := authHeaders(d.cfg, key)

	switch d.cfg.Format {
	case domain.FormatAnthropic:
		body, err := convert.ChatRequestToAnthropic(d.req, d.resolve.Model)
		if err != nil {
			return nil, err
		}
		var anthropicResp api.MessagesResponse
		if err := httpclient.SendRequest(ctx, s.http, http.MethodPost, url, headers, body, &anthropicResp); err != nil {
			return nil, err
		}
		return convert.AnthropicResponseToChat(&anthropicResp), nil

	default:
		var resp api.ChatResponse
		if err := httpclient.SendRequest(ctx, s.http, http.MethodPost, url, headers, d.req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}
}

func (s *service) ListModels(ctx context.Context) api.ModelList {
	table := s.engine.Table()
	now := time.Now().Unix()

	// Group aliases by the target they resolve to, per provider.
	list := api.ModelList{Object: "list", Data: []api.Model{}}
	for _, provider := range table.ProviderOrder() {
		byTarget := make(map[string][]string)
		for alias, target := range table.Aliases(provider) {
			byTarget[target] = append(byTarget[target], alias)
		}
		for target, aliases := range byTarget {
			list.Data = append(list.Data, api.Model{
				ID:      provider + ":" + target,
				Object:  "model",
				Created: now,
				OwnedBy: provider,
				Aliases: aliases,
			})
		}
	}
	return list
}

func (s *service) record(d *dispatch, resp *api.ChatResponse, status int, streamed bool, ttft *time.Duration) {
	if s.ingestor == nil {
		return
	}

	log := &model.RequestLog{
		ID:             d.rc.RequestID,
		Provider:       d.resolve.Provider,
		RequestedModel: d.req.Model,
		ResolvedModel:  d.resolve.Model,
		WasResolved:    d.resolve.WasResolved,
		StatusCode:     status,
		LatencyMS:      time.Since(d.started).Milliseconds(),
		IsStreamed:     streamed,
		CreatedAt:      time.Now(),
	}
	if ttft != nil {
		log.TTFTMS = sql.NullInt64{Int64: ttft.Milliseconds(), Valid: true}
	}
	if resp != nil {
		if len(resp.Choices) > 0 {
			log.FinishReason = resp.Choices[0].FinishReason
		}
		if resp.Usage != nil {
			log.InputTokens = resp.Usage.PromptTokens
			log.OutputTokens = resp.Usage.CompletionTokens
		}
	}
	s.ingestor.Log(log)
}

func upstreamURL(cfg domain.ProviderConfig) string {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Format == domain.FormatAnthropic {
		return base + "/messages"
	}
	return base + "/chat/completions"
}

func authHeaders(cfg domain.ProviderConfig, key string) map[string]string {
	if cfg.Format == domain.FormatAnthropic {
		return map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		}
	}
	return map[string]string{
		"Authorization": "Bearer " + key,
	}
}

func statusOf(err error) int {
	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode
	}
	var apiErr *domain.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}

// upstreamToDomain maps a raw upstream failure to the API error shape.
// Rotation-trigger failures never reach here unless the provider has no
// rotation (passthrough), in which case the client's own key was bad.
func upstreamToDomain(err error, provider string) error {
	var upstream *httpclient.UpstreamError
	if !errors.As(err, &upstream) {
		return domain.ProviderError(fmt.Sprintf("upstream call to %q failed", provider), err)
	}
	switch {
	case upstream.StatusCode == http.StatusUnauthorized || upstream.StatusCode == http.StatusForbidden:
		return domain.UnauthorizedError(fmt.Sprintf("provider %q rejected the supplied credential", provider))
	case upstream.StatusCode == http.StatusTooManyRequests:
		return domain.RateLimitError(fmt.Sprintf("provider %q rate limited the request", provider))
	case upstream.StatusCode >= 400 && upstream.StatusCode < 500:
		return &domain.Error{Code: upstream.StatusCode, Message: string(upstream.Body), Log: err}
	default:
		return domain.ProviderError(fmt.Sprintf("provider %q returned status %d", provider, upstream.StatusCode), err)
	}
}
