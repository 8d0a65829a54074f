package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/convert"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/core/pipeline"
	"github.com/nulzo/llm-gateway-api/internal/httpclient"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"go.uber.org/zap"
)

// Messages serves the Anthropic dialect. When the resolved provider
// speaks the same dialect the body is forwarded without re-framing;
// otherwise the request is dispatched through the chat path and the
// response converted back. The middleware chain observes a chat view
// of the request either way.
func (s *service) Messages(ctx context.Context, req *api.MessagesRequest, meta RequestMeta) (*api.MessagesResponse, error) {
	chatReq := convert.AnthropicRequestToChat(req)
	d, err := s.prepare(ctx, chatReq, meta)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout())
	defer cancel()

	if d.cfg.Format != domain.FormatAnthropic {
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
		return convert.ChatResponseToAnthropic(out.Response), nil
	}

	outbound := *req
	outbound.Model = d.resolve.Model
	outbound.Stream = false

	raw, err := s.sendNative(ctx, d, &outbound)
	if err != nil {
		s.record(d, nil, statusOf(err), false, nil)
		return nil, err
	}

	view := &pipeline.ResponseContext{
		Response: convert.AnthropicResponseToChat(raw),
		Request:  d.rc,
		Metadata: map[string]interface{}{},
	}
	out, err := s.chain.ProcessResponse(ctx, view)
	if err != nil {
		return nil, err
	}
	s.record(d, out.Response, http.StatusOK, false, nil)

	if out.Response != view.Response {
		// A middleware rewrote the response, so the edited view wins
		// over the upstream body.
		return convert.ChatResponseToAnthropic(out.Response), nil
	}
	return raw, nil
}

// sendNative runs the bounded key-rotation loop for a same-dialect
// upstream call.
func (s *service) sendNative(ctx context.Context, d *dispatch, req *api.MessagesRequest) (*api.MessagesResponse, error) {
	key := d.auth.APIKey
	exclude := make(map[string]struct{})

	for {
		var resp api.MessagesResponse
		err := httpclient.SendRequest(ctx, s.http, http.MethodPost, upstreamURL(d.cfg), authHeaders(d.cfg, key), req, &resp)
		if err == nil {
			return &resp, nil
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
			return nil, err
		}
	}
}

// StreamMessages streams in the Anthropic dialect. A same-dialect
// provider's event frames pass through exactly as received; a chat
// provider's chunks are re-framed into the Anthropic event sequence.
func (s *service) StreamMessages(ctx context.Context, req *api.MessagesRequest, meta RequestMeta) (<-chan api.AnthropicStreamResult, error) {
	chatReq := convert.AnthropicRequestToChat(req)
	chatReq.Stream = true
	d, err := s.prepare(ctx, chatReq, meta)
	if err != nil {
		return nil, err
	}
	d.req.Stream = true

	out := make(chan api.AnthropicStreamResult)

	if d.cfg.Format != domain.FormatAnthropic {
		chatOut := make(chan api.StreamResult)
		go s.runStream(ctx, d, chatOut)
		go s.reframeStream(ctx, d, chatOut, out)
		return out, nil
	}

	outbound := *req
	outbound.Model = d.resolve.Model
	outbound.Stream = true
	go s.runNativeStream(ctx, d, &outbound, out)
	return out, nil
}

// reframeStream encodes chat chunks into Anthropic events for clients
// of the messages endpoint backed by a chat-dialect provider.
func (s *service) reframeStream(ctx context.Context, d *dispatch, in <-chan api.StreamResult, out chan<- api.AnthropicStreamResult) {
	defer close(out)

	encoder := convert.NewAnthropicStreamEncoder(d.resolve.Model, "msg_"+d.rc.RequestID)
	for result := range in {
		if result.Err != nil {
			s.emitNativeError(ctx, out, result.Err)
			return
		}
		if result.Response == nil {
			continue
		}
		for _, event := range encoder.Encode(result.Response) {
			data, err := json.Marshal(event)
			if err != nil {
				s.emitNativeError(ctx, out, err)
				return
			}
			select {
			case out <- api.AnthropicStreamResult{Event: event.Type, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runNativeStream forwards a same-dialect provider's SSE frames
// untouched. Each event is also decoded into a chat view so the chain
// observes the stream; frame bytes on the wire are the upstream's own.
// Credential rotation only applies before the first forwarded frame.
func (s *service) runNativeStream(ctx context.Context, d *dispatch, req *api.MessagesRequest, out chan<- api.AnthropicStreamResult) {
	defer close(out)

	session := s.chain.NewStreamSession(d.rc)
	defer session.Complete(context.WithoutCancel(ctx))

	var (
		forwarded    bool
		ttft         *time.Duration
		finishReason string
		usage        *api.ResponseUsage
	)

	key := d.auth.APIKey
	exclude := make(map[string]struct{})

	for {
		reader := &convert.EventReader{}
		decoder := convert.NewAnthropicStreamDecoder(d.resolve.Model, "chatcmpl-"+d.rc.RequestID)

		err := httpclient.StreamRequest(ctx, s.http, http.MethodPost, upstreamURL(d.cfg), authHeaders(d.cfg, key), req, func(line string) error {
			event, data, ok := reader.Feed(line)
			if !ok {
				return nil
			}

			chunk, done, derr := decoder.Decode(event, data)
			if derr != nil {
				return derr
			}
			if chunk != nil {
				if _, perr := session.ProcessChunk(ctx, &pipeline.StreamChunkContext{
					Chunk:       chunk,
					Request:     d.rc,
					Accumulated: map[string]interface{}{},
					Final:       len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "",
				}); perr != nil {
					return perr
				}
				if chunk.Usage != nil {
					usage = chunk.Usage
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "" {
					finishReason = chunk.Choices[0].FinishReason
				}
			}

			if !forwarded {
				dur := time.Since(d.started)
				ttft = &dur
				forwarded = true
			}
			select {
			case out <- api.AnthropicStreamResult{Event: event, Data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if done {
				return errStreamDone
			}
			return nil
		})
		if err == nil || errors.Is(err, errStreamDone) {
			break
		}

		if !forwarded && d.auth.Next != nil && httpclient.RotationTrigger(err) {
			exclude[key] = struct{}{}
			s.logger.Warn("rotating provider credential",
				zap.String("provider", d.resolve.Provider),
				zap.String("request_id", d.rc.RequestID),
				zap.Int("excluded", len(exclude)),
				zap.Error(err),
			)
			next, rerr := d.auth.Next(exclude)
			if rerr != nil {
				s.emitNativeError(ctx, out, rerr)
				s.record(d, nil, statusOf(rerr), true, ttft)
				return
			}
			key = next
			continue
		}

		s.emitNativeError(ctx, out, upstreamToDomain(err, d.resolve.Provider))
		s.record(d, nil, statusOf(err), true, ttft)
		return
	}

	session.Complete(context.WithoutCancel(ctx))

	resp := &api.ChatResponse{Usage: usage}
	if finishReason != "" {
		resp.Choices = []api.Choice{{FinishReason: finishReason}}
	}
	s.record(d, resp, http.StatusOK, true, ttft)
}

func (s *service) emitNativeError(ctx context.Context, out chan<- api.AnthropicStreamResult, err error) {
	select {
	case out <- api.AnthropicStreamResult{Err: err}:
	case <-ctx.Done():
	}
}
