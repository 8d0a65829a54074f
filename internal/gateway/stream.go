package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/convert"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/core/pipeline"
	"github.com/nulzo/llm-gateway-api/internal/httpclient"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"go.uber.org/zap"
)

// errStreamDone is a sentinel used to stop the line processor once the
// upstream signals end of stream.
var errStreamDone = errors.New("stream done")

func (s *service) StreamChat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (<-chan api.StreamResult, error) {
	d, err := s.prepare(ctx, req, meta)
	if err != nil {
		return nil, err
	}
	d.req.Stream = true

	out := make(chan api.StreamResult)
	go s.runStream(ctx, d, out)
	return out, nil
}

// runStream owns the streaming upstream call. Credential rotation only
// applies while nothing has been forwarded downstream; once the client
// has seen a chunk the stream is committed to its credential.
func (s *service) runStream(ctx context.Context, d *dispatch, out chan<- api.StreamResult) {
	defer close(out)

	session := s.chain.NewStreamSession(d.rc)
	// Completion must fire even when the client disconnects mid-stream.
	defer session.Complete(context.WithoutCancel(ctx))

	var (
		forwarded    bool
		ttft         *time.Duration
		finishReason string
		usage        *api.ResponseUsage
	)

	forward := func(chunk *api.ChatResponse) error {
		processed, err := session.ProcessChunk(ctx, &pipeline.StreamChunkContext{
			Chunk:       chunk,
			Request:     d.rc,
			Accumulated: map[string]interface{}{},
			Final:       len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != "",
		})
		if err != nil {
			return err
		}
		c := processed.Chunk

		if !forwarded {
			dur := time.Since(d.started)
			ttft = &dur
			forwarded = true
		}
		if c.Usage != nil {
			usage = c.Usage
		}
		if len(c.Choices) > 0 && c.Choices[0].FinishReason != "" {
			finishReason = c.Choices[0].FinishReason
		}

		select {
		case out <- api.StreamResult{Response: c}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	key := d.auth.APIKey
	exclude := make(map[string]struct{})

	for {
		err := s.streamOnce(ctx, d, key, forward)
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
				s.emitStreamError(ctx, out, rerr)
				s.record(d, nil, statusOf(rerr), true, ttft)
				return
			}
			key = next
			continue
		}

		s.emitStreamError(ctx, out, upstreamToDomain(err, d.resolve.Provider))
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

// streamOnce runs a single streaming attempt against the upstream,
// translating Anthropic SSE framing into chat chunks when needed.
func (s *service) streamOnce(ctx context.Context, d *dispatch, key string, forward func(*api.ChatResponse) error) error {
	url := upstreamURL(d.cfg)
	headers := authHeaders(d.cfg, key)

	switch d.cfg.Format {
	case domain.FormatAnthropic:
		body, err := convert.ChatRequestToAnthropic(d.req, d.resolve.Model)
		if err != nil {
			return err
		}
		reader := &convert.EventReader{}
		decoder := convert.NewAnthropicStreamDecoder(d.resolve.Model, "chatcmpl-"+d.rc.RequestID)

		return httpclient.StreamRequest(ctx, s.http, http.MethodPost, url, headers, body, func(line string) error {
			event, data, ok := reader.Feed(line)
			if !ok {
				return nil
			}
			chunk, done, err := decoder.Decode(event, data)
			if err != nil {
				return err
			}
			if chunk != nil {
				if err := forward(chunk); err != nil {
					return err
				}
			}
			if done {
				return errStreamDone
			}
			return nil
		})

	default:
		return httpclient.StreamRequest(ctx, s.http, http.MethodPost, url, headers, d.req, func(line string) error {
			payload, found := strings.CutPrefix(line, "data:")
			if !found {
				return nil
			}
			payload = strings.TrimSpace(payload)
			if payload == "[DONE]" {
				return errStreamDone
			}

			var chunk api.ChatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// Tolerate unparseable keepalive lines.
				return nil
			}
			return forward(&chunk)
		})
	}
}

func (s *service) emitStreamError(ctx context.Context, out chan<- api.StreamResult, err error) {
	select {
	case out <- api.StreamResult{Err: err}:
	case <-ctx.Done():
	}
}
