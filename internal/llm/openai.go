package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"sync/atomic"
	"time"

	openai "github.com/openai/openai-go/v3"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultStallTimeout   = 20 * time.Second
)

type OpenAIConfig struct {
	Model string
	// RequestTimeout bounds a blocking completion end to end.
	RequestTimeout time.Duration
	// StallTimeout bounds the wait between successive stream fragments.
	StallTimeout time.Duration
}

// OpenAIClient is a stateless wrapper around the shared OpenAI API client,
// safe for concurrent use across sessions.
type OpenAIClient struct {
	api        openai.Client
	model      openai.ChatModel
	reqTimeout time.Duration
	stall      time.Duration
}

func NewOpenAIClient(api openai.Client, cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("empty model name")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	return &OpenAIClient{
		api:        api,
		model:      openai.ChatModel(cfg.Model),
		reqTimeout: cfg.RequestTimeout,
		stall:      cfg.StallTimeout,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, env Envelope) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, c.params(env))
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrUpstream)
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", fmt.Errorf("%w: empty message content", ErrUpstream)
	}
	return text, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, env Envelope) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		// The watchdog cancels only the upstream read, so a stall fire can
		// never abort a send to the consumer.
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// The SSE reader has no per-read deadline; a watchdog cancels the
		// stream when the gap between fragments exceeds the stall bound.
		var stalled atomic.Bool
		watchdog := time.AfterFunc(c.stall, func() {
			stalled.Store(true)
			cancel()
		})
		defer watchdog.Stop()

		// A send is abandoned once the consumer's context is gone; the
		// channel then closes without a terminal element.
		emit := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := c.api.Chat.Completions.NewStreaming(sctx, c.params(env))
		defer stream.Close()

		for stream.Next() {
			watchdog.Reset(c.stall)
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !emit(Fragment{Text: delta}) {
					return
				}
			}
		}
		// The upstream is drained; only the terminal emit remains and it
		// must not be cancelled by a late watchdog fire.
		watchdog.Stop()

		if err := stream.Err(); err != nil {
			if stalled.Load() {
				err = fmt.Errorf("%w: no fragment within %s", ErrUpstreamTimeout, c.stall)
			} else {
				err = c.classify(err)
			}
			log.Debug("completion stream ended with error", "err", err)
			emit(Fragment{Err: err})
			return
		}
		emit(Fragment{Done: true})
	}()

	return out
}

func (c *OpenAIClient) params(env Envelope) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(env.System)+len(env.Messages))
	for _, s := range env.System {
		msgs = append(msgs, openai.SystemMessage(s))
	}
	for _, m := range env.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	p := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    c.model,
	}
	if env.Temperature > 0 {
		p.Temperature = openai.Float(env.Temperature)
	}
	if env.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(env.MaxTokens))
	}
	return p
}

func (c *OpenAIClient) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRefused, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
