// Package generation streams HTML insights from a local Ollama text model.
package generation

import (
	"context"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
)

// ErrStreamConsumed is yielded when a generation stream is ranged over twice.
var ErrStreamConsumed = errors.New("generation stream already consumed")

// ErrStreamTruncated is wrapped when the model stream stops before its done response.
var ErrStreamTruncated = errors.New("generation stream truncated")

// ChatClient is the part of the Ollama client the generator uses.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Config wires an OllamaGenerator.
type Config struct {
	Client    ChatClient
	Model     string
	KeepAlive time.Duration
	Logger    *logger.Logger
}

// OllamaGenerator streams chat completions as fragment sequences.
type OllamaGenerator struct {
	client    ChatClient
	model     string
	keepAlive time.Duration
	log       *logger.Logger
}

func NewOllamaGenerator(cfg Config) *OllamaGenerator {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &OllamaGenerator{
		client:    cfg.Client,
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		log:       cfg.Logger.With("component", "generation.ollama", "model", cfg.Model),
	}
}

// Generate returns a lazy stream of content fragments. No request is sent
// until the sequence is ranged over. Stopping the range early cancels the
// request.
func (g *OllamaGenerator) Generate(ctx context.Context, systemPrompt, body string) iter.Seq2[string, error] {
	var used atomic.Bool

	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream := true
		req := &api.ChatRequest{
			Model: g.model,
			Messages: []api.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: body},
			},
			Stream: &stream,
		}
		if g.keepAlive > 0 {
			req.KeepAlive = &api.Duration{Duration: g.keepAlive}
		}

		start := time.Now()
		var (
			stopped   bool
			done      bool
			fragments int
		)
		err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Done {
				done = true
			}
			if resp.Message.Content == "" {
				return nil
			}
			fragments++
			if !yield(resp.Message.Content, nil) {
				stopped = true
				cancel()
				return context.Canceled
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil {
			g.log.Warn("chat stream failed", "error", err, "fragments", fragments)
			yield("", errors.Generation(describe(err), err))
			return
		}
		// The client returns nil when the connection drops or ctx ends mid-stream.
		if cerr := ctx.Err(); cerr != nil {
			g.log.Warn("chat stream interrupted", "error", cerr, "fragments", fragments)
			yield("", errors.Generation("stream ended before completion", cerr))
			return
		}
		if !done {
			g.log.Warn("chat stream ended without done", "fragments", fragments)
			yield("", errors.Generation("stream ended before completion", ErrStreamTruncated))
			return
		}
		g.log.Debug("chat stream finished", "fragments", fragments, "duration", time.Since(start))
	}
}

func describe(err error) string {
	var status api.StatusError
	if errors.As(err, &status) {
		if status.StatusCode == http.StatusNotFound {
			return "text model not found: " + status.ErrorMessage
		}
		return "text model returned an error: " + status.ErrorMessage
	}
	return "text model unreachable"
}
