package insight

import (
	"context"
	"iter"
	"strings"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
)

// Drain consumes the whole fragment stream and returns the concatenation.
// Nothing is returned until the stream ends, so callers never persist a
// partial result. An empty or whitespace-only result is a generation error.
func Drain(ctx context.Context, seq iter.Seq2[string, error], sink FragmentSink, streamKey string) (string, error) {
	var b strings.Builder
	for fragment, err := range seq {
		if err != nil {
			if errors.Is(err, errors.ErrGeneration) {
				return "", err
			}
			return "", errors.Generation("generation stream failed", err)
		}
		b.WriteString(fragment)
		mirror(ctx, sink, streamKey, fragment)
	}

	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "", errors.Generation("model returned no output", nil)
	}
	return out, nil
}

func mirror(ctx context.Context, sink FragmentSink, key, fragment string) {
	if sink == nil || fragment == "" {
		return
	}
	defer func() { _ = recover() }()
	_ = sink.Fragment(ctx, key, fragment)
}

// LogSink writes fragments at debug level.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("component", "insight.fragments")}
}

func (s *LogSink) Fragment(_ context.Context, streamKey, fragment string) error {
	s.log.Debug("fragment", "stream", streamKey, "text", fragment)
	return nil
}

// MultiSink fans fragments out to several sinks.
type MultiSink []FragmentSink

func (m MultiSink) Fragment(ctx context.Context, streamKey, fragment string) error {
	for _, s := range m {
		mirror(ctx, s, streamKey, fragment)
	}
	return nil
}
