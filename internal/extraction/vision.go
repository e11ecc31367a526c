package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/telemetry"
)

// EndOfPage is the marker the vision prompt asks the model to print after
// each page. Output after it is discarded.
const EndOfPage = "[[END_OF_PAGE]]"

const pageInstruction = "Extract ONLY the essential clinical content from this report page as per your instructions: " +
	"lab/test tables and clinician remarks, in Markdown. " +
	"At the very end, output " + EndOfPage + " on its own line, then stop."

var (
	errMarkerSeen      = errors.New("end of page marker seen")
	errStreamTruncated = errors.New("page stream ended before completion")
)

// ChatClient is the part of the Ollama client the extractor uses.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// VisionConfig wires a VisionExtractor.
type VisionConfig struct {
	Client   ChatClient
	Model    string
	Prompt   string
	Renderer PageRenderer
	Resolver Resolver
	// KeepAlive keeps the model loaded between pages.
	KeepAlive time.Duration
	Logger    *logger.Logger
}

// VisionExtractor reads report images with an Ollama vision model. PDFs
// are rendered to images and read one page at a time.
type VisionExtractor struct {
	client    ChatClient
	model     string
	prompt    string
	renderer  PageRenderer
	resolver  Resolver
	keepAlive time.Duration
	log       *logger.Logger
}

func NewVisionExtractor(cfg VisionConfig) *VisionExtractor {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &VisionExtractor{
		client:    cfg.Client,
		model:     cfg.Model,
		prompt:    cfg.Prompt,
		renderer:  cfg.Renderer,
		resolver:  cfg.Resolver,
		keepAlive: cfg.KeepAlive,
		log:       cfg.Logger.With("component", "extraction.vision"),
	}
}

// ExtractMarkdown returns the markdown for the file at fileLocation.
func (v *VisionExtractor) ExtractMarkdown(ctx context.Context, fileLocation string) (md string, err error) {
	ctx, span := telemetry.Start(ctx, "extraction.vision",
		attribute.String("file", fileLocation), attribute.String("model", v.model))
	defer func() { telemetry.End(span, err) }()

	path, err := v.resolver.Resolve(fileLocation)
	if err != nil {
		return "", err
	}

	var pages [][]byte
	switch DetectKind(path) {
	case KindImage:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Extraction("failed to read "+fileLocation, err)
		}
		pages = [][]byte{b}
	case KindPDF:
		if v.renderer == nil {
			return "", errors.Extraction("no PDF renderer configured", nil)
		}
		pages, err = v.renderer.RenderPages(ctx, path)
		if err != nil {
			return "", errors.Extraction("failed to render "+fileLocation, err)
		}
		if len(pages) == 0 {
			return "", errors.Extraction(fileLocation+" has no pages", nil)
		}
	default:
		return "", errors.Extraction("unsupported file type for "+fileLocation, nil)
	}

	parts := make([]string, 0, len(pages))
	for i, page := range pages {
		start := time.Now()
		text, err := v.readPage(ctx, page)
		if err != nil {
			return "", errors.Extraction(fmt.Sprintf("vision model failed on page %d of %s", i+1, fileLocation), err)
		}
		v.log.Debug("page extracted", "file", fileLocation, "page", i+1, "pages", len(pages),
			"chars", len(text), "duration", time.Since(start))
		if text != "" {
			parts = append(parts, text)
		}
	}

	md = strings.Join(parts, "\n\n")
	if strings.TrimSpace(md) == "" {
		return "", errors.Extraction("vision model returned no text for "+fileLocation, nil)
	}
	return md, nil
}

func (v *VisionExtractor) readPage(ctx context.Context, image []byte) (string, error) {
	stream := true
	req := &api.ChatRequest{
		Model: v.model,
		Messages: []api.Message{
			{Role: "system", Content: v.prompt},
			{Role: "user", Content: pageInstruction, Images: []api.ImageData{image}},
		},
		Stream:  &stream,
		Options: map[string]any{"stop": []string{EndOfPage}},
	}
	if v.keepAlive > 0 {
		req.KeepAlive = &api.Duration{Duration: v.keepAlive}
	}

	var (
		b        strings.Builder
		finished bool
	)
	err := v.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		if strings.Contains(b.String(), EndOfPage) {
			finished = true
			return errMarkerSeen
		}
		if resp.Done {
			finished = true
		}
		return nil
	})
	if err != nil && !errors.Is(err, errMarkerSeen) {
		return "", err
	}
	// The client returns nil when the connection drops or ctx ends mid-stream.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !finished {
		return "", errStreamTruncated
	}
	return trimAtMarker(b.String()), nil
}

func trimAtMarker(s string) string {
	if i := strings.Index(s, EndOfPage); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
