package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
)

// DocumentAIConfig selects the Document AI processor.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

type processFunc func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error)

// DocumentAIExtractor extracts text with a Google Document AI OCR processor.
type DocumentAIExtractor struct {
	process  processFunc
	closeFn  func() error
	name     string
	resolver Resolver
	log      *logger.Logger
}

// NewDocumentAIExtractor connects to the regional Document AI endpoint.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS(_JSON) when set.
func NewDocumentAIExtractor(ctx context.Context, cfg DocumentAIConfig, resolver Resolver, log *logger.Logger) (*DocumentAIExtractor, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, clientOptionsFromEnv()...)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	log.Info("Document AI initialized", "endpoint", endpoint)

	return &DocumentAIExtractor{
		process: func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
			return client.ProcessDocument(ctx, req)
		},
		closeFn:  client.Close,
		name:     processorName(cfg.ProjectID, location, cfg.ProcessorID),
		resolver: resolver,
		log:      log.With("component", "extraction.documentai"),
	}, nil
}

// Close releases the gRPC connection.
func (d *DocumentAIExtractor) Close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

func (d *DocumentAIExtractor) ExtractMarkdown(ctx context.Context, fileLocation string) (string, error) {
	path, err := d.resolver.Resolve(fileLocation)
	if err != nil {
		return "", err
	}
	if DetectKind(path) == KindUnsupported {
		return "", errors.Extraction("unsupported file type for "+fileLocation, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Extraction("failed to read "+fileLocation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	start := time.Now()
	resp, err := d.process(ctx, &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: MimeType(path),
			},
		},
	})
	if err != nil {
		return "", errors.Extraction("documentai ProcessDocument failed for "+fileLocation, err)
	}

	text := ""
	if resp != nil && resp.GetDocument() != nil {
		text = strings.TrimSpace(resp.GetDocument().GetText())
	}
	if text == "" {
		return "", errors.Extraction("documentai returned no text for "+fileLocation, nil)
	}

	d.log.Debug("document processed", "file", fileLocation, "chars", len(text),
		"pages", len(resp.GetDocument().GetPages()), "duration", time.Since(start))
	return text, nil
}

func processorName(project, location, processorID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		strings.TrimSpace(project), strings.TrimSpace(location), strings.TrimSpace(processorID))
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
