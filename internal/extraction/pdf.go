package extraction

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PageRenderer rasterises every page of a PDF to PNG bytes, in page order.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath string) ([][]byte, error)
}

// PdftoppmRenderer renders pages with poppler's pdftoppm.
type PdftoppmRenderer struct {
	binary string
	dpi    int
	runner CommandRunner
}

// NewPdftoppmRenderer creates a renderer. A nil runner uses ExecRunner.
func NewPdftoppmRenderer(binary string, dpi int, runner CommandRunner) *PdftoppmRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 200
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PdftoppmRenderer{binary: binary, dpi: dpi, runner: runner}
}

func (r *PdftoppmRenderer) RenderPages(ctx context.Context, pdfPath string) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "medsum-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page directory: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	out, err := r.runner.Run(ctx, r.binary, "-r", strconv.Itoa(r.dpi), "-png", pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", r.binary, err, strings.TrimSpace(string(out)))
	}

	// pdftoppm names pages page-1.png or page-01.png depending on page count.
	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return pageNumber(files[i]) < pageNumber(files[j])
	})

	pages := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		pages = append(pages, b)
	}
	return pages, nil
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	n, err := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
	if err != nil {
		return 0
	}
	return n
}
