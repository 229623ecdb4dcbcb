package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"studyguide-backend/internal/bootstrap"
	"studyguide-backend/internal/extract"
	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/studyguide"
)

// prompttest runs the analysis prompt against a live provider for local exam
// files and prints the reconstructed study guide.
func main() {
	cfg := config.Load()

	files := flag.String("files", "", "Comma-separated exam pages (pdf, png, jpg, webp)")
	title := flag.String("title", "", "Paper title (defaults to the first file name)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider: openai, anthropic or fake")
	model := flag.String("model", "", "Model override")
	outPath := flag.String("out", "", "Path to write the study guide JSON (optional)")
	rawPath := flag.String("raw", "", "Path to write the raw model text (optional)")
	flag.Parse()

	paths := splitPaths(*files)
	if len(paths) == 0 {
		exitErr("at least one file is required")
	}

	ctx := context.Background()
	pages, err := loadPages(ctx, paths)
	if err != nil {
		exitErr(err.Error())
	}
	if strings.TrimSpace(*title) == "" {
		*title = filepath.Base(paths[0])
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(*provider))
	if m := strings.TrimSpace(*model); m != "" {
		cfg.OpenAIModel = m
		cfg.AnthropicModel = m
	}
	streamer, err := bootstrap.BuildStreamer(cfg)
	if err != nil {
		exitErr(fmt.Sprintf("build provider: %v", err))
	}

	stream, err := streamer.StreamAnalysis(ctx, llm.AnalysisRequest{Title: *title, Pages: pages})
	if err != nil {
		exitErr(fmt.Sprintf("open stream: %v", err))
	}
	defer stream.Close()

	src := &recordingSource{src: stream}
	guide, err := studyguide.Consume(ctx, src, nil)
	if *rawPath != "" {
		if werr := os.WriteFile(*rawPath, []byte(src.text.String()), 0o644); werr != nil {
			exitErr(fmt.Sprintf("write raw output: %v", werr))
		}
	}
	if err != nil {
		exitErr(fmt.Sprintf("stream analysis: %v", err))
	}

	pretty, err := json.MarshalIndent(guide, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}
	pretty = append(pretty, '\n')

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
}

// recordingSource keeps every fragment so the raw model text can be saved
// next to the reconstruction.
type recordingSource struct {
	src  studyguide.FragmentSource
	text bytes.Buffer
}

func (r *recordingSource) Next() (string, error) {
	fragment, err := r.src.Next()
	r.text.WriteString(fragment)
	return fragment, err
}

func splitPaths(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadPages reads each file the way the API would send it: PDFs become
// extracted text, images travel as bytes.
func loadPages(ctx context.Context, paths []string) ([]llm.Page, error) {
	pages := make([]llm.Page, 0, len(paths))
	for _, path := range paths {
		mimeType, err := mimeFromExt(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		page := llm.Page{Name: filepath.Base(path), MimeType: mimeType}
		if mimeType == "application/pdf" {
			text, err := extract.ExtractTextFromBytes(ctx, data, mimeType)
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", path, err)
			}
			page.Text = text
		} else {
			page.Data = data
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func mimeFromExt(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf", nil
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".webp":
		return "image/webp", nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
