package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
)

// PageText is one page of OCR output, 1-indexed in document order.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// VisionProviderService is the text-page extraction adapter. The pipeline
// treats it as a black box: a file path goes in, ordered per-page text comes
// out, and any failure is surfaced as an error for fault classification.
type VisionProviderService interface {
	ExtractPages(ctx context.Context, filePath string) ([]PageText, error)
	Close() error
}

type visionProviderService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVisionProviderService(log *logger.Logger) (VisionProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "VisionProviderService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()

	var (
		client *vision.ImageAnnotatorClient
		err    error
	)
	if creds != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(creds))
	} else {
		// ADC (GKE/Cloud Run w/ attached SA)
		client, err = vision.NewImageAnnotatorClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionProviderService{log: slog, client: client}, nil
}

func (s *visionProviderService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionProviderService) ExtractPages(ctx context.Context, filePath string) ([]PageText, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %s", filePath)
	}

	mimeType := mimeTypeForPath(filePath)
	if mimeType == "application/pdf" || mimeType == "image/tiff" {
		return s.ocrFileBytes(ctx, data, mimeType)
	}
	return s.ocrImageBytes(ctx, data)
}

// ocrFileBytes runs DOCUMENT_TEXT_DETECTION over an inline PDF/TIFF. The
// sync file API caps at 5 pages per request, so pages are pulled in batches
// until TotalPages is exhausted.
func (s *visionProviderService) ocrFileBytes(ctx context.Context, data []byte, mimeType string) ([]PageText, error) {
	var pages []PageText
	batch := []int32{1, 2, 3, 4, 5}
	totalPages := int32(0)

	for {
		req := &visionpb.BatchAnnotateFilesRequest{
			Requests: []*visionpb.AnnotateFileRequest{{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: mimeType,
				},
				Features: []*visionpb.Feature{{
					Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
				}},
				Pages: batch,
			}},
		}
		resp, err := s.client.BatchAnnotateFiles(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("vision BatchAnnotateFiles: %w", err)
		}
		if len(resp.GetResponses()) == 0 {
			return nil, fmt.Errorf("vision returned no file responses")
		}
		fileResp := resp.GetResponses()[0]
		if e := fileResp.GetError(); e != nil {
			return nil, fmt.Errorf("vision file error: %s", e.GetMessage())
		}
		totalPages = fileResp.GetTotalPages()

		for i, pageResp := range fileResp.GetResponses() {
			if e := pageResp.GetError(); e != nil {
				return nil, fmt.Errorf("vision page error: %s", e.GetMessage())
			}
			pageNumber := int(batch[0]) + i
			if c := pageResp.GetContext(); c != nil && c.GetPageNumber() > 0 {
				pageNumber = int(c.GetPageNumber())
			}
			pages = append(pages, PageText{
				PageNumber: pageNumber,
				Text:       pageResp.GetFullTextAnnotation().GetText(),
			})
		}

		next := batch[len(batch)-1] + 1
		if next > totalPages {
			break
		}
		batch = batch[:0]
		for p := next; p <= totalPages && len(batch) < 5; p++ {
			batch = append(batch, p)
		}
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	s.log.Debug("OCR file complete", "pages", len(pages), "total_pages", totalPages)
	return pages, nil
}

// ocrImageBytes treats a plain raster image as a one-page document.
func (s *visionProviderService) ocrImageBytes(ctx context.Context, data []byte) ([]PageText, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{
				Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
			}},
		}},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("vision returned no image responses")
	}
	imgResp := resp.GetResponses()[0]
	if e := imgResp.GetError(); e != nil {
		return nil, fmt.Errorf("vision image error: %s", e.GetMessage())
	}
	return []PageText{{PageNumber: 1, Text: imgResp.GetFullTextAnnotation().GetText()}}, nil
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
