package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Extractor turns an uploaded PDF into plain note text: pdfcpu validates
// the file and optionally crops header/footer bands, then an external
// converter service does the actual text extraction.
type Extractor struct {
	converterURL string
	cropTop      float64
	cropBottom   float64
	client       *http.Client
}

type converterResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}

func NewExtractor(converterURL string) *Extractor {
	return &Extractor{
		converterURL: converterURL,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

// WithCrop enables removal of header and footer bands, in points.
func (e *Extractor) WithCrop(top, bottom float64) *Extractor {
	e.cropTop = top
	e.cropBottom = bottom
	return e
}

// ExtractText validates and preprocesses the PDF at path, then posts it
// to the converter service and returns the extracted text.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	conf := api.LoadConfiguration()
	if err := api.ValidateFile(path, conf); err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}

	sendPath := path
	if e.cropTop > 0 || e.cropBottom > 0 {
		cropped, err := e.cropHeaderFooter(path, conf)
		if err != nil {
			return "", err
		}
		defer os.Remove(cropped)
		sendPath = cropped
	}

	return e.convert(ctx, sendPath)
}

// cropHeaderFooter cuts the configured bands off every page, writing the
// result to a temp file the caller must remove.
func (e *Extractor) cropHeaderFooter(path string, conf *pdfmodel.Configuration) (string, error) {
	box, err := pdfmodel.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", e.cropTop, e.cropBottom), pdftypes.POINTS)
	if err != nil {
		return "", fmt.Errorf("failed to parse crop box: %w", err)
	}

	out := filepath.Join(os.TempDir(), fmt.Sprintf("cropped_%d_%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := api.CropFile(path, out, []string{"1-"}, box, conf); err != nil {
		return "", fmt.Errorf("failed to crop PDF: %w", err)
	}
	return out, nil
}

func (e *Extractor) convert(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.converterURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("converter service unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("converter error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var conv converterResponse
	if err := json.Unmarshal(body, &conv); err != nil {
		return "", fmt.Errorf("failed to decode converter response: %w", err)
	}
	return conv.Document.MdContent, nil
}
