package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Analyzer runs a full call analysis for an uploaded recording.
type Analyzer interface {
	Analyze(ctx context.Context, srcPath string, hints stt.SpeakerHints) (*analysis.AnalysisResponse, error)
	DefaultHints() stt.SpeakerHints
}

// AnalyzeHandler serves POST /analyze: a multipart upload with the
// recording under "file" and optional min_speakers/max_speakers fields.
type AnalyzeHandler struct {
	logger         *logrus.Logger
	analyzer       Analyzer
	tempDir        string
	maxUploadBytes int64
}

// NewAnalyzeHandler creates the analysis endpoint handler.
func NewAnalyzeHandler(logger *logrus.Logger, analyzer Analyzer, tempDir string, maxUploadBytes int64) *AnalyzeHandler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &AnalyzeHandler{
		logger:         logger,
		analyzer:       analyzer,
		tempDir:        tempDir,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(errors.ErrorResponse{
			Error:      "method not allowed",
			StatusCode: http.StatusMethodNotAllowed,
		})
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errors.WriteError(w, errors.Wrap(errors.ErrInvalidInput, "invalid multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.WriteError(w, errors.Wrap(errors.ErrInvalidInput, "missing file field"))
		return
	}
	defer file.Close()

	hints, err := h.parseHints(r)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	uploadPath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.WithError(err).Error("Failed to persist upload")
		errors.WriteError(w, errors.Wrap(errors.ErrInternalError, "failed to store upload"))
		return
	}
	defer os.Remove(uploadPath)

	h.logger.WithFields(logrus.Fields{
		"filename":     header.Filename,
		"size":         header.Size,
		"min_speakers": hints.Min,
		"max_speakers": hints.Max,
	}).Info("Analysis request received")

	response, err := h.analyzer.Analyze(r.Context(), uploadPath, hints)
	if err != nil {
		h.logger.WithError(err).WithField("filename", header.Filename).Warn("Analysis failed")
		errors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode analysis response")
	}
}

// parseHints reads the optional speaker count fields, falling back to
// the configured defaults for absent ones.
func (h *AnalyzeHandler) parseHints(r *http.Request) (stt.SpeakerHints, error) {
	hints := h.analyzer.DefaultHints()

	if raw := strings.TrimSpace(r.FormValue("min_speakers")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return hints, errors.Wrap(errors.ErrInvalidInput, "min_speakers must be an integer")
		}
		hints.Min = v
	}
	if raw := strings.TrimSpace(r.FormValue("max_speakers")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return hints, errors.Wrap(errors.ErrInvalidInput, "max_speakers must be an integer")
		}
		hints.Max = v
	}

	if err := hints.Validate(); err != nil {
		return hints, err
	}
	return hints, nil
}

// saveUpload copies the multipart part to a temp file, keeping the
// original extension so the normalizer can report unsupported formats
// with a useful name.
func (h *AnalyzeHandler) saveUpload(file io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}

	path := filepath.Join(h.tempDir, fmt.Sprintf("upload_%s%s", uuid.New().String(), ext))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
