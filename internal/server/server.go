// Package server exposes the inference service over HTTP: a liveness probe
// on GET / and clip classification on POST /predict.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signlab/signcoach/internal/classify"
	"github.com/signlab/signcoach/internal/extract"
)

// maxUploadBytes caps a single clip upload (practice clips are a few
// seconds of video).
const maxUploadBytes = 100 << 20

// Extractor turns a video file into the classifier input tensor.
type Extractor interface {
	Extract(ctx context.Context, path string) (*extract.Tensor, error)
}

// Classifier predicts the class of an extracted tensor.
type Classifier interface {
	Predict(t *extract.Tensor) (classify.Prediction, error)
}

// Config holds the HTTP service configuration.
type Config struct {
	// AllowedOrigins is the exact-match CORS allow-list.
	AllowedOrigins []string
}

// Server handles inference requests. Handlers share only the immutable
// model and the extractor, so requests can run concurrently.
type Server struct {
	extractor Extractor
	model     Classifier
	allowed   map[string]bool
	log       *zap.SugaredLogger
}

// New builds a Server.
func New(extractor Extractor, model Classifier, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Server{extractor: extractor, model: model, allowed: allowed, log: log}
}

// Handler returns the routed HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/predict", s.handlePredict)
	return s.withRecovery(s.withCORS(s.withRequestLog(mux)))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Sign recognition API is operational!",
	})
}

type predictResponse struct {
	Success        bool   `json:"success"`
	PredictedClass string `json:"predicted_class,omitempty"`
	ClassID        int    `json:"class_id"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, predictResponse{
			Success: false,
			Error:   "multipart field 'video' is required",
		})
		return
	}
	defer func() { _ = file.Close() }()

	// The extractor works on a file path; spool the upload to a temp file
	// that is always removed, success or not.
	tmpPath, err := spoolUpload(file, header.Filename)
	if err != nil {
		s.log.Errorw("failed to spool upload", "error", err)
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	tensor, err := s.extractor.Extract(r.Context(), tmpPath)
	if err != nil {
		s.respondInferenceFailure(w, r, err)
		return
	}

	pred, err := s.model.Predict(tensor)
	if err != nil {
		s.respondInferenceFailure(w, r, err)
		return
	}

	s.log.Infow("clip classified",
		"request_id", requestID(r),
		"predicted_class", pred.ClassID,
		"model_index", pred.ModelIndex)

	writeJSON(w, http.StatusOK, predictResponse{
		Success:        true,
		PredictedClass: pred.ClassID,
		ClassID:        pred.ModelIndex,
	})
}

// respondInferenceFailure reports an extraction or classification failure.
// These are HTTP 200 with success:false so clients can distinguish "the
// model could not grade this clip" from transport problems.
func (s *Server) respondInferenceFailure(w http.ResponseWriter, r *http.Request, err error) {
	msg := "Prediction failed: " + err.Error()
	switch {
	case errors.Is(err, extract.ErrNoPersonDetected):
		msg = "No person detected in video"
	case errors.Is(err, extract.ErrCorruptVideo):
		msg = "Video could not be decoded"
	}
	s.log.Warnw("inference failed", "request_id", requestID(r), "error", err)
	writeJSON(w, http.StatusOK, predictResponse{Success: false, Error: msg})
}

func spoolUpload(file io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp4", ".webm", ".mov", ".avi":
	default:
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp("", "signcoach-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ── middleware ───────────────────────────────────────────────────────────────

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		w.Header().Set("X-Request-ID", id)
		s.log.Infow("request", "request_id", id, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorw("handler panic", "request_id", requestID(r), "panic", fmt.Sprint(rec))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS applies the exact-origin allow-list. Credentials are allowed, so
// the origin is echoed back rather than wildcarded.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
