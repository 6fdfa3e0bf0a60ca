package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Mock inference server behaviour modes.
const (
	ModeNormal           = "normal"            // respond with the configured prediction
	ModeInferenceFailure = "inference_failure" // HTTP 200, success:false
	ModeServerError      = "server_error"      // HTTP 500
	ModeSlow             = "slow"              // stall longer than the client timeout
)

// MockInference simulates the inference HTTP API for tests: GET / liveness
// and POST /predict with scriptable outcomes.
type MockInference struct {
	server *httptest.Server

	mu             sync.Mutex
	mode           string
	predictedClass string
	classIndex     int
	errorMsg       string
	slowDelay      time.Duration
	predictCalls   int
}

// NewMockInference starts a mock server predicting the given class id.
func NewMockInference(predictedClass string, classIndex int) *MockInference {
	m := &MockInference{
		mode:           ModeNormal,
		predictedClass: predictedClass,
		classIndex:     classIndex,
		errorMsg:       "No person detected in video",
		slowDelay:      2 * time.Second,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleRoot)
	mux.HandleFunc("/predict", m.handlePredict)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's base URL.
func (m *MockInference) URL() string { return m.server.URL }

// Close shuts the server down.
func (m *MockInference) Close() { m.server.Close() }

// SetMode switches the behaviour mode.
func (m *MockInference) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SetPrediction changes the class the mock predicts.
func (m *MockInference) SetPrediction(classID string, classIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictedClass = classID
	m.classIndex = classIndex
}

// SetErrorMessage changes the success:false error string.
func (m *MockInference) SetErrorMessage(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsg = msg
}

// SetSlowDelay changes how long ModeSlow stalls before answering.
func (m *MockInference) SetSlowDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slowDelay = d
}

// PredictCalls reports how many /predict requests arrived.
func (m *MockInference) PredictCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictCalls
}

func (m *MockInference) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Sign recognition API is operational!"})
}

func (m *MockInference) handlePredict(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.predictCalls++
	mode := m.mode
	class := m.predictedClass
	idx := m.classIndex
	errMsg := m.errorMsg
	delay := m.slowDelay
	m.mu.Unlock()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}
	if _, _, err := r.FormFile("video"); err != nil {
		http.Error(w, "missing video field", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch mode {
	case ModeInferenceFailure:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   errMsg,
		})
	case ModeServerError:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	case ModeSlow:
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		fallthrough
	default:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":         true,
			"predicted_class": class,
			"class_id":        idx,
		})
	}
}
