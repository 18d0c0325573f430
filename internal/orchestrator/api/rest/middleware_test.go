package rest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// mockLogger is a test logger that captures log messages
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		messages: make([]string, 0),
	}
}

func (m *mockLogger) Debug(msg string, args ...any) {
	m.log("DEBUG", msg, args...)
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.log("INFO", msg, args...)
}

func (m *mockLogger) Warn(msg string, args ...any) {
	m.log("WARN", msg, args...)
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.log("ERROR", msg, args...)
}

func (m *mockLogger) Fatal(msg string, args ...any) {
	m.log("FATAL", msg, args...)
}

func (m *mockLogger) log(level, msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	formatted := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			formatted += fmt.Sprintf(" %v=%v", args[i], args[i+1])
		}
	}
	m.messages = append(m.messages, formatted)
}

func (m *mockLogger) getOutput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.messages, "\n")
}

func TestLoggingMiddleware(t *testing.T) {
	logger := newMockLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	wrapped := LoggingMiddleware(logger)(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	output := logger.getOutput()
	if !strings.Contains(output, "method=GET") {
		t.Errorf("Expected log to contain method, got: %s", output)
	}
	if !strings.Contains(output, "path=/health") {
		t.Errorf("Expected log to contain path, got: %s", output)
	}
	if !strings.Contains(output, "status=200") {
		t.Errorf("Expected log to contain status, got: %s", output)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := newMockLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	wrapped := RecoveryMiddleware(logger)(handler)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("Expected JSON error body, got: %s", w.Body.String())
	}
	if !strings.Contains(logger.getOutput(), "handler exploded") {
		t.Errorf("Expected panic to be logged, got: %s", logger.getOutput())
	}
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string

	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	chained := ChainMiddleware(handler, mw("first"), mw("second"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	chained.ServeHTTP(httptest.NewRecorder(), req)

	want := []string{"first", "second", "handler"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected call %d to be %s, got %s", i, want[i], order[i])
		}
	}
}
