package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 503, Class: ErrorClassServer, Message: "503 Service Unavailable"}
	if got := err.Error(); !strings.Contains(got, "server") || !strings.Contains(got, "503") {
		t.Errorf("Error() = %q", got)
	}

	wrapped := &APIError{Class: ErrorClassRateLimit, Message: "blocked", Err: ErrRateLimited}
	if !errors.Is(wrapped, ErrRateLimited) {
		t.Error("errors.Is must see the wrapped error")
	}
	if !strings.Contains(wrapped.Error(), ErrRateLimited.Error()) {
		t.Errorf("Error() = %q, want wrapped message", wrapped.Error())
	}
}

func TestClassOf(t *testing.T) {
	apiErr := &APIError{StatusCode: 404, Class: ErrorClassClient}
	if got := ClassOf(fmt.Errorf("fetch: %w", apiErr)); got != ErrorClassClient {
		t.Errorf("ClassOf(wrapped) = %q, want client", got)
	}
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusNotModified, ""},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusUnauthorized, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.want {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	if got := classifyError(&APIError{Class: ErrorClassServer}); got != ErrorClassServer {
		t.Errorf("classifyError(APIError) = %q", got)
	}
	if got := classifyError(errors.New("connection refused")); got != ErrorClassNetwork {
		t.Errorf("classifyError(plain) = %q, want network", got)
	}
	if got := classifyError(nil); got != "" {
		t.Errorf("classifyError(nil) = %q", got)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassClient, false},
		{ErrorClassDecode, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
