package client

import (
	"errors"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "decode error should not retry", errorClass: ErrorClassDecode, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := shouldRetry(tt.errorClass); result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{200, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FetchError
		expected string
	}{
		{
			name: "status with message",
			err: &FetchError{
				Endpoint:   "/responses",
				Query:      "limit=100",
				StatusCode: 401,
				ErrorClass: ErrorClassClient,
				Message:    `{"error": "unauthorized"}`,
			},
			expected: `fetch /responses?limit=100: client error (status 401): {"error": "unauthorized"}`,
		},
		{
			name: "network error with wrapped error",
			err: &FetchError{
				Endpoint:   "/responses",
				ErrorClass: ErrorClassNetwork,
				Err:        errors.New("connection refused"),
			},
			expected: "fetch /responses: network error: connection refused",
		},
		{
			name: "decode error",
			err: &FetchError{
				Endpoint:   "/responses",
				Query:      "before=7&limit=3",
				StatusCode: 200,
				ErrorClass: ErrorClassDecode,
				Err:        errors.New("unexpected end of JSON input"),
			},
			expected: "fetch /responses?before=7&limit=3: decode error (status 200): unexpected end of JSON input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.err.Error(); result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	fetchErr := &FetchError{
		Endpoint:   "/responses",
		ErrorClass: ErrorClassServer,
		Err:        wrappedErr,
	}

	if unwrapped := fetchErr.Unwrap(); unwrapped != wrappedErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, wrappedErr)
	}
	if !errors.Is(fetchErr, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}

	var target *FetchError
	if !errors.As(error(fetchErr), &target) {
		t.Error("errors.As should find *FetchError")
	}
}

func TestFetchError_UnwrapNil(t *testing.T) {
	fetchErr := &FetchError{StatusCode: 404, ErrorClass: ErrorClassClient}
	if unwrapped := fetchErr.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() = %v, want nil", unwrapped)
	}
}
