package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/superblog/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "test message",
		Category: "validation",
		Action:   "fix the input",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	want := map[string]string{
		"code":     "TEST_ERROR",
		"message":  "test message",
		"category": "validation",
		"action":   "fix the input",
	}
	for field, v := range want {
		if raw[field] != v {
			t.Errorf("%s = %v, want %q", field, raw[field], v)
		}
	}
}

func TestWriteAPIError_StatusByCode(t *testing.T) {
	tests := []struct {
		apiErr *model.APIError
		want   int
	}{
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewUserNotFoundError(), http.StatusUnauthorized},
		{model.NewUnknownProviderError("myspace"), http.StatusNotFound},
		{model.NewCallbackAlreadyConsumedError(), http.StatusBadRequest},
		{model.NewCallbackStateMismatchError(), http.StatusBadRequest},
		{model.NewSignInFailedError(), http.StatusBadRequest},
		{model.NewServiceUnavailableError(), http.StatusServiceUnavailable},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.apiErr.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAPIError(w, tt.apiErr)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.apiErr.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.apiErr.Code)
			}
		})
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if w.Code != http.StatusInternalServerError || body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}
