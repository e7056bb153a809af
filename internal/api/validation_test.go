package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{name: "valid", body: `{"email":" User1@Example.com "}`},
		{name: "unknown field", body: `{"email":"a@example.com","extra":1}`, wantCode: ErrCodeInvalidRequest},
		{name: "trailing data", body: `{"email":"a@example.com"}{}`, wantCode: ErrCodeInvalidRequest},
		{name: "missing", body: `{}`, wantCode: ErrCodeValidationFailed, wantMsg: "Email is required."},
		{name: "malformed", body: `{"email":"nope"}`, wantCode: ErrCodeValidationFailed, wantMsg: "Email is not valid."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req PasswordlessCodeRequest
			err := decodeAndValidate(strings.NewReader(tt.body), &req)

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("decodeAndValidate() error = %v", err)
				}
				if req.Email != "user1@example.com" {
					t.Fatalf("email = %q, want normalized", req.Email)
				}
				return
			}

			var reqErr *requestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("decodeAndValidate() error = %v, want *requestError", err)
			}
			if reqErr.code != tt.wantCode {
				t.Fatalf("code = %q, want %q", reqErr.code, tt.wantCode)
			}
			if tt.wantMsg != "" && reqErr.message != tt.wantMsg {
				t.Fatalf("message = %q, want %q", reqErr.message, tt.wantMsg)
			}
		})
	}
}

func TestDecodeAndValidateBodyTooLarge(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+strings.Repeat("a", 100)+`@example.com"}`))
	req.Body = http.MaxBytesReader(rr, req.Body, 16)

	var body PasswordlessCodeRequest
	err := decodeAndValidate(req.Body, &body)
	writeRequestError(rr, err)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestWriteRequestErrorListsFields(t *testing.T) {
	var req PasswordlessVerifyRequest
	err := decodeAndValidate(strings.NewReader(`{}`), &req)

	rr := httptest.NewRecorder()
	writeRequestError(rr, err)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	if len(resp.Error.Errors) != 2 {
		t.Fatalf("errors = %+v, want email and code", resp.Error.Errors)
	}
	if resp.Error.Errors[0].Field != "email" || resp.Error.Errors[1].Field != "code" {
		t.Fatalf("fields = %+v", resp.Error.Errors)
	}
	if resp.Error.Errors[1].Message != "Verification code is required." {
		t.Fatalf("message = %q", resp.Error.Errors[1].Message)
	}
}
