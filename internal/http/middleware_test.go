package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/medreminder/internal/application"
)

type fakeSessionValidator struct {
	principal application.Principal
	err       error
}

func (f fakeSessionValidator) ValidateSession(_ context.Context, token string) (application.Principal, error) {
	if f.err != nil {
		return application.Principal{}, f.err
	}
	if token != "valid-token" {
		return application.Principal{}, application.ErrUnauthorized
	}
	return f.principal, nil
}

func TestRequireSession(t *testing.T) {
	t.Parallel()

	principal := application.Principal{UserID: "user-1", Timezone: "Asia/Tokyo"}

	tests := []struct {
		name           string
		header         string
		value          string
		cookie         *http.Cookie
		validatorErr   error
		expectedStatus int
		expectedCode   string
	}{
		{name: "missing credentials", expectedStatus: http.StatusUnauthorized, expectedCode: "AUTH_REQUIRED"},
		{name: "bearer header", header: "Authorization", value: "Bearer valid-token", expectedStatus: http.StatusOK},
		{name: "lowercase bearer", header: "Authorization", value: "bearer valid-token", expectedStatus: http.StatusOK},
		{name: "session header", header: sessionHeader, value: "valid-token", expectedStatus: http.StatusOK},
		{name: "cookie", cookie: &http.Cookie{Name: "session_token", Value: "valid-token"}, expectedStatus: http.StatusOK},
		{name: "malformed authorization", header: "Authorization", value: "Basic abc", expectedStatus: http.StatusUnauthorized, expectedCode: "AUTH_REQUIRED"},
		{name: "unknown token", header: sessionHeader, value: "other", expectedStatus: http.StatusUnauthorized, expectedCode: "AUTH_REQUIRED"},
		{name: "expired session", header: sessionHeader, value: "valid-token", validatorErr: application.ErrSessionExpired, expectedStatus: http.StatusUnauthorized, expectedCode: "AUTH_SESSION_EXPIRED"},
		{name: "revoked session", header: sessionHeader, value: "valid-token", validatorErr: fmt.Errorf("wrapped: %w", application.ErrSessionRevoked), expectedStatus: http.StatusUnauthorized, expectedCode: "AUTH_SESSION_EXPIRED"},
		{name: "store failure", header: sessionHeader, value: "valid-token", validatorErr: errors.New("db closed"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var captured application.Principal
			handler := RequireSession(fakeSessionValidator{principal: principal, err: tc.validatorErr}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := PrincipalFromContext(r.Context())
				if !ok {
					t.Fatal("expected principal in request context")
				}
				captured = p
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			if recorder.Code != tc.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tc.expectedStatus, recorder.Code, recorder.Body.String())
			}
			if tc.expectedStatus == http.StatusOK {
				if captured != principal {
					t.Errorf("unexpected principal %+v", captured)
				}
				return
			}
			if tc.expectedCode != "" {
				if got := decodeError(t, recorder).ErrorCode; got != tc.expectedCode {
					t.Errorf("expected error code %q, got %q", tc.expectedCode, got)
				}
			}
		})
	}
}

func TestRequestLoggerAttachesLogger(t *testing.T) {
	t.Parallel()

	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == nil {
			t.Error("expected request logger in context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusTeapot {
		t.Errorf("expected wrapped status to pass through, got %d", recorder.Code)
	}
}
