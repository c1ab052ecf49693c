package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("sample: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("event 7: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrNotApplicable, http.StatusUnprocessableEntity},
		{fmt.Errorf("insert: %w: disk full", models.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFailHidesServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Fail(c, fmt.Errorf("dsn secret leaked: %w", models.ErrStoreUnavailable))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"code":503,"message":"Service Unavailable"}` {
		t.Errorf("unexpected body %s", got)
	}
	if len(c.Errors) != 1 {
		t.Errorf("expected error recorded on context, got %d", len(c.Errors))
	}
}

func TestFailShowsClientErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Fail(c, fmt.Errorf("%w: days must be positive", models.ErrInvalidInput))

	if got := rec.Body.String(); got != `{"code":400,"message":"invalid input: days must be positive"}` {
		t.Errorf("unexpected body %s", got)
	}
}
