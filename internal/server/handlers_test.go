package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kinfolk/kinsync/internal/mapping"
	"github.com/kinfolk/kinsync/internal/service"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrCodeInvalid, http.StatusBadRequest},
		{service.ErrInvalidMappingAction, http.StatusBadRequest},
		{service.ErrConnectionRevoked, http.StatusBadRequest},
		// a bad key in an activation entry is the caller's mistake,
		// even when it surfaces wrapped from the staged map
		{fmt.Errorf("%w: no local person %q", mapping.ErrUnknownItem, "nope"), http.StatusBadRequest},
		{service.ErrConnectionNotFound, http.StatusNotFound},
		{gorm.ErrRecordNotFound, http.StatusNotFound},
		{service.ErrRemoteRejected, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		assert.Equal(t, c.status, rec.Code, "error %v", c.err)
	}
}
