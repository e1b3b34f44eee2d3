package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/sign"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/kinfolk/kinsync/internal/tester"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

func signedFixture(t *testing.T) (store.Store, *model.Connection, http.HandlerFunc) {
	st := store.NewGormStore(tester.TestDB())

	conn := &model.Connection{
		ID:               uuid.New().String(),
		UserID:           42,
		PeerApp:          "other-journal",
		PeerBaseURL:      "http://localhost:4031",
		PeerConnectionID: uuid.New().String(),
		Secret:           "f00dface" + uuid.New().String(),
		Status:           model.ConnectionStatusActive,
	}
	err := st.CreateConnection(context.TODO(), conn)
	assert.NoError(t, err)

	handler := signed(st, func(w http.ResponseWriter, r *http.Request) {
		// the middleware must hand the handler the authenticated
		// connection and the untouched body
		got := connectionFrom(r.Context())
		assert.NotNil(t, got)
		assert.Equal(t, conn.ID, got.ID)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})

	return st, conn, handler
}

func TestSignedMiddleware_ValidSignature(t *testing.T) {
	_, conn, handler := signedFixture(t)

	body := []byte(`{"since_outbox_id":0,"limit":10}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader(body))
	req.Header.Set(v1.HeaderConnection, conn.ID)
	req.Header.Set(v1.HeaderSignature, sign.Body(conn.Secret, body))

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.Bytes())
}

func TestSignedMiddleware_TamperedBody(t *testing.T) {
	_, conn, handler := signedFixture(t)

	body := []byte(`{"since_outbox_id":0,"limit":10}`)
	signature := sign.Body(conn.Secret, body)

	tampered := []byte(`{"since_outbox_id":0,"limit":9999}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader(tampered))
	req.Header.Set(v1.HeaderConnection, conn.ID)
	req.Header.Set(v1.HeaderSignature, signature)

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedMiddleware_WrongSecret(t *testing.T) {
	_, conn, handler := signedFixture(t)

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader(body))
	req.Header.Set(v1.HeaderConnection, conn.ID)
	req.Header.Set(v1.HeaderSignature, sign.Body("some-other-secret", body))

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedMiddleware_MissingHeaders(t *testing.T) {
	_, _, handler := signedFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedMiddleware_UnknownConnection(t *testing.T) {
	_, conn, handler := signedFixture(t)

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader(body))
	req.Header.Set(v1.HeaderConnection, uuid.New().String())
	req.Header.Set(v1.HeaderSignature, sign.Body(conn.Secret, body))

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedMiddleware_RevokedConnection(t *testing.T) {
	st, conn, handler := signedFixture(t)

	_, err := st.RevokeConnection(context.TODO(), conn.ID, time.Now())
	assert.NoError(t, err)

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/pull", bytes.NewReader(body))
	req.Header.Set(v1.HeaderConnection, conn.ID)
	req.Header.Set(v1.HeaderSignature, sign.Body(conn.Secret, body))

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
