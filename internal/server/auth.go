package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/sign"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HeaderUserID scopes operator endpoints to a user account. The journal
// application in front of this API fills it from its own session.
const HeaderUserID = "X-User-ID"

type contextKey string

const connectionKey contextKey = "connection"

// maxBodySize caps inbound bodies; a full pull batch stays well under it.
const maxBodySize = 8 << 20

// connectionFrom returns the authenticated connection stashed by the
// signed middleware.
func connectionFrom(ctx context.Context) *model.Connection {
	conn, _ := ctx.Value(connectionKey).(*model.Connection)
	return conn
}

// signed authenticates a peer request: the connection named by the header
// must exist and be active, and the signature must match the exact raw
// body bytes under the connection secret. The body is re-wrapped so the
// handler can decode it normally.
func signed(store store.Store, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := r.Header.Get(v1.HeaderConnection)
		signature := r.Header.Get(v1.HeaderSignature)
		if connectionID == "" || signature == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing authentication headers")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		conn, err := store.GetConnection(r.Context(), connectionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSONError(w, http.StatusUnauthorized, "unknown connection")
			return
		}
		if err != nil {
			logrus.Errorf("error loading connection %s: %v", connectionID, err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !conn.Active() {
			writeJSONError(w, http.StatusUnauthorized, "connection is revoked")
			return
		}

		if !sign.Verify(conn.Secret, body, signature) {
			logrus.Warnf("bad signature on connection %s from %s", conn.ID, r.RemoteAddr)
			writeJSONError(w, http.StatusUnauthorized, "bad signature")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next(w, r.WithContext(context.WithValue(r.Context(), connectionKey, conn)))
	}
}

// userScoped parses the operator user header.
func userScoped(next func(w http.ResponseWriter, r *http.Request, userID uint)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || userID == 0 {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid user header")
			return
		}
		next(w, r, uint(userID))
	}
}
