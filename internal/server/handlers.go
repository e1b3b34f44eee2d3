package server

import (
	"encoding/json"
	"errors"
	"net/http"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/mapping"
	"github.com/kinfolk/kinsync/internal/service"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handlers wires every HTTP route to its service. Peer routes are
// authenticated by signature, local routes by the user header the
// embedding journal application fills in.
type Handlers struct {
	store    store.Store
	pairing  *service.PairingService
	sync     *service.SyncService
	mapping  *service.MappingService
	conflict *service.ConflictService
	merge    *service.MergeService
}

func NewHandlers(store store.Store, pairing *service.PairingService, sync *service.SyncService, mapping *service.MappingService, conflict *service.ConflictService, merge *service.MergeService) *Handlers {
	return &Handlers{
		store:    store,
		pairing:  pairing,
		sync:     sync,
		mapping:  mapping,
		conflict: conflict,
		merge:    merge,
	}
}

// Register mounts every route on the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	// peer-facing
	mux.HandleFunc("POST /v1/pairing/consume", h.consumeCode)
	mux.HandleFunc("POST /v1/sync/pull", signed(h.store, h.pull))
	mux.HandleFunc("POST /v1/sync/push", signed(h.store, h.push))
	mux.HandleFunc("POST /v1/sync/revoke", signed(h.store, h.revoke))
	mux.HandleFunc("POST /v1/sync/people/list", signed(h.store, h.listPeople))
	mux.HandleFunc("POST /v1/sync/people/create", signed(h.store, h.createPerson))

	// operator-facing
	mux.HandleFunc("POST /v1/local/pairing/generate", userScoped(h.generateCode))
	mux.HandleFunc("POST /v1/local/pairing/accept", userScoped(h.acceptCode))
	mux.HandleFunc("GET /v1/local/connections", userScoped(h.listConnections))
	mux.HandleFunc("POST /v1/local/connections/revoke", userScoped(h.revokeConnection))
	mux.HandleFunc("POST /v1/local/sync/run", userScoped(h.runSync))
	mux.HandleFunc("POST /v1/local/sync/backfill", userScoped(h.backfill))
	mux.HandleFunc("GET /v1/local/mapping/plan", userScoped(h.mappingPlan))
	mux.HandleFunc("POST /v1/local/mapping/activate", userScoped(h.mappingActivate))
	mux.HandleFunc("GET /v1/local/conflicts", userScoped(h.listConflicts))
	mux.HandleFunc("POST /v1/local/conflicts/resolve", userScoped(h.resolveConflict))
	mux.HandleFunc("POST /v1/local/merge", userScoped(h.mergePeople))
	mux.HandleFunc("POST /v1/local/merge/undo", userScoped(h.undoMerge))
}

func (h *Handlers) consumeCode(w http.ResponseWriter, r *http.Request) {
	var req v1.ConsumeCodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.pairing.ConsumeCode(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) pull(w http.ResponseWriter, r *http.Request) {
	var req v1.PullRequest
	if !decode(w, r, &req) {
		return
	}

	conn := connectionFrom(r.Context())
	res, err := h.sync.Pull(r.Context(), conn, req.SinceOutboxID, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) push(w http.ResponseWriter, r *http.Request) {
	var req v1.PushRequest
	if !decode(w, r, &req) {
		return
	}

	conn := connectionFrom(r.Context())
	res, err := h.sync.ApplyEvents(r.Context(), conn, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	var req v1.RevokeRequest
	if !decode(w, r, &req) {
		return
	}

	conn := connectionFrom(r.Context())
	if req.Reason != "" {
		logrus.Infof("connection %s revoked by counterpart: %s", conn.ID, req.Reason)
	}

	already, err := h.sync.RevokeLocal(r.Context(), conn.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &v1.RevokeResponse{OK: true, AlreadyRevoked: already})
}

func (h *Handlers) listPeople(w http.ResponseWriter, r *http.Request) {
	var req v1.ListPeopleRequest
	if !decode(w, r, &req) {
		return
	}

	conn := connectionFrom(r.Context())
	people, err := h.mapping.LocalPeople(r.Context(), conn.UserID, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &v1.ListPeopleResponse{People: people})
}

func (h *Handlers) createPerson(w http.ResponseWriter, r *http.Request) {
	var req v1.CreatePersonRequest
	if !decode(w, r, &req) {
		return
	}

	conn := connectionFrom(r.Context())
	res, err := h.mapping.CreateLocalPerson(r.Context(), conn.UserID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type generateCodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handlers) generateCode(w http.ResponseWriter, r *http.Request, userID uint) {
	pc, err := h.pairing.GenerateCode(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &generateCodeResponse{
		Code:      pc.Code,
		ExpiresAt: pc.ExpiresAt.Format(timeFormat),
	})
}

type acceptCodeRequest struct {
	Code        string `json:"code"`
	PeerBaseURL string `json:"peer_base_url"`
	PeerApp     string `json:"peer_app"`
}

// acceptCodeResponse deliberately excludes the shared secret; it never
// leaves the two stores.
type acceptCodeResponse struct {
	ID      string `json:"id"`
	PeerApp string `json:"peer_app"`
	Status  string `json:"status"`
}

func (h *Handlers) acceptCode(w http.ResponseWriter, r *http.Request, userID uint) {
	var req acceptCodeRequest
	if !decode(w, r, &req) {
		return
	}

	conn, err := h.pairing.AcceptCode(r.Context(), userID, req.Code, req.PeerBaseURL, req.PeerApp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &acceptCodeResponse{
		ID:      conn.ID,
		PeerApp: conn.PeerApp,
		Status:  conn.Status,
	})
}

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request, userID uint) {
	summaries, err := h.sync.ListConnections(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type revokeConnectionRequest struct {
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason,omitempty"`
}

func (h *Handlers) revokeConnection(w http.ResponseWriter, r *http.Request, userID uint) {
	var req revokeConnectionRequest
	if !decode(w, r, &req) {
		return
	}

	already, err := h.sync.Revoke(r.Context(), userID, req.ConnectionID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &v1.RevokeResponse{OK: true, AlreadyRevoked: already})
}

type connectionRequest struct {
	ConnectionID string `json:"connection_id"`
}

func (h *Handlers) runSync(w http.ResponseWriter, r *http.Request, userID uint) {
	var req connectionRequest
	if !decode(w, r, &req) {
		return
	}

	conn, err := h.sync.GetConnection(r.Context(), userID, req.ConnectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.sync.Run(r.Context(), conn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) backfill(w http.ResponseWriter, r *http.Request, userID uint) {
	var req connectionRequest
	if !decode(w, r, &req) {
		return
	}

	conn, err := h.sync.GetConnection(r.Context(), userID, req.ConnectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.sync.Backfill(r.Context(), conn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) mappingPlan(w http.ResponseWriter, r *http.Request, userID uint) {
	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		writeJSONError(w, http.StatusBadRequest, "connection_id is required")
		return
	}

	plan, err := h.mapping.BuildPlan(r.Context(), userID, connectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type activateRequest struct {
	ConnectionID string                    `json:"connection_id"`
	Entries      []service.ActivationEntry `json:"entries"`
}

func (h *Handlers) mappingActivate(w http.ResponseWriter, r *http.Request, userID uint) {
	var req activateRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.mapping.Activate(r.Context(), userID, req.ConnectionID, req.Entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type conflictView struct {
	ID            uint            `json:"id"`
	ConnectionID  string          `json:"connection_id"`
	EntityType    string          `json:"entity_type"`
	EntityUID     string          `json:"entity_uid"`
	LocalPayload  json.RawMessage `json:"local_payload"`
	RemotePayload json.RawMessage `json:"remote_payload"`
	RecordedAt    string          `json:"recorded_at"`
}

func (h *Handlers) listConflicts(w http.ResponseWriter, r *http.Request, userID uint) {
	conflicts, err := h.conflict.ListOpen(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]conflictView, 0, len(conflicts))
	for _, c := range conflicts {
		views = append(views, conflictView{
			ID:            c.ID,
			ConnectionID:  c.ConnectionID,
			EntityType:    c.EntityType,
			EntityUID:     c.EntityUID,
			LocalPayload:  json.RawMessage(c.LocalPayload),
			RemotePayload: json.RawMessage(c.RemotePayload),
			RecordedAt:    c.CreatedAt.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type resolveConflictRequest struct {
	ConflictID uint   `json:"conflict_id"`
	Resolution string `json:"resolution"`
}

func (h *Handlers) resolveConflict(w http.ResponseWriter, r *http.Request, userID uint) {
	var req resolveConflictRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.conflict.Resolve(r.Context(), userID, req.ConflictID, req.Resolution); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type mergeRequest struct {
	PrimaryID uint `json:"primary_id"`
	MergedID  uint `json:"merged_id"`
}

func (h *Handlers) mergePeople(w http.ResponseWriter, r *http.Request, userID uint) {
	var req mergeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.merge.Merge(r.Context(), userID, req.PrimaryID, req.MergedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type undoMergeRequest struct {
	LogID uint `json:"log_id"`
}

func (h *Handlers) undoMerge(w http.ResponseWriter, r *http.Request, userID uint) {
	var req undoMergeRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.merge.Undo(r.Context(), userID, req.LogID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("error encoding response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &v1.ErrorResponse{Error: message})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var remote *client.RemoteError

	switch {
	case errors.Is(err, service.ErrCodeInvalid),
		errors.Is(err, service.ErrMissingField),
		errors.Is(err, service.ErrInvalidResolution),
		errors.Is(err, service.ErrInvalidMappingAction),
		errors.Is(err, service.ErrSelfMerge),
		errors.Is(err, service.ErrConflictResolved),
		errors.Is(err, service.ErrMergeUndone),
		errors.Is(err, service.ErrConnectionRevoked),
		errors.Is(err, mapping.ErrUnknownItem):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrConnectionNotFound),
		errors.Is(err, service.ErrPersonNotFound),
		errors.Is(err, service.ErrConflictNotFound),
		errors.Is(err, service.ErrMergeLogNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRemoteRejected):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &remote):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		logrus.Errorf("internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
