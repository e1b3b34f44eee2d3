package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/config"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/sign"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// codeTTL is how long a pairing code stays consumable.
const codeTTL = 15 * time.Minute

// NewPairingService creates a new PairingService.
func NewPairingService(cnf *config.Config, store store.Store, peer client.Peer) *PairingService {
	return &PairingService{
		cnf:   cnf,
		store: store,
		peer:  peer,
	}
}

// PairingService establishes connections between two user accounts on
// independently-owned applications.
type PairingService struct {
	cnf   *config.Config
	store store.Store
	peer  client.Peer
}

// GenerateCode issues a short-lived single-use code the user hands to the
// counterpart side.
func (p *PairingService) GenerateCode(ctx context.Context, userID uint) (*model.PairingCode, error) {
	code, err := sign.NewPairingCode()
	if err != nil {
		return nil, err
	}

	pc := &model.PairingCode{
		Code:      code,
		UserID:    userID,
		ExpiresAt: time.Now().Add(codeTTL),
	}
	if err := p.store.CreatePairingCode(ctx, pc); err != nil {
		return nil, err
	}

	logrus.Infof("issued pairing code for user %d, expires at %s", userID, pc.ExpiresAt.Format(time.RFC3339))
	return pc, nil
}

// AcceptCode redeems a code issued by the counterpart: it generates the
// shared secret, hands it over together with our own connection id and
// address, and persists the connection once the counterpart accepted. The
// remote call happens before any local write, so a rejection leaves no
// partial state behind.
func (p *PairingService) AcceptCode(ctx context.Context, userID uint, code, peerBaseURL, peerApp string) (*model.Connection, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || peerBaseURL == "" {
		return nil, ErrMissingField
	}

	secret, err := sign.NewSecret()
	if err != nil {
		return nil, err
	}

	// generated up front so the counterpart can address signed calls to us
	connID := uuid.New().String()

	res, err := p.peer.ConsumeCode(ctx, peerBaseURL, &v1.ConsumeCodeRequest{
		Code:                  code,
		InitiatorApp:          p.cnf.AppName,
		InitiatorBaseURL:      p.cnf.BaseURL,
		InitiatorConnectionID: connID,
		SharedSecret:          secret,
	})
	if err != nil {
		logrus.Errorf("pairing with %s failed: %v", peerBaseURL, err)
		return nil, err
	}
	if !res.Success {
		return nil, ErrRemoteRejected
	}

	conn := &model.Connection{
		ID:               connID,
		UserID:           userID,
		PeerApp:          peerApp,
		PeerBaseURL:      peerBaseURL,
		PeerConnectionID: res.ConnectionID,
		Secret:           secret,
		Status:           model.ConnectionStatusActive,
	}
	if err := p.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	logrus.Infof("paired with %s (%s), connection %s", peerApp, peerBaseURL, conn.ID)
	return conn, nil
}

// ConsumeCode handles the counterpart's redeem call. The code is marked
// consumed by one conditional update, so concurrent redeems cannot both
// win. The connection for the code's owner stores the caller-supplied
// secret and connection id for addressed signed calls back.
func (p *PairingService) ConsumeCode(ctx context.Context, req *v1.ConsumeCodeRequest) (*v1.ConsumeCodeResponse, error) {
	if req.Code == "" || req.InitiatorBaseURL == "" || req.InitiatorConnectionID == "" || req.SharedSecret == "" {
		return nil, ErrMissingField
	}

	pc, err := p.store.ConsumePairingCode(ctx, strings.ToUpper(strings.TrimSpace(req.Code)), time.Now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	conn := &model.Connection{
		ID:               uuid.New().String(),
		UserID:           pc.UserID,
		PeerApp:          req.InitiatorApp,
		PeerBaseURL:      req.InitiatorBaseURL,
		PeerConnectionID: req.InitiatorConnectionID,
		Secret:           req.SharedSecret,
		Status:           model.ConnectionStatusActive,
	}
	if err := p.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	logrus.Infof("pairing code consumed by %s, connection %s for user %d", req.InitiatorApp, conn.ID, pc.UserID)

	return &v1.ConsumeCodeResponse{
		Success:      true,
		RemoteUserID: pc.UserID,
		ConnectionID: conn.ID,
	}, nil
}
