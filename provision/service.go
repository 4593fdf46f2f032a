package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/broker/metaapi"
	"github.com/rustyeddy/tradejournal/journal"
	"github.com/rustyeddy/tradejournal/pkg/id"
	"go.uber.org/zap"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// SessionResolver yields the user on whose behalf a call runs.
type SessionResolver interface {
	UserID(ctx context.Context) (string, error)
}

// StaticSession is a fixed user, as used by the CLI.
type StaticSession string

func (s StaticSession) UserID(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}

// StateReader reads the provider state of an existing account.
type StateReader interface {
	AccountState(ctx context.Context, remoteID string) (metaapi.Result, error)
}

// ConnectResult is what a caller of Connect sees. Account is set whenever
// a local record was written, including failed provisioning.
type ConnectResult struct {
	Success bool
	Message string
	Account *broker.Account
}

// SyncReport summarizes a Sync call.
type SyncReport struct {
	Total  int
	Synced int
	Failed int
}

const (
	msgConnected = "Broker account connected successfully"

	// reconcileTimeout bounds the final store write when the caller's
	// context is already gone.
	reconcileTimeout = 10 * time.Second
)

// Service is the broker-connection entry point.
type Service struct {
	Sessions SessionResolver
	Poller   *Poller
	Store    journal.Store
	States   StateReader
	Options  metaapi.Options
	NewToken id.Generator
	Logger   *zap.Logger
	Now      func() time.Time
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) user(ctx context.Context) (string, error) {
	if s.Sessions == nil {
		return "", ErrUnauthenticated
	}
	uid, err := s.Sessions.UserID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if uid == "" {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

// Connect provisions the account described by creds and records it. The
// error return covers preconditions only (no session, bad credentials);
// every provisioning outcome, including store failures, is reported in
// the ConnectResult.
func (s *Service) Connect(ctx context.Context, creds broker.Credentials) (*ConnectResult, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	creds = creds.Normalize()
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	newToken := s.NewToken
	if newToken == nil {
		newToken = id.Transaction
	}
	req, err := metaapi.NewRequest(creds, s.Options, newToken())
	if err != nil {
		return nil, err
	}

	log := s.log().With(
		zap.String("user_id", userID),
		zap.String("login", creds.AccountNumber),
		zap.String("server", creds.Server),
		zap.String("transaction_id", req.Token()),
	)
	log.Info("provisioning broker account")

	observe := func(ctx context.Context, remoteID string) error {
		_, err := s.Store.UpsertByRemoteID(ctx, remoteID, userID, creds.Fields(broker.StatusInitializing))
		return err
	}
	out := s.Poller.Run(ctx, req, observe)

	return s.reconcile(ctx, log, userID, creds, out), nil
}

func (s *Service) reconcile(ctx context.Context, log *zap.Logger, userID string, creds broker.Credentials, out Outcome) *ConnectResult {
	res := &ConnectResult{
		Success: out.Kind == OutcomeSuccess,
		Message: outcomeMessage(out),
	}
	if out.RemoteID == "" {
		return res
	}

	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
		defer cancel()
	}

	acct, err := s.Store.UpsertByRemoteID(wctx, out.RemoteID, userID, creds.Fields(NormalizeOutcome(out.Kind)))
	if err != nil {
		// The remote account may be deployed while the local record is
		// stale; a later sync reconciles it.
		log.Error("reconcile broker account", zap.String("remote_id", out.RemoteID), zap.Error(err))
		return &ConnectResult{Success: false, Message: fmt.Sprintf("save broker account: %v", err)}
	}
	res.Account = &acct
	return res
}

func outcomeMessage(out Outcome) string {
	switch out.Kind {
	case OutcomeSuccess:
		return msgConnected
	case OutcomeFailure:
		if out.Message != "" {
			return out.Message
		}
		return fmt.Sprintf("account deployment failed (%s)", out.RawState)
	}
	if out.Message != "" {
		return out.Message
	}
	return "provisioning failed"
}

// Accounts lists the caller's accounts, optionally filtered by status.
func (s *Service) Accounts(ctx context.Context, status *broker.Status) ([]broker.Account, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return nil, err
	}
	return s.Store.ListByUser(ctx, userID, status)
}

// owned returns the account only if the caller owns it.
func (s *Service) owned(ctx context.Context, remoteID string) (broker.Account, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return broker.Account{}, err
	}
	acct, err := s.Store.GetByRemoteID(ctx, remoteID)
	if err != nil {
		return broker.Account{}, err
	}
	if acct.UserID != userID {
		return broker.Account{}, fmt.Errorf("%w: %s", journal.ErrNotFound, remoteID)
	}
	return acct, nil
}

// Disconnect marks the caller's account DISCONNECTED.
func (s *Service) Disconnect(ctx context.Context, remoteID string) (broker.Account, error) {
	if _, err := s.owned(ctx, remoteID); err != nil {
		return broker.Account{}, err
	}
	if err := s.Store.SetStatus(ctx, remoteID, broker.StatusDisconnected); err != nil {
		return broker.Account{}, fmt.Errorf("disconnect %s: %w", remoteID, err)
	}
	s.log().Info("broker account disconnected", zap.String("remote_id", remoteID))
	return s.Store.GetByRemoteID(ctx, remoteID)
}

// Sync stamps last-synced time on the caller's ACTIVE accounts.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	active := broker.StatusActive
	accts, err := s.Accounts(ctx, &active)
	if err != nil {
		return SyncReport{}, err
	}

	rep := SyncReport{Total: len(accts)}
	at := s.now()
	for _, a := range accts {
		if err := s.Store.MarkSynced(ctx, a.RemoteID, at); err != nil {
			s.log().Warn("sync broker account", zap.String("remote_id", a.RemoteID), zap.Error(err))
			rep.Failed++
			continue
		}
		rep.Synced++
	}
	return rep, nil
}

// Refresh reads the provider's current state for one of the caller's
// accounts and stores the normalized status.
func (s *Service) Refresh(ctx context.Context, remoteID string) (broker.Account, error) {
	acct, err := s.owned(ctx, remoteID)
	if err != nil {
		return broker.Account{}, err
	}
	if s.States == nil {
		return broker.Account{}, errors.New("account state reader is not configured")
	}

	res, err := s.States.AccountState(ctx, remoteID)
	if err != nil {
		return broker.Account{}, err
	}
	if res.Kind == metaapi.KindRemoteError || res.Kind == metaapi.KindProtocolError {
		return broker.Account{}, fmt.Errorf("read account state: %s", res.Message)
	}

	f := broker.AccountFields{
		BrokerName:    acct.BrokerName,
		Platform:      acct.Platform,
		Server:        acct.Server,
		AccountNumber: acct.AccountNumber,
		Status:        NormalizeState(res.RawState),
	}
	if _, err := s.Store.UpsertByRemoteID(ctx, remoteID, acct.UserID, f); err != nil {
		return broker.Account{}, err
	}
	if err := s.Store.MarkSynced(ctx, remoteID, s.now()); err != nil {
		return broker.Account{}, err
	}
	return s.Store.GetByRemoteID(ctx, remoteID)
}
