package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/ledger"
	"github.com/mmynk/pocketledger/internal/middleware"
	"github.com/mmynk/pocketledger/internal/migrate"
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// SessionService exposes the session orchestrator and the category list to
// the UI shell.
type SessionService struct {
	session *session.Orchestrator
	ledger  *ledger.Ledger
	logger  *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(o *session.Orchestrator, l *ledger.Ledger, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{session: o, ledger: l, logger: logger}
}

func (s *SessionService) info() *connect.Response[SessionInfo] {
	return connect.NewResponse(sessionInfo(s.session.Snapshot(), s.session.Migrating()))
}

// GetSession returns the current session snapshot.
func (s *SessionService) GetSession(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	return s.info(), nil
}

// SignIn signs the caller in. The caller is identified by the bearer token
// verified by middleware.RequireAuth; a guest's data moves to that user.
func (s *SessionService) SignIn(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	state, creds := middleware.AuthState(ctx)
	if !state.SignedIn() {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	if err := s.session.SignIn(ctx, state.ExternalUserID, creds); err != nil {
		return nil, toConnectError(err)
	}
	s.logger.Info("User signed in", "user_id", state.ExternalUserID, "email", middleware.GetEmail(ctx))
	return s.info(), nil
}

// SignOut signs the current user out. Data stays on the device.
func (s *SessionService) SignOut(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	if err := s.session.SignOut(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.info(), nil
}

// SetSync turns cloud sync on or off.
func (s *SessionService) SetSync(ctx context.Context, req *connect.Request[SetSyncRequest]) (*connect.Response[SessionInfo], error) {
	if err := s.session.SetSyncEnabled(ctx, req.Msg.Enabled); err != nil {
		return nil, toConnectError(err)
	}
	return s.info(), nil
}

// RetrySeed re-runs default data seeding for the active identity.
func (s *SessionService) RetrySeed(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	if err := s.session.RetrySeed(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.info(), nil
}

// ListCategories lists one sibling group in display order.
func (s *SessionService) ListCategories(ctx context.Context, req *connect.Request[ListCategoriesRequest]) (*connect.Response[ListCategoriesResponse], error) {
	cats, err := s.ledger.ListCategories(ctx, models.CategoryType(req.Msg.Type), req.Msg.ParentID)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListCategoriesResponse{Categories: make([]CategoryInfo, len(cats))}
	for i, c := range cats {
		resp.Categories[i] = categoryInfo(c)
	}
	return connect.NewResponse(resp), nil
}

// MoveCategory reorders a category within its sibling group.
func (s *SessionService) MoveCategory(ctx context.Context, req *connect.Request[MoveCategoryRequest]) (*connect.Response[MoveCategoryResponse], error) {
	if req.Msg.CategoryID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("category_id is required"))
	}
	order, err := s.ledger.MoveCategory(ctx, req.Msg.CategoryID, req.Msg.Position)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MoveCategoryResponse{Order: order}), nil
}

// ListBalances returns the balance of every open account.
func (s *SessionService) ListBalances(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ListBalancesResponse], error) {
	balances, err := s.ledger.AccountBalances(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListBalancesResponse{Balances: make([]BalanceInfo, len(balances))}
	for i, b := range balances {
		resp.Balances[i] = BalanceInfo{
			AccountID: b.AccountID,
			Name:      b.Name,
			Currency:  b.Currency,
			Balance:   b.Balance.String(),
		}
	}
	return connect.NewResponse(resp), nil
}

// ListCategoryTotals sums transactions per category and currency.
func (s *SessionService) ListCategoryTotals(ctx context.Context, req *connect.Request[ListCategoryTotalsRequest]) (*connect.Response[ListCategoryTotalsResponse], error) {
	totals, err := s.ledger.CategoryTotals(ctx, req.Msg.AccountID)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ListCategoryTotalsResponse{Totals: make([]CategoryTotalInfo, len(totals))}
	for i, ct := range totals {
		resp.Totals[i] = CategoryTotalInfo{
			CategoryID: ct.CategoryID,
			Currency:   ct.Currency,
			Inflow:     ct.Inflow.String(),
			Outflow:    ct.Outflow.String(),
			Net:        ct.Net().String(),
			Count:      ct.Count,
		}
	}
	return connect.NewResponse(resp), nil
}

// toConnectError maps domain errors to connect codes.
func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, session.ErrMigrationInProgress),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, migrate.ErrSourceUnavailable),
		errors.Is(err, storage.ErrUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, session.ErrSyncRequiresSignIn),
		errors.Is(err, session.ErrEphemeralIdentity):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, migrate.ErrTransactionAborted):
		code = connect.CodeAborted
	case errors.Is(err, ledger.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, storage.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		code = connect.CodeUnauthenticated
	}
	return connect.NewError(code, err)
}
