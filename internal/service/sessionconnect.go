package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/middleware"
)

// SessionServiceName is the fully-qualified name of the session service.
const SessionServiceName = "pocketledger.v1.SessionService"

// Procedure paths of the session service.
const (
	GetSessionProcedure     = "/" + SessionServiceName + "/GetSession"
	SignInProcedure         = "/" + SessionServiceName + "/SignIn"
	SignOutProcedure        = "/" + SessionServiceName + "/SignOut"
	SetSyncProcedure        = "/" + SessionServiceName + "/SetSync"
	RetrySeedProcedure      = "/" + SessionServiceName + "/RetrySeed"
	ListCategoriesProcedure = "/" + SessionServiceName + "/ListCategories"
	MoveCategoryProcedure   = "/" + SessionServiceName + "/MoveCategory"
	ListBalancesProcedure   = "/" + SessionServiceName + "/ListBalances"

	ListCategoryTotalsProcedure = "/" + SessionServiceName + "/ListCategoryTotals"
)

// NewSessionServiceHandler builds an HTTP handler for svc and returns the
// path to mount it on. SignIn rejects requests without a token verified
// by verifier; the other procedures also serve guests.
func NewSessionServiceHandler(svc *SessionService, verifier auth.Verifier, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	signedIn := append(opts[:len(opts):len(opts)], connect.WithInterceptors(middleware.RequireAuth(verifier)))

	mux := http.NewServeMux()
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...))
	mux.Handle(SignInProcedure, connect.NewUnaryHandler(SignInProcedure, svc.SignIn, signedIn...))
	mux.Handle(SignOutProcedure, connect.NewUnaryHandler(SignOutProcedure, svc.SignOut, opts...))
	mux.Handle(SetSyncProcedure, connect.NewUnaryHandler(SetSyncProcedure, svc.SetSync, opts...))
	mux.Handle(RetrySeedProcedure, connect.NewUnaryHandler(RetrySeedProcedure, svc.RetrySeed, opts...))
	mux.Handle(ListCategoriesProcedure, connect.NewUnaryHandler(ListCategoriesProcedure, svc.ListCategories, opts...))
	mux.Handle(MoveCategoryProcedure, connect.NewUnaryHandler(MoveCategoryProcedure, svc.MoveCategory, opts...))
	mux.Handle(ListBalancesProcedure, connect.NewUnaryHandler(ListBalancesProcedure, svc.ListBalances, opts...))
	mux.Handle(ListCategoryTotalsProcedure, connect.NewUnaryHandler(ListCategoryTotalsProcedure, svc.ListCategoryTotals, opts...))
	return "/" + SessionServiceName + "/", mux
}

// SessionServiceClient calls a remote SessionService.
type SessionServiceClient struct {
	getSession     *connect.Client[Empty, SessionInfo]
	signIn         *connect.Client[Empty, SessionInfo]
	signOut        *connect.Client[Empty, SessionInfo]
	setSync        *connect.Client[SetSyncRequest, SessionInfo]
	retrySeed      *connect.Client[Empty, SessionInfo]
	listCategories *connect.Client[ListCategoriesRequest, ListCategoriesResponse]
	moveCategory   *connect.Client[MoveCategoryRequest, MoveCategoryResponse]
	listBalances   *connect.Client[Empty, ListBalancesResponse]
	listTotals     *connect.Client[ListCategoryTotalsRequest, ListCategoryTotalsResponse]
}

// NewSessionServiceClient creates a client for the service at baseURL.
func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &SessionServiceClient{
		getSession:     connect.NewClient[Empty, SessionInfo](httpClient, baseURL+GetSessionProcedure, opts...),
		signIn:         connect.NewClient[Empty, SessionInfo](httpClient, baseURL+SignInProcedure, opts...),
		signOut:        connect.NewClient[Empty, SessionInfo](httpClient, baseURL+SignOutProcedure, opts...),
		setSync:        connect.NewClient[SetSyncRequest, SessionInfo](httpClient, baseURL+SetSyncProcedure, opts...),
		retrySeed:      connect.NewClient[Empty, SessionInfo](httpClient, baseURL+RetrySeedProcedure, opts...),
		listCategories: connect.NewClient[ListCategoriesRequest, ListCategoriesResponse](httpClient, baseURL+ListCategoriesProcedure, opts...),
		moveCategory:   connect.NewClient[MoveCategoryRequest, MoveCategoryResponse](httpClient, baseURL+MoveCategoryProcedure, opts...),
		listBalances:   connect.NewClient[Empty, ListBalancesResponse](httpClient, baseURL+ListBalancesProcedure, opts...),
		listTotals:     connect.NewClient[ListCategoryTotalsRequest, ListCategoryTotalsResponse](httpClient, baseURL+ListCategoryTotalsProcedure, opts...),
	}
}

func (c *SessionServiceClient) GetSession(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	return c.getSession.CallUnary(ctx, req)
}

func (c *SessionServiceClient) SignIn(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	return c.signIn.CallUnary(ctx, req)
}

func (c *SessionServiceClient) SignOut(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	return c.signOut.CallUnary(ctx, req)
}

func (c *SessionServiceClient) SetSync(ctx context.Context, req *connect.Request[SetSyncRequest]) (*connect.Response[SessionInfo], error) {
	return c.setSync.CallUnary(ctx, req)
}

func (c *SessionServiceClient) RetrySeed(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SessionInfo], error) {
	return c.retrySeed.CallUnary(ctx, req)
}

func (c *SessionServiceClient) ListCategories(ctx context.Context, req *connect.Request[ListCategoriesRequest]) (*connect.Response[ListCategoriesResponse], error) {
	return c.listCategories.CallUnary(ctx, req)
}

func (c *SessionServiceClient) MoveCategory(ctx context.Context, req *connect.Request[MoveCategoryRequest]) (*connect.Response[MoveCategoryResponse], error) {
	return c.moveCategory.CallUnary(ctx, req)
}

func (c *SessionServiceClient) ListBalances(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ListBalancesResponse], error) {
	return c.listBalances.CallUnary(ctx, req)
}

func (c *SessionServiceClient) ListCategoryTotals(ctx context.Context, req *connect.Request[ListCategoryTotalsRequest]) (*connect.Response[ListCategoryTotalsResponse], error) {
	return c.listTotals.CallUnary(ctx, req)
}
