package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-gate/internal/issuance"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/redemption"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/ticket"
)

type orderTable struct {
	mu     sync.Mutex
	orders map[string]*model.Order
	err    error
}

func (s *orderTable) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *orderTable) MarkUsedIfUnused(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.QRCodeUsed {
		return false, nil
	}
	o.QRCodeUsed, o.QRCodeUsedAt = true, &at
	return true, nil
}

func (s *orderTable) ResetUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.QRCodeUsed, o.QRCodeUsedAt = false, nil
	}
	return nil
}

type mockIssuer struct{ mock.Mock }

func (m *mockIssuer) Issue(ctx context.Context, orderID string) (*issuance.Ticket, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*issuance.Ticket), args.Error(1)
}

func (m *mockIssuer) Image(ctx context.Context, orderID string, who issuance.Requester) ([]byte, error) {
	args := m.Called(ctx, orderID, who)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type fixture struct {
	codec   *ticket.Codec
	store   *orderTable
	issuer  *mockIssuer
	handler *TicketHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := ticket.NewCodec("handler-secret")
	require.NoError(t, err)
	store := &orderTable{orders: map[string]*model.Order{
		"O1": {ID: "O1", UserID: "U1", EventID: "E1", Status: model.OrderPaid, UserName: "Ana", EventTitle: "Festival"},
		"O2": {ID: "O2", UserID: "U2", EventID: "E1", Status: model.OrderPending},
	}}
	iss := new(mockIssuer)
	return &fixture{
		codec:   codec,
		store:   store,
		issuer:  iss,
		handler: NewTicketHandler(redemption.NewService(codec, store), iss, nil),
	}
}

func (f *fixture) payload(t *testing.T, orderID, eventID, userID string) string {
	t.Helper()
	p, err := f.codec.Issue(orderID, eventID, userID)
	require.NoError(t, err)
	return p
}

func asAdmin(c echo.Context) {
	c.Set("user_id", "A1")
	c.Set("role", model.RoleAdmin)
}

func postVerify(t *testing.T, h *TicketHandler, qr string) (*httptest.ResponseRecorder, verifyResp) {
	t.Helper()
	body, _ := json.Marshal(verifyReq{QRCodeData: qr})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/verify-ticket", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	asAdmin(c)

	require.NoError(t, h.VerifyTicket(c))
	var out verifyResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestVerifyTicket_AdmitsOnceThenConflict(t *testing.T) {
	f := newFixture(t)
	qr := f.payload(t, "O1", "E1", "U1")

	rec, out := postVerify(t, f.handler, qr)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, out.Success)
	assert.Equal(t, "REDEEMED", out.Code)
	assert.Equal(t, "Ana", out.UserName)
	assert.Equal(t, "Festival", out.EventTitle)

	rec, out = postVerify(t, f.handler, qr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, out.Success)
	assert.Equal(t, "ALREADY_USED", out.Code)
}

func TestVerifyTicket_Rejections(t *testing.T) {
	f := newFixture(t)
	good := f.payload(t, "O1", "E1", "U1")
	tampered := strings.Replace(good, `"userId":"U1"`, `"userId":"U9"`, 1)

	cases := []struct {
		name   string
		qr     string
		status int
		code   string
	}{
		{"not json", "hello", http.StatusBadRequest, "MALFORMED_PAYLOAD"},
		{"tampered", tampered, http.StatusBadRequest, "CHECKSUM_MISMATCH"},
		{"unknown order", f.payload(t, "O404", "E1", "U1"), http.StatusNotFound, "ORDER_NOT_FOUND"},
		{"unpaid", f.payload(t, "O2", "E1", "U2"), http.StatusBadRequest, "PAYMENT_NOT_CONFIRMED"},
		{"missing", "  ", http.StatusBadRequest, "MISSING_QR_CODE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := postVerify(t, f.handler, tc.qr)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, out.Code)
			assert.False(t, out.Success)
		})
	}
	assert.False(t, f.store.orders["O1"].QRCodeUsed)
}

func TestVerifyTicket_StoreErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection reset")

	rec, out := postVerify(t, f.handler, f.payload(t, "O1", "E1", "U1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", out.Code)
}

func TestResetTicket(t *testing.T) {
	f := newFixture(t)
	qr := f.payload(t, "O1", "E1", "U1")
	_, out := postVerify(t, f.handler, qr)
	require.True(t, out.Success)

	reset := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/reset-ticket/"+id, nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("orderId")
		c.SetParamValues(id)
		asAdmin(c)
		require.NoError(t, f.handler.ResetTicket(c))
		return rec
	}

	assert.Equal(t, http.StatusOK, reset("O1").Code)
	assert.Equal(t, http.StatusNotFound, reset("O404").Code)

	_, out = postVerify(t, f.handler, qr)
	assert.True(t, out.Success)
}

func TestIssueTicket(t *testing.T) {
	f := newFixture(t)
	f.issuer.On("Issue", mock.Anything, "O1").Return(&issuance.Ticket{OrderID: "O1", Payload: "p", ImageURL: "u"}, nil)
	f.issuer.On("Issue", mock.Anything, "O2").Return(nil, issuance.ErrNotRedeemable)
	f.issuer.On("Issue", mock.Anything, "O3").Return(nil, repository.ErrNotFound)

	issue := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/orders/"+id+"/ticket", nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		require.NoError(t, f.handler.IssueTicket(c))
		return rec
	}

	rec := issue("O1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"orderId":"O1","qrCodeData":"p","qrCodeS3Url":"u"}`, rec.Body.String())
	assert.Equal(t, http.StatusConflict, issue("O2").Code)
	assert.Equal(t, http.StatusNotFound, issue("O3").Code)
}

func TestTicketImage(t *testing.T) {
	f := newFixture(t)
	owner := issuance.Requester{UserID: "U1"}
	other := issuance.Requester{UserID: "U2"}
	f.issuer.On("Image", mock.Anything, "O1", owner).Return([]byte("\x89PNG"), nil)
	f.issuer.On("Image", mock.Anything, "O1", other).Return(nil, repository.ErrForbidden)

	get := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders/O1/qr.png", nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("O1")
		c.Set("user_id", uid)
		c.Set("role", model.RoleCustomer)
		require.NoError(t, f.handler.TicketImage(c))
		return rec
	}

	rec := get("U1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "\x89PNG", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("U2").Code)
	f.issuer.AssertExpectations(t)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	for _, tc := range []struct {
		name   string
		db     Pinger
		status int
	}{
		{"no db", nil, http.StatusOK},
		{"db up", pingFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"db down", pingFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
			require.NoError(t, Health(tc.db)(c))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
