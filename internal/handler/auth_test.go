package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/ticket-gate/internal/config"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/utils"
)

var userCols = []string{"id", "email", "full_name", "password_hash", "role", "is_active", "created_at", "updated_at"}

func newAuth(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := config.Config{JWTSecret: "jwt-secret", AccessTTLMin: 15, RefreshTTLDays: 7}
	return NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), nil), mock
}

func postJSON(path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestLogin_Success(t *testing.T) {
	h, mock := newAuth(t)
	hash, err := utils.HashPassword("door-pass", bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=?")).
		WithArgs("staff@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("A1", "staff@example.com", "Staff", hash, "ADMIN", true, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WithArgs("A1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, rec := postJSON("/v1/auth/login", `{"email":" Staff@Example.com ","password":"door-pass"}`)
	require.NoError(t, h.Login(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"ADMIN"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_RejectsBadPasswordAndInactive(t *testing.T) {
	hash, err := utils.HashPassword("door-pass", bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now()

	for _, tc := range []struct {
		name     string
		password string
		active   bool
	}{
		{"wrong password", "nope", true},
		{"inactive", "door-pass", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, mock := newAuth(t)
			mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=?")).
				WillReturnRows(sqlmock.NewRows(userCols).AddRow("A1", "staff@example.com", "Staff", hash, "ADMIN", tc.active, now, now))

			c, rec := postJSON("/v1/auth/login", `{"email":"staff@example.com","password":"`+tc.password+`"}`)
			require.NoError(t, h.Login(c))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	h, mock := newAuth(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=?")).
		WillReturnRows(sqlmock.NewRows(userCols))

	c, rec := postJSON("/v1/auth/login", `{"email":"x@example.com","password":"p"}`)
	require.NoError(t, h.Login(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_LostRaceIsUnauthorized(t *testing.T) {
	h, mock := newAuth(t)
	hash := utils.HashRefreshRaw("raw-token")
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=?")).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow("A1", time.Now().Add(time.Hour), nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at=NOW()")).
		WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c, rec := postJSON("/v1/auth/refresh", `{"refresh_token":"raw-token"}`)
	require.NoError(t, h.Refresh(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_UnknownOrRevokedTokenIsUnauthorized(t *testing.T) {
	h, mock := newAuth(t)
	hash := utils.HashRefreshRaw("raw-token")
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=?")).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow("A1", time.Now().Add(time.Hour), time.Now()))

	c, rec := postJSON("/v1/auth/refresh", `{"refresh_token":"raw-token"}`)
	require.NoError(t, h.Refresh(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_StoreErrorIsServerError(t *testing.T) {
	h, mock := newAuth(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=?")).
		WithArgs(utils.HashRefreshRaw("raw-token")).
		WillReturnError(errors.New("connection reset by peer"))

	c, rec := postJSON("/v1/auth/refresh", `{"refresh_token":"raw-token"}`)
	require.NoError(t, h.Refresh(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogout(t *testing.T) {
	h, mock := newAuth(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at=NOW()")).
		WithArgs(utils.HashRefreshRaw("raw-token")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, rec := postJSON("/v1/auth/logout", `{"refresh_token":"raw-token"}`)
	require.NoError(t, h.Logout(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, rec = postJSON("/v1/auth/logout", `{}`)
	require.NoError(t, h.Logout(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
