package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/middleware"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/services"
	"github.com/HSouheill/barrim_referral/utils"
)

const testSecret = "test-secret"

type echoValidator struct {
	validator *validator.Validate
}

func (v *echoValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	log := zap.NewNop()
	store := repositories.NewMemoryStore()

	network := services.NewNetworkService(store.Network, log, services.DefaultDescendantDepth)
	rates := services.NewRateConfigService(store.Rates, log)
	commission := services.NewCommissionService(network, rates, store.Ledger, utils.Currency{Code: "PKR", MinorUnits: 2}, log)
	analytics := services.NewAnalyticsService(network, store.Ledger, nil, time.Minute, log)

	e := echo.New()
	e.Validator = &echoValidator{validator: utils.NewValidator()}
	SetupRoutes(e, testSecret, Controllers{
		Health:     controllers.NewHealthController("memory", false),
		Members:    controllers.NewMemberController(network, commission, "https://barrim.test", log),
		Commission: controllers.NewCommissionController(commission, log),
		Analytics:  controllers.NewAnalyticsController(analytics, log),
		Rates:      controllers.NewRateConfigController(rates, log),
	})
	return &apiClient{t: t, e: e}
}

func (a *apiClient) token(userID, userType string) string {
	a.t.Helper()
	tok, err := middleware.GenerateJWT(testSecret, userID, userType, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *apiClient) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}

var defaultRates = map[string]interface{}{
	"levelRates":            []string{"0.20", "0.15", "0.10", "0.08", "0.07"},
	"maxLevels":             5,
	"minimumPayout":         "500",
	"payoutSchedule":        "monthly",
	"taskCommissionRate":    "0",
	"productCommissionRate": "0",
	"minimumCreditUnit":     "0.01",
}

func (a *apiClient) register(token, name, code string) models.Member {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/members", token, map[string]string{
		"displayName":         name,
		"sponsorReferralCode": code,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var m models.Member
	decode(a.t, rec, &m)
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "memory", health["storage"])
	assert.Equal(t, "disabled", health["cache"])

	rec = api.do(http.MethodHead, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/api/members/anyone", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/members/anyone", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := middleware.GenerateJWT("other-secret", "x", middleware.UserTypeAdmin, time.Hour)
	require.NoError(t, err)
	rec = api.do(http.MethodGet, "/api/admin/rate-config", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireJSONOnWrites(t *testing.T) {
	api := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/members", bytes.NewBufferString("displayName=x"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+api.token("svc", middleware.UserTypeService))
	rec := httptest.NewRecorder()
	api.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestMemberLifecycle(t *testing.T) {
	api := newAPI(t)
	svc := api.token("checkout", middleware.UserTypeService)
	admin := api.token("ops", middleware.UserTypeAdmin)

	root := api.register(svc, "Root", "")
	assert.Regexp(t, `^MBR-[A-Z2-7]{6}$`, root.ReferralCode)
	child := api.register(svc, "Child", root.ReferralCode)
	assert.Equal(t, root.ID, child.SponsorID)

	t.Run("validation envelope", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/members", svc, map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var fields map[string]string
		env := decode(t, rec, &fields)
		assert.Equal(t, http.StatusBadRequest, env.Status)
		assert.Equal(t, "required", fields["displayName"])
	})

	t.Run("unknown referral code", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/members", svc, map[string]string{
			"displayName":         "Lost",
			"sponsorReferralCode": "MBR-ZZZZZZ",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("members cannot register", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/members", api.token(root.ID, middleware.UserTypeMember), map[string]string{
			"displayName": "Self",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("cycle rejected", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/members/"+root.ID+"/sponsor", svc, map[string]interface{}{
			"sponsorId": child.ID,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("reparent needs admin", func(t *testing.T) {
		other := api.register(svc, "Other", "")
		body := map[string]interface{}{"sponsorId": other.ID, "allowReparent": true}

		rec := api.do(http.MethodPost, "/api/members/"+child.ID+"/sponsor", svc, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = api.do(http.MethodPost, "/api/members/"+child.ID+"/sponsor", admin, map[string]interface{}{"sponsorId": other.ID})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = api.do(http.MethodPost, "/api/members/"+child.ID+"/sponsor", admin, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var moved models.Member
		decode(t, rec, &moved)
		assert.Equal(t, other.ID, moved.SponsorID)
	})

	t.Run("missing member", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/members/nobody", svc, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("self access only", func(t *testing.T) {
		mine := api.token(child.ID, middleware.UserTypeMember)
		rec := api.do(http.MethodGet, "/api/members/"+child.ID+"/balance", mine, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(http.MethodGet, "/api/members/"+root.ID+"/balance", mine, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deactivate", func(t *testing.T) {
		rec := api.do(http.MethodPut, "/api/members/"+child.ID+"/status", svc, map[string]bool{"isActive": false})
		require.Equal(t, http.StatusOK, rec.Code)
		var m models.Member
		decode(t, rec, &m)
		assert.False(t, m.IsActive)

		rec = api.do(http.MethodPut, "/api/members/"+child.ID+"/status", svc, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("referral qr code", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/members/"+root.ID+"/referral-qrcode", api.token(root.ID, middleware.UserTypeMember), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var data map[string]string
		decode(t, rec, &data)
		assert.Equal(t, "https://barrim.test/referral?code="+root.ReferralCode, data["referralLink"])
		assert.Contains(t, data["qrCode"], "data:image/png;base64,")
	})
}

func TestCommissionFlow(t *testing.T) {
	api := newAPI(t)
	svc := api.token("checkout", middleware.UserTypeService)
	admin := api.token("ops", middleware.UserTypeAdmin)

	root := api.register(svc, "Root", "")
	mid := api.register(svc, "Mid", root.ReferralCode)
	buyer := api.register(svc, "Buyer", mid.ReferralCode)

	event := map[string]interface{}{
		"eventId":    "order-1001",
		"kind":       "SALE",
		"memberId":   buyer.ID,
		"baseAmount": "1000",
	}

	rec := api.do(http.MethodPost, "/api/commission-events", svc, event)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = api.do(http.MethodPut, "/api/admin/rate-config", admin, defaultRates)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/commission-events", svc, event)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res models.DistributionResult
	decode(t, rec, &res)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.StatusDone, res.Record.Status)
	assert.Equal(t, "350.00", res.Record.TotalCredited.StringFixed(2))
	require.Len(t, res.Entries, 2)

	rec = api.do(http.MethodPost, "/api/commission-events", svc, event)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.True(t, res.Duplicate)

	event["baseAmount"] = "999"
	rec = api.do(http.MethodPost, "/api/commission-events", svc, event)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/commission-events", svc, map[string]interface{}{
		"eventId":    "order-1002",
		"kind":       "SALE",
		"memberId":   buyer.ID,
		"baseAmount": "0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	decode(t, rec, &fields)
	assert.Equal(t, "gt", fields["baseAmount"])

	rec = api.do(http.MethodGet, "/api/members/"+mid.ID+"/balance", api.token(mid.ID, middleware.UserTypeMember), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal models.MemberBalance
	decode(t, rec, &bal)
	assert.Equal(t, "200.00", bal.Balance.StringFixed(2))
	assert.Equal(t, "PKR", bal.Currency)

	rec = api.do(http.MethodGet, "/api/commission-events/order-1001", svc, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodGet, "/api/commission-events/order-404", svc, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	reason := map[string]string{"reason": "refunded"}
	rec = api.do(http.MethodPost, "/api/commission-events/order-1001/reverse", svc, reason)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodPost, "/api/commission-events/order-1001/reverse", admin, reason)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do(http.MethodPost, "/api/commission-events/order-1001/reverse", admin, reason)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/members/"+mid.ID+"/ledger?limit=10", svc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LedgerEntry
	decode(t, rec, &entries)
	assert.Len(t, entries, 2)

	rec = api.do(http.MethodGet, "/api/members/"+mid.ID+"/ledger?limit=0", svc, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRateConfig(t *testing.T) {
	api := newAPI(t)
	admin := api.token("ops", middleware.UserTypeAdmin)

	rec := api.do(http.MethodGet, "/api/admin/rate-config", api.token("checkout", middleware.UserTypeService), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/admin/rate-config", admin, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	bad := map[string]interface{}{}
	for k, v := range defaultRates {
		bad[k] = v
	}
	bad["levelRates"] = []string{"0.6", "0.5"}
	bad["maxLevels"] = 2
	rec = api.do(http.MethodPut, "/api/admin/rate-config", admin, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	decode(t, rec, &fields)
	assert.Contains(t, fields, "totalRate")

	rec = api.do(http.MethodPost, "/api/admin/rate-config/proposals", admin, defaultRates)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var proposed models.RateConfig
	decode(t, rec, &proposed)
	assert.False(t, proposed.Active)

	rec = api.do(http.MethodPost, "/api/admin/rate-config/999/activate", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(http.MethodPost, "/api/admin/rate-config/latest/activate", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/api/admin/rate-config/1/activate", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/api/admin/rate-config", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active models.RateConfigResponse
	decode(t, rec, &active)
	assert.True(t, active.Config.Active)
	assert.Equal(t, 1, active.NextPayoutDate.Day())

	rec = api.do(http.MethodGet, "/api/admin/rate-config/versions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []models.RateConfig
	decode(t, rec, &versions)
	assert.Len(t, versions, 1)
}

func TestAdminAnalytics(t *testing.T) {
	api := newAPI(t)
	svc := api.token("checkout", middleware.UserTypeService)
	admin := api.token("ops", middleware.UserTypeAdmin)

	root := api.register(svc, "Root", "")
	a := api.register(svc, "A", root.ReferralCode)
	api.register(svc, "A1", a.ReferralCode)

	rec := api.do(http.MethodGet, "/api/admin/network/"+root.ID+"?depth=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap models.NetworkSnapshot
	decode(t, rec, &snap)
	assert.Equal(t, 2, snap.TotalMembers)
	assert.True(t, snap.DepthLimitReached)

	rec = api.do(http.MethodGet, "/api/admin/network/"+root.ID+"?depth=zero", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/admin/analytics/overview", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var overview models.AnalyticsOverview
	decode(t, rec, &overview)
	assert.Equal(t, 3, overview.TotalMembers)

	rec = api.do(http.MethodGet, "/api/admin/analytics/overview?from=2024-13-01", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/admin/analytics/members/"+a.ID, admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/admin/analytics/overview", svc, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
