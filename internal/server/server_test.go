package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxengine/internal/config"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
	"github.com/smallbiznis/taxengine/internal/ratelimit"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaxService struct {
	lastCreate    taxdomain.CreateRequest
	lastUpdate    taxdomain.UpdateRequest
	lastCalculate taxdomain.CalculateRequest
	lastOrgID     string
	err           error
}

func (f *fakeTaxService) recordOrg(ctx context.Context) {
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		f.lastOrgID = orgID.String()
	}
}

func (f *fakeTaxService) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	f.recordOrg(ctx)
	f.lastCreate = req
	if f.err != nil {
		return nil, f.err
	}
	return &taxdomain.Response{ID: "1", Code: req.Code, Name: req.Name, CombinationMode: req.CombinationMode, IsEnabled: true}, nil
}

func (f *fakeTaxService) List(ctx context.Context, req taxdomain.ListRequest) ([]taxdomain.Response, error) {
	f.recordOrg(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return []taxdomain.Response{{ID: "1", Code: "DE"}}, nil
}

func (f *fakeTaxService) Get(ctx context.Context, code string) (*taxdomain.Response, error) {
	f.recordOrg(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &taxdomain.Response{Code: code, BuiltIn: true}, nil
}

func (f *fakeTaxService) Update(ctx context.Context, req taxdomain.UpdateRequest) (*taxdomain.Response, error) {
	f.recordOrg(ctx)
	f.lastUpdate = req
	if f.err != nil {
		return nil, f.err
	}
	return &taxdomain.Response{ID: req.ID}, nil
}

func (f *fakeTaxService) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	f.recordOrg(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &taxdomain.Response{ID: id, IsEnabled: false}, nil
}

func (f *fakeTaxService) Calculate(ctx context.Context, req taxdomain.CalculateRequest) (*taxdomain.CalculationResponse, error) {
	f.recordOrg(ctx)
	f.lastCalculate = req
	if f.err != nil {
		return nil, f.err
	}
	return &taxdomain.CalculationResponse{
		CalculationMode: req.CalculationMode,
		NetAmount:       req.Amount,
		GrossAmount:     req.Amount.Mul(decimal.RequireFromString("1.2")),
		TaxAmount:       req.Amount.Mul(decimal.RequireFromString("0.2")),
	}, nil
}

func newTestRouter(svc taxdomain.Service, limiter *ratelimit.CalculateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:              router,
		Cfg:              config.Config{},
		TaxSvc:           svc,
		CalculateLimiter: limiter,
	})
	return router
}

func doRequest(router *gin.Engine, method, path, orgID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if orgID != "" {
		req.Header.Set(HeaderOrg, orgID)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestRoutesRequireOrgHeader(t *testing.T) {
	router := newTestRouter(&fakeTaxService{}, nil)

	for _, orgID := range []string{"", "acme", "0"} {
		resp := doRequest(router, http.MethodGet, "/api/tax/classes", orgID, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code, "org %q", orgID)
		payload := decodeError(t, resp)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, "org_required", payload.Errors[0].Code)
	}
}

func TestCalculateTaxHandler(t *testing.T) {
	svc := &fakeTaxService{}
	router := newTestRouter(svc, nil)

	resp := doRequest(router, http.MethodPost, "/api/tax/calculate", "42",
		`{"tax_class_code":" DE ","calculation_mode":"gross","amount":"119.00","entries":[{"name":"VAT","percent":19}]}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	assert.Equal(t, "42", svc.lastOrgID)
	assert.Equal(t, "DE", svc.lastCalculate.TaxClassCode)
	assert.Equal(t, taxdomain.CalculationFromGross, svc.lastCalculate.CalculationMode)
	assert.True(t, svc.lastCalculate.Amount.Equal(decimal.NewFromInt(119)))
	require.Len(t, svc.lastCalculate.Entries, 1)
	assert.True(t, svc.lastCalculate.Entries[0].Percent.Equal(decimal.NewFromInt(19)))

	var body struct {
		Data taxdomain.CalculationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Data.NetAmount.Equal(decimal.NewFromInt(119)))
}

func TestCalculateTaxHandlerRequiresAmount(t *testing.T) {
	router := newTestRouter(&fakeTaxService{}, nil)

	resp := doRequest(router, http.MethodPost, "/api/tax/calculate", "42", `{"tax_class_code":"DE"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_amount", decodeError(t, resp).Errors[0].Code)

	resp = doRequest(router, http.MethodPost, "/api/tax/calculate", "42", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_request", decodeError(t, resp).Errors[0].Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported calculation", &taxdomain.UnsupportedError{Err: taxdomain.ErrUnsupportedCalculationMode, Value: "invalid"}, http.StatusBadRequest, "unsupported_calculation_mode"},
		{"unsupported combination", &taxdomain.UnsupportedError{Err: taxdomain.ErrUnsupportedCombinationMode, Value: "stacked"}, http.StatusBadRequest, "unsupported_combination_mode"},
		{"wrapped rate", fmt.Errorf("entry 0: %w", taxdomain.ErrInvalidTaxRate), http.StatusBadRequest, "invalid_tax_rate"},
		{"disabled", taxdomain.ErrTaxClassDisabled, http.StatusBadRequest, "tax_class_disabled"},
		{"not found", taxdomain.ErrNotFound, http.StatusNotFound, ""},
		{"duplicate", taxdomain.ErrDuplicateCode, http.StatusConflict, ""},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeTaxService{err: tc.err}, nil)
			resp := doRequest(router, http.MethodPost, "/api/tax/calculate", "42", `{"amount":1}`)
			assert.Equal(t, tc.status, resp.Code)
			payload := decodeError(t, resp)
			if tc.code != "" {
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			}
		})
	}
}

func TestUnsupportedModeMessageNamesValue(t *testing.T) {
	_, payload := mapError(&taxdomain.UnsupportedError{Err: taxdomain.ErrUnsupportedCombinationMode, Value: "stacked"})
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "combination_mode", payload.Errors[0].Field)
	assert.Equal(t, "combination mode [stacked] cannot be recalculated", payload.Errors[0].Message)

	errType, errCode := classifyErrorForLog(taxdomain.ErrDuplicateCode)
	assert.Equal(t, "conflict", errType)
	assert.Equal(t, "conflict", errCode)
}

func TestTaxClassHandlers(t *testing.T) {
	svc := &fakeTaxService{}
	router := newTestRouter(svc, nil)

	resp := doRequest(router, http.MethodPost, "/api/tax/classes", "7",
		`{"code":" CA_QC ","name":"Quebec","combination_mode":"one_after_another","entries":[{"name":"GST","percent":"5"},{"name":"QST","percent":"9.975"}],"description":"  "}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "CA_QC", svc.lastCreate.Code)
	assert.Equal(t, taxdomain.CombinationOneAfterAnother, svc.lastCreate.CombinationMode)
	require.Len(t, svc.lastCreate.Entries, 2)
	require.NotNil(t, svc.lastCreate.Description)
	assert.Empty(t, *svc.lastCreate.Description)

	resp = doRequest(router, http.MethodGet, "/api/tax/classes?is_enabled=true&sort_by=name", "7", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(router, http.MethodGet, "/api/tax/classes?is_enabled=maybe", "7", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doRequest(router, http.MethodGet, "/api/tax/classes/EU_VAT_STANDARD", "7", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"built_in":true`)

	resp = doRequest(router, http.MethodPatch, "/api/tax/classes/99", "7", `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "99", svc.lastUpdate.ID)
	assert.Nil(t, svc.lastUpdate.Entries)
	assert.Nil(t, svc.lastUpdate.CombinationMode)

	resp = doRequest(router, http.MethodPost, "/api/tax/classes/99/disable", "7", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"is_enabled":false`)
}

func TestCalculateRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewCalculateLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:        true,
		CalculateRate:  0.1,
		CalculateBurst: 1,
	}}, client)
	require.NoError(t, err)

	router := newTestRouter(&fakeTaxService{}, limiter)

	resp := doRequest(router, http.MethodPost, "/api/tax/calculate", "42", `{"amount":1}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("X-RateLimit-Limit"))

	resp = doRequest(router, http.MethodPost, "/api/tax/calculate", "42", `{"amount":1}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, rateLimitReasonOrgRate, resp.Header().Get("X-Rate-Limited-Reason"))
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))

	resp = doRequest(router, http.MethodPost, "/api/tax/calculate", "43", `{"amount":1}`)
	assert.Equal(t, http.StatusOK, resp.Code)

	// other routes are not throttled
	resp = doRequest(router, http.MethodGet, "/api/tax/classes", "42", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}
