package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/x12"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func claimsBody(t *testing.T, claims ...*x12.Claim) string {
	t.Helper()
	b, err := json.Marshal(claimsRequest{Claims: claims})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
	return he
}

// -- Claim Handler Tests --

func TestHandler_ValidateClaim(t *testing.T) {
	h, _, e := newTestHandler()
	bad := testClaim("CLM1")
	bad.Subscriber.MemberID = ""
	body, _ := json.Marshal(bad)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", string(body)), rec)

	if err := h.ValidateClaim(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var res x12.ValidationResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.IsValid {
		t.Error("expected invalid result")
	}
}

func TestHandler_GenerateClaims_X12(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/?format=x12", claimsBody(t, testClaim("CLM1"))), rec)

	if err := h.GenerateClaims(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(rec.Body.String(), "ISA*") {
		t.Errorf("expected raw interchange, got %q", rec.Body.String())
	}
}

func TestHandler_GenerateClaims_Invalid(t *testing.T) {
	h, _, e := newTestHandler()
	bad := testClaim("CLM1")
	bad.ServiceLines = nil
	c := e.NewContext(jsonRequest(http.MethodPost, "/", claimsBody(t, bad)), httptest.NewRecorder())

	he := expectHTTPError(t, h.GenerateClaims(c), http.StatusUnprocessableEntity)
	msg, ok := he.Message.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map message, got %T", he.Message)
	}
	errs, ok := msg["errors"].(map[string][]string)
	if !ok || len(errs["CLM1"]) == 0 {
		t.Errorf("expected errors for CLM1, got %v", msg["errors"])
	}
}

func TestHandler_SubmitClaims(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", claimsBody(t, testClaim("CLM1"))), rec)

	if err := h.SubmitClaims(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["submission_id"] != "SUB-1" {
		t.Errorf("expected SUB-1, got %v", body["submission_id"])
	}
	if _, ok := body["content"]; ok {
		t.Error("expected file content to be omitted")
	}
}

func TestHandler_SubmitClaims_Empty(t *testing.T) {
	h, env, e := newTestHandler()
	env.ch.submitErr = clearinghouse.ErrNoClaims
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"claims":[]}`), httptest.NewRecorder())

	expectHTTPError(t, h.SubmitClaims(c), http.StatusBadRequest)
}

func TestHandler_SubmitClaims_NotConfigured(t *testing.T) {
	h, env, e := newTestHandler()
	env.ch.configured = false
	c := e.NewContext(jsonRequest(http.MethodPost, "/", claimsBody(t, testClaim("CLM1"))), httptest.NewRecorder())

	expectHTTPError(t, h.SubmitClaims(c), http.StatusServiceUnavailable)
}

func TestHandler_SubmitClaims_Transport(t *testing.T) {
	h, env, e := newTestHandler()
	env.ch.submitErr = &clearinghouse.TransportError{Op: "submit claims", StatusCode: 500, Err: errors.New("secret upstream detail")}
	c := e.NewContext(jsonRequest(http.MethodPost, "/", claimsBody(t, testClaim("CLM1"))), httptest.NewRecorder())

	he := expectHTTPError(t, h.SubmitClaims(c), http.StatusBadGateway)
	if strings.Contains(he.Message.(string), "secret") {
		t.Error("expected upstream detail to be hidden")
	}
}

// -- Submission Handler Tests --

func TestHandler_GetSubmission(t *testing.T) {
	h, env, e := newTestHandler()
	sub := submitOne(t, env, "CLM1")
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(sub.ID.String())

	if err := h.GetSubmission(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetSubmission_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPError(t, h.GetSubmission(c), http.StatusNotFound)
}

func TestHandler_GetSubmission_BadID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectHTTPError(t, h.GetSubmission(c), http.StatusBadRequest)
}

func TestHandler_RefreshAcknowledgment(t *testing.T) {
	h, env, e := newTestHandler()
	sub := submitOne(t, env, "CLM1")
	env.ch.acks[sub.ExternalID] = &clearinghouse.AcknowledgmentResult{Status: clearinghouse.StatusAccepted}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(sub.ID.String())

	if err := h.RefreshAcknowledgment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "accepted" {
		t.Errorf("expected accepted, got %v", body["status"])
	}
}

func TestHandler_ListSubmissions(t *testing.T) {
	h, env, e := newTestHandler()
	submitOne(t, env, "CLM1")
	submitOne(t, env, "CLM2")
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/billing/submissions?status=submitted", nil), rec)

	if err := h.ListSubmissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", body["total"])
	}
}

func TestHandler_SubmissionHistory_BadDays(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?days=0", nil), httptest.NewRecorder())

	expectHTTPError(t, h.SubmissionHistory(c), http.StatusBadRequest)
}

// -- Remittance Handler Tests --

func TestHandler_PostRemittance(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(sample835("100.00")))
	req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
	c := e.NewContext(req, rec)

	if err := h.PostRemittance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["balanced"] != true {
		t.Errorf("expected balanced, got %v", body["balanced"])
	}
}

func TestHandler_PostRemittance_Malformed(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("GS*HP~"))
	c := e.NewContext(req, httptest.NewRecorder())

	expectHTTPError(t, h.PostRemittance(c), http.StatusUnprocessableEntity)
}

func TestHandler_PostRemittance_Empty(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), httptest.NewRecorder())

	expectHTTPError(t, h.PostRemittance(c), http.StatusBadRequest)
}

func TestHandler_AvailableRemittances_BadRange(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-02-01&end=2024-01-01", nil), httptest.NewRecorder())

	expectHTTPError(t, h.AvailableRemittances(c), http.StatusBadRequest)
}

func TestHandler_ImportRemittance(t *testing.T) {
	h, env, e := newTestHandler()
	env.ch.files["RA-1"] = sample835("100.00")
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("remittance_id")
	c.SetParamValues("RA-1")

	if err := h.ImportRemittance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	again := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), again)
	c.SetParamNames("remittance_id")
	c.SetParamValues("RA-1")
	if err := h.ImportRemittance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Code != http.StatusOK {
		t.Errorf("expected 200 for an already imported remittance, got %d", again.Code)
	}
}

func TestHandler_GetRemittanceFile(t *testing.T) {
	h, env, e := newTestHandler()
	content := sample835("100.00")
	r, err := env.svc.PostRemittance(context.Background(), content)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	if err := h.GetRemittanceFile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != content {
		t.Error("expected the stored 835 verbatim")
	}
}

func TestHandler_Metrics(t *testing.T) {
	h, env, e := newTestHandler()
	submitOne(t, env, "CLM1")
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	if err := h.Metrics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["claims_submitted"] != float64(1) || body["pending_claims"] != float64(1) {
		t.Errorf("unexpected metrics %v", body)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/billing/claims/submit":                     false,
		"GET /api/v1/billing/submissions/:id":                    false,
		"POST /api/v1/billing/remittances/import/:remittance_id": false,
		"GET /api/v1/billing/metrics":                            false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("expected route %s", k)
		}
	}
}
