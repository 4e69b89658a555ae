package clearinghouse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenity/billing/internal/platform/x12"
)

// =========== Test Helpers ===========

func fixedNow() time.Time {
	return time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
}

func testClaim(id string) *x12.Claim {
	return &x12.Claim{
		ID: id,
		BillingProvider: x12.BillingProvider{
			Name:    "Sunrise Home Care",
			NPI:     "1234567890",
			TaxID:   "123456789",
			Address: x12.Address{Line1: "100 Main St", City: "Springfield", State: "IL", PostalCode: "62701"},
		},
		Subscriber: x12.Subscriber{
			FirstName:   "Jane",
			LastName:    "Doe",
			MemberID:    "MEM123456",
			DateOfBirth: "1950-03-14",
			Gender:      "F",
		},
		PayerID:        "MCD01",
		PayerName:      "State Medicaid",
		DiagnosisCodes: []string{"I10"},
		ServiceLines: []x12.ServiceLine{
			{ProcedureCode: "T1000", ChargeAmount: 150, ServiceDate: "2024-01-10", Units: 1},
		},
		TotalCharge: 150,
	}
}

type fixedSequence struct{ next int }

func (f *fixedSequence) NextControlNumber(context.Context) (int, error) {
	n := f.next
	f.next++
	return n, nil
}

func newTestService(t *testing.T, handler http.Handler, opts ...Option) (*Service, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL + "/", APIKey: "test-key", SubmitterID: "SUNRISE", Timeout: 5 * time.Second}
	env := x12.GeneratorConfig{ReceiverID: "CLEARINGHOUSE", IsTest: true}
	opts = append([]Option{WithClock(fixedNow), WithControlNumbers(&fixedSequence{next: 41})}, opts...)
	return NewService(cfg, env, zerolog.Nop(), opts...), &calls
}

// =========== Not configured ===========

func TestService_NotConfigured(t *testing.T) {
	s := NewService(Config{BaseURL: "http://localhost:1"}, x12.GeneratorConfig{}, zerolog.Nop())
	ctx := context.Background()

	if s.Configured() {
		t.Fatal("expected service without credentials to be unconfigured")
	}
	if _, err := s.SubmitClaims(ctx, []*x12.Claim{testClaim("C1")}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SubmitClaims: expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.CheckAcknowledgment(ctx, "sub-1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CheckAcknowledgment: expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.GetRemittanceAdvice(ctx, DateRange{Start: fixedNow(), End: fixedNow()}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GetRemittanceAdvice: expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.DownloadRemittanceFile(ctx, "r-1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("DownloadRemittanceFile: expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.GetSubmissionHistory(ctx, 7); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("GetSubmissionHistory: expected ErrNotConfigured, got %v", err)
	}
}

// =========== SubmitClaims ===========

func TestService_SubmitClaims(t *testing.T) {
	var got submitRequest
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/claims/submissions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"submissionId":"sub-123","status":"submitted"}`))
	}))

	sub, err := s.SubmitClaims(context.Background(), []*x12.Claim{testClaim("CLM1001")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != "sub-123" || sub.Status != StatusSubmitted {
		t.Errorf("unexpected submission %+v", sub)
	}
	if sub.ControlNumber != 41 {
		t.Errorf("expected control number 41, got %d", sub.ControlNumber)
	}
	if got.ControlNumber != "000000041" || got.SubmitterID != "SUNRISE" || got.UsageIndicator != "T" {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.ClaimIDs) != 1 || got.ClaimIDs[0] != "CLM1001" {
		t.Errorf("unexpected claim ids %v", got.ClaimIDs)
	}
	if !strings.HasPrefix(got.X12, "ISA*00*") || !strings.Contains(got.X12, "CLM*CLM1001*150.00**") {
		t.Errorf("unexpected x12 payload %q", got.X12)
	}
	if !strings.Contains(got.X12, "*ZZ*SUNRISE        *") {
		t.Error("expected sender ID to default to submitter ID")
	}
	if sub.Content != got.X12 {
		t.Error("expected submission to keep the transmitted content")
	}
}

func TestService_SubmitClaims_Batch(t *testing.T) {
	var got submitRequest
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"submissionId":"sub-9"}`))
	}))

	_, err := s.SubmitClaims(context.Background(), []*x12.Claim{testClaim("A"), testClaim("B")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(got.X12, "ST*837*") != 2 {
		t.Errorf("expected two transaction sets, got %q", got.X12)
	}
	if !strings.Contains(got.X12, "GE*2*41~") {
		t.Error("expected GE to count both transactions")
	}
}

func TestService_SubmitClaims_ValidationAbortsBeforeTransmit(t *testing.T) {
	s, calls := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"submissionId":"x"}`))
	}))

	bad := testClaim("BAD1")
	bad.BillingProvider.NPI = "123"
	_, err := s.SubmitClaims(context.Background(), []*x12.Claim{testClaim("OK1"), bad})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if msgs := vErr.ClaimErrors["BAD1"]; len(msgs) != 1 || msgs[0] != "Billing provider NPI must be 10 digits" {
		t.Errorf("unexpected claim errors %v", vErr.ClaimErrors)
	}
	if _, ok := vErr.ClaimErrors["OK1"]; ok {
		t.Error("expected valid claim to be absent from errors")
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected no network calls, got %d", *calls)
	}
	if !strings.Contains(err.Error(), "BAD1") {
		t.Errorf("expected error message to name the claim, got %q", err.Error())
	}
}

func TestService_SubmitClaims_NoClaims(t *testing.T) {
	s, _ := newTestService(t, http.NotFoundHandler())
	if _, err := s.SubmitClaims(context.Background(), nil); !errors.Is(err, ErrNoClaims) {
		t.Errorf("expected ErrNoClaims, got %v", err)
	}
}

func TestService_SubmitClaims_TransportError(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))

	_, err := s.SubmitClaims(context.Background(), []*x12.Claim{testClaim("C1")})
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if tErr.StatusCode != http.StatusBadGateway || tErr.Op != "submit claims" {
		t.Errorf("unexpected transport error %+v", tErr)
	}
	if !strings.Contains(tErr.Error(), "upstream unavailable") {
		t.Errorf("expected response body in error, got %q", tErr.Error())
	}
}

func TestService_SubmitClaims_Timeout(t *testing.T) {
	release := make(chan struct{})
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)
	s.client.cfg.Timeout = 50 * time.Millisecond

	_, err := s.SubmitClaims(context.Background(), []*x12.Claim{testClaim("C1")})
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// =========== CheckAcknowledgment ===========

func TestService_CheckAcknowledgment_StatusField(t *testing.T) {
	tests := []struct {
		body string
		want SubmissionStatus
	}{
		{`{"status":"accepted"}`, StatusAccepted},
		{`{"status":"rejected","errors":["bad NPI"]}`, StatusRejected},
		{`{"status":"submitted"}`, StatusPending},
		{`{}`, StatusPending},
	}
	for _, tt := range tests {
		s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/claims/submissions/sub-1/acknowledgment" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Write([]byte(tt.body))
		}))
		res, err := s.CheckAcknowledgment(context.Background(), "sub-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != tt.want {
			t.Errorf("body %s: expected %q, got %q", tt.body, tt.want, res.Status)
		}
	}
}

func TestService_CheckAcknowledgment_Raw999(t *testing.T) {
	isa := "ISA*00*" + x12.PadRight("", 10) + "*00*" + x12.PadRight("", 10) +
		"*ZZ*" + x12.PadRight("CH", 15) + "*ZZ*" + x12.PadRight("SUNRISE", 15) +
		"*240115*1200*^*00501*000000900*0*P*:~"
	raw := isa + "AK1*HC*41~AK2*837*0041~IK3*NM1*8**8~IK5*R~AK9*R*1*1*0~"
	payload, _ := json.Marshal(map[string]string{"status": "accepted", "x12": raw})

	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	res, err := s.CheckAcknowledgment(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusRejected {
		t.Errorf("expected 999 to override status field, got %q", res.Status)
	}
	if res.Acknowledgment == nil || res.Acknowledgment.AcknowledgedGroup != "41" {
		t.Errorf("unexpected acknowledgment %+v", res.Acknowledgment)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "ST 0041: segment NM1") {
		t.Errorf("unexpected errors %v", res.Errors)
	}
}

func TestService_CheckAcknowledgment_EmptyID(t *testing.T) {
	s, _ := newTestService(t, http.NotFoundHandler())
	if _, err := s.CheckAcknowledgment(context.Background(), ""); err == nil {
		t.Error("expected error for empty submission id")
	}
}

// =========== Remittances ===========

func TestService_GetRemittanceAdvice(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remittances" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("startDate") != "2024-01-01" || r.URL.Query().Get("endDate") != "2024-01-31" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"remittances":[{"remittanceId":"r-1","payerName":"State Medicaid","paymentAmount":100.5,"paymentDate":"2024-01-15","checkNumber":"CHK1","receivedAt":"2024-01-16T08:00:00Z"}]}`))
	}))

	list, err := s.GetRemittanceAdvice(context.Background(), DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 remittance, got %d", len(list))
	}
	r := list[0]
	if r.ID != "r-1" || r.PaymentAmount != 100.5 || r.CheckNumber != "CHK1" {
		t.Errorf("unexpected remittance %+v", r)
	}
	if r.PaymentDate == nil || r.PaymentDate.Day() != 15 {
		t.Errorf("unexpected payment date %v", r.PaymentDate)
	}
}

func TestService_GetRemittanceAdvice_InvalidRange(t *testing.T) {
	s, calls := newTestService(t, http.NotFoundHandler())
	_, err := s.GetRemittanceAdvice(context.Background(), DateRange{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Error("expected error for inverted range")
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Error("expected no network call")
	}
}

func TestService_DownloadRemittanceFile_Cached(t *testing.T) {
	s, calls := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remittances/r-1/file" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("ISA*00*...~"))
	}))

	for i := 0; i < 3; i++ {
		content, err := s.DownloadRemittanceFile(context.Background(), "r-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if content != "ISA*00*...~" {
			t.Errorf("unexpected content %q", content)
		}
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("expected 1 download, got %d", n)
	}
}

func TestService_DownloadRemittanceFile_CacheDisabled(t *testing.T) {
	s, calls := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}), WithRemittanceCacheTTL(0))

	s.DownloadRemittanceFile(context.Background(), "r-1")
	s.DownloadRemittanceFile(context.Background(), "r-1")
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("expected 2 downloads, got %d", n)
	}
}

func TestService_DownloadRemittanceFile_NotFound(t *testing.T) {
	s, _ := newTestService(t, http.NotFoundHandler())
	_, err := s.DownloadRemittanceFile(context.Background(), "missing")
	var tErr *TransportError
	if !errors.As(err, &tErr) || tErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 TransportError, got %v", err)
	}
}

// =========== History ===========

func TestService_GetSubmissionHistory(t *testing.T) {
	var since string
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since = r.URL.Query().Get("since")
		w.Write([]byte(`{"submissions":[{"submissionId":"sub-1","status":"accepted","claimCount":3,"submittedAt":"2024-01-10T10:00:00Z"},{"submissionId":"sub-2","status":"weird"}]}`))
	}))

	hist, err := s.GetSubmissionHistory(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if since != "2024-01-08" {
		t.Errorf("expected since 2024-01-08, got %q", since)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].Status != StatusAccepted || hist[0].ClaimCount != 3 {
		t.Errorf("unexpected entry %+v", hist[0])
	}
	if hist[1].Status != StatusPending {
		t.Errorf("expected unknown status to read as pending, got %q", hist[1].Status)
	}

	s.GetSubmissionHistory(context.Background(), 0)
	if since != "2023-12-16" {
		t.Errorf("expected default 30 day window, got %q", since)
	}
}

func TestService_MalformedResponse(t *testing.T) {
	s, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	_, err := s.GetSubmissionHistory(context.Background(), 1)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Errorf("expected TransportError for bad JSON, got %v", err)
	}
}

func TestSubmissionStatus_Terminal(t *testing.T) {
	for s, want := range map[SubmissionStatus]bool{
		StatusSubmitted:         false,
		StatusPending:           false,
		StatusAccepted:          true,
		StatusRejected:          true,
		StatusPartiallyAccepted: true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s: expected terminal=%v", s, want)
		}
	}
}

func TestService_SubmitClaims_RepeatedClaimIDsKeepAllErrors(t *testing.T) {
	s, calls := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"submissionId":"x"}`))
	}))

	first := testClaim("DUP1")
	first.BillingProvider.NPI = "123"
	second := testClaim("DUP1")
	second.Subscriber.MemberID = ""
	_, err := s.SubmitClaims(context.Background(), []*x12.Claim{first, second})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.ClaimErrors) != 2 {
		t.Fatalf("expected errors for both claims, got %v", vErr.ClaimErrors)
	}
	if _, ok := vErr.ClaimErrors["DUP1"]; !ok {
		t.Errorf("expected first claim keyed DUP1, got %v", vErr.ClaimErrors)
	}
	if _, ok := vErr.ClaimErrors["DUP1#1"]; !ok {
		t.Errorf("expected second claim keyed DUP1#1, got %v", vErr.ClaimErrors)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected no network calls, got %d", *calls)
	}
}

func TestValidationError_Add(t *testing.T) {
	e := &ValidationError{}
	e.Add("CLM1", 0, []string{"a"})
	e.Add("", 1, []string{"b"})
	e.Add("CLM1", 2, []string{"c"})

	tests := map[string]string{
		"CLM1":     "a",
		"claim[1]": "b",
		"CLM1#2":   "c",
	}
	for key, want := range tests {
		got := e.ClaimErrors[key]
		if len(got) != 1 || got[0] != want {
			t.Errorf("expected %s => [%s], got %v", key, want, got)
		}
	}
}
