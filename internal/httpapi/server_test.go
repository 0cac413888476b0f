package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EmbeddedMhawar/Readimad/internal/httpapi"
	"github.com/EmbeddedMhawar/Readimad/internal/metrics"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	ledgermem "github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger/memory"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/service"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/store/memory"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/types"
)

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, l ledger.Ledger) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	registry := service.NewRegistryService(l, memory.NewEventStore(), service.RegistryConfig{
		Metrics: metrics.New(reg),
	})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   log.New(io.Discard, "", 0),
		Addr:     ":0",
		Registry: registry,
		Gatherer: reg,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &e)
	if e.Error != code {
		t.Errorf("expected error=%s, got %q", code, e.Error)
	}
	if e.Message == "" {
		t.Error("expected a message")
	}
}

// unavailableLedger fails every call the way a backend does when its store
// cannot be reached.
type unavailableLedger struct{}

var errDown = ledger.Unavailable(errors.New("connection refused"))

func (unavailableLedger) RegisterAsAuthentic(context.Context, identity.Key) (ledger.Outcome, error) {
	return ledger.OutcomeNone, errDown
}

func (unavailableLedger) RegisterBatch(_ context.Context, keys []identity.Key) ledger.BatchResult {
	return ledger.FailAll(keys, errDown)
}

func (unavailableLedger) MarkRedeemed(context.Context, identity.Key) error { return errDown }

func (unavailableLedger) GetStatus(context.Context, identity.Key) (ledger.Status, error) {
	return ledger.StatusUnknown, errDown
}

func (unavailableLedger) Ping(context.Context) error { return errDown }

// ── Registration ─────────────────────────────────────────────────────────────

func TestRegisterBatch_OK(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	resp := postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001","SN-002"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var report types.BatchRegistrationReport
	decodeBody(t, resp, &report)

	if report.Created != 2 || report.Total != 2 {
		t.Errorf("expected 2 created of 2, got %d of %d", report.Created, report.Total)
	}
	if report.Message != "Batch registered successfully. 2 serials added." {
		t.Errorf("unexpected message %q", report.Message)
	}
	if len(report.Keys) != 2 || report.Keys[0] != identity.Hash("SN-001").Hex() {
		t.Errorf("unexpected keys %v", report.Keys)
	}
}

func TestRegisterBatch_Empty_400(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":[]}`), http.StatusBadRequest, "empty_batch")
	expectError(t, postJSON(t, ts.URL+"/v1/batches", `{}`), http.StatusBadRequest, "empty_batch")
}

func TestRegisterBatch_EmptySerial_400(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001",""]}`), http.StatusBadRequest, "invalid_serial")
}

func TestRegisterBatch_RedeemedSerialReportedPerKey(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-SOLD"]}`)
	if resp := postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"SN-SOLD"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d", resp.StatusCode)
	}

	resp := postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-NEW","SN-SOLD"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var report types.BatchRegistrationReport
	decodeBody(t, resp, &report)
	if report.Created != 1 || report.Rejected != 1 {
		t.Fatalf("expected created=1 rejected=1, got %+v", report)
	}
	if report.Rejections[0].Reason != service.ReasonCannotReauthenticate {
		t.Errorf("unexpected reason %q", report.Rejections[0].Reason)
	}
}

func TestRegisterBatch_Unavailable_503(t *testing.T) {
	ts := newTestServer(t, unavailableLedger{})

	expectError(t, postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001"]}`),
		http.StatusServiceUnavailable, "backing_store_unavailable")
}

// ── Verification ─────────────────────────────────────────────────────────────

func TestVerify_AuthenticThenRedeemed(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))
	postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001"]}`)

	var res types.VerificationResult
	resp := postJSON(t, ts.URL+"/v1/verify", `{"serial_number":"SN-001"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &res)
	if res.Status != "Authentic" || !res.IsAuthentic {
		t.Errorf("expected Authentic/true, got %s/%v", res.Status, res.IsAuthentic)
	}

	postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"SN-001"}`)

	decodeBody(t, postJSON(t, ts.URL+"/v1/verify", `{"serial_number":"SN-001"}`), &res)
	if res.Status != "Redeemed" || res.IsAuthentic {
		t.Errorf("expected Redeemed/false, got %s/%v", res.Status, res.IsAuthentic)
	}
	if res.Message != service.MessageRedeemed {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestVerify_Unknown_200(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	resp := postJSON(t, ts.URL+"/v1/verify", `{"serial_number":"never-seen"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var res types.VerificationResult
	decodeBody(t, resp, &res)
	if res.Status != "Unknown" || res.IsAuthentic {
		t.Errorf("expected Unknown/false, got %s/%v", res.Status, res.IsAuthentic)
	}
}

func TestVerify_MissingSerial_400(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/verify", `{}`), http.StatusBadRequest, "invalid_serial")
}

func TestVerify_InvalidJSON_400(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/verify", `not json at all`), http.StatusBadRequest, "bad_body")
}

func TestVerify_UnknownField_400(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/verify", `{"serial":"SN-001"}`), http.StatusBadRequest, "bad_body")
}

func TestVerify_Unavailable_503(t *testing.T) {
	ts := newTestServer(t, unavailableLedger{})

	expectError(t, postJSON(t, ts.URL+"/v1/verify", `{"serial_number":"SN-001"}`),
		http.StatusServiceUnavailable, "backing_store_unavailable")
}

func TestBodyTooLarge_413(t *testing.T) {
	registry := service.NewRegistryService(ledgermem.New(4), nil, service.RegistryConfig{})
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   log.New(io.Discard, "", 0),
		Registry: registry,
	})

	big := `{"serial_number":"` + strings.Repeat("x", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	expectError(t, rec.Result(), http.StatusRequestEntityTooLarge, "body_too_large")
}

// ── Redemption ───────────────────────────────────────────────────────────────

func TestRedeem_Twice_409(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))
	postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001"]}`)

	resp := postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"SN-001"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res types.RedemptionResult
	decodeBody(t, resp, &res)
	if res.Status != "Redeemed" || res.RedeemedAt == "" {
		t.Errorf("unexpected redemption %+v", res)
	}

	expectError(t, postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"SN-001"}`), http.StatusConflict, "already_redeemed")
}

func TestRedeem_Unknown_409(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	expectError(t, postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"counterfeit"}`), http.StatusConflict, "not_authentic")
}

// ── History ──────────────────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))
	postJSON(t, ts.URL+"/v1/batches", `{"serial_numbers":["SN-001"]}`)
	postJSON(t, ts.URL+"/v1/redeem", `{"serial_number":"SN-001"}`)

	resp := postJSON(t, ts.URL+"/v1/history", `{"serial_number":"SN-001"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var h types.HistoryResponse
	decodeBody(t, resp, &h)
	if h.Key != identity.Hash("SN-001").Hex() {
		t.Errorf("unexpected key %s", h.Key)
	}
	if len(h.Events) != 2 || h.Events[0].Kind != "registered" || h.Events[1].Kind != "redeemed" {
		t.Errorf("unexpected events %+v", h.Events)
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func postProto(t *testing.T, url string, fields map[string]any) (*http.Response, *structpb.Struct) {
	t.Helper()

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	body, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(url, "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp, &out
}

func TestProtobuf_RegisterAndVerify(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	resp, report := postProto(t, ts.URL+"/v1/batches", map[string]any{
		"serial_numbers": []any{"SN-001", "SN-002"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := report.GetFields()["created"].GetNumberValue(); got != 2 {
		t.Errorf("expected created=2, got %v", got)
	}

	resp, res := postProto(t, ts.URL+"/v1/verify", map[string]any{"serial_number": "SN-001"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := res.GetFields()["status"].GetStringValue(); got != "Authentic" {
		t.Errorf("expected Authentic, got %q", got)
	}
	if !res.GetFields()["is_authentic"].GetBoolValue() {
		t.Error("expected is_authentic=true")
	}
}

func TestProtobuf_ErrorsUseProtobuf(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	resp, e := postProto(t, ts.URL+"/v1/redeem", map[string]any{"serial_number": "counterfeit"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := e.GetFields()["error"].GetStringValue(); got != "not_authentic" {
		t.Errorf("expected error=not_authentic, got %q", got)
	}
}

// ── Health + metrics ─────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ledger ledger.Ledger
		status int
	}{
		{"ok", ledgermem.New(4), http.StatusOK},
		{"ledger down", unavailableLedger{}, http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, tc.ledger)

			resp, err := http.Get(ts.URL + "/healthz")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))
	postJSON(t, ts.URL+"/v1/verify", `{"serial_number":"never-seen"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `readimad_verifications_total{status="Unknown"} 1`) {
		t.Errorf("verification counter missing from exposition:\n%s", body)
	}
}

func TestWrongMethod_405(t *testing.T) {
	ts := newTestServer(t, ledgermem.New(4))

	resp, err := http.Get(ts.URL + "/v1/verify")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
