// Package main runs smoke scenarios against a running ledger API.
//
// Scenarios cover:
//   - Website chat (greeting, visitor message, history)
//   - Voice call lifecycle and callback requests
//   - Contact form with auto-reply
//   - Inbound email webhook and duplicate delivery
//   - Admin dashboard reads
//
// Usage:
//
//	ADMIN_JWT_SECRET=... INBOUND_WEBHOOK_TOKEN=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//
// The contact form scenario needs EMAIL_PROVIDER=stub (or a real provider) on the server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	apiBase      string
	webhookToken string
	adminToken   string
	runID        = time.Now().UnixNano()
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type response struct {
	status int
	body   map[string]interface{}
}

func call(method, path string, payload interface{}, headers map[string]string) (response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return response{}, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{status: resp.StatusCode}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out.body)
	}
	return out, nil
}

func admin(method, path string, payload interface{}) (response, error) {
	return call(method, path, payload, map[string]string{"Authorization": "Bearer " + adminToken})
}

func listLen(body map[string]interface{}, key string) int {
	items, _ := body[key].([]interface{})
	return len(items)
}

func generateJWT(secret string) (string, error) {
	claims := jwt.MapClaims{
		"role":  "admin",
		"email": "e2e@softaidev.com",
		"exp":   time.Now().Add(15 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioChat(t *T) {
	conv := fmt.Sprintf("/chat/conversations/e2e-%d", runID)

	resp, err := call(http.MethodPost, conv+"/start", nil, nil)
	if err != nil {
		t.fatalf("start: %v", err)
		return
	}
	t.check("greeting posted", resp.status == http.StatusCreated)

	resp, err = call(http.MethodPost, conv+"/messages", map[string]interface{}{
		"message": "Hi, what does a custom app cost?",
		"visitor": map[string]string{"name": "E2E Visitor", "email": fmt.Sprintf("e2e+%d@example.com", runID)},
	}, nil)
	if err != nil {
		t.fatalf("post message: %v", err)
		return
	}
	t.check("visitor message accepted", resp.status == http.StatusCreated)

	resp, err = call(http.MethodGet, conv+"/messages", nil, nil)
	if err != nil {
		t.fatalf("list messages: %v", err)
		return
	}
	t.check("history has greeting and message", listLen(resp.body, "messages") >= 2)

	resp, _ = call(http.MethodPost, conv+"/messages", map[string]interface{}{"message": "  "}, nil)
	t.check("blank message rejected", resp.status == http.StatusBadRequest)
}

func scenarioCallLifecycle(t *T) {
	resp, err := call(http.MethodPost, "/calls", map[string]interface{}{"customer_name": "E2E Caller"}, nil)
	if err != nil {
		t.fatalf("start call: %v", err)
		return
	}
	t.check("call started", resp.status == http.StatusCreated)
	callID, _ := resp.body["call_id"].(string)
	if callID == "" {
		t.fatalf("no call_id in response")
		return
	}

	resp, _ = call(http.MethodPatch, "/calls/"+callID, map[string]interface{}{"status": "completed", "duration": 75}, nil)
	t.check("call completed", resp.status == http.StatusOK)
	resp, _ = call(http.MethodPatch, "/calls/"+callID, map[string]interface{}{"status": "missed"}, nil)
	t.check("terminal call cannot transition", resp.status == http.StatusBadRequest)
}

func scenarioCallback(t *T) {
	resp, err := call(http.MethodPost, "/callbacks", map[string]interface{}{
		"name": "E2E Callback", "phone": "555-010-0199", "reason": "sales",
	}, nil)
	if err != nil {
		t.fatalf("request callback: %v", err)
		return
	}
	t.check("callback stored", resp.status == http.StatusCreated)
	t.check("callback pending", resp.body["status"] == "pending")

	resp, _ = call(http.MethodPost, "/callbacks", map[string]interface{}{"name": "E2E", "phone": "12"}, nil)
	t.check("short phone rejected", resp.status == http.StatusBadRequest && resp.body["field"] == "phone")
}

func scenarioContactForm(t *T) {
	resp, err := call(http.MethodPost, "/contact", map[string]interface{}{
		"name":    "E2E Contact",
		"email":   fmt.Sprintf("e2e+%d@example.com", runID),
		"subject": "Smoke test",
		"message": "Checking the contact form.",
	}, nil)
	if err != nil {
		t.fatalf("contact: %v", err)
		return
	}
	t.check("contact accepted", resp.status == http.StatusAccepted)
	id, _ := resp.body["message_id"].(string)
	t.check("support message id returned", id != "")
}

func scenarioInboundEmail(t *T) {
	if webhookToken == "" {
		fmt.Println("    SKIP: INBOUND_WEBHOOK_TOKEN not set")
		return
	}
	payload := map[string]interface{}{
		"message_id": fmt.Sprintf("e2e-inbound-%d", runID),
		"from_email": fmt.Sprintf("e2e.sender+%d@example.com", runID),
		"subject":    "Bug report",
		"body":       "The app shows an error on login.",
	}
	headers := map[string]string{"X-Webhook-Token": webhookToken}

	resp, err := call(http.MethodPost, "/webhooks/email/inbound", payload, headers)
	if err != nil {
		t.fatalf("inbound: %v", err)
		return
	}
	t.check("inbound accepted", resp.status == http.StatusAccepted)
	t.check("classified technical", resp.body["category"] == "technical")

	resp, _ = call(http.MethodPost, "/webhooks/email/inbound", payload, headers)
	t.check("redelivery is a duplicate", resp.status == http.StatusOK && resp.body["duplicate"] == true)

	resp, _ = call(http.MethodPost, "/webhooks/email/inbound", payload, nil)
	t.check("missing token rejected", resp.status == http.StatusUnauthorized)
}

func scenarioAdminReads(t *T) {
	for _, c := range []struct{ path, key string }{
		{"/admin/conversations", "conversations"},
		{"/admin/conversations/views", "conversations"},
		{"/admin/calls", "calls"},
		{"/admin/emails", "emails"},
		{"/admin/customers", "customers"},
		{"/admin/activity", "activity"},
		{"/admin/email-queue", "entries"},
	} {
		resp, err := admin(http.MethodGet, c.path, nil)
		if err != nil {
			t.fatalf("%s: %v", c.path, err)
			continue
		}
		_, present := resp.body[c.key]
		t.check(c.path+" readable", resp.status == http.StatusOK && present)
	}

	resp, _ := call(http.MethodGet, "/admin/emails", nil, nil)
	t.check("admin requires token", resp.status == http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	webhookToken = os.Getenv("INBOUND_WEBHOOK_TOKEN")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	var err error
	if adminToken, err = generateJWT(secret); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: sign admin token:", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"chat", scenarioChat},
		{"call-lifecycle", scenarioCallLifecycle},
		{"callback", scenarioCallback},
		{"contact-form", scenarioContactForm},
		{"inbound-email", scenarioInboundEmail},
		{"admin-reads", scenarioAdminReads},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
