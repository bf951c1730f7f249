package gate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fundlift/identity"
)

func postJSON(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *identity.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return ve.Fields
}

func TestDecodeValidSignup(t *testing.T) {
	g := New()
	var req SignupRequest
	err := g.Decode(postJSON(t, `{
		"email": "alice@example.com",
		"firstName": "Alice",
		"lastName": "Okafor",
		"password": "Sup3r-secret!",
		"confirmPassword": "Sup3r-secret!"
	}`), &req)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req.Email != "alice@example.com" {
		t.Fatalf("email = %q", req.Email)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	g := New()
	var req LoginRequest
	err := g.Decode(postJSON(t, `{"identifier": "alice", "password": "x12345678", "role": "admin"}`), &req)
	fields := fieldErrors(t, err)
	if _, ok := fields["body"]; !ok {
		t.Fatalf("expected body error, got %v", fields)
	}
}

func TestDecodeCollectsFieldErrors(t *testing.T) {
	g := New()
	var req SignupRequest
	err := g.Decode(postJSON(t, `{
		"email": "not-an-email",
		"firstName": "Alice",
		"lastName": "Okafor",
		"password": "short",
		"confirmPassword": "different"
	}`), &req)
	fields := fieldErrors(t, err)

	if _, ok := fields["email"]; !ok {
		t.Fatalf("expected email error, got %v", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Fatalf("expected password error, got %v", fields)
	}
	if _, ok := fields["confirmPassword"]; !ok {
		t.Fatalf("expected confirmPassword error, got %v", fields)
	}
}

func TestDecodeSanitizesMarkup(t *testing.T) {
	g := New()
	var req SignupRequest
	err := g.Decode(postJSON(t, `{
		"email": "alice@example.com",
		"firstName": "Alice<script>alert(1)</script>",
		"lastName": "Okafor",
		"password": "Sup3r-secret!",
		"confirmPassword": "Sup3r-secret!"
	}`), &req)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if strings.Contains(req.FirstName, "script") {
		t.Fatalf("markup survived sanitization: %q", req.FirstName)
	}
}

func TestDecodeLeavesPasswordsAlone(t *testing.T) {
	g := New()
	var req LoginRequest
	password := `p<a>ss&word"123`
	err := g.Decode(postJSON(t, `{"identifier": "alice", "password": "p<a>ss&word\"123"}`), &req)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req.Password != password {
		t.Fatalf("password altered: %q", req.Password)
	}
}

func TestDecodeLenientSkipsSchemaScreen(t *testing.T) {
	g := New()
	var req LoginRequest

	// Unknown fields and failing constraints pass; exempt routes defer
	// to the credential check instead of the schema.
	err := g.DecodeLenient(postJSON(t, `{"identifier": "", "password": "", "remember": true}`), &req)
	if err != nil {
		t.Fatalf("DecodeLenient failed: %v", err)
	}

	// Values are not sanitized either.
	err = g.DecodeLenient(postJSON(t, `{"identifier": "<b>alice</b>", "password": "x"}`), &req)
	if err != nil {
		t.Fatalf("DecodeLenient failed: %v", err)
	}
	if req.Identifier != "<b>alice</b>" {
		t.Fatalf("identifier altered: %q", req.Identifier)
	}

	if err := g.DecodeLenient(postJSON(t, `not json`), &req); err == nil {
		t.Fatal("malformed body must still fail")
	}
}

func TestSanitizeAnchorPolicy(t *testing.T) {
	g := New()

	kept := g.Sanitize(`<a href="https://example.com" title="t">link</a>`)
	if !strings.Contains(kept, "href") {
		t.Fatalf("https anchor should survive: %q", kept)
	}

	stripped := g.Sanitize(`<a href="javascript:alert(1)">link</a>`)
	if strings.Contains(stripped, "javascript") {
		t.Fatalf("javascript href must be stripped: %q", stripped)
	}

	if out := g.Sanitize(`<img src="x">text`); strings.Contains(out, "img") {
		t.Fatalf("img must be stripped: %q", out)
	}
	if out := g.Sanitize(`line<br>break`); !strings.Contains(out, "<br") {
		t.Fatalf("br should survive: %q", out)
	}
}

func TestMiddlewareSanitizesQuery(t *testing.T) {
	g := New()
	var gotQuery string
	handler := g.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns?q=%3Cscript%3Ex%3C%2Fscript%3E", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if strings.Contains(gotQuery, "script") {
		t.Fatalf("query markup survived: %q", gotQuery)
	}
}

func TestMiddlewareContentTypeScreen(t *testing.T) {
	g := New()
	handler := g.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}

	// The webhook path accepts any content type.
	r = httptest.NewRequest(http.MethodPost, "/api/v1/donations/webhook", strings.NewReader(`payload`))
	r.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want %d", w.Code, http.StatusOK)
	}
}
