package cert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evidenceledger/jwcert/internal/envelope"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

var (
	issued  = time.Date(2011, 8, 22, 0, 0, 59, 361_000_000, time.UTC)
	expires = time.Date(2011, 8, 22, 0, 1, 20, 961_000_000, time.UTC)
)

func mustKey(t *testing.T) pubkey.PrivateKey {
	t.Helper()
	k, err := pubkey.Generate(pubkey.AlgEC)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return k
}

func TestNew_Invariants(t *testing.T) {
	key := mustKey(t).Public()

	tests := []struct {
		name    string
		issuer  string
		expires time.Time
		key     pubkey.PublicKey
		wantErr error
	}{
		{"valid", "example.com", expires, key, nil},
		{"no issuer", "", expires, key, ErrMissingIssuer},
		{"no expiry", "example.com", time.Time{}, key, ErrMissingExpiry},
		{"no key", "example.com", expires, pubkey.PublicKey{}, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.issuer, issued, tt.expires, tt.key, Email("john@example.com"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSerializePayload_FieldOrder(t *testing.T) {
	c, err := New("example.com", issued, expires, mustKey(t).Public(), Email("john@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := c.SerializePayload()
	if err != nil {
		t.Fatalf("SerializePayload() error = %v", err)
	}
	s := string(data)

	wantPrefix := `{"iss":"example.com","exp":1313971280961,"iat":1313971259361,"public-key":{"alg":"ES","value":"-----BEGIN PUBLIC KEY-----`
	if !strings.HasPrefix(s, wantPrefix) {
		t.Errorf("SerializePayload() = %s\nwant prefix %s", s, wantPrefix)
	}
	if !strings.HasSuffix(s, `"principal":{"email":"john@example.com"}}`) {
		t.Errorf("SerializePayload() = %s, principal not last", s)
	}

	again, _ := c.SerializePayload()
	if string(again) != s {
		t.Errorf("SerializePayload() is not deterministic")
	}
}

func TestSerializePayload_NoIssuedAt(t *testing.T) {
	c, err := New("example.com", time.Time{}, expires, mustKey(t).Public(), Host("intermediate.example.com"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := c.SerializePayload()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"iat":null`) {
		t.Errorf("SerializePayload() = %s, want iat null", data)
	}
	if !strings.HasSuffix(string(data), `"principal":{"host":"intermediate.example.com"}}`) {
		t.Errorf("SerializePayload() = %s, want host principal", data)
	}
}

func TestRoundTrip(t *testing.T) {
	key := mustKey(t).Public()

	tests := []struct {
		name      string
		issuedAt  time.Time
		principal Principal
	}{
		{"leaf with start", issued, Email("john@example.com")},
		{"delegation without start", time.Time{}, Host("intermediate1.example.com")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New("example.com", tt.issuedAt, expires, key, tt.principal)
			if err != nil {
				t.Fatal(err)
			}
			data, err := c.SerializePayload()
			if err != nil {
				t.Fatal(err)
			}
			back, err := DeserializePayload(data)
			if err != nil {
				t.Fatalf("DeserializePayload() error = %v", err)
			}

			if back.Issuer() != c.Issuer() {
				t.Errorf("issuer = %q, want %q", back.Issuer(), c.Issuer())
			}
			if !back.Expires().Equal(c.Expires()) {
				t.Errorf("expires = %v, want %v", back.Expires(), c.Expires())
			}
			gotStart, gotOK := back.IssuedAt()
			wantStart, wantOK := c.IssuedAt()
			if gotOK != wantOK || !gotStart.Equal(wantStart) {
				t.Errorf("issuedAt = %v/%v, want %v/%v", gotStart, gotOK, wantStart, wantOK)
			}
			if !back.PublicKey().Equal(c.PublicKey()) {
				t.Errorf("public key differs after round trip")
			}
			if back.Principal() != c.Principal() {
				t.Errorf("principal = %v, want %v", back.Principal(), c.Principal())
			}
		})
	}
}

func TestDeserializePayload_Errors(t *testing.T) {
	obj, _ := mustKey(t).Public().ToSimpleObject()
	value := strings.ReplaceAll(obj.Value, "\n", `\n`)
	goodKey := `{"alg":"ES","value":"` + value + `"}`

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `not json`, ErrMalformedPayload},
		{"array", `[1,2]`, ErrMalformedPayload},
		{"trailing data", `{"iss":"a","exp":1,"public-key":` + goodKey + `} x`, ErrMalformedPayload},
		{"missing issuer", `{"exp":1,"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"bad exp", `{"iss":"a","exp":{},"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"huge exp", `{"iss":"a","exp":1e30,"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"huge negative exp", `{"iss":"a","exp":-1e30,"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"quoted exp beyond int64", `{"iss":"a","exp":"9.3e18","public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"exp beyond date range", `{"iss":"a","exp":8640000000000001,"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"fractional exp", `{"iss":"a","exp":1.9,"public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"fractional iat", `{"iss":"a","exp":1,"iat":"0.5","public-key":` + goodKey + `}`, ErrMalformedPayload},
		{"missing exp", `{"iss":"a","public-key":` + goodKey + `}`, ErrMissingExpiry},
		{"null exp", `{"iss":"a","exp":null,"public-key":` + goodKey + `}`, ErrMissingExpiry},
		{"missing key", `{"iss":"a","exp":1}`, ErrInvalidKey},
		{"bad key alg", `{"iss":"a","exp":1,"public-key":{"alg":"XX","value":"x"}}`, ErrInvalidKey},
		{"bad key value", `{"iss":"a","exp":1,"public-key":{"alg":"ES","value":"x"}}`, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializePayload([]byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DeserializePayload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeserializePayload_Permissive(t *testing.T) {
	obj, _ := mustKey(t).Public().ToSimpleObject()
	value := strings.ReplaceAll(obj.Value, "\n", `\n`)

	// quoted millis, no iat, and a principal carrying both shapes
	payload := `{"iss":"example.com","exp":"1313971280961","public-key":{"alg":"ES","value":"` + value + `"},` +
		`"principal":{"email":"a@example.com","host":"example.com"}}`

	c, err := DeserializePayload([]byte(payload))
	if err != nil {
		t.Fatalf("DeserializePayload() error = %v", err)
	}
	if !c.Expires().Equal(expires) {
		t.Errorf("expires = %v, want %v", c.Expires(), expires)
	}
	if _, ok := c.IssuedAt(); ok {
		t.Errorf("IssuedAt() should be unset")
	}
	if err := c.Principal().Validate(); !errors.Is(err, ErrInvalidPrincipal) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalidPrincipal)
	}
}

func TestParseAndVerify(t *testing.T) {
	issuer := mustKey(t)
	subject := mustKey(t)

	c, err := New("example.com", issued, expires, subject.Public(), Email("john@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Verify(issuer.Public()) {
		t.Errorf("Verify() on an unsigned certificate should be false")
	}

	token, err := c.Sign(issuer)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	parsed, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Raw() != token {
		t.Errorf("Raw() does not return the parsed token")
	}
	if parsed.Principal().Email != "john@example.com" {
		t.Errorf("Principal() = %v", parsed.Principal())
	}
	if !parsed.Verify(issuer.Public()) {
		t.Errorf("Verify() = false with the issuer key")
	}
	if parsed.Verify(subject.Public()) {
		t.Errorf("Verify() = true with the subject key")
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse("garbage"); !errors.Is(err, envelope.ErrMalformed) {
		t.Errorf("Parse(garbage) error = %v, want %v", err, envelope.ErrMalformed)
	}

	token, err := envelope.Sign(rawPayload(`{"iss":"a"}`), mustKey(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token); !errors.Is(err, ErrMissingExpiry) {
		t.Errorf("Parse(no exp) error = %v, want %v", err, ErrMissingExpiry)
	}
}

func TestExpiredAt(t *testing.T) {
	c, err := New("example.com", time.Time{}, expires, mustKey(t).Public(), Email("a@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if c.ExpiredAt(expires.Add(-time.Millisecond)) {
		t.Errorf("ExpiredAt(before) = true")
	}
	if !c.ExpiredAt(expires) {
		t.Errorf("ExpiredAt(exp) = false, a certificate is expired at its exp instant")
	}
	if !c.ExpiredAt(expires.Add(time.Hour)) {
		t.Errorf("ExpiredAt(after) = false")
	}
}

type rawPayload string

func (r rawPayload) SerializePayload() ([]byte, error) { return []byte(r), nil }

func TestDeserializePayload_PrincipalAsFound(t *testing.T) {
	obj, _ := mustKey(t).Public().ToSimpleObject()
	value := strings.ReplaceAll(obj.Value, "\n", `\n`)
	head := `{"iss":"example.com","exp":1313971280961,"iat":null,"public-key":{"alg":"ES","value":"` + value + `"},"principal":`

	tests := []struct {
		name      string
		principal string
		wantEmail string
		wantLeaf  bool
		wantValid bool
	}{
		{"email", `{"email":"a@b.example.com"}`, "a@b.example.com", true, true},
		{"other claim", `{"uid":"u-42"}`, "", true, false},
		{"email and other claim", `{"email":"a@b.example.com","uid":"x"}`, "a@b.example.com", true, true},
		{"non-string email", `{"email":5}`, "", true, false},
		{"not an object", `"john@example.com"`, "", false, false},
		{"empty object", `{}`, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DeserializePayload([]byte(head + tt.principal + `}`))
			if err != nil {
				t.Fatalf("DeserializePayload() error = %v", err)
			}
			p := c.Principal()
			if p.Email != tt.wantEmail {
				t.Errorf("Email = %q, want %q", p.Email, tt.wantEmail)
			}
			if p.IsLeaf() != tt.wantLeaf {
				t.Errorf("IsLeaf() = %v, want %v", p.IsLeaf(), tt.wantLeaf)
			}
			if err := p.Validate(); (err == nil) != tt.wantValid {
				t.Errorf("Validate() error = %v, want valid %v", err, tt.wantValid)
			}

			data, err := c.SerializePayload()
			if err != nil {
				t.Fatalf("SerializePayload() error = %v", err)
			}
			if !strings.HasSuffix(string(data), `"principal":`+tt.principal+`}`) {
				t.Errorf("SerializePayload() = %s, want principal %s", data, tt.principal)
			}
		})
	}
}

func TestDeserializePayload_WholeFloatMillis(t *testing.T) {
	obj, _ := mustKey(t).Public().ToSimpleObject()
	value := strings.ReplaceAll(obj.Value, "\n", `\n`)
	payload := `{"iss":"example.com","exp":1.313971280961e12,"public-key":{"alg":"ES","value":"` + value + `"}}`

	c, err := DeserializePayload([]byte(payload))
	if err != nil {
		t.Fatalf("DeserializePayload() error = %v", err)
	}
	if !c.Expires().Equal(expires) {
		t.Errorf("expires = %v, want %v", c.Expires(), expires)
	}
}

func TestPrincipal_JSON(t *testing.T) {
	var p Principal
	if err := json.Unmarshal([]byte(`{ "uid": "u-42", "tier": [1, 2] }`), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	claims, ok := p.Claims()
	if !ok || claims["uid"] != "u-42" {
		t.Errorf("Claims() = %v, %v", claims, ok)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"uid":"u-42","tier":[1,2]}` {
		t.Errorf("Marshal() = %s", data)
	}

	var typed Principal
	if err := json.Unmarshal([]byte(`{"host":"b.example.com"}`), &typed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if typed != Host("b.example.com") {
		t.Errorf("Unmarshal() = %#v, want plain host principal", typed)
	}
}
