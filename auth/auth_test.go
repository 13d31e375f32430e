package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"authrax/pkg/authrax"
	"github.com/golang-jwt/jwt/v4"
)

const testProject = "authrax-test"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func selfSignedPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

type certServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCertServer(t *testing.T, certs map[string]string) *certServer {
	t.Helper()
	cs := &certServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(certs); err != nil {
			t.Errorf("encode certs: %v", err)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims() jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    "https://securetoken.google.com/" + testProject,
		Audience:  jwt.ClaimStrings{testProject},
		Subject:   "uid-123",
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestFirebaseVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := newCertServer(t, map[string]string{"k1": selfSignedPEM(t, key)})
	v := NewFirebase(&Config{ProjectID: testProject, CertsURL: srv.URL, Logger: discardLogger()})

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	wrongIss := validClaims()
	wrongIss.Issuer = "https://securetoken.google.com/someone-else"
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSub := validClaims()
	noSub.Subject = ""

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	hs.Header["kid"] = "k1"
	hsToken, err := hs.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantUID string
	}{
		{"valid", sign(t, key, "k1", validClaims()), "uid-123"},
		{"wrong audience", sign(t, key, "k1", wrongAud), ""},
		{"wrong issuer", sign(t, key, "k1", wrongIss), ""},
		{"expired", sign(t, key, "k1", expired), ""},
		{"no subject", sign(t, key, "k1", noSub), ""},
		{"unknown kid", sign(t, key, "k9", validClaims()), ""},
		{"wrong key", sign(t, other, "k1", validClaims()), ""},
		{"hmac algorithm", hsToken, ""},
		{"garbage", "not.a.token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := v.Verify(context.Background(), tt.token)
			if tt.wantUID != "" {
				if err != nil || uid != tt.wantUID {
					t.Errorf("Verify() = %q, %v; want %q", uid, err, tt.wantUID)
				}
				return
			}
			if !authrax.IsKind(err, authrax.Unauthenticated) {
				t.Errorf("Verify() error = %v, want unauthenticated", err)
			}
		})
	}
}

func TestFirebaseCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := newCertServer(t, map[string]string{"k1": selfSignedPEM(t, key)})
	v := NewFirebase(&Config{ProjectID: testProject, CertsURL: srv.URL, Logger: discardLogger()})

	token := sign(t, key, "k1", validClaims())
	for range 3 {
		if _, err := v.Verify(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	if n := srv.hits.Load(); n != 1 {
		t.Errorf("certificate fetches = %d, want 1", n)
	}
}

func TestFirebaseKeyFetchFailure(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	token := sign(t, key, "k1", validClaims())

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(failing.Close)
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"non-200", failing.URL},
		{"unreachable", closed.URL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewFirebase(&Config{ProjectID: testProject, CertsURL: tt.url, Logger: discardLogger()})
			if _, err := v.Verify(context.Background(), token); !authrax.IsKind(err, authrax.UpstreamUnavailable) {
				t.Errorf("Verify() error = %v, want upstream_unavailable", err)
			}
		})
	}
}

func TestInsecureVerify(t *testing.T) {
	v := NewInsecure(discardLogger())

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "emulator-user"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := v.Verify(context.Background(), token)
	if err != nil || uid != "emulator-user" {
		t.Errorf("Verify() = %q, %v", uid, err)
	}

	empty, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(context.Background(), empty); !authrax.IsKind(err, authrax.Unauthenticated) {
		t.Errorf("Verify(no subject) error = %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=19302, must-revalidate"); got != 19302*time.Second {
		t.Errorf("maxAge() = %v", got)
	}
	if got := maxAge("no-cache"); got != defaultKeyTTL {
		t.Errorf("maxAge(no-cache) = %v", got)
	}
}
