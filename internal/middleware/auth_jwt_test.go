package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "test-secret"
	claims := TokenClaims{
		Sub:      "user-123",
		Email:    "maker@example.com",
		Exp:      time.Now().Add(time.Hour).Unix(),
		Issuer:   "tester",
		Audience: "clients",
	}
	token, err := SignJWT(secret, claims)
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT(secret, token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if *parsed != claims {
		t.Fatalf("VerifyJWT() returned %+v, want %+v", parsed, claims)
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	valid := TokenClaims{Sub: "user-123", Exp: time.Now().Add(time.Hour).Unix()}
	tests := []struct {
		name   string
		sign   string
		claims TokenClaims
	}{
		{"wrong secret", "secret-b", valid},
		{"expired", "secret-a", TokenClaims{Sub: "user-123", Exp: time.Now().Add(-time.Minute).Unix()}},
		{"no subject", "secret-a", TokenClaims{Exp: valid.Exp}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token, err := SignJWT(tc.sign, tc.claims)
			if err != nil {
				t.Fatalf("SignJWT() error: %v", err)
			}
			if _, err := VerifyJWT("secret-a", token); err == nil {
				t.Fatalf("VerifyJWT() expected error")
			}
		})
	}
}

func TestAuthJWTPopulatesContext(t *testing.T) {
	token, _ := SignJWT("s3cret", TokenClaims{Sub: "user-9", Email: "nine@example.com", Exp: time.Now().Add(time.Hour).Unix()})
	var gotUser, gotEmail string
	h := AuthJWT("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotEmail = EmailFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"bearer header", "/v1/jobs", "Bearer " + token, http.StatusOK},
		{"missing header", "/v1/jobs", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/jobs", "Basic " + token, http.StatusUnauthorized},
		{"query token on stream", "/v1/jobs/job_1/events?access_token=" + token, "", http.StatusOK},
		{"query token elsewhere", "/v1/jobs?access_token=" + token, "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotUser, gotEmail = "", ""
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && (gotUser != "user-9" || gotEmail != "nine@example.com") {
				t.Fatalf("context user=%q email=%q", gotUser, gotEmail)
			}
		})
	}
}
