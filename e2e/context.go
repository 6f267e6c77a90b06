// Package e2e drives a running ipx server through its HTTP API with godog
// scenarios under features/.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext holds per-scenario state: the current principal's token, the
// registration under test and the last response.
type TestContext struct {
	BaseURL    string
	SigningKey string
	Issuer     string
	Audience   string

	client         *http.Client
	accessToken    string
	registrationID string
	lastStatus     int
	lastBody       []byte
}

func NewTestContext(baseURL, signingKey, issuer, audience string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SigningKey: signingKey,
		Issuer:     issuer,
		Audience:   audience,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Reset clears scenario state between scenarios.
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.registrationID = ""
	tc.lastStatus = 0
	tc.lastBody = nil
}

// AuthenticateAs signs a short-lived token for principal with the server's
// shared key.
func (tc *TestContext) AuthenticateAs(principal string) error {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal,
		Issuer:    tc.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		ID:        fmt.Sprintf("e2e-%d", now.UnixNano()),
	}
	if tc.Audience != "" {
		claims.Audience = jwt.ClaimStrings{tc.Audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.SigningKey))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.accessToken = token
	return nil
}

func (tc *TestContext) ClearToken()                 { tc.accessToken = "" }
func (tc *TestContext) RegistrationID() string      { return tc.registrationID }
func (tc *TestContext) SetRegistrationID(id string) { tc.registrationID = id }
func (tc *TestContext) LastStatus() int             { return tc.lastStatus }
func (tc *TestContext) LastBody() []byte            { return tc.lastBody }

func (tc *TestContext) GET(path string) error    { return tc.do(http.MethodGet, path, nil, "") }
func (tc *TestContext) DELETE(path string) error { return tc.do(http.MethodDelete, path, nil, "") }

func (tc *TestContext) POST(path string, body any) error {
	return tc.sendJSON(http.MethodPost, path, body)
}

func (tc *TestContext) PATCH(path string, body any) error {
	return tc.sendJSON(http.MethodPatch, path, body)
}

// Upload posts one multipart file field named "file".
func (tc *TestContext) Upload(path, fileName, contentType string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return tc.do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

func (tc *TestContext) sendJSON(method, path string, body any) error {
	if body == nil {
		return tc.do(method, path, nil, "")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tc.do(method, path, bytes.NewReader(raw), "application/json")
}

func (tc *TestContext) do(method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequest(method, tc.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// GetResponseField resolves a dotted path such as "verification.state" in
// the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %s", tc.lastBody)
	}
	cur := doc
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		cur, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
	}
	return cur, nil
}
