package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config points the suite at a running server. Tokens are minted locally with
// the server's signing key, so both sides must agree on key and issuer.
type Config struct {
	BaseURL       string
	SigningKey    string
	Issuer        string
	Audience      string
	InternalToken string
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:       strings.TrimRight(os.Getenv("E2E_BASE_URL"), "/"),
		SigningKey:    os.Getenv("E2E_SIGNING_KEY"),
		Issuer:        envOr("E2E_ISSUER", "veriledger"),
		Audience:      envOr("E2E_AUDIENCE", "veriledger-api"),
		InternalToken: os.Getenv("E2E_INTERNAL_TOKEN"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestContext carries per-scenario state: the company under test, signed-in
// user, remembered receipts and the last response.
type TestContext struct {
	cfg    Config
	client *http.Client

	companyID   string
	accessToken string
	users       map[string]uuid.UUID
	remembered  map[string]map[string]any
	correction  string

	lastStatus int
	lastBody   []byte
	lastHeader http.Header
}

func NewTestContext(cfg Config) *TestContext {
	return &TestContext{
		cfg:        cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		users:      map[string]uuid.UUID{},
		remembered: map[string]map[string]any{},
	}
}

func (tc *TestContext) NewCompany() {
	tc.companyID = uuid.NewString()
}

func (tc *TestContext) CompanyID() string { return tc.companyID }

// SignIn mints an access token for the named user, creating the user on
// first use so two names always mean two different people.
func (tc *TestContext) SignIn(name, role string) error {
	userID, ok := tc.users[name]
	if !ok {
		userID = uuid.New()
		tc.users[name] = userID
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"roles":   []string{role},
		"sub":     userID.String(),
		"iss":     tc.cfg.Issuer,
		"aud":     []string{tc.cfg.Audience},
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
		"jti":     uuid.NewString(),
	})
	signed, err := token.SignedString([]byte(tc.cfg.SigningKey))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.accessToken = signed
	return nil
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, tc.bearer())
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, tc.bearer())
}

func (tc *TestContext) PUT(path string, body any) error {
	return tc.do(http.MethodPut, path, body, tc.bearer())
}

func (tc *TestContext) Anonymous(path string) error {
	return tc.do(http.MethodGet, path, nil, nil)
}

func (tc *TestContext) Internal(path string, body any) error {
	return tc.do(http.MethodPost, path, body, map[string]string{"X-Internal-Token": tc.cfg.InternalToken})
}

func (tc *TestContext) bearer() map[string]string {
	if tc.accessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.accessToken}
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeader = resp.Header
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }
func (tc *TestContext) GetLastResponseHeader(k string) string { return tc.lastHeader.Get(k) }

// GetResponseField reads a dotted path such as "scope.company_id" from the
// last JSON response.
func (tc *TestContext) GetResponseField(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	return lookup(doc, path)
}

func lookup(doc any, path string) (any, error) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found", path)
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %q", part, path)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("field %q not found", path)
		}
	}
	return current, nil
}

// Remember stores the last JSON object under name for later steps.
func (tc *TestContext) Remember(name string) error {
	var obj map[string]any
	if err := json.Unmarshal(tc.lastBody, &obj); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	tc.remembered[name] = obj
	return nil
}

func (tc *TestContext) Recall(name, field string) (string, error) {
	obj, ok := tc.remembered[name]
	if !ok {
		return "", fmt.Errorf("nothing remembered as %q", name)
	}
	v, err := lookup(obj, field)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (tc *TestContext) SetCorrectionID(id string) { tc.correction = id }
func (tc *TestContext) CorrectionID() string { return tc.correction }
