package steps

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const StepTypeHTTP = "http"

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 << 20
	maxErrorBody       = 512
)

// Заголовки, которые получает каждый webhook.
const (
	HeaderEventID   = "X-Stellara-Event"
	HeaderAttempt   = "X-Stellara-Attempt"
	HeaderSignature = "X-Stellara-Signature"
)

// HTTPStep вызывает внешний webhook или API.
//
// Конфигурация:
//
//	method: POST                      # default GET
//	url: https://hooks.example.com/payments
//	headers: {Authorization: "Bearer {{ .Env.HOOK_TOKEN }}"}
//	body: {tx: "{{ .Event.Payload.transaction_hash }}"}
//	secret: "{{ .Env.HOOK_SECRET }}"   # HMAC-SHA256 тела в X-Stellara-Signature
//	timeout_sec: 30
//	follow_redirects: true
//	validate_ssl: true
//	fail_on_status: true              # статус >= 400 — неудачная попытка
//
// Outputs: status_code, headers, body (JSON разбирается, иначе строка).
type HTTPStep struct {
	secure   http.RoundTripper
	insecure http.RoundTripper
}

// NewHTTPStep создаёт HTTPStep с общим пулом соединений.
func NewHTTPStep() *HTTPStep {
	base := http.DefaultTransport.(*http.Transport).Clone()
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // включается только validate_ssl: false
	return &HTTPStep{secure: base, insecure: insecure}
}

func (s *HTTPStep) Type() string { return StepTypeHTTP }

// Execute отправляет запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	call, err := parseHTTPCall(req.Config)
	if err != nil {
		return nil, err
	}

	httpReq, err := call.request(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.client(call, req.Timeout).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%s %s: %w", call.method, call.url, err)
	}
	defer resp.Body.Close()

	out, err := readHTTPResponse(resp)
	if err != nil {
		return nil, err
	}
	if call.failOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return out, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       truncate(fmt.Sprint(out.Outputs["body"]), maxErrorBody),
		}
	}
	return out, nil
}

func (s *HTTPStep) client(call *httpCall, attemptTimeout time.Duration) *http.Client {
	c := &http.Client{Transport: s.secure, Timeout: call.timeout}
	if attemptTimeout > 0 {
		c.Timeout = attemptTimeout
	}
	if !call.validateSSL {
		c.Transport = s.insecure
	}
	if !call.followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return c
}

// httpCall — разобранная конфигурация одного вызова.
type httpCall struct {
	method          string
	url             string
	headers         map[string]string
	body            any
	secret          string
	timeout         time.Duration
	followRedirects bool
	validateSSL     bool
	failOnStatus    bool
}

func parseHTTPCall(config map[string]any) (*httpCall, error) {
	call := &httpCall{
		method:          strings.ToUpper(GetConfigString(config, "method")),
		url:             GetConfigString(config, "url"),
		headers:         GetConfigMapString(config, "headers"),
		body:            config["body"],
		secret:          GetConfigString(config, "secret"),
		timeout:         defaultHTTPTimeout,
		followRedirects: GetConfigBool(config, "follow_redirects", true),
		validateSSL:     GetConfigBool(config, "validate_ssl", true),
		failOnStatus:    GetConfigBool(config, "fail_on_status", true),
	}
	if call.url == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, StepTypeHTTP)
	}
	if call.method == "" {
		call.method = http.MethodGet
	}
	if sec := GetConfigInt(config, "timeout_sec"); sec > 0 {
		call.timeout = time.Duration(sec) * time.Second
	}
	return call, nil
}

func (c *httpCall) request(ctx context.Context, req *Request) (*http.Request, error) {
	payload, err := encodeBody(c.body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode body: %w", StepTypeHTTP, err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeHTTP, err)
	}

	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Event.ID != "" {
		httpReq.Header.Set(HeaderEventID, req.Event.ID)
	}
	if req.Attempt > 0 {
		httpReq.Header.Set(HeaderAttempt, strconv.Itoa(req.Attempt))
	}
	if c.secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(c.secret, payload))
	}
	// Явные заголовки из конфигурации важнее стандартных.
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Sign возвращает "sha256=<hex>" — HMAC-SHA256 тела запроса.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func readHTTPResponse(resp *http.Response) (*Response, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed any
		if json.Unmarshal(raw, &parsed) == nil {
			body = parsed
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return NewResponse(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}), nil
}

// HTTPError — ответ со статусом >= 400 при fail_on_status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError сообщает, содержит ли цепочка err *HTTPError.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
