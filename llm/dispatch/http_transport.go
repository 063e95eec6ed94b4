package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/llm/cache"
	"github.com/BaSui01/tokengate/types"
)

// HTTPTransport 通用 JSON-over-HTTP 生成服务客户端
//
//	POST {base}/v1/generate
//	POST {base}/v1/count_tokens
//	POST {base}/v1/contexts
//	GET  {base}/v1/contexts/{name}
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPTransport 创建 HTTP 传输。client 为 nil 时使用不设超时的默认客户端，
// 超时由 Dispatcher 的单次尝试 ctx 控制。
func NewHTTPTransport(baseURL, apiKey string, client *http.Client, logger *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger.With(zap.String("component", "http_transport")),
	}
}

type generateResponse struct {
	Text         string           `json:"text"`
	FinishReason string           `json:"finish_reason"`
	Usage        types.TokenUsage `json:"usage"`
}

type countTokensRequest struct {
	Model    string `json:"model,omitempty"`
	Contents string `json:"contents"`
}

type countTokensResponse struct {
	TotalTokens int `json:"total_tokens"`
}

type contextResponse struct {
	Name       string    `json:"name"`
	Model      string    `json:"model,omitempty"`
	ExpireTime time.Time `json:"expire_time,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Call 实现 Transport
func (t *HTTPTransport) Call(ctx context.Context, payload Payload) (*Response, error) {
	var out generateResponse
	if err := t.do(ctx, http.MethodPost, "/v1/generate", payload, &out); err != nil {
		return nil, withModel(err, payload.Model)
	}
	reason := FinishReason(strings.ToLower(out.FinishReason))
	if reason == "" {
		reason = FinishOther
	}
	return &Response{Text: out.Text, FinishReason: reason, Usage: out.Usage}, nil
}

// CountTokens 实现 Transport，同时满足 cache.TokenCounter
func (t *HTTPTransport) CountTokens(ctx context.Context, content string) (int, error) {
	var out countTokensResponse
	if err := t.do(ctx, http.MethodPost, "/v1/count_tokens", countTokensRequest{Contents: content}, &out); err != nil {
		return 0, err
	}
	return out.TotalTokens, nil
}

// CreateContext 实现 cache.ContextService
func (t *HTTPTransport) CreateContext(ctx context.Context, req cache.CreateRequest) (*cache.Handle, error) {
	var out contextResponse
	if err := t.do(ctx, http.MethodPost, "/v1/contexts", req, &out); err != nil {
		return nil, withModel(err, req.Model)
	}
	return &cache.Handle{Name: out.Name, Model: out.Model, ExpireTime: out.ExpireTime}, nil
}

// GetContext 实现 cache.ContextService
func (t *HTTPTransport) GetContext(ctx context.Context, name string) (*cache.Handle, error) {
	var out contextResponse
	if err := t.do(ctx, http.MethodGet, "/v1/contexts/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &cache.Handle{Name: out.Name, Model: out.Model, ExpireTime: out.ExpireTime}, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "marshal request").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "build request").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// ctx 超时 / 取消原样返回，由重试分类器判定
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return types.NewError(types.ErrServiceUnavailable, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		t.logger.Debug("upstream error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return mapHTTPError(resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstreamError, "decode response").WithCause(err).WithHTTPStatus(resp.StatusCode)
	}
	return nil
}

// mapHTTPError 将 HTTP 状态码映射为统一错误码
func mapHTTPError(status int, msg string) *types.Error {
	var code types.ErrorCode
	switch status {
	case http.StatusTooManyRequests:
		code = types.ErrResourceExhausted
	case http.StatusServiceUnavailable:
		code = types.ErrServiceUnavailable
	case http.StatusGatewayTimeout:
		code = types.ErrDeadlineExceeded
	case http.StatusRequestTimeout:
		code = types.ErrTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		code = types.ErrInvalidRequest
	default:
		code = types.ErrUpstreamError
	}
	return types.NewError(code, msg).WithHTTPStatus(status)
}

func readErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func withModel(err error, model string) error {
	if e, ok := types.AsError(err); ok && e.Model == "" {
		e.Model = model
	}
	return err
}

var (
	_ Transport            = (*HTTPTransport)(nil)
	_ cache.ContextService = (*HTTPTransport)(nil)
	_ cache.TokenCounter   = (*HTTPTransport)(nil)
)
