package utils

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// StatusError 非 2xx 响应
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("请求 %s 失败，状态码: %d", e.URL, e.Code)
}

// HTTPClient JSON 接口客户端
type HTTPClient struct {
	httpClient *http.Client
	userAgent  string
}

// NewHTTPClient 创建新的HTTP客户端，timeout<=0 时默认 30 秒
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "moovie-recommender/1.0",
	}
}

// GetJSON 发送GET请求并解析JSON响应
func (c *HTTPClient) GetJSON(ctx context.Context, url string, target any) error {
	return c.do(ctx, http.MethodGet, url, nil, target)
}

// PostJSON 以 JSON 发送请求体并解析响应
func (c *HTTPClient) PostJSON(ctx context.Context, url string, payload, target any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, bytes.NewReader(data), target)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return err
	}
	defer reader.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(reader, 512))
		return &StatusError{URL: url, Code: resp.StatusCode, Body: string(snippet)}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(reader).Decode(target); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// decodeBody 按 Content-Encoding 解压响应体
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("创建gzip读取器失败: %w", err)
		}
		return r, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}
