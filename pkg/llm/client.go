// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"doc-qa-go/internal/config"

	"github.com/gorilla/websocket"
)

const systemPrompt = "You are a helpful assistant. Answer questions based only on the given context."

// ErrUnavailable 表示未配置 API Key，回答生成服务不可用。
var ErrUnavailable = errors.New("llm: answer generation unavailable")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client 调用 OpenAI 兼容的 /chat/completions 接口。
// timeout 限制非流式请求的总时长；流式请求只限制等待响应头的时间，正文可以持续输出。
type Client struct {
	cfg     config.LLMConfig
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// BuildMessages 组装只依据上下文作答的提示词。
func BuildMessages(question, contextText string) []Message {
	prompt := fmt.Sprintf("Answer the question based on the context below.\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:",
		contextText, question)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
}

// Answer 以非流式方式生成回答，返回去除首尾空白后的文本。
func (c *Client) Answer(ctx context.Context, question, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, BuildMessages(question, contextText), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// StreamAnswer 以流式方式生成回答，把每个增量写入 writer，并返回完整回答。
func (c *Client) StreamAnswer(ctx context.Context, question, contextText string, writer MessageWriter) (string, error) {
	resp, err := c.do(ctx, BuildMessages(question, contextText), true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return full.String(), fmt.Errorf("failed to read from stream: %w", err)
		}

		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}
			var chunk chatStreamResponse
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil && len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if content != "" {
					full.WriteString(content)
					if werr := writer.WriteMessage(websocket.TextMessage, []byte(content)); werr != nil {
						return full.String(), fmt.Errorf("failed to write message to websocket: %w", werr)
					}
				}
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}
	return full.String(), nil
}

func (c *Client) do(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrUnavailable
	}

	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	// 从全局配置注入（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}
