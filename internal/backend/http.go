package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSender posts chat requests to a backend endpoint such as
// http://localhost:8000/chats.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSender{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *HTTPSender) SendMessage(ctx context.Context, req Request) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream, application/x-ndjson, text/plain")

	res, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, &SendError{Code: CodeTransport, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, &SendError{
			Code:       CodeHTTPStatus,
			StatusCode: res.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
		}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	var reply Reply
	switch {
	case strings.Contains(ct, "text/event-stream"):
		reply, err = consumeSSE(res.Body)
	case strings.Contains(ct, "application/x-ndjson"):
		reply, err = consumeNDJSON(res.Body)
	default:
		reply, err = decodeBody(res.Body)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, &SendError{Code: CodeDecode, Err: err}
	}
	return reply, nil
}

func decodeBody(body io.Reader) (Reply, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Plain-text backends answer with the reply itself.
		return Reply{Text: strings.TrimSpace(string(raw))}, nil
	}
	return Reply{ChatID: extractChatID(obj), Text: extractText(obj)}, nil
}

// consumeSSE reassembles a streamed reply into one full text.
func consumeSSE(body io.Reader) (Reply, error) {
	var reply Reply
	var out strings.Builder
	err := scanLines(body, func(line string) {
		if !strings.HasPrefix(line, "data:") {
			return
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			return
		}
		out.WriteString(streamDelta(data, &reply))
	})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = out.String()
	return reply, nil
}

func consumeNDJSON(body io.Reader) (Reply, error) {
	var reply Reply
	var out strings.Builder
	err := scanLines(body, func(line string) {
		if line == "[DONE]" {
			return
		}
		out.WriteString(streamDelta(line, &reply))
	})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = out.String()
	return reply, nil
}

func scanLines(body io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

// streamDelta returns the text carried by one stream event, which is either a
// JSON object or raw text. Spacing inside raw deltas is significant.
func streamDelta(data string, reply *Reply) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}
	if id := extractChatID(obj); id != 0 {
		reply.ChatID = id
	}
	return extractText(obj)
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"response", "text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractChatID(obj map[string]any) int64 {
	switch v := obj["chat_id"].(type) {
	case float64:
		return int64(v)
	case string:
		var id int64
		if _, err := fmt.Sscan(v, &id); err == nil {
			return id
		}
	}
	return 0
}
