// Package stream turns provider server-sent event streams into the canonical
// delta frames the gateway returns to clients.
package stream

import (
	"bytes"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	frameTemplate = `{"choices":[{"delta":{"content":""}}]}`
	DoneFrame     = "data: [DONE]\n\n"
)

// Frame encodes one text delta as a canonical event frame.
func Frame(text string) string {
	payload, err := sjson.Set(frameTemplate, "choices.0.delta.content", text)
	if err != nil {
		return ""
	}
	return "data: " + payload + "\n\n"
}

// Normalizer is not safe for concurrent use. One instance serves one stream.
type Normalizer struct {
	format domain.WireFormat
	buf    []byte

	usage    domain.Usage
	captured bool
	ended    bool
	failure  string
}

func New(format domain.WireFormat) *Normalizer {
	return &Normalizer{format: format}
}

// Feed appends a raw read to the decode buffer and returns the canonical
// frames for every complete line. A trailing partial line stays buffered
// until the next read completes it.
func (n *Normalizer) Feed(chunk []byte) []string {
	n.buf = append(n.buf, chunk...)

	var frames []string
	for {
		idx := bytes.IndexByte(n.buf, '\n')
		if idx < 0 {
			break
		}
		line := n.buf[:idx]
		n.buf = n.buf[idx+1:]
		if text, ok := n.line(line); ok {
			frames = append(frames, Frame(text))
		}
	}

	if len(n.buf) == 0 {
		n.buf = nil
	}
	return frames
}

// Flush processes whatever remains in the buffer once the upstream body is
// exhausted.
func (n *Normalizer) Flush() []string {
	if len(n.buf) == 0 {
		return nil
	}
	rest := n.buf
	n.buf = nil
	if text, ok := n.line(rest); ok {
		return []string{Frame(text)}
	}
	return nil
}

// Usage returns the accounting block seen on the stream, if any. It is never
// forwarded to the client.
func (n *Normalizer) Usage() (domain.Usage, bool) {
	return n.usage, n.captured
}

// Ended reports whether the provider signalled the end of the message.
func (n *Normalizer) Ended() bool {
	return n.ended
}

// Failure returns the provider error message carried in-band, if any.
func (n *Normalizer) Failure() string {
	return n.failure
}

func (n *Normalizer) line(raw []byte) (string, bool) {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return "", false
	}
	if payload == "[DONE]" {
		n.ended = true
		return "", false
	}
	if !gjson.Valid(payload) {
		metrics.RecordStreamLineDropped(string(n.format))
		return "", false
	}

	event := gjson.Parse(payload)
	switch n.format {
	case domain.WireGoogle:
		return n.google(event)
	case domain.WireAnthropic:
		return n.anthropic(event)
	default:
		return n.openai(event)
	}
}

func (n *Normalizer) openai(event gjson.Result) (string, bool) {
	if errMsg := event.Get("error.message"); errMsg.Exists() {
		n.failure = errMsg.String()
		return "", false
	}
	if usage := event.Get("usage"); usage.IsObject() {
		n.captureInput(usage.Get("prompt_tokens"))
		n.captureOutput(usage.Get("completion_tokens"))
	}
	if reason := event.Get("choices.0.finish_reason"); reason.Type == gjson.String {
		n.ended = true
	}
	text := event.Get("choices.0.delta.content").String()
	return text, text != ""
}

func (n *Normalizer) google(event gjson.Result) (string, bool) {
	if errMsg := event.Get("error.message"); errMsg.Exists() {
		n.failure = errMsg.String()
		return "", false
	}
	// usageMetadata is cumulative; the last block seen wins.
	if usage := event.Get("usageMetadata"); usage.IsObject() {
		n.captureInput(usage.Get("promptTokenCount"))
		n.captureOutput(usage.Get("candidatesTokenCount"))
	}
	if event.Get("candidates.0.finishReason").Exists() {
		n.ended = true
	}

	var sb strings.Builder
	for _, part := range event.Get("candidates.0.content.parts").Array() {
		if part.Get("thought").Bool() {
			continue
		}
		sb.WriteString(part.Get("text").String())
	}
	text := sb.String()
	return text, text != ""
}

func (n *Normalizer) anthropic(event gjson.Result) (string, bool) {
	switch event.Get("type").String() {
	case "message_start":
		usage := event.Get("message.usage")
		n.captureInput(usage.Get("input_tokens"))
		n.captureOutput(usage.Get("output_tokens"))
	case "content_block_delta":
		if event.Get("delta.type").String() == "text_delta" || event.Get("delta.text").Exists() {
			text := event.Get("delta.text").String()
			return text, text != ""
		}
	case "message_delta":
		n.captureOutput(event.Get("usage.output_tokens"))
	case "message_stop":
		n.ended = true
	case "error":
		n.failure = event.Get("error.message").String()
		if n.failure == "" {
			n.failure = "provider stream error"
		}
	}
	return "", false
}

func (n *Normalizer) captureInput(v gjson.Result) {
	if v.Exists() {
		n.usage.InputTokens = int(v.Int())
		n.captured = true
	}
}

func (n *Normalizer) captureOutput(v gjson.Result) {
	if v.Exists() {
		n.usage.OutputTokens = int(v.Int())
		n.captured = true
	}
}
