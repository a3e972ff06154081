// Package bedrock serves Anthropic models hosted on AWS Bedrock. Bedrock
// wraps each Messages API event in its own event-stream framing; the adapter
// re-frames them as server-sent events so the Anthropic normalizer applies.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
	"github.com/felipepmaragno/chat-gateway/internal/provider/anthropic"
)

const anthropicVersion = "bedrock-2023-05-31"

type eventStream interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

type invokeFunc func(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (eventStream, error)

type Adapter struct {
	invoke invokeFunc
}

// New returns an adapter over client. A nil client yields an adapter that
// reports itself unconfigured.
func New(client *bedrockruntime.Client) *Adapter {
	if client == nil {
		return &Adapter{}
	}
	return &Adapter{
		invoke: func(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (eventStream, error) {
			out, err := client.InvokeModelWithResponseStream(ctx, in)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
	}
}

// NewFromRegion loads the default AWS credential chain for region.
func NewFromRegion(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(cfg)), nil
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderBedrock }
func (a *Adapter) Format() domain.WireFormat { return domain.WireAnthropic }
func (a *Adapter) Configured() bool          { return a.invoke != nil }

func (a *Adapter) Send(ctx context.Context, req provider.Request) (io.ReadCloser, error) {
	if !a.Configured() {
		return nil, &domain.NotConfiguredError{Provider: domain.ProviderBedrock}
	}

	body := anthropic.BuildRequest(req)
	body.AnthropicVersion = anthropicVersion

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	stream, err := a.invoke(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Model.NativeName),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return nil, &domain.ProviderError{
				Provider:   domain.ProviderBedrock,
				StatusCode: re.HTTPStatusCode(),
				Body:       err.Error(),
			}
		}
		return nil, fmt.Errorf("invoke bedrock model: %w", err)
	}

	pr, pw := io.Pipe()
	go relay(stream, pw)
	return &streamBody{PipeReader: pr, stream: stream}, nil
}

// relay writes every chunk as one "data:" line until the event channel closes.
func relay(stream eventStream, pw *io.PipeWriter) {
	defer stream.Close()

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(pw, "data: %s\n\n", chunk.Value.Bytes); err != nil {
			return
		}
	}
	pw.CloseWithError(stream.Err())
}

type streamBody struct {
	*io.PipeReader
	stream eventStream
}

func (b *streamBody) Close() error {
	b.stream.Close()
	return b.PipeReader.Close()
}
