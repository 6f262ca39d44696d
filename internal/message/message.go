// Package message decodes raw queue messages into typed requests and
// encodes requests for producers.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/queue"
)

// Attribute names shared with the producers of each message kind.
const (
	AttrBucketKey = "bucket_key"
	AttrInputFile = "s3_input_file"
	AttrOutputKey = "s3_output_bucket_key"
)

// Parser decodes one kind of request from a raw message. Parsers must not
// perform I/O.
type Parser[T any] func(queue.RawMessage) (T, error)

// Parsed is a raw message together with its decoded payload.
type Parsed[T any] struct {
	Raw     queue.RawMessage
	Payload T
}

// MalformedError reports a message that could not be decoded.
type MalformedError struct {
	MessageID string
	Err       error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message %s: %v", e.MessageID, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Parse decodes raw with parse. A panicking parser is reported as a
// MalformedError rather than propagated.
func Parse[T any](raw queue.RawMessage, parse Parser[T]) (p Parsed[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &MalformedError{MessageID: raw.MessageID, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	payload, err := parse(raw)
	if err != nil {
		var malformed *MalformedError
		if !errors.As(err, &malformed) {
			err = &MalformedError{MessageID: raw.MessageID, Err: err}
		}
		return Parsed[T]{}, err
	}
	return Parsed[T]{Raw: raw, Payload: payload}, nil
}

// ParseBatch decodes every message independently. Malformed messages are
// logged and returned separately; they never stop the rest of the batch.
func ParseBatch[T any](raws []queue.RawMessage, parse Parser[T]) ([]Parsed[T], []*MalformedError) {
	parsed := make([]Parsed[T], 0, len(raws))
	var malformed []*MalformedError

	for _, raw := range raws {
		p, err := Parse(raw, parse)
		if err != nil {
			var mErr *MalformedError
			errors.As(err, &mErr)
			log.Warn().Err(err).Str("message_id", raw.MessageID).Str("body", raw.Body).Msg("Skipping malformed message")
			malformed = append(malformed, mErr)
			continue
		}
		parsed = append(parsed, p)
	}
	return parsed, malformed
}

// FromLambdaEvent converts the records of an SQS-triggered Lambda event.
func FromLambdaEvent(event events.SQSEvent) []queue.RawMessage {
	raws := make([]queue.RawMessage, 0, len(event.Records))
	for _, r := range event.Records {
		attrs := make(map[string]string, len(r.MessageAttributes))
		for k, v := range r.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		raws = append(raws, queue.RawMessage{
			MessageID:     r.MessageId,
			ReceiptHandle: r.ReceiptHandle,
			Body:          r.Body,
			Attributes:    attrs,
		})
	}
	return raws
}

// ScrapeRequest asks for a list of workout pages to be scraped, with the
// results stored under BucketKey.
type ScrapeRequest struct {
	URLs      []string
	BucketKey string
}

func ParseScrapeRequest(raw queue.RawMessage) (ScrapeRequest, error) {
	bucketKey, err := requiredAttribute(raw, AttrBucketKey)
	if err != nil {
		return ScrapeRequest{}, err
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw.Body), &urls); err != nil {
		return ScrapeRequest{}, fmt.Errorf("decoding url list: %w", err)
	}
	return ScrapeRequest{URLs: urls, BucketKey: bucketKey}, nil
}

func EncodeScrapeRequest(req ScrapeRequest) (string, map[string]string, error) {
	urls := req.URLs
	if urls == nil {
		urls = []string{}
	}
	body, err := json.Marshal(urls)
	if err != nil {
		return "", nil, err
	}
	return string(body), map[string]string{AttrBucketKey: req.BucketKey}, nil
}

// TransformRequest asks for one scraped file to be split into CSV
// components under OutputKey.
type TransformRequest struct {
	InputKey  string
	OutputKey string
}

func ParseTransformRequest(raw queue.RawMessage) (TransformRequest, error) {
	in, err := requiredAttribute(raw, AttrInputFile)
	if err != nil {
		return TransformRequest{}, err
	}
	out, err := requiredAttribute(raw, AttrOutputKey)
	if err != nil {
		return TransformRequest{}, err
	}
	return TransformRequest{InputKey: in, OutputKey: out}, nil
}

// EncodeTransformRequest carries everything in attributes. SQS rejects empty
// bodies, so the body is a fixed placeholder.
func EncodeTransformRequest(req TransformRequest) (string, map[string]string) {
	return "transform", map[string]string{
		AttrInputFile: req.InputKey,
		AttrOutputKey: req.OutputKey,
	}
}

// TriggerRequest asks for Count links per age group to be queued for scraping.
type TriggerRequest struct {
	Count int
}

func ParseTriggerRequest(raw queue.RawMessage) (TriggerRequest, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw.Body))
	if err != nil {
		return TriggerRequest{}, fmt.Errorf("decoding link count: %w", err)
	}
	if n < 1 {
		return TriggerRequest{}, fmt.Errorf("link count must be positive, got %d", n)
	}
	return TriggerRequest{Count: n}, nil
}

func EncodeTriggerRequest(req TriggerRequest) string {
	return strconv.Itoa(req.Count)
}

func requiredAttribute(raw queue.RawMessage, name string) (string, error) {
	v, ok := raw.Attributes[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing attribute %q", name)
	}
	return v, nil
}
