// Package queue wraps a single SQS standard queue. Messages may arrive out of
// order and more than once; nothing here spans calls.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// API is the subset of *sqs.Client the queue needs.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// ErrNotFound is returned by Delete when the receipt handle no longer refers
// to an in-flight message, usually because it was already deleted or its
// visibility timeout expired.
var ErrNotFound = errors.New("message not found")

// Error is returned for every failed queue operation.
type Error struct {
	Op       string
	QueueURL string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s %s: %v", e.Op, e.QueueURL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RawMessage is one delivery of a message. ReceiptHandle identifies the
// delivery, not the message, and is what Delete needs.
type RawMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
}

// Stats are the approximate message counts SQS reports for a queue.
type Stats struct {
	Available int
	InFlight  int
	Delayed   int
}

// MaxWaitTime is the longest long-poll SQS allows, in seconds.
const MaxWaitTime int32 = 20

type Client struct {
	api      API
	url      string
	waitTime int32
}

func New(api API, queueURL string) *Client {
	return &Client{api: api, url: queueURL}
}

// WithWaitTime returns a copy of the client that long-polls for up to
// seconds on Receive.
func (c *Client) WithWaitTime(seconds int32) *Client {
	cp := *c
	cp.waitTime = seconds
	return &cp
}

func (c *Client) URL() string { return c.url }

func (c *Client) Send(ctx context.Context, body string, attributes map[string]string) (string, error) {
	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.url),
		MessageBody:       aws.String(body),
		MessageAttributes: toAttributeValues(attributes),
	})
	if err != nil {
		return "", &Error{Op: "send", QueueURL: c.url, Err: err}
	}
	return aws.ToString(out.MessageId), nil
}

// Receive returns up to maxMessages messages, possibly none.
func (c *Client) Receive(ctx context.Context, maxMessages int32) ([]RawMessage, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.url),
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       c.waitTime,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, &Error{Op: "receive", QueueURL: c.url, Err: err}
	}

	msgs := make([]RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, FromSQS(m))
	}
	return msgs, nil
}

func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return &Error{Op: "delete", QueueURL: c.url, Err: err}
	}
	return nil
}

func (c *Client) Purge(ctx context.Context) error {
	if _, err := c.api.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(c.url)}); err != nil {
		return &Error{Op: "purge", QueueURL: c.url, Err: err}
	}
	return nil
}

// ExtendVisibility hides the delivery from other consumers for another
// seconds, counted from now. It fails with ErrNotFound once the delivery
// was deleted or its visibility timeout expired.
func (c *Client) ExtendVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return &Error{Op: "change visibility", QueueURL: c.url, Err: err}
	}
	return nil
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	out, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Stats{}, &Error{Op: "stats", QueueURL: c.url, Err: err}
	}

	count := func(name types.QueueAttributeName) int {
		n, _ := strconv.Atoi(out.Attributes[string(name)])
		return n
	}
	return Stats{
		Available: count(types.QueueAttributeNameApproximateNumberOfMessages),
		InFlight:  count(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:   count(types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

// FromSQS converts a polled SQS message. Only string-typed attribute values
// are carried over.
func FromSQS(m types.Message) RawMessage {
	attrs := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return RawMessage{
		MessageID:     aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Attributes:    attrs,
	}
}

func toAttributeValues(attributes map[string]string) map[string]types.MessageAttributeValue {
	if len(attributes) == 0 {
		return nil
	}
	values := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		values[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return values
}

func isNotFound(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	var notInflight *types.MessageNotInflight
	if errors.As(err, &invalid) || errors.As(err, &notInflight) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "AWS.SimpleQueueService.MessageNotInflight":
			return true
		}
	}
	return false
}
