package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every SendMessage call.
type SQS struct {
	mu   sync.Mutex
	Sent []*sqs.SendMessageInput
	Err  error
}

func (s *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Sent = append(s.Sent, in)
	id := fmt.Sprintf("msg-%d", len(s.Sent))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Bodies returns the bodies of all sent messages in order.
func (s *SQS) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Sent))
	for _, in := range s.Sent {
		out = append(out, deref(in.MessageBody))
	}
	return out
}

// CloudWatch records the names of metrics put.
type CloudWatch struct {
	mu    sync.Mutex
	Names []string
	Err   error
}

func (c *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	for _, d := range in.MetricData {
		c.Names = append(c.Names, deref(d.MetricName))
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Count reports how many data points named name were put.
func (c *CloudWatch) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.Names {
		if got == name {
			n++
		}
	}
	return n
}
