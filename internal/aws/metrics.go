package aws

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics emits count metrics to CloudWatch. A nil *Metrics is a no-op.
// Emission failures are logged, not returned.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	service   string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics publishing under namespace with a Service
// dimension.
func NewMetrics(client CloudWatchAPI, namespace, service string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		service:   service,
		nowFunc:   time.Now,
	}
}

// Incr records a count of 1 for name.
func (m *Metrics) Incr(ctx context.Context, name string) {
	if m == nil || m.client == nil {
		return
	}
	value := 1.0
	ts := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &ts,
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("Service"), Value: awsString(m.service)},
				},
			},
		},
	})
	if err != nil {
		slog.WarnContext(ctx, "put metric failed", "metric", name, "error", err)
	}
}
