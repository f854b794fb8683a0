package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/sowhat82/cravemap/internal/types"
)

// Dimension names for emitted metrics.
const (
	DimTier      = "Tier"
	DimOperation = "Operation"
	DimEventType = "EventType"
	DimStatus    = "Status"
)

// Metric names.
const (
	MetricQuotaDenied     = "QuotaDenied"
	MetricStoreSaveFailed = "StoreSaveFailed"
	MetricOracleFallback  = "OracleFallback"
	MetricWebhookEvent    = "WebhookEvent"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchCollector implements Collector.
var _ Collector = (*CloudWatchCollector)(nil)

// CloudWatchCollector implements Collector by publishing counters to AWS
// CloudWatch. Publish failures are logged and swallowed so that telemetry
// never fails the request path.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCollector creates a CloudWatchCollector that publishes to the
// given CloudWatch namespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// QuotaDenied emits a QuotaDenied count with the Tier dimension.
func (c *CloudWatchCollector) QuotaDenied(ctx context.Context, tier types.AccessTier) {
	c.put(ctx, MetricQuotaDenied, cwtypes.Dimension{
		Name:  aws.String(DimTier),
		Value: aws.String(string(tier)),
	})
}

// StoreSaveFailed emits a StoreSaveFailed count with the Operation dimension.
func (c *CloudWatchCollector) StoreSaveFailed(ctx context.Context, op string) {
	c.put(ctx, MetricStoreSaveFailed, cwtypes.Dimension{
		Name:  aws.String(DimOperation),
		Value: aws.String(op),
	})
}

// OracleFallback emits an undimensioned OracleFallback count.
func (c *CloudWatchCollector) OracleFallback(ctx context.Context) {
	c.put(ctx, MetricOracleFallback)
}

// WebhookEvent emits a WebhookEvent count with EventType and Status dimensions.
func (c *CloudWatchCollector) WebhookEvent(ctx context.Context, eventType string, status types.WebhookStatus) {
	c.put(ctx, MetricWebhookEvent,
		cwtypes.Dimension{
			Name:  aws.String(DimEventType),
			Value: aws.String(eventType),
		},
		cwtypes.Dimension{
			Name:  aws.String(DimStatus),
			Value: aws.String(string(status)),
		},
	)
}

func (c *CloudWatchCollector) put(ctx context.Context, name string, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.Error("failed to publish metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}
