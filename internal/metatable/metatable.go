// Package metatable is the write-only client for the external metadata
// table consumed by the CDN edge: batch put/delete of publish items, keyed
// by (web_uri, from_date). Grounded on
// original_source/exodus_gw/aws/dynamodb.py's batch_write actor
// (IncompleteBatchWrite / UnprocessedItems retry), using
// github.com/aws/aws-sdk-go-v2/service/dynamodb.
package metatable

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/exodus-gw/exodus-gw/internal/logging"
)

// MaxBatchSize is the hard cap on items per BatchWriteItem call, imposed by
// AWS (spec.md §4.5 batching).
const MaxBatchSize = 25

// Entry is one row to put or delete. ObjectKey/LinkTo/ContentType are only
// meaningful for a put; a delete only needs the key fields.
type Entry struct {
	WebURI      string
	FromDate    string
	ObjectKey   string
	LinkTo      string
	ContentType string
}

// Client is a thin wrapper over *dynamodb.Client providing the batch
// put/delete retry loop the core needs, scoped to one table.
type Client struct {
	ddb   *dynamodb.Client
	table string
}

// New constructs a Client using the named AWS profile's default config.
// The DynamoDB client is built with the SDK's default options; none of them
// is overridden here.
func New(ctx context.Context, profile, table string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithSharedConfigProfile(profile))
	if err != nil {
		return nil, fmt.Errorf("load aws config for profile %s: %w", profile, err)
	}
	return &Client{ddb: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// WriteBatch puts (or, if delete is true, deletes) up to MaxBatchSize
// entries in one logical batch, retrying UnprocessedItems with backoff
// until either the table accepts every item or maxAttempts is exhausted
// (spec.md §4.5/§6, "the core retries until a time or attempt budget is
// exhausted").
func (c *Client) WriteBatch(ctx context.Context, entries []Entry, deleteMode bool, maxAttempts int) error {
	if len(entries) > MaxBatchSize {
		return fmt.Errorf("cannot process more than %d items in one batch (got %d)", MaxBatchSize, len(entries))
	}
	if len(entries) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(entries))
	for _, e := range entries {
		key := map[string]types.AttributeValue{
			"web_uri":   &types.AttributeValueMemberS{Value: e.WebURI},
			"from_date": &types.AttributeValueMemberS{Value: e.FromDate},
		}
		if deleteMode {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
			continue
		}

		item := map[string]types.AttributeValue{
			"web_uri":    &types.AttributeValueMemberS{Value: e.WebURI},
			"from_date":  &types.AttributeValueMemberS{Value: e.FromDate},
			"object_key": &types.AttributeValueMemberS{Value: e.ObjectKey},
		}
		if e.LinkTo != "" {
			item["link_to"] = &types.AttributeValueMemberS{Value: e.LinkTo}
		}
		if e.ContentType != "" {
			item["content_type"] = &types.AttributeValueMemberS{Value: e.ContentType}
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}

	backoff := 200 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := c.ddb.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.table: requests},
		})
		if err != nil {
			return fmt.Errorf("batch write to table %s: %w", c.table, err)
		}

		remaining := out.UnprocessedItems[c.table]
		if len(remaining) == 0 {
			return nil
		}

		logging.Op().Warn("incomplete batch write, retrying unprocessed items",
			"table", c.table, "unprocessed", len(remaining), "attempt", attempt)
		requests = remaining

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("batch write to table %s: %d item(s) still unprocessed after %d attempts", c.table, len(requests), maxAttempts)
}

// WriteConfig puts the single validated CDN-config blob for env, keyed by
// "config" (spec.md §4.7's "write a validated CDN-config blob").
func (c *Client) WriteConfig(ctx context.Context, blob []byte, fromDate string) error {
	_, err := c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"web_uri":   &types.AttributeValueMemberS{Value: "config"},
			"from_date": &types.AttributeValueMemberS{Value: fromDate},
			"config":    &types.AttributeValueMemberS{Value: string(blob)},
		},
	})
	if err != nil {
		return fmt.Errorf("write config to table %s: %w", c.table, err)
	}
	return nil
}
