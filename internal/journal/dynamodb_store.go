package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/obseal/internal/config"
	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client the journal uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const dynamoTimeout = 10 * time.Second

// DynamoDBStore keeps job records in a DynamoDB table keyed by "id". The
// record is stored as JSON next to a numeric finished_at and an optional ttl.
type DynamoDBStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	logger    *events.Logger
}

// NewDynamoDBStore creates a store using the default AWS credential chain.
func NewDynamoDBStore(ctx context.Context, cfg config.JournalConfig, logger *events.Logger) (*DynamoDBStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.TTL, logger), nil
}

// NewDynamoDBStoreWithClient creates a store around an existing client.
func NewDynamoDBStoreWithClient(client DynamoAPI, table string, ttl time.Duration, logger *events.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: table,
		ttl:       ttl,
		logger:    logger.WithField("component", "dynamodb_journal"),
	}
}

// Record implements Store.
func (s *DynamoDBStore) Record(rec *models.JobRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record without id", models.ErrInvalidJob)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	item := map[string]types.AttributeValue{
		"id":          &types.AttributeValueMemberS{Value: rec.ID},
		"record":      &types.AttributeValueMemberS{Value: string(data)},
		"finished_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(toMillis(rec.FinishedAt), 10)},
	}
	if s.ttl > 0 {
		expires := rec.FinishedAt.Add(s.ttl).Unix()
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id": rec.ID,
		"status": rec.Status,
	}).Debug("Recorded job in DynamoDB")
	return nil
}

// Get implements Store.
func (s *DynamoDBStore) Get(id string) (*models.JobRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, models.ErrJobNotFound
	}

	return decodeItem(out.Item)
}

// List implements Store. The table is scanned and filtered locally.
func (s *DynamoDBStore) List(opts ListOptions) ([]*models.JobRecord, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}

	var out []*models.JobRecord
	for _, rec := range all {
		if opts.matches(rec) {
			out = append(out, rec)
		}
	}
	return opts.apply(out), nil
}

// Prune implements Store.
func (s *DynamoDBStore) Prune(before time.Time) (int64, error) {
	all, err := s.scan()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamoTimeout)
	defer cancel()

	var n int64
	for _, rec := range all {
		if !rec.FinishedAt.Before(before) {
			continue
		}
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: rec.ID},
			},
		})
		if err != nil {
			return n, fmt.Errorf("dynamodb delete %s: %w", rec.ID, err)
		}
		n++
	}

	s.logger.WithField("removed", n).Info("Pruned job history")
	return n, nil
}

// Close implements Store. There is nothing to release.
func (s *DynamoDBStore) Close() error {
	return nil
}

func (s *DynamoDBStore) scan() ([]*models.JobRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*dynamoTimeout)
	defer cancel()

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})

	var recs []*models.JobRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}

		for _, item := range page.Items {
			rec, err := decodeItem(item)
			if err != nil {
				s.logger.WithError(err).Warn("Skipping unreadable journal item")
				continue
			}
			recs = append(recs, rec)
		}
	}

	return recs, nil
}

func decodeItem(item map[string]types.AttributeValue) (*models.JobRecord, error) {
	attr, ok := item["record"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("invalid record attribute type")
	}

	var rec models.JobRecord
	if err := json.Unmarshal([]byte(attr.Value), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}
