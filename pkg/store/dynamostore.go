package store

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/cuemby/ec2-spot-converter/pkg/log"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// dynamoItem is the on-the-wire shape of a DynamoDB item: the Conversion
// Record's JSON document wrapped under a single attribute, alongside the hash
// key and a State attribute the original tool projects into a GSI so an
// operator can list in-flight jobs by ConversionStep.
type dynamoItem struct {
	JobId   string `json:"JobId" dynamodbav:"JobId"`
	State   string `json:"State" dynamodbav:"State"`
	Record  string `json:"Record" dynamodbav:"Record"`
}

// DynamoStore implements Store against a single DynamoDB table, one item per
// job, hash-keyed on JobId.
type DynamoStore struct {
	svc       *dynamodb.DynamoDB
	tableName string
}

// NewDynamoStore builds a DynamoStore from a shared session.
func NewDynamoStore(sess *session.Session, tableName string) *DynamoStore {
	return &DynamoStore{svc: dynamodb.New(sess), tableName: tableName}
}

// EnsureTable creates the table with PAY_PER_REQUEST billing and a State GSI
// if it does not already exist, matching the original tool's own
// create_table call.
func (s *DynamoStore) EnsureTable() error {
	_, err := s.svc.DescribeTable(&dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err == nil {
		return nil
	}
	if awsErr, ok := err.(awserr.Error); !ok || awsErr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("describe table %s: %w", s.tableName, err)
	}

	_, err = s.svc.CreateTable(&dynamodb.CreateTableInput{
		TableName:   aws.String(s.tableName),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("JobId"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String("State"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("JobId"), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String("State-index"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("State"), KeyType: aws.String(dynamodb.KeyTypeHash)},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.tableName, err)
	}
	if err := s.svc.WaitUntilTableExists(&dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.tableName, err)
	}
	return nil
}

func (s *DynamoStore) Get(jobID string) (*types.ConversionRecord, error) {
	out, err := s.svc.GetItem(&dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]*dynamodb.AttributeValue{"JobId": {S: aws.String(jobID)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", jobID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", jobID, err)
	}
	var rec types.ConversionRecord
	if err := json.Unmarshal([]byte(item.Record), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", jobID, err)
	}
	return &rec, nil
}

// Put writes rec unconditionally; there is no idempotent-skip check here, and
// the Engine calls Put after every completed step whether or not the record
// changed. force is accepted for interface symmetry with the BoltDB double
// but has no effect here: DynamoDB PutItem is already an unconditional
// overwrite.
func (s *DynamoStore) Put(rec *types.ConversionRecord, force bool) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.JobId, err)
	}
	item := dynamoItem{JobId: rec.JobId, State: rec.ConversionStep, Record: string(body)}
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", rec.JobId, err)
	}
	_, err = s.svc.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", rec.JobId, err)
	}
	log.WithComponent("store").Debug().Str("job_id", rec.JobId).Str("step", rec.ConversionStep).Msg("persisted conversion record")
	return nil
}

func (s *DynamoStore) Delete(jobID string) error {
	_, err := s.svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       map[string]*dynamodb.AttributeValue{"JobId": {S: aws.String(jobID)}},
	})
	if err != nil {
		return fmt.Errorf("delete item %s: %w", jobID, err)
	}
	return nil
}

func (s *DynamoStore) Close() error { return nil }
