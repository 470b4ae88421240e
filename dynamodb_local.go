package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ory/dockertest/v3"
	"go.uber.org/zap"
)

const DEFAULT_DYNAMODB_REPO = "amazon/dynamodb-local"
const DEFAULT_DYNAMODB_VERSION = "latest"

type DynamoDBLocalOpt func(*DynamoDBLocal)

func NewDynamoDBLocal(d *Docker, opts ...DynamoDBLocalOpt) *DynamoDBLocal {
	f := &DynamoDBLocal{
		docker: d,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func DynamoDBLocalVersion(version string) DynamoDBLocalOpt {
	return func(f *DynamoDBLocal) {
		f.version = version
	}
}

// Tables to create, each with a single string hash key named DEFAULT_DYNAMODB_HASH_KEY.
func DynamoDBLocalTables(tables ...string) DynamoDBLocalOpt {
	return func(f *DynamoDBLocal) {
		f.tables = append(f.tables, tables...)
	}
}

// Wait this long for DynamoDB Local to answer. Defaults to 30 seconds.
func DynamoDBLocalTimeoutAfter(timeoutAfter uint) DynamoDBLocalOpt {
	return func(f *DynamoDBLocal) {
		f.timeoutAfter = timeoutAfter
	}
}

// DynamoDBLocal runs amazon/dynamodb-local in memory for DynamoDBBackend to write into.
type DynamoDBLocal struct {
	log          *zap.Logger
	docker       *Docker
	resource     *dockertest.Resource
	client       *dynamodb.Client
	endpoint     string
	version      string
	tables       []string
	timeoutAfter uint
}

func (f *DynamoDBLocal) Client() *dynamodb.Client {
	return f.client
}

func (f *DynamoDBLocal) Endpoint() string {
	return f.endpoint
}

func (f *DynamoDBLocal) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.version == "" {
		f.version = DEFAULT_DYNAMODB_VERSION
	}
	if f.timeoutAfter == 0 {
		f.timeoutAfter = 30
	}
	var err error
	f.resource, err = f.docker.Run(&dockertest.RunOptions{
		Name:       f.docker.GetNamePrefix() + "_dynamodb_" + GenerateString(),
		Repository: DEFAULT_DYNAMODB_REPO,
		Tag:        f.version,
		Cmd:        []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
	}, 0)
	if err != nil {
		return err
	}

	f.endpoint = fmt.Sprintf("http://%v:%v",
		GetContainerAddress(f.resource, f.docker.GetNetwork()),
		GetContainerTcpPort(f.resource, f.docker.GetNetwork(), "8000"),
	)
	f.client = NewDynamoDBLocalClient(f.endpoint)

	if err := f.WaitForReady(ctx, time.Second*time.Duration(f.timeoutAfter)); err != nil {
		return err
	}
	for _, table := range f.tables {
		if err := f.CreateTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (f *DynamoDBLocal) TearDown(ctx context.Context) error {
	if f.resource == nil {
		return nil
	}
	defer f.log.Sync()
	wg.Add(1)
	go purge(f.log, f.docker.GetPool(), f.resource)
	return nil
}

func (f *DynamoDBLocal) WaitForReady(ctx context.Context, d time.Duration) error {
	if err := Retry(ctx, d, func() error {
		_, err := f.client.ListTables(ctx, &dynamodb.ListTablesInput{})
		return err
	}); err != nil {
		return fmt.Errorf("gave up waiting for dynamodb at %v: %w", f.endpoint, err)
	}
	return nil
}

// CreateTable creates a pay-per-request table keyed by DEFAULT_DYNAMODB_HASH_KEY and waits for it to
// become active.
func (f *DynamoDBLocal) CreateTable(ctx context.Context, table string) error {
	if _, err := f.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(DEFAULT_DYNAMODB_HASH_KEY), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(DEFAULT_DYNAMODB_HASH_KEY), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	}); err != nil {
		return fmt.Errorf("failed to create table %v: %w", table, err)
	}
	waiter := dynamodb.NewTableExistsWaiter(f.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, time.Second*time.Duration(f.timeoutAfter)); err != nil {
		return fmt.Errorf("table %v did not become active: %w", table, err)
	}
	f.log.Debug("create table", zap.String("table", table), zap.String("endpoint", f.endpoint))
	return nil
}

// NewDynamoDBLocalClient returns a client for a DynamoDB Local endpoint. DynamoDB Local accepts any
// credentials, so static placeholders are used.
func NewDynamoDBLocalClient(endpoint string) *dynamodb.Client {
	return dynamodb.New(dynamodb.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local", Source: "fixtures"}, nil
		}),
	})
}
