package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"avcb/internal/apperr"
)

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call.
const maxTransactItems = 100

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Dynamo keeps one DynamoDB table per entity, keyed by the string attribute "id".
type Dynamo struct {
	Client DynamoAPI
	// Prefix is prepended to every table name, e.g. "avcb-prod-".
	Prefix string
	Now    func() time.Time
}

// NewDynamo returns a Store backed by client.
func NewDynamo(client DynamoAPI, prefix string) *Dynamo {
	return &Dynamo{Client: client, Prefix: prefix}
}

func (d *Dynamo) tableName(table string) *string {
	return aws.String(d.Prefix + table)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func (d *Dynamo) Get(ctx context.Context, table, id string) (Record, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      d.tableName(table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s: %w", table, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rec, nil
}

func (d *Dynamo) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	in := &dynamodb.ScanInput{TableName: d.tableName(table), ConsistentRead: aws.Bool(true)}
	if len(filters) > 0 {
		cond := expression.Name(filters[0].Field).Equal(expression.Value(filters[0].Value))
		for _, f := range filters[1:] {
			cond = cond.And(expression.Name(f.Field).Equal(expression.Value(f.Value)))
		}
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("build scan filter: %w", err)
		}
		in.FilterExpression = expr.Filter()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	var out []Record
	pages := dynamodb.NewScanPaginator(d.Client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", table, err)
		}
		for _, item := range page.Items {
			var rec Record
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("decode %s: %w", table, err)
			}
			out = append(out, rec)
		}
	}
	SortByCreated(out)
	return out, nil
}

func (d *Dynamo) Create(ctx context.Context, table string, rec Record) (string, error) {
	put, id, err := d.putItem(table, rec)
	if err != nil {
		return "", err
	}
	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                put.TableName,
		Item:                     put.Item,
		ConditionExpression:      put.ConditionExpression,
		ExpressionAttributeNames: put.ExpressionAttributeNames,
	})
	if err != nil {
		if conditionFailed(err) {
			return "", apperr.Conflict("%s %s already exists", table, id)
		}
		return "", fmt.Errorf("dynamodb put %s: %w", table, err)
	}
	return id, nil
}

func (d *Dynamo) Update(ctx context.Context, table, id string, patch Record) error {
	upd, err := d.updateItem(table, id, patch)
	if err != nil {
		return err
	}
	if upd == nil {
		_, err := d.Get(ctx, table, id)
		return err
	}
	_, err = d.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 upd.TableName,
		Key:                       upd.Key,
		UpdateExpression:          upd.UpdateExpression,
		ConditionExpression:       upd.ConditionExpression,
		ExpressionAttributeNames:  upd.ExpressionAttributeNames,
		ExpressionAttributeValues: upd.ExpressionAttributeValues,
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		return fmt.Errorf("dynamodb update %s: %w", table, err)
	}
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, table, id string) error {
	del, err := d.deleteItem(table, id)
	if err != nil {
		return err
	}
	_, err = d.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                del.TableName,
		Key:                      del.Key,
		ConditionExpression:      del.ConditionExpression,
		ExpressionAttributeNames: del.ExpressionAttributeNames,
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		return fmt.Errorf("dynamodb delete %s: %w", table, err)
	}
	return nil
}

// Tx buffers writes and commits them with a single TransactWriteItems call.
// Reads inside fn do not observe the buffered writes.
func (d *Dynamo) Tx(ctx context.Context, fn func(Store) error) error {
	tx := &dynamoTx{d: d}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.items) == 0 {
		return nil
	}
	if len(tx.items) > maxTransactItems {
		return fmt.Errorf("transaction has %d writes; dynamodb allows %d", len(tx.items), maxTransactItems)
	}
	_, err := d.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx.items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return apperr.Conflict("transaction canceled: a record changed or is missing")
				}
			}
		}
		return fmt.Errorf("dynamodb transact: %w", err)
	}
	return nil
}

func (d *Dynamo) putItem(table string, rec Record) (*types.Put, string, error) {
	spec, err := Lookup(table)
	if err != nil {
		return nil, "", err
	}
	full, err := prepareCreate(spec, rec, nowFn(d.Now)())
	if err != nil {
		return nil, "", err
	}
	item, err := attributevalue.MarshalMap(map[string]any(full))
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", table, err)
	}
	return &types.Put{
		TableName:                d.tableName(table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	}, stringField(full, "id"), nil
}

// updateItem returns nil when the patch carries no writable field.
func (d *Dynamo) updateItem(table, id string, patch Record) (*types.Update, error) {
	spec, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	fields := Record{}
	for k, v := range patch {
		if k == "id" || k == "created_at" {
			continue
		}
		fields[k] = v
	}
	if spec.Stamped {
		fields["updated_at"] = Timestamp(nowFn(d.Now)())
	}
	if len(fields) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	upd := expression.Set(expression.Name(keys[0]), expression.Value(fields[keys[0]]))
	for _, k := range keys[1:] {
		upd = upd.Set(expression.Name(k), expression.Value(fields[k]))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	return &types.Update{
		TableName:                 d.tableName(table),
		Key:                       idKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func (d *Dynamo) deleteItem(table, id string) (*types.Delete, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	return &types.Delete{
		TableName:                d.tableName(table),
		Key:                      idKey(id),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	}, nil
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

type dynamoTx struct {
	d     *Dynamo
	items []types.TransactWriteItem
}

func (t *dynamoTx) Tx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *dynamoTx) Get(ctx context.Context, table, id string) (Record, error) {
	return t.d.Get(ctx, table, id)
}

func (t *dynamoTx) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	return t.d.Scan(ctx, table, filters...)
}

func (t *dynamoTx) Create(ctx context.Context, table string, rec Record) (string, error) {
	put, id, err := t.d.putItem(table, rec)
	if err != nil {
		return "", err
	}
	t.items = append(t.items, types.TransactWriteItem{Put: put})
	return id, nil
}

func (t *dynamoTx) Update(ctx context.Context, table, id string, patch Record) error {
	upd, err := t.d.updateItem(table, id, patch)
	if err != nil {
		return err
	}
	if upd == nil {
		return nil
	}
	t.items = append(t.items, types.TransactWriteItem{Update: upd})
	return nil
}

func (t *dynamoTx) Delete(ctx context.Context, table, id string) error {
	del, err := t.d.deleteItem(table, id)
	if err != nil {
		return err
	}
	t.items = append(t.items, types.TransactWriteItem{Delete: del})
	return nil
}
