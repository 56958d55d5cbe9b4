package awstest

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestDynamo_ConditionalPut(t *testing.T) {
	d := NewDynamo()
	d.DefineTable("t", "pk")
	ctx := context.Background()
	put := &dyn.PutItemInput{
		TableName:           strPtr("t"),
		Item:                map[string]types.AttributeValue{"pk": s("a")},
		ConditionExpression: strPtr("attribute_not_exists(pk)"),
	}
	if _, err := d.PutItem(ctx, put); err != nil {
		t.Fatalf("first put: %v", err)
	}
	_, err := d.PutItem(ctx, put)
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		t.Fatalf("expected ConditionalCheckFailedException, got %v", err)
	}
}

func TestDynamo_TransactIsAllOrNothing(t *testing.T) {
	d := NewDynamo()
	d.DefineTable("a", "pk")
	d.DefineTable("b", "pk")
	d.Seed("b", map[string]types.AttributeValue{"pk": s("taken")})

	_, err := d.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: strPtr("a"), Item: map[string]types.AttributeValue{"pk": s("new")}}},
			{Put: &types.Put{TableName: strPtr("b"), Item: map[string]types.AttributeValue{"pk": s("taken")}, ConditionExpression: strPtr("attribute_not_exists(pk)")}},
		},
	})
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		t.Fatalf("expected TransactionCanceledException, got %v", err)
	}
	if *tce.CancellationReasons[0].Code != "None" || *tce.CancellationReasons[1].Code != "ConditionalCheckFailed" {
		t.Fatalf("unexpected reasons: %+v", tce.CancellationReasons)
	}
	if d.Count("a") != 0 {
		t.Fatalf("partial write applied")
	}
}

func TestDynamo_UpdateWithStatusCondition(t *testing.T) {
	d := NewDynamo()
	d.DefineTable("t", "pk")
	d.Seed("t", map[string]types.AttributeValue{"pk": s("x"), "status": s("pending")})
	ctx := context.Background()

	update := func(expected string) error {
		_, err := d.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                strPtr("t"),
			Key:                      map[string]types.AttributeValue{"pk": s("x")},
			UpdateExpression:         strPtr("SET #s = :new"),
			ConditionExpression:      strPtr("attribute_exists(pk) AND #s = :expected"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":new":      s("paid"),
				":expected": s(expected),
			},
		})
		return err
	}
	if err := update("pending"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := update("pending"); err == nil {
		t.Fatalf("expected condition failure on second update")
	}
}

func TestDynamo_QuerySortsBySortKey(t *testing.T) {
	d := NewDynamo()
	d.DefineTable("items", "order_id", "line_no")
	for _, line := range []string{"10", "2", "1"} {
		d.Seed("items", map[string]types.AttributeValue{"order_id": s("o1"), "line_no": n(line)})
	}
	d.Seed("items", map[string]types.AttributeValue{"order_id": s("o2"), "line_no": n("1")})

	out, err := d.Query(context.Background(), &dyn.QueryInput{
		TableName:                 strPtr("items"),
		KeyConditionExpression:    strPtr("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":oid": s("o1")},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Count != 3 {
		t.Fatalf("expected 3 items, got %d", out.Count)
	}
	var got []string
	for _, it := range out.Items {
		got = append(got, it["line_no"].(*types.AttributeValueMemberN).Value)
	}
	if got[0] != "1" || got[1] != "2" || got[2] != "10" {
		t.Fatalf("unexpected order %v", got)
	}
}
