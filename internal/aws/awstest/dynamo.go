// Package awstest provides in-memory stand-ins for the AWS client interfaces
// declared in package aws. The DynamoDB fake understands the small expression
// grammar the stores use: SET assignments, attribute_exists /
// attribute_not_exists, = and <> comparisons joined by AND, and partition-key
// equality in queries.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Dynamo is a goroutine-safe in-memory DynamoDB.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]item
	errs   map[string]error
	calls  map[string]int

	// BeforeTransact, when set, runs at the start of every
	// TransactWriteItems call, before any condition is evaluated. Tests use
	// it to interleave a competing write.
	BeforeTransact func()
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		keys:   map[string][]string{},
		tables: map[string]map[string]item{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

// DefineTable registers a table with its key attributes (partition key
// first, then an optional sort key).
func (d *Dynamo) DefineTable(name string, keyAttrs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[name] = keyAttrs
	if _, ok := d.tables[name]; !ok {
		d.tables[name] = map[string]item{}
	}
}

// FailOn makes every later call of op ("PutItem", "GetItem", "UpdateItem",
// "Query", "TransactWriteItems") return err. A nil err clears it.
func (d *Dynamo) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.errs, op)
		return
	}
	d.errs[op] = err
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Seed stores it unconditionally.
func (d *Dynamo) Seed(table string, it map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.keyOf(table, it)
	if err != nil {
		panic(err)
	}
	d.tables[table][k] = copyItem(it)
}

// Items returns a copy of every item in table.
func (d *Dynamo) Items(table string) []map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]map[string]types.AttributeValue, 0, len(d.tables[table]))
	for _, it := range d.tables[table] {
		out = append(out, copyItem(it))
	}
	return out
}

// Count returns the number of items in table.
func (d *Dynamo) Count(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) begin(op string) error {
	d.calls[op]++
	return d.errs[op]
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	k, err := d.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, d.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	d.tables[table][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := d.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	updated, err := applyUpdate(existing, in.Key, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	d.tables[table][k] = updated
	return &dyn.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Query"); err != nil {
		return nil, err
	}
	table := deref(in.TableName)
	keyAttrs, ok := d.keys[table]
	if !ok {
		return nil, fmt.Errorf("awstest: unknown table %q", table)
	}
	lhs, rhs, ok := strings.Cut(deref(in.KeyConditionExpression), "=")
	if !ok {
		return nil, fmt.Errorf("awstest: unsupported key condition %q", deref(in.KeyConditionExpression))
	}
	attr := resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames)
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
	if !ok {
		return nil, fmt.Errorf("awstest: missing value %q", strings.TrimSpace(rhs))
	}

	var out []item
	for _, it := range d.tables[table] {
		if equalAttr(it[attr], want) {
			out = append(out, copyItem(it))
		}
	}
	if len(keyAttrs) > 1 {
		sk := keyAttrs[1]
		sort.Slice(out, func(i, j int) bool { return lessAttr(out[i][sk], out[j][sk]) })
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if d.BeforeTransact != nil {
		d.BeforeTransact()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, errors.New("awstest: transaction exceeds 100 actions")
	}

	type write struct {
		table, key string
		it         item
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		var (
			table string
			key   item
			cond  *string
			names map[string]string
			vals  map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			table, key, cond, names, vals = deref(ti.Put.TableName), ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			table, key, cond, names, vals = deref(ti.Update.TableName), ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			table, key, cond, names, vals = deref(ti.ConditionCheck.TableName), ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("awstest: unsupported transact item")
		}
		k, err := d.keyOf(table, key)
		if err != nil {
			return nil, err
		}
		existing := d.tables[table][k]
		ok, err := evalCondition(cond, names, vals, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			failed = true
			continue
		}
		switch {
		case ti.Put != nil:
			writes = append(writes, write{table, k, copyItem(ti.Put.Item)})
		case ti.Update != nil:
			updated, err := applyUpdate(existing, ti.Update.Key, deref(ti.Update.UpdateExpression), names, vals)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{table, k, updated})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		d.tables[w.table][w.key] = w.it
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) keyOf(table string, it item) (string, error) {
	attrs, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: unknown table %q", table)
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := it[a]
		if !ok {
			return "", fmt.Errorf("awstest: table %q: missing key attribute %q", table, a)
		}
		s, ok := scalar(v)
		if !ok {
			return "", fmt.Errorf("awstest: table %q: key attribute %q must be S or N", table, a)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), nil
}

func evalCondition(expr *string, names map[string]string, vals map[string]types.AttributeValue, existing item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if existing != nil {
				if _, ok := existing[attr]; ok {
					return false, nil
				}
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if existing == nil {
				return false, nil
			}
			if _, ok := existing[attr]; !ok {
				return false, nil
			}
		case strings.Contains(clause, "<>"):
			lhs, rhs, _ := strings.Cut(clause, "<>")
			want, ok := vals[strings.TrimSpace(rhs)]
			if !ok {
				return false, fmt.Errorf("awstest: missing value %q", strings.TrimSpace(rhs))
			}
			var cur types.AttributeValue
			if existing != nil {
				cur = existing[resolveName(strings.TrimSpace(lhs), names)]
			}
			if equalAttr(cur, want) {
				return false, nil
			}
		case strings.Contains(clause, "="):
			lhs, rhs, _ := strings.Cut(clause, "=")
			want, ok := vals[strings.TrimSpace(rhs)]
			if !ok {
				return false, fmt.Errorf("awstest: missing value %q", strings.TrimSpace(rhs))
			}
			if existing == nil || !equalAttr(existing[resolveName(strings.TrimSpace(lhs), names)], want) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("awstest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func applyUpdate(existing, key item, expr string, names map[string]string, vals map[string]types.AttributeValue) (item, error) {
	out := copyItem(existing)
	if out == nil {
		out = copyItem(key)
	}
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("awstest: unsupported update expression %q", expr)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return nil, fmt.Errorf("awstest: bad assignment %q", assign)
		}
		v, ok := vals[strings.TrimSpace(rhs)]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %q", strings.TrimSpace(rhs))
		}
		out[resolveName(strings.TrimSpace(lhs), names)] = v
	}
	return out, nil
}

func resolveName(s string, names map[string]string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		if n, ok := names[s]; ok {
			return n
		}
	}
	return s
}

func scalar(v types.AttributeValue) (string, bool) {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value, true
	case *types.AttributeValueMemberN:
		return t.Value, true
	}
	return "", false
}

func equalAttr(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return false
}

func lessAttr(a, b types.AttributeValue) bool {
	as, _ := scalar(a)
	bs, _ := scalar(b)
	if _, ok := a.(*types.AttributeValueMemberN); ok {
		af, err1 := strconv.ParseFloat(as, 64)
		bf, err2 := strconv.ParseFloat(bs, 64)
		if err1 == nil && err2 == nil {
			return af < bf
		}
	}
	return as < bs
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
