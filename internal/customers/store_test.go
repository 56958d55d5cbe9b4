package customers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/imrishuroy/storefront-checkout/internal/aws/awstest"
)

func newTestStore() (*Store, *awstest.Dynamo) {
	mock := awstest.NewDynamo()
	mock.DefineTable("customers", "customer_id")
	mock.DefineTable("customer_emails", "email")
	return NewStore(mock, "customers", "customer_emails"), mock
}

func TestFindOrCreate_CreatesOnceThenReuses(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	first, created, err := store.FindOrCreate(ctx, Customer{Email: "a@b.com", Name: "A", Address: "X", Phone: "01712345678"})
	if err != nil {
		t.Fatalf("first FindOrCreate: %v", err)
	}
	if !created || first.CustomerID == "" {
		t.Fatalf("expected a new customer, got created=%v %+v", created, first)
	}

	// same email, different contact details: existing row wins, untouched
	second, created, err := store.FindOrCreate(ctx, Customer{Email: "A@B.com ", Name: "Other", Address: "Y", Phone: "01800000000"})
	if err != nil {
		t.Fatalf("second FindOrCreate: %v", err)
	}
	if created {
		t.Fatalf("expected reuse, got created=true")
	}
	if second.CustomerID != first.CustomerID || second.Name != "A" || second.Address != "X" {
		t.Fatalf("existing customer was not reused unmodified: %+v", second)
	}
	if mock.Count("customers") != 1 || mock.Count("customer_emails") != 1 {
		t.Fatalf("expected exactly one customer row, got %d/%d", mock.Count("customers"), mock.Count("customer_emails"))
	}
}

func TestFindOrCreate_LosesRaceAndRereads(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	// A competing request creates the same email between our lookup and our write.
	var winner *Customer
	mock.BeforeTransact = func() {
		mock.BeforeTransact = nil
		rival := NewStore(mock, "customers", "customer_emails")
		c, err := rival.Create(ctx, Customer{Email: "race@b.com", Name: "Winner"})
		if err != nil {
			t.Errorf("rival create: %v", err)
		}
		winner = c
	}

	got, created, err := store.FindOrCreate(ctx, Customer{Email: "race@b.com", Name: "Loser"})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if created {
		t.Fatalf("expected created=false after losing the race")
	}
	if winner == nil || got.CustomerID != winner.CustomerID || got.Name != "Winner" {
		t.Fatalf("expected the winner's row, got %+v", got)
	}
	if mock.Count("customers") != 1 {
		t.Fatalf("expected one customer row, got %d", mock.Count("customers"))
	}
}

func TestFindOrCreate_ConcurrentSameEmail(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := store.FindOrCreate(ctx, Customer{Email: "same@b.com", Name: "N"})
			if err != nil {
				t.Errorf("FindOrCreate: %v", err)
				return
			}
			ids[i] = c.CustomerID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent callers saw different customers: %v", ids)
		}
	}
	if mock.Count("customers") != 1 {
		t.Fatalf("expected one customer row, got %d", mock.Count("customers"))
	}
}

func TestCreate_EmailTaken(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, Customer{Email: "dup@b.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, Customer{Email: "dup@b.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestGet_NotFoundAndStorageError(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	c, err := store.Get(ctx, "missing")
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", c, err)
	}

	mock.FailOn("GetItem", errors.New("connection reset"))
	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected storage error")
	}
}

// readRecorder remembers the GetItem inputs it forwards.
type readRecorder struct {
	*awstest.Dynamo
	gets []*dyn.GetItemInput
}

func (r *readRecorder) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	r.gets = append(r.gets, in)
	return r.Dynamo.GetItem(ctx, in, optFns...)
}

func TestGet_ConsistentRead(t *testing.T) {
	rec := &readRecorder{Dynamo: awstest.NewDynamo()}
	rec.DefineTable("customers", "customer_id")
	rec.DefineTable("customer_emails", "email")
	store := NewStore(rec, "customers", "customer_emails")

	if _, err := store.Get(context.Background(), "c-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.gets) != 1 || rec.gets[0].ConsistentRead == nil || !*rec.gets[0].ConsistentRead {
		t.Fatalf("customer reads must be strongly consistent")
	}
}

func TestGetByEmail_DanglingIndex(t *testing.T) {
	store, mock := newTestStore()
	idx, _ := attributevalue.MarshalMap(emailIndex{Email: "ghost@b.com", CustomerID: "gone"})
	mock.Seed("customer_emails", idx)

	if _, err := store.GetByEmail(context.Background(), "ghost@b.com"); err == nil {
		t.Fatalf("expected error for index pointing at missing customer")
	}
}
