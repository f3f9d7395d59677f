package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

type fakeClient struct {
	mu sync.Mutex

	getItem        func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem        func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	batchGetItem   func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	batchWriteItem func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
	transact       func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	query          func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scan           func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error)

	transactCalls []*dynamodb.TransactWriteItemsInput
	batchWrites   []*dynamodb.BatchWriteItemInput
	getCalls      int
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	return f.getItem(in)
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeClient) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return f.batchGetItem(in)
}

func (f *fakeClient) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	f.batchWrites = append(f.batchWrites, in)
	f.mu.Unlock()
	if f.batchWriteItem == nil {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	return f.batchWriteItem(in)
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.transactCalls = append(f.transactCalls, in)
	f.mu.Unlock()
	if f.transact == nil {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	return f.transact(in)
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return f.query(in)
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return f.scan(in)
}

var testTables = Tables{Codes: "codes", Wallets: "wallets", Transactions: "wallet_transactions"}

func mustMarshal(t *testing.T, v interface{}) map[string]dynamodbtypes.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return av
}

func cancelled(reasons ...string) error {
	out := make([]dynamodbtypes.CancellationReason, len(reasons))
	for i, r := range reasons {
		out[i] = dynamodbtypes.CancellationReason{Code: aws.String(r)}
	}
	return &dynamodbtypes.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: out,
	}
}

func TestFindByCode(t *testing.T) {
	batch := uuid.New()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			assert.Equal(t, "codes", aws.ToString(in.TableName))
			assert.True(t, aws.ToBool(in.ConsistentRead))
			return &dynamodb.GetItemOutput{Item: mustMarshal(t, codeItem{
				Code: "AB12CD34", Amount: 1000, BatchID: batch.String(), CreatedAt: formatTime(created),
			})}, nil
		},
	}
	s := New(client, testTables, "JOD")

	c, err := s.FindByCode(context.Background(), "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.Amount)
	assert.Equal(t, batch, c.BatchID)
	assert.True(t, created.Equal(c.CreatedAt))
	assert.False(t, c.Redeemed)
	assert.Nil(t, c.RedeemedAt)
}

func TestFindByCode_NotFound(t *testing.T) {
	client := &fakeClient{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	s := New(client, testTables, "JOD")

	_, err := s.FindByCode(context.Background(), "AB12CD34")
	assert.ErrorIs(t, err, chargecode.ErrCodeNotFound)
}

func redeemClient(t *testing.T, code codeItem, w *walletItem) *fakeClient {
	return &fakeClient{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			switch aws.ToString(in.TableName) {
			case "codes":
				return &dynamodb.GetItemOutput{Item: mustMarshal(t, code)}, nil
			case "wallets":
				if w == nil {
					return &dynamodb.GetItemOutput{}, nil
				}
				return &dynamodb.GetItemOutput{Item: mustMarshal(t, *w)}, nil
			}
			return nil, errors.New("unexpected table")
		},
	}
}

func TestRedeem_NewWallet(t *testing.T) {
	client := redeemClient(t, codeItem{Code: "AB12CD34", Amount: 1000, BatchID: uuid.NewString()}, nil)
	s := New(client, testTables, "JOD")
	at := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

	r, err := s.Redeem(context.Background(), "AB12CD34", 7, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), r.Balance)
	assert.Equal(t, wallet.TypeCharge, r.Transaction.Type)
	assert.Equal(t, "AB12CD34", r.Transaction.Reference)

	require.Len(t, client.transactCalls, 1)
	items := client.transactCalls[0].TransactItems
	require.Len(t, items, 3)

	flip := items[0].Update
	require.NotNil(t, flip)
	assert.Equal(t, "attribute_exists(#code) AND #redeemed = :false", aws.ToString(flip.ConditionExpression))

	put := items[1].Put
	require.NotNil(t, put)
	assert.Equal(t, "wallets", aws.ToString(put.TableName))
	var w walletItem
	require.NoError(t, attributevalue.UnmarshalMap(put.Item, &w))
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, int64(1), w.Version)

	var entry transactionItem
	require.NoError(t, attributevalue.UnmarshalMap(items[2].Put.Item, &entry))
	assert.Equal(t, int64(1000), entry.Amount)
	assert.Equal(t, "charge", entry.Type)
	assert.Equal(t, int64(1000), entry.BalanceAfter)
}

func TestRedeem_ExistingWalletUsesVersion(t *testing.T) {
	client := redeemClient(t,
		codeItem{Code: "AB12CD34", Amount: 500, BatchID: uuid.NewString()},
		&walletItem{UserID: 7, Balance: 250, Currency: "JOD", Version: 4},
	)
	s := New(client, testTables, "JOD")

	r, err := s.Redeem(context.Background(), "AB12CD34", 7, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(750), r.Balance)

	update := client.transactCalls[0].TransactItems[1].Update
	require.NotNil(t, update)
	assert.Equal(t, "#version = :version", aws.ToString(update.ConditionExpression))
	assert.Equal(t, &dynamodbtypes.AttributeValueMemberN{Value: "4"}, update.ExpressionAttributeValues[":version"])
	assert.Equal(t, &dynamodbtypes.AttributeValueMemberN{Value: "5"}, update.ExpressionAttributeValues[":next"])
	assert.Equal(t, &dynamodbtypes.AttributeValueMemberN{Value: "750"}, update.ExpressionAttributeValues[":balance"])
}

func TestRedeem_AlreadyRedeemedBeforeWrite(t *testing.T) {
	by := 3
	client := redeemClient(t, codeItem{Code: "AB12CD34", Amount: 500, Redeemed: true, RedeemedBy: &by}, nil)
	s := New(client, testTables, "JOD")

	_, err := s.Redeem(context.Background(), "AB12CD34", 7, time.Now())
	assert.ErrorIs(t, err, chargecode.ErrCodeAlreadyRedeemed)
	assert.Empty(t, client.transactCalls)
}

func TestRedeem_LostRaceClassifiedAsAlreadyRedeemed(t *testing.T) {
	reads := 0
	client := &fakeClient{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if aws.ToString(in.TableName) == "wallets" {
				return &dynamodb.GetItemOutput{}, nil
			}
			reads++
			item := codeItem{Code: "AB12CD34", Amount: 500, Redeemed: reads > 1}
			return &dynamodb.GetItemOutput{Item: mustMarshal(t, item)}, nil
		},
		transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, cancelled(conditionalCheckFailed, "None", "None")
		},
	}
	s := New(client, testTables, "JOD")

	_, err := s.Redeem(context.Background(), "AB12CD34", 7, time.Now())
	assert.ErrorIs(t, err, chargecode.ErrCodeAlreadyRedeemed)
	assert.Equal(t, 2, reads)
}

func TestRedeem_WalletConflict(t *testing.T) {
	client := redeemClient(t,
		codeItem{Code: "AB12CD34", Amount: 500},
		&walletItem{UserID: 7, Balance: 0, Version: 1},
	)
	client.transact = func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, cancelled("None", conditionalCheckFailed, "None")
	}
	s := New(client, testTables, "JOD")

	_, err := s.Redeem(context.Background(), "AB12CD34", 7, time.Now())
	assert.ErrorIs(t, err, ErrWalletConflict)
	assert.NotErrorIs(t, err, chargecode.ErrCodeAlreadyRedeemed)
}

func TestCreateBatch_Chunks(t *testing.T) {
	client := &fakeClient{}
	s := New(client, testTables, "JOD")

	codes := make([]chargecode.ChargeCode, 250)
	for i := range codes {
		codes[i] = chargecode.ChargeCode{Code: uuid.NewString()[:8], Amount: 10, BatchID: uuid.New()}
	}

	require.NoError(t, s.CreateBatch(context.Background(), codes))
	require.Len(t, client.transactCalls, 3)
	assert.Len(t, client.transactCalls[0].TransactItems, 100)
	assert.Len(t, client.transactCalls[2].TransactItems, 50)
	assert.Equal(t, "attribute_not_exists(#code)", aws.ToString(client.transactCalls[0].TransactItems[0].Put.ConditionExpression))
	assert.Empty(t, client.batchWrites)
}

func TestCreateBatch_DuplicateRemovesWrittenChunks(t *testing.T) {
	calls := 0
	client := &fakeClient{
		transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			calls++
			if calls == 3 {
				return nil, cancelled("None", conditionalCheckFailed)
			}
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	s := New(client, testTables, "JOD")

	codes := make([]chargecode.ChargeCode, 210)
	for i := range codes {
		codes[i] = chargecode.ChargeCode{Code: uuid.NewString()[:8], Amount: 10}
	}

	err := s.CreateBatch(context.Background(), codes)
	assert.ErrorIs(t, err, chargecode.ErrDuplicateCode)

	deleted := 0
	for _, bw := range client.batchWrites {
		reqs := bw.RequestItems["codes"]
		assert.LessOrEqual(t, len(reqs), 25)
		deleted += len(reqs)
	}
	assert.Equal(t, 200, deleted)
}

func TestCreateBatch_StorageError(t *testing.T) {
	client := &fakeClient{
		transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	s := New(client, testTables, "JOD")

	err := s.CreateBatch(context.Background(), []chargecode.ChargeCode{{Code: "AB12CD34", Amount: 10}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, chargecode.ErrDuplicateCode)
}

func TestExistingCodes(t *testing.T) {
	taken := map[string]bool{"AAAA1111": true, "BBBB2222": true}
	client := &fakeClient{
		batchGetItem: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			var hits []map[string]dynamodbtypes.AttributeValue
			for _, key := range in.RequestItems["codes"].Keys {
				code := key["code"].(*dynamodbtypes.AttributeValueMemberS).Value
				if taken[code] {
					hits = append(hits, key)
				}
			}
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]dynamodbtypes.AttributeValue{"codes": hits},
			}, nil
		},
	}
	s := New(client, testTables, "JOD")

	codes := []string{"AAAA1111", "CCCC3333"}
	for i := 0; i < 150; i++ {
		codes = append(codes, uuid.NewString()[:8])
	}
	codes = append(codes, "BBBB2222")

	found, err := s.ExistingCodes(context.Background(), codes)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAAA1111", "BBBB2222"}, found)
}

func TestExistingCodes_RetriesUnprocessed(t *testing.T) {
	calls := 0
	client := &fakeClient{
		batchGetItem: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.BatchGetItemOutput{UnprocessedKeys: in.RequestItems}, nil
			}
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]dynamodbtypes.AttributeValue{
					"codes": {codeKey("AAAA1111")},
				},
			}, nil
		},
	}
	s := New(client, testTables, "JOD")

	found, err := s.ExistingCodes(context.Background(), []string{"AAAA1111"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA1111"}, found)
	assert.Equal(t, 2, calls)
}

func TestAddTransaction_Insufficient(t *testing.T) {
	client := &fakeClient{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: mustMarshal(t, walletItem{UserID: 5, Balance: 100, Version: 2})}, nil
		},
	}
	s := New(client, testTables, "JOD")

	_, err := s.AddTransaction(context.Background(), wallet.Entry{UserID: 5, Amount: -200, Type: wallet.TypeTripFee})
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.Empty(t, client.transactCalls)
}

func TestAddTransaction_Success(t *testing.T) {
	client := &fakeClient{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: mustMarshal(t, walletItem{UserID: 5, Balance: 100, Version: 2})}, nil
		},
	}
	s := New(client, testTables, "JOD")

	tx, err := s.AddTransaction(context.Background(), wallet.Entry{UserID: 5, Amount: 300, Type: wallet.TypeTripEarning, Description: "trip"})
	require.NoError(t, err)
	assert.Equal(t, int64(400), tx.BalanceAfter)
	require.Len(t, client.transactCalls, 1)
	assert.Len(t, client.transactCalls[0].TransactItems, 2)
}

func TestGetOrCreateWallet_CreatesWhenMissing(t *testing.T) {
	var put *dynamodb.PutItemInput
	client := &fakeClient{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			put = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := New(client, testTables, "JOD")

	w, err := s.GetOrCreateWallet(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 9, w.UserID)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, "JOD", w.Currency)
	require.NotNil(t, put)
	assert.Equal(t, "attribute_not_exists(#uid)", aws.ToString(put.ConditionExpression))
}

func TestGetTransactionsAndSum(t *testing.T) {
	now := time.Now()
	entries := []transactionItem{
		toTransactionItem(wallet.Transaction{ID: "c", UserID: 5, Amount: -100, Type: wallet.TypeTripFee, CreatedAt: now}),
		toTransactionItem(wallet.Transaction{ID: "b", UserID: 5, Amount: 700, Type: wallet.TypeTripEarning, CreatedAt: now.Add(-time.Minute)}),
		toTransactionItem(wallet.Transaction{ID: "a", UserID: 5, Amount: 1000, Type: wallet.TypeCharge, CreatedAt: now.Add(-time.Hour)}),
	}
	client := &fakeClient{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			assert.False(t, aws.ToBool(in.ScanIndexForward))
			if in.ExclusiveStartKey == nil {
				return &dynamodb.QueryOutput{
					Items:            []map[string]dynamodbtypes.AttributeValue{mustMarshal(t, entries[0]), mustMarshal(t, entries[1])},
					LastEvaluatedKey: map[string]dynamodbtypes.AttributeValue{"sk": &dynamodbtypes.AttributeValueMemberS{Value: entries[1].SortKey}},
				}, nil
			}
			return &dynamodb.QueryOutput{Items: []map[string]dynamodbtypes.AttributeValue{mustMarshal(t, entries[2])}}, nil
		},
	}
	s := New(client, testTables, "JOD")

	txs, err := s.GetTransactions(context.Background(), 5, 2, 1)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "b", txs[0].ID)
	assert.Equal(t, "a", txs[1].ID)

	totals, err := s.SumByType(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), totals[wallet.TypeCharge])
	assert.Equal(t, int64(700), totals[wallet.TypeTripEarning])
	assert.Equal(t, int64(-100), totals[wallet.TypeTripFee])
}

func TestList_FiltersAndPages(t *testing.T) {
	redeemed := false
	client := &fakeClient{
		scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			assert.Equal(t, "#redeemed = :redeemed", aws.ToString(in.FilterExpression))
			return &dynamodb.ScanOutput{Items: []map[string]dynamodbtypes.AttributeValue{
				mustMarshal(t, codeItem{Code: "BBBB2222", Amount: 10, CreatedAt: formatTime(time.Unix(100, 0))}),
				mustMarshal(t, codeItem{Code: "AAAA1111", Amount: 10, CreatedAt: formatTime(time.Unix(200, 0))}),
			}}, nil
		},
	}
	s := New(client, testTables, "JOD")

	codes, err := s.List(context.Background(), chargecode.ListFilter{Redeemed: &redeemed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "AAAA1111", codes[0].Code)
}
