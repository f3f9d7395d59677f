package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

const (
	transactChunk   = 100
	batchGetChunk   = 100
	batchWriteChunk = 25
	maxUnprocessed  = 5

	conditionalCheckFailed = "ConditionalCheckFailed"
)

// ErrWalletConflict means the wallet changed between read and write. The
// whole operation was rejected and may be retried.
var ErrWalletConflict = errors.New("wallet modified concurrently")

type Tables struct {
	Codes        string
	Wallets      string
	Transactions string
}

type Store struct {
	client   Client
	tables   Tables
	currency string
	now      func() time.Time
}

func New(client Client, tables Tables, currency string) *Store {
	if currency == "" {
		currency = "JOD"
	}
	return &Store{client: client, tables: tables, currency: currency, now: time.Now}
}

func codeKey(code string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"code": &dynamodbtypes.AttributeValueMemberS{Value: code},
	}
}

func walletKey(userID int) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"user_id": &dynamodbtypes.AttributeValueMemberN{Value: itoa(userID)},
	}
}

func (s *Store) FindByCode(ctx context.Context, code string) (*chargecode.ChargeCode, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Codes),
		Key:            codeKey(code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get charge code: %w", err)
	}
	if out.Item == nil {
		return nil, chargecode.ErrCodeNotFound
	}

	var item codeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal charge code: %w", err)
	}
	c := item.toModel()
	return &c, nil
}

// ExistingCodes looks the codes up in parallel BatchGetItem chunks.
func (s *Store) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	var (
		mu    sync.Mutex
		found []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(codes); start += batchGetChunk {
		chunk := codes[start:min(start+batchGetChunk, len(codes))]
		g.Go(func() error {
			hits, err := s.batchGetCodes(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			found = append(found, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) batchGetCodes(ctx context.Context, codes []string) ([]string, error) {
	keys := make([]map[string]dynamodbtypes.AttributeValue, len(codes))
	for i, c := range codes {
		keys[i] = codeKey(c)
	}

	request := map[string]dynamodbtypes.KeysAndAttributes{
		s.tables.Codes: {
			Keys:                     keys,
			ProjectionExpression:     aws.String("#code"),
			ExpressionAttributeNames: map[string]string{"#code": "code"},
			ConsistentRead:           aws.Bool(true),
		},
	}

	var hits []string
	for attempt := 0; len(request) > 0; attempt++ {
		if attempt == maxUnprocessed {
			return nil, fmt.Errorf("batch get charge codes: unprocessed keys remain")
		}
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("batch get charge codes: %w", err)
		}
		for _, item := range out.Responses[s.tables.Codes] {
			if v, ok := item["code"].(*dynamodbtypes.AttributeValueMemberS); ok {
				hits = append(hits, v.Value)
			}
		}
		request = out.UnprocessedKeys
	}
	return hits, nil
}

// CreateBatch writes the codes in transactional chunks. If a chunk fails the
// chunks already written are deleted again so no partial batch remains.
func (s *Store) CreateBatch(ctx context.Context, codes []chargecode.ChargeCode) error {
	var written []string
	for start := 0; start < len(codes); start += transactChunk {
		chunk := codes[start:min(start+transactChunk, len(codes))]

		items := make([]dynamodbtypes.TransactWriteItem, 0, len(chunk))
		for _, c := range chunk {
			av, err := attributevalue.MarshalMap(toCodeItem(c))
			if err != nil {
				return fmt.Errorf("marshal charge code: %w", err)
			}
			items = append(items, dynamodbtypes.TransactWriteItem{
				Put: &dynamodbtypes.Put{
					TableName:                aws.String(s.tables.Codes),
					Item:                     av,
					ConditionExpression:      aws.String("attribute_not_exists(#code)"),
					ExpressionAttributeNames: map[string]string{"#code": "code"},
				},
			})
		}

		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err != nil {
			if cerr := s.deleteCodes(ctx, written); cerr != nil {
				logger.Error("remove partial charge code batch failed", "codes", len(written), "error", cerr)
				err = errors.Join(err, cerr)
			}
			if conditionFailed(err, -1) {
				return fmt.Errorf("%w: %v", chargecode.ErrDuplicateCode, err)
			}
			return fmt.Errorf("write charge codes: %w", err)
		}

		for _, c := range chunk {
			written = append(written, c.Code)
		}
	}
	return nil
}

func (s *Store) deleteCodes(ctx context.Context, codes []string) error {
	for start := 0; start < len(codes); start += batchWriteChunk {
		chunk := codes[start:min(start+batchWriteChunk, len(codes))]

		reqs := make([]dynamodbtypes.WriteRequest, len(chunk))
		for i, c := range chunk {
			reqs[i] = dynamodbtypes.WriteRequest{DeleteRequest: &dynamodbtypes.DeleteRequest{Key: codeKey(c)}}
		}

		pending := map[string][]dynamodbtypes.WriteRequest{s.tables.Codes: reqs}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == maxUnprocessed {
				return fmt.Errorf("delete charge codes: unprocessed items remain")
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("delete charge codes: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (s *Store) Redeem(ctx context.Context, code string, userID int, at time.Time) (*chargecode.Redemption, error) {
	c, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Redeemed {
		return nil, chargecode.ErrCodeAlreadyRedeemed
	}

	w, exists, err := s.getWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	t := wallet.Transaction{
		ID:           uuid.NewString(),
		WalletID:     userID,
		UserID:       userID,
		Amount:       c.Amount,
		Type:         wallet.TypeCharge,
		Description:  chargecode.ChargeDescription(code),
		Reference:    code,
		BalanceAfter: w.Balance + c.Amount,
		CreatedAt:    at.UTC(),
	}

	walletWrite, err := s.walletWrite(w, exists, t.BalanceAfter, at)
	if err != nil {
		return nil, err
	}
	ledgerPut, err := s.ledgerPut(t)
	if err != nil {
		return nil, err
	}

	flip := dynamodbtypes.TransactWriteItem{
		Update: &dynamodbtypes.Update{
			TableName:           aws.String(s.tables.Codes),
			Key:                 codeKey(code),
			UpdateExpression:    aws.String("SET #redeemed = :true, #by = :by, #at = :at"),
			ConditionExpression: aws.String("attribute_exists(#code) AND #redeemed = :false"),
			ExpressionAttributeNames: map[string]string{
				"#code":     "code",
				"#redeemed": "redeemed",
				"#by":       "redeemed_by",
				"#at":       "redeemed_at",
			},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":true":  &dynamodbtypes.AttributeValueMemberBOOL{Value: true},
				":false": &dynamodbtypes.AttributeValueMemberBOOL{Value: false},
				":by":    &dynamodbtypes.AttributeValueMemberN{Value: itoa(userID)},
				":at":    &dynamodbtypes.AttributeValueMemberS{Value: formatTime(at)},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dynamodbtypes.TransactWriteItem{flip, walletWrite, ledgerPut},
	})
	if err != nil {
		return nil, s.redeemFailure(ctx, code, userID, err)
	}

	return &chargecode.Redemption{
		Code:        code,
		Amount:      c.Amount,
		UserID:      userID,
		Transaction: t,
		Balance:     t.BalanceAfter,
	}, nil
}

// redeemFailure classifies a rejected redemption transaction. A failed code
// condition is resolved by re-reading the code.
func (s *Store) redeemFailure(ctx context.Context, code string, userID int, err error) error {
	switch {
	case conditionFailed(err, 0):
		c, gerr := s.FindByCode(ctx, code)
		if gerr != nil {
			return gerr
		}
		if c.Redeemed {
			return chargecode.ErrCodeAlreadyRedeemed
		}
		return fmt.Errorf("charge code %s changed concurrently: %w", code, err)
	case conditionFailed(err, 1):
		return fmt.Errorf("%w: user %d", ErrWalletConflict, userID)
	}
	return fmt.Errorf("redeem transaction: %w", err)
}

func (s *Store) List(ctx context.Context, filter chargecode.ListFilter) ([]chargecode.ChargeCode, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tables.Codes)}

	var conds []string
	names := map[string]string{}
	values := map[string]dynamodbtypes.AttributeValue{}
	if filter.Redeemed != nil {
		conds = append(conds, "#redeemed = :redeemed")
		names["#redeemed"] = "redeemed"
		values[":redeemed"] = &dynamodbtypes.AttributeValueMemberBOOL{Value: *filter.Redeemed}
	}
	if filter.BatchID != nil {
		conds = append(conds, "#batch = :batch")
		names["#batch"] = "batch_id"
		values[":batch"] = &dynamodbtypes.AttributeValueMemberS{Value: filter.BatchID.String()}
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	codes := []chargecode.ChargeCode{}
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan charge codes: %w", err)
		}
		var items []codeItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal charge codes: %w", err)
		}
		for _, item := range items {
			codes = append(codes, item.toModel())
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.After(codes[j].CreatedAt)
		}
		return codes[i].Code < codes[j].Code
	})
	return page(codes, filter.Limit, filter.Offset), nil
}

func (s *Store) GetOrCreateWallet(ctx context.Context, userID int) (*wallet.Wallet, error) {
	w, exists, err := s.getWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		m := w.toModel()
		return &m, nil
	}

	av, err := attributevalue.MarshalMap(w)
	if err != nil {
		return nil, fmt.Errorf("marshal wallet: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tables.Wallets),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#uid)"),
		ExpressionAttributeNames: map[string]string{"#uid": "user_id"},
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("create wallet: %w", err)
		}
		w, _, err = s.getWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	m := w.toModel()
	return &m, nil
}

func (s *Store) AddTransaction(ctx context.Context, entry wallet.Entry) (*wallet.Transaction, error) {
	if entry.Amount == 0 {
		return nil, wallet.ErrZeroAmount
	}
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", entry.Type)
	}

	w, exists, err := s.getWallet(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	if w.Balance+entry.Amount < 0 {
		return nil, wallet.ErrInsufficientBalance
	}

	now := s.now().UTC()
	t := wallet.Transaction{
		ID:           uuid.NewString(),
		WalletID:     entry.UserID,
		UserID:       entry.UserID,
		Amount:       entry.Amount,
		Type:         entry.Type,
		Description:  entry.Description,
		Reference:    entry.Reference,
		BalanceAfter: w.Balance + entry.Amount,
		CreatedAt:    now,
	}

	walletWrite, err := s.walletWrite(w, exists, t.BalanceAfter, now)
	if err != nil {
		return nil, err
	}
	ledgerPut, err := s.ledgerPut(t)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dynamodbtypes.TransactWriteItem{walletWrite, ledgerPut},
	})
	if err != nil {
		if conditionFailed(err, 0) {
			return nil, fmt.Errorf("%w: user %d", ErrWalletConflict, entry.UserID)
		}
		return nil, fmt.Errorf("post transaction: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTransactions(ctx context.Context, userID int, limit, offset int) ([]wallet.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txs := []wallet.Transaction{}
	err := s.queryLedger(ctx, userID, "", func(items []transactionItem) bool {
		for _, item := range items {
			txs = append(txs, item.toModel())
		}
		return len(txs) < offset+limit
	})
	if err != nil {
		return nil, err
	}
	return page(txs, limit, offset), nil
}

func (s *Store) SumByType(ctx context.Context, userID int) (map[wallet.TransactionType]int64, error) {
	totals := make(map[wallet.TransactionType]int64)
	err := s.queryLedger(ctx, userID, "#type, amount", func(items []transactionItem) bool {
		for _, item := range items {
			totals[wallet.TransactionType(item.Type)] += item.Amount
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// queryLedger walks a user's ledger newest first until more returns false.
func (s *Store) queryLedger(ctx context.Context, userID int, projection string, more func([]transactionItem) bool) error {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.tables.Transactions),
		KeyConditionExpression:   aws.String("#uid = :uid"),
		ExpressionAttributeNames: map[string]string{"#uid": "user_id"},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":uid": &dynamodbtypes.AttributeValueMemberN{Value: itoa(userID)},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	}
	if projection != "" {
		input.ProjectionExpression = aws.String(projection)
		input.ExpressionAttributeNames["#type"] = "type"
	}

	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("query ledger: %w", err)
		}
		var items []transactionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return fmt.Errorf("unmarshal ledger: %w", err)
		}
		if !more(items) || len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// getWallet reads the wallet with a consistent read. A missing wallet is
// returned as a zero-balance, version-zero item with exists false.
func (s *Store) getWallet(ctx context.Context, userID int) (walletItem, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Wallets),
		Key:            walletKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return walletItem{}, false, fmt.Errorf("get wallet: %w", err)
	}
	if out.Item == nil {
		now := formatTime(s.now())
		return walletItem{UserID: userID, Currency: s.currency, CreatedAt: now, UpdatedAt: now}, false, nil
	}

	var w walletItem
	if err := attributevalue.UnmarshalMap(out.Item, &w); err != nil {
		return walletItem{}, false, fmt.Errorf("unmarshal wallet: %w", err)
	}
	return w, true, nil
}

// walletWrite sets the new balance, conditioned on the version that was read.
func (s *Store) walletWrite(w walletItem, exists bool, balance int64, at time.Time) (dynamodbtypes.TransactWriteItem, error) {
	if !exists {
		w.Balance = balance
		w.Version = 1
		w.UpdatedAt = formatTime(at)
		av, err := attributevalue.MarshalMap(w)
		if err != nil {
			return dynamodbtypes.TransactWriteItem{}, fmt.Errorf("marshal wallet: %w", err)
		}
		return dynamodbtypes.TransactWriteItem{
			Put: &dynamodbtypes.Put{
				TableName:                aws.String(s.tables.Wallets),
				Item:                     av,
				ConditionExpression:      aws.String("attribute_not_exists(#uid)"),
				ExpressionAttributeNames: map[string]string{"#uid": "user_id"},
			},
		}, nil
	}

	return dynamodbtypes.TransactWriteItem{
		Update: &dynamodbtypes.Update{
			TableName:           aws.String(s.tables.Wallets),
			Key:                 walletKey(w.UserID),
			UpdateExpression:    aws.String("SET #balance = :balance, #version = :next, #updated = :updated"),
			ConditionExpression: aws.String("#version = :version"),
			ExpressionAttributeNames: map[string]string{
				"#balance": "balance",
				"#version": "version",
				"#updated": "updated_at",
			},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":balance": &dynamodbtypes.AttributeValueMemberN{Value: i64toa(balance)},
				":next":    &dynamodbtypes.AttributeValueMemberN{Value: i64toa(w.Version + 1)},
				":version": &dynamodbtypes.AttributeValueMemberN{Value: i64toa(w.Version)},
				":updated": &dynamodbtypes.AttributeValueMemberS{Value: formatTime(at)},
			},
		},
	}, nil
}

func (s *Store) ledgerPut(t wallet.Transaction) (dynamodbtypes.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(toTransactionItem(t))
	if err != nil {
		return dynamodbtypes.TransactWriteItem{}, fmt.Errorf("marshal ledger entry: %w", err)
	}
	return dynamodbtypes.TransactWriteItem{
		Put: &dynamodbtypes.Put{
			TableName:                aws.String(s.tables.Transactions),
			Item:                     av,
			ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
			ExpressionAttributeNames: map[string]string{"#sk": "sk"},
		},
	}, nil
}

// conditionFailed reports whether err is a cancelled transaction whose item
// at index failed its condition. index -1 matches any item.
func conditionFailed(err error, index int) bool {
	var tce *dynamodbtypes.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for i, r := range tce.CancellationReasons {
		if (index < 0 || i == index) && aws.ToString(r.Code) == conditionalCheckFailed {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
