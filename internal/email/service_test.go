package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"os"
	"strings"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tawsellah/driverportal-sub000/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newTestService(rdb *redis.Client) *Service {
	svc := New(rdb, SMTPConfig{
		From:     "noreply@tawsellah.com",
		FromName: "Tawsellah",
		Host:     "smtp.test.com",
		Port:     "587",
		User:     "test@example.com",
		Pass:     "password",
	})
	svc.retryDelay = 0
	return svc
}

func TestSend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectLPush(queueKey, `.*`).SetVal(1)

	err := newTestService(db).Send(context.Background(), "driver@example.com", "Driver", "Hello", "Test body")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectLPush(queueKey, `.*`).SetErr(assert.AnError)

	err := newTestService(db).Send(context.Background(), "driver@example.com", "Driver", "Hello", "Test body")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendChargeReceipt(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectLPush(queueKey, `"type":"charge_receipt".*"to":"driver@example.com"`).SetVal(1)

	err := newTestService(db).SendChargeReceipt(context.Background(), "driver@example.com", "Driver", "AB12CD34", 5000, 12500)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "5.000 JOD", formatMinor(5000))
	assert.Equal(t, "0.250 JOD", formatMinor(250))
	assert.Equal(t, "-1.005 JOD", formatMinor(-1005))
}

func TestDeliverSuccess(t *testing.T) {
	db, mock := redismock.NewClientMock()
	svc := newTestService(db)

	var got string
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.test.com:587", addr)
		assert.Equal(t, []string{"driver@example.com"}, to)
		got = string(msg)
		return nil
	}

	svc.deliver(context.Background(), EmailJob{Type: TypeChargeReceipt, To: "driver@example.com", Subject: "Wallet charged", Body: "hi"})
	assert.True(t, strings.HasPrefix(got, "From: Tawsellah <noreply@tawsellah.com>\r\n"))
	assert.Contains(t, got, "Subject: Wallet charged\r\n")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliverRequeuesThenParks(t *testing.T) {
	db, mock := redismock.NewClientMock()
	svc := newTestService(db)
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("smtp down")
	}

	mock.Regexp().ExpectLPush(queueKey, `"tries":1`).SetVal(1)
	svc.deliver(context.Background(), EmailJob{Type: TypeGeneric, To: "driver@example.com"})

	mock.Regexp().ExpectLPush(failedKey, `smtp down`).SetVal(1)
	svc.deliver(context.Background(), EmailJob{Type: TypeGeneric, To: "driver@example.com", Tries: maxTries - 1})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobJSON(t *testing.T) {
	data, err := json.Marshal(EmailJob{Type: TypeChargeReceipt, To: "a@b.c", Tries: 2})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tries":2`)
}

func TestQueueLength(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectLLen(queueKey).SetVal(5)

	assert.Equal(t, int64(5), newTestService(db).QueueLength(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueLengthError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectLLen(queueKey).SetErr(assert.AnError)

	assert.Equal(t, int64(0), newTestService(db).QueueLength(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
