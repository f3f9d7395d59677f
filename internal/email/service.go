package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/metrics"
)

const (
	queueKey  = "emails"
	failedKey = "emails:failed"

	maxTries = 3

	TypeChargeReceipt = "charge_receipt"
	TypeGeneric       = "generic"
)

type EmailJob struct {
	Type    string    `json:"type"`
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type SMTPConfig struct {
	From     string
	FromName string
	Host     string
	Port     string
	User     string
	Pass     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service queues mail jobs in a Redis list and delivers them over SMTP from
// a background worker.
type Service struct {
	redis      redis.Cmdable
	cfg        SMTPConfig
	send       sendFunc
	retryDelay time.Duration
}

func New(rdb redis.Cmdable, cfg SMTPConfig) *Service {
	return &Service{
		redis:      rdb,
		cfg:        cfg,
		send:       smtp.SendMail,
		retryDelay: 5 * time.Second,
	}
}

func (s *Service) enqueue(ctx context.Context, job EmailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.LPush(ctx, queueKey, string(data)).Err()
}

func (s *Service) Send(ctx context.Context, to, name, subject, body string) error {
	return s.queue(ctx, TypeGeneric, to, name, subject, body)
}

func (s *Service) queue(ctx context.Context, typ, to, name, subject, body string) error {
	job := EmailJob{
		Type:    typ,
		To:      to,
		Name:    name,
		Subject: subject,
		Body:    body,
		Created: time.Now().UTC(),
	}

	if err := s.enqueue(ctx, job); err != nil {
		metrics.RecordEmail(typ, "queue_failed")
		logger.Error("failed to queue email", "to", to, "type", typ, "error", err)
		return err
	}

	metrics.RecordEmail(typ, "queued")
	logger.Info("email queued", "to", to, "type", typ)
	return nil
}

// SendChargeReceipt queues the receipt for a redeemed charge code.
// Amounts are minor units.
func (s *Service) SendChargeReceipt(ctx context.Context, to, name, code string, amount, balance int64) error {
	subject := "Wallet charged - " + formatMinor(amount)
	body := fmt.Sprintf(`Hi %s,

Your wallet was charged using code %s.

Amount:      %s
New balance: %s

Drive safe!

- Tawsellah Driver Portal`, name, code, formatMinor(amount), formatMinor(balance))

	return s.queue(ctx, TypeChargeReceipt, to, name, subject, body)
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%03d JOD", sign, v/1000, v%1000)
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("email worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("email worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var job EmailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Error("bad email payload", "error", err)
		return
	}

	s.deliver(ctx, job)
	metrics.EmailQueueLength.Set(float64(s.QueueLength(ctx)))
}

func (s *Service) deliver(ctx context.Context, job EmailJob) {
	job.Tries++
	if err := s.sendNow(job); err != nil {
		logger.Error("email delivery failed", "to", job.To, "attempt", job.Tries, "error", err)

		if job.Tries < maxTries {
			select {
			case <-ctx.Done():
			case <-time.After(s.retryDelay):
			}
			if err := s.enqueue(context.WithoutCancel(ctx), job); err != nil {
				logger.Error("failed to requeue email", "to", job.To, "error", err)
			}
			return
		}

		metrics.RecordEmail(job.Type, "failed")
		s.saveFailed(ctx, job, err)
		return
	}

	metrics.RecordEmail(job.Type, "sent")
	logger.Info("email sent", "to", job.To, "type", job.Type)
}

func (s *Service) sendNow(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.cfg.User != "" && s.cfg.Pass != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}

	return s.send(s.cfg.Host+":"+s.cfg.Port, auth, s.cfg.From, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(ctx context.Context, job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now().UTC(),
	}
	data, _ := json.Marshal(failed)
	if err := s.redis.LPush(context.WithoutCancel(ctx), failedKey, string(data)).Err(); err != nil {
		logger.Error("failed to park email", "to", job.To, "error", err)
		return
	}
	logger.Warn("email moved to failed queue", "to", job.To, "tries", job.Tries)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	return length
}
