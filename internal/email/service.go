package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey   = "emails"
	failedKey  = "emails:failed"
	maxTries   = 3
	retryDelay = 5 * time.Second
)

type EmailJob struct {
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Kind    string    `json:"kind"`
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

// Service queues emails on Redis and delivers them from a background worker.
// Enqueueing never waits on SMTP.
type Service struct {
	redis *redis.Client
	smtp  SMTPConfig
}

func New(rdb *redis.Client, cfg SMTPConfig) *Service {
	return &Service{redis: rdb, smtp: cfg}
}

func (s *Service) Send(ctx context.Context, to, name, subject, body string) error {
	return s.enqueue(ctx, "generic", to, name, subject, body)
}

func (s *Service) enqueue(ctx context.Context, kind, to, name, subject, body string) error {
	job := EmailJob{
		To:      to,
		Name:    name,
		Subject: subject,
		Body:    body,
		Kind:    kind,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}

	if err := s.redis.LPush(ctx, queueKey, data).Err(); err != nil {
		metrics.RecordEmail(kind, "queue_failed")
		logger.Error("failed to queue email", "kind", kind, "error", err)
		return err
	}

	metrics.RecordEmail(kind, "queued")
	logger.Debug("email queued", "kind", kind)
	return nil
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
		logger.Error("bad email job", "error", err)
		return
	}

	job.Tries++
	if err := s.sendNow(job); err != nil {
		logger.Warn("email delivery failed", "kind", job.Kind, "attempt", job.Tries, "error", err)

		if job.Tries < maxTries {
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			data, _ := json.Marshal(job)
			s.redis.LPush(context.WithoutCancel(ctx), queueKey, data)
			return
		}
		metrics.RecordEmail(job.Kind, "failed")
		s.saveFailed(ctx, job, err)
		return
	}

	metrics.RecordEmail(job.Kind, "sent")
	metrics.EmailQueueLength.Set(float64(s.QueueLength(ctx)))
}

func (s *Service) sendNow(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.smtp.FromName, s.smtp.From)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.smtp.User != "" && s.smtp.Pass != "" {
		auth = smtp.PlainAuth("", s.smtp.User, s.smtp.Pass, s.smtp.Host)
	}

	addr := s.smtp.Host + ":" + s.smtp.Port
	return smtp.SendMail(addr, auth, s.smtp.From, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(ctx context.Context, job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.WithoutCancel(ctx), failedKey, data)
	logger.Error("email moved to failed queue", "kind", job.Kind, "tries", job.Tries)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	return length
}

func (s *Service) SendBookingConfirmation(ctx context.Context, email, name, className string, when time.Time) error {
	subject := "Booking Confirmed - " + className
	body := fmt.Sprintf(`Hi %s,

Your spot in %s on %s is confirmed.

See you at the gym!`, name, className, when.Format("Jan 2, 2006 at 3:04 PM"))

	return s.enqueue(ctx, "booking_confirmation", email, name, subject, body)
}

// SendWaitlistPromotion tells a member they moved off the waitlist and what
// was charged for it.
func (s *Service) SendWaitlistPromotion(ctx context.Context, email, name, className string, when time.Time, chargedCents int64) error {
	subject := "You're in - " + className
	return s.enqueue(ctx, "waitlist_promotion", email, name, subject, promotionBody(name, className, when, chargedCents))
}

func promotionBody(name, className string, when time.Time, chargedCents int64) string {
	body := fmt.Sprintf(`Hi %s,

A spot opened up in %s on %s and it is now yours.`, name, className, when.Format("Jan 2, 2006 at 3:04 PM"))
	if chargedCents > 0 {
		body += fmt.Sprintf("\n\n%d.%02d was charged to your wallet.", chargedCents/100, chargedCents%100)
	}
	return body
}

func (s *Service) SendCancellation(ctx context.Context, email, name, className string, when time.Time) error {
	subject := "Booking Cancelled - " + className
	body := fmt.Sprintf(`Hi %s,

Your booking for %s on %s has been cancelled.`, name, className, when.Format("Jan 2, 2006 at 3:04 PM"))

	return s.enqueue(ctx, "booking_cancellation", email, name, subject, body)
}

func (s *Service) SendSubscriptionNotice(ctx context.Context, email, name, action, planName string) error {
	subject := "Membership " + action
	body := fmt.Sprintf(`Hi %s,

Your %s membership was %s.`, name, planName, action)

	return s.enqueue(ctx, "subscription_"+action, email, name, subject, body)
}
