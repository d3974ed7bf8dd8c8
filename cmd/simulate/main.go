// Command simulate drives a running api-server with the two races the system
// must survive: concurrent confirm/cancel calls on one token and delivery
// webhooks that arrive out of order. It reports latencies and any violation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/config"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/logging"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

type SimConfig struct {
	APIBaseURL    string
	Workers       int
	TokenLimit    int
	CallsPerToken int
	MessageLimit  int
	WebhookSecret string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Simulator struct {
	config   SimConfig
	client   *http.Client
	verifier *outbox.Verifier

	confirm OperationMetrics
	webhook OperationMetrics

	doubleWins  atomic.Int64
	regressions atomic.Int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}
	logging.Setup(baseCfg.Env, baseCfg.LogLevel, "simulate")

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Workers:       getInt("SIM_WORKERS", 8),
		TokenLimit:    getInt("SIM_TOKEN_LIMIT", 100),
		CallsPerToken: getInt("SIM_CALLS_PER_TOKEN", 6),
		MessageLimit:  getInt("SIM_MESSAGE_LIMIT", 100),
		WebhookSecret: baseCfg.Webhook.Secret,
	}
	if cfg.Workers <= 0 || cfg.CallsPerToken < 2 {
		log.Fatal().Msg("SIM_WORKERS must be > 0 and SIM_CALLS_PER_TOKEN >= 2")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	tokens, err := loadPendingTokens(ctx, pgPool, cfg.TokenLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load tokens")
	}
	messages, err := loadQueuedMessages(ctx, pgPool, cfg.MessageLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load messages")
	}
	log.Info().Int("tokens", len(tokens)).Int("messages", len(messages)).Msg("loaded simulation data")

	sim := &Simulator{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		verifier: outbox.NewVerifier(cfg.WebhookSecret, 5*time.Minute, clockwork.NewRealClock()),
	}

	runCtx := context.Background()
	sim.raceConfirmations(runCtx, tokens)
	sim.replayWebhooks(runCtx, messages)

	if err := sim.checkMessages(runCtx, pgPool, messages); err != nil {
		log.Error().Err(err).Msg("verify message statuses")
	}

	sim.PrintReport()
	if sim.doubleWins.Load() > 0 || sim.regressions.Load() > 0 {
		os.Exit(1)
	}
}

func loadPendingTokens(ctx context.Context, pool *pgxpool.Pool, limit int) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT confirmation_token FROM appointments
		WHERE status = 'pending' AND scheduled_at > now()
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending tokens: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

func loadQueuedMessages(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM message_outbox WHERE status = 'queued' AND message_type = 'email' LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued messages: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// raceConfirmations fires CallsPerToken mixed confirm/cancel calls at every
// token at once. More than one 200 per token is a violation.
func (s *Simulator) raceConfirmations(ctx context.Context, tokens []string) {
	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for token := range work {
				s.raceToken(ctx, token)
			}
		}()
	}
	for _, t := range tokens {
		work <- t
	}
	close(work)
	wg.Wait()
}

func (s *Simulator) raceToken(ctx context.Context, token string) {
	var (
		wins atomic.Int64
		wg   sync.WaitGroup
	)
	for i := 0; i < s.config.CallsPerToken; i++ {
		action := "confirm"
		if rand.IntN(2) == 0 {
			action = "cancel"
		}
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{"token": token, "action": action})
			start := time.Now()
			status, _, err := s.post(ctx, "/api/appointments/confirm", body, nil)
			latency := time.Since(start)

			switch {
			case err == nil && status == http.StatusOK:
				wins.Add(1)
				s.confirm.Record(latency, true, false)
			case err == nil && status == http.StatusBadRequest:
				s.confirm.Record(latency, false, true)
			default:
				s.confirm.Record(latency, false, false)
			}
		}(action)
	}
	wg.Wait()

	if wins.Load() > 1 {
		s.doubleWins.Add(1)
		log.Error().Int64("wins", wins.Load()).Msg("token applied more than once")
	}
}

// replayWebhooks sends delivered before sent for every message.
func (s *Simulator) replayWebhooks(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		for _, kind := range []string{"email.delivered", "email.sent"} {
			payload := []byte(fmt.Sprintf(`{"type":%q,"data":{"email_id":"sim","headers":{"X-Message-ID":%q}}}`, kind, id))
			headers := map[string]string{}
			if s.verifier.Enabled() {
				headers["Resend-Signature"] = s.verifier.Sign(time.Now(), payload)
			}

			start := time.Now()
			status, _, err := s.post(ctx, "/api/webhooks/delivery", payload, headers)
			s.webhook.Record(time.Since(start), err == nil && status == http.StatusOK, false)
		}
	}
}

func (s *Simulator) checkMessages(ctx context.Context, pool *pgxpool.Pool, ids []uuid.UUID) error {
	for _, id := range ids {
		var status string
		if err := pool.QueryRow(ctx, `SELECT status FROM message_outbox WHERE id = $1`, id).Scan(&status); err != nil {
			return fmt.Errorf("load message %s: %w", id, err)
		}
		if status != string(outbox.StatusDelivered) {
			s.regressions.Add(1)
			log.Error().Str("message_id", id.String()).Str("status", status).Msg("message not left delivered")
		}
	}
	return nil
}

func (s *Simulator) post(ctx context.Context, path string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Workers: %d  Calls per token: %d\n\n", s.config.Workers, s.config.CallsPerToken)

	printOperationReport("Confirm/cancel", &s.confirm)
	printOperationReport("Webhook", &s.webhook)

	fmt.Printf("Tokens applied twice: %d\n", s.doubleWins.Load())
	fmt.Printf("Messages regressed:   %d\n", s.regressions.Load())
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected transitions: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
