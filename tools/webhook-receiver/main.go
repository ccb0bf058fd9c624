package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
)

type request struct {
	Timestamp   string          `json:"timestamp"`
	ExecutionID string          `json:"execution_id"`
	Attempt     string          `json:"attempt"`
	Verified    bool            `json:"signature_verified"`
	Status      int             `json:"status"`
	Payload     actions.Payload `json:"payload"`
}

type stats struct {
	Count        int64     `json:"count"`
	Rejected     int64     `json:"rejected"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

// receiver records call_webhook deliveries. With failFirst > 0 it answers 500
// to the first failFirst attempts of every execution so retries can be observed.
type receiver struct {
	secret    string
	failFirst int
	maxStored int

	mu           sync.Mutex
	count        int64
	rejected     int64
	lastRequests []request
	attempts     map[string]int
	since        time.Time
}

func newReceiver(secret string, failFirst int) *receiver {
	return &receiver{
		secret:    secret,
		failFirst: failFirst,
		maxStored: 50,
		attempts:  make(map[string]int),
		since:     time.Now().UTC(),
	}
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/hook", rc.hook)
	r.Get("/stats", rc.stats)
	r.Post("/reset", rc.reset)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return r
}

func main() {
	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	failFirst, _ := strconv.Atoi(os.Getenv("FAIL_FIRST"))

	rc := newReceiver(os.Getenv("WEBHOOK_SECRET"), failFirst)

	log.Printf("webhook-receiver listening on %s (verify=%t, fail_first=%d)", addr, rc.secret != "", failFirst)
	log.Fatal(http.ListenAndServe(addr, rc.routes()))
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req := request{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID: r.Header.Get("X-Automation-Execution-ID"),
		Attempt:     r.Header.Get("X-Automation-Attempt"),
	}
	if err := json.Unmarshal(body, &req.Payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if rc.secret != "" {
		req.Verified = actions.VerifySignature(rc.secret, body, r.Header.Get("X-Automation-Signature"))
		if !req.Verified {
			rc.mu.Lock()
			rc.rejected++
			rc.mu.Unlock()
			log.Printf("hook rejected: bad signature execution=%s", req.ExecutionID)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	rc.mu.Lock()
	rc.count++
	rc.attempts[req.ExecutionID]++
	req.Status = http.StatusOK
	if rc.attempts[req.ExecutionID] <= rc.failFirst {
		req.Status = http.StatusInternalServerError
	}
	rc.lastRequests = append(rc.lastRequests, req)
	if len(rc.lastRequests) > rc.maxStored {
		rc.lastRequests = rc.lastRequests[len(rc.lastRequests)-rc.maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Printf("hook received #%d: execution=%s action=%s attempt=%s status=%d",
		current, req.ExecutionID, req.Payload.ActionType, req.Attempt, req.Status)
	w.WriteHeader(req.Status)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:        rc.count,
		Rejected:     rc.rejected,
		LastRequests: append([]request(nil), rc.lastRequests...),
		Since:        rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.lastRequests = nil
	rc.attempts = make(map[string]int)
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}
