// fake-platform is a local stand-in for the chat platform API. It accepts
// the channel and message endpoints the relay calls, records everything,
// and can simulate rate limiting for manual testing:
//
//	RATE_LIMIT_EVERY=5 ./fake-platform   # every 5th request gets a 429
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
)

type call struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
}

type stats struct {
	Count     int64  `json:"count"`
	Channels  int64  `json:"channels_created"`
	Messages  int64  `json:"messages_sent"`
	DMs       int64  `json:"dms_sent"`
	LastCalls []call `json:"last_calls"`
	Since     string `json:"since"`
}

var (
	mu        sync.Mutex
	count     int64
	channels  int64
	messages  int64
	dms       int64
	lastCalls []call
	since     time.Time
	maxStored = 50

	rateLimitEvery int64
)

func main() {
	since = time.Now().UTC()

	addr := ":9090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("RATE_LIMIT_EVERY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 1 {
			rateLimitEvery = n
			log.Printf("fake-platform: rate limiting every %d requests", n)
		}
	}

	http.HandleFunc("POST /guilds/{guild}/channels", channelHandler)
	http.HandleFunc("POST /channels/{channel}/messages", messageHandler)
	http.HandleFunc("POST /users/{user}/messages", dmHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count, channels, messages, dms = 0, 0, 0, 0
		lastCalls = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("fake-platform listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// record logs the call and reports whether this request should be
// rate limited instead.
func record(r *http.Request) (int64, bool) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	c := call{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      string(body),
	}

	mu.Lock()
	count++
	current := count
	limited := rateLimitEvery > 1 && current%rateLimitEvery == 0
	if !limited {
		lastCalls = append(lastCalls, c)
		if len(lastCalls) > maxStored {
			lastCalls = lastCalls[len(lastCalls)-maxStored:]
		}
	}
	mu.Unlock()

	log.Printf("call #%d %s %s (limited=%v)", current, r.Method, r.URL.Path, limited)
	return current, limited
}

func channelHandler(w http.ResponseWriter, r *http.Request) {
	n, limited := record(r)
	if limited {
		rateLimit(w)
		return
	}
	mu.Lock()
	channels++
	mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"ch-%d","name":"channel-%d"}`, n, n)
}

func messageHandler(w http.ResponseWriter, r *http.Request) {
	n, limited := record(r)
	if limited {
		rateLimit(w)
		return
	}
	mu.Lock()
	messages++
	mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"m-%d"}`, n)
}

func dmHandler(w http.ResponseWriter, r *http.Request) {
	n, limited := record(r)
	if limited {
		rateLimit(w)
		return
	}
	mu.Lock()
	dms++
	mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"m-%d"}`, n)
}

func rateLimit(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "2")
	w.WriteHeader(http.StatusTooManyRequests)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:     count,
		Channels:  channels,
		Messages:  messages,
		DMs:       dms,
		LastCalls: lastCalls,
		Since:     since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
