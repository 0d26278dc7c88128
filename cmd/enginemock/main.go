// A stand-in inference engine for local development. It speaks the same
// wire protocol as the real backend but invents token sequences, so the
// service can be exercised end to end without a model.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	timestampBegin = 50364
	specialBegin   = 50257
)

// words is the entire vocabulary of the mock. Token ID i renders as
// words[i % len(words)].
var words = []string{
	" the", " quick", " brown", " fox", " jumps", " over", " a", " lazy", " dog",
	" and", " runs", " far", " away", " into", " tall", " grass",
}

type generateRequest struct {
	Batch            string `json:"batch"`
	FeatureShape     []int  `json:"feature_shape"`
	Task             string `json:"task"`
	ReturnTimestamps bool   `json:"return_timestamps"`
}

type generateResponse struct {
	Tokens [][]int `json:"tokens"`
}

type decodeRequest struct {
	Tokens []int `json:"tokens"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

var delay = flag.Duration("delay", 200*time.Millisecond, "Simulated inference time per batch")

func generateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	if len(req.FeatureShape) != 3 {
		http.Error(w, fmt.Sprintf("Bad feature shape %v", req.FeatureShape), http.StatusBadRequest)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Batch)
	if err != nil {
		http.Error(w, "Error decoding batch payload", http.StatusBadRequest)
		return
	}

	batch := req.FeatureShape[0]
	wantBytes := 4 * batch * req.FeatureShape[1] * req.FeatureShape[2]
	if len(payload) != wantBytes {
		http.Error(w, fmt.Sprintf("Payload is %d bytes, shape needs %d", len(payload), wantBytes), http.StatusBadRequest)
		return
	}

	log.Printf("🎤 GENERATE: batch=%d shape=%v task=%s timestamps=%v payload=%d bytes",
		batch, req.FeatureShape, req.Task, req.ReturnTimestamps, len(payload))

	// Simulate processing time
	time.Sleep(*delay)

	// Each slot gets a few words wrapped in a 0..5s timestamp pair. The
	// slot index shifts the words so neighbouring chunks differ.
	resp := generateResponse{Tokens: make([][]int, batch)}
	for slot := 0; slot < batch; slot++ {
		tokens := []int{timestampBegin}
		for i := 0; i < 4; i++ {
			tokens = append(tokens, (slot*4+i)%len(words))
		}
		tokens = append(tokens, timestampBegin+250)
		resp.Tokens[slot] = tokens
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	var text strings.Builder
	for _, tok := range req.Tokens {
		if tok >= specialBegin {
			continue
		}
		text.WriteString(words[tok%len(words)])
	}

	resp := decodeResponse{Text: text.String()}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	log.Printf("✅ DECODE: %d tokens -> %q", len(req.Tokens), resp.Text)
}

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	flag.Parse()

	http.HandleFunc("/generate_from_features", generateHandler)
	http.HandleFunc("/decode", decodeHandler)

	log.Printf("🚀 Mock inference engine starting on %s", *addr)
	log.Printf("📡 Endpoints: /generate_from_features, /decode")
	log.Println("💡 Point the service at it with engine.endpoint: http://localhost:8000")

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
