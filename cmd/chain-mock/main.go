package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"sort"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

type producerEntry struct {
	Owner      string `json:"owner"`
	TotalVotes string `json:"total_votes"`
	URL        string `json:"url"`
	IsActive   int    `json:"is_active"`
}

type voterEntry struct {
	Owner     string   `json:"owner"`
	Proxy     string   `json:"proxy"`
	Producers []string `json:"producers"`
	IsProxy   int      `json:"is_proxy"`
}

type mockData struct {
	Producers []producerEntry `json:"producers"`
	Voters    []voterEntry    `json:"voters"`
}

type pageRequest struct {
	Code       string `json:"code"`
	Scope      string `json:"scope"`
	Table      string `json:"table"`
	LowerBound string `json:"lower_bound"`
	Limit      int    `json:"limit"`
}

func main() {
	var (
		port    = flag.String("port", "8888", "port to listen on")
		data    = flag.String("data", "mock-chain.json", "path to mock data file")
		verbose = flag.Bool("log", false, "enable request logging")
	)
	flag.Parse()

	file, err := os.ReadFile(*data)
	if err != nil {
		log.Fatalf("read mock data: %v", err)
	}

	var payload mockData
	if err := json.Unmarshal(file, &payload); err != nil {
		log.Fatalf("parse mock data: %v", err)
	}
	// Rows are keyed by the encoded name, as on chain.
	sort.Slice(payload.Producers, func(i, j int) bool {
		return nameKey(payload.Producers[i].Owner) < nameKey(payload.Producers[j].Owner)
	})
	sort.Slice(payload.Voters, func(i, j int) bool {
		return nameKey(payload.Voters[i].Owner) < nameKey(payload.Voters[j].Owner)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chain/get_producers", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r, *verbose)
		if !ok {
			return
		}
		start := sort.Search(len(payload.Producers), func(i int) bool {
			return nameKey(payload.Producers[i].Owner) >= nameKey(req.LowerBound)
		})
		end := min(start+req.Limit, len(payload.Producers))
		more := ""
		if end < len(payload.Producers) {
			more = payload.Producers[end].Owner
		}
		writeJSON(w, map[string]any{
			"rows":                       payload.Producers[start:end],
			"total_producer_vote_weight": "0",
			"more":                       more,
		})
	})
	mux.HandleFunc("/v1/chain/get_table_rows", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r, *verbose)
		if !ok {
			return
		}
		if req.Code != "eosio" || req.Table != "voters" {
			http.Error(w, "unknown table", http.StatusBadRequest)
			return
		}
		start := sort.Search(len(payload.Voters), func(i int) bool {
			return nameKey(payload.Voters[i].Owner) >= nameKey(req.LowerBound)
		})
		end := min(start+req.Limit, len(payload.Voters))
		writeJSON(w, map[string]any{
			"rows": payload.Voters[start:end],
			"more": end < len(payload.Voters),
		})
	})

	addr := ":" + *port
	log.Printf("mock chain listening on %s (%d producers, %d voters)", addr, len(payload.Producers), len(payload.Voters))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, verbose bool) (pageRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return pageRequest{}, false
	}
	var req pageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return pageRequest{}, false
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if verbose {
		log.Printf("%s lower_bound=%q limit=%d", r.URL.Path, req.LowerBound, req.Limit)
	}
	return req, true
}

// nameKey orders accounts by their encoded value. Unparseable names sort
// first.
func nameKey(s string) uint64 {
	n, err := domain.ParseName(s)
	if err != nil {
		return 0
	}
	return uint64(n)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
