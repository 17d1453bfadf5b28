//go:build ignore

// bench-append.go measures end-to-end append latency against a running
// custodiad, one difficulty level at a time. Mining dominates the cost:
// every extra leading zero multiplies expected attempts by 16, so the
// latency curve should look roughly geometric.
//
// Run with: go run scripts/bench-append.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Difficulties to sweep. Difficulty 4 is the server default and can take
// hundreds of thousands of attempts per entry, so it goes last.
var difficulties = []int{0, 1, 2, 3, 4}

const (
	casesPerDifficulty = 3
	appendsPerCase     = 5
	workers            = 4
)

type sample struct {
	difficulty int
	caseID     string
	latency    time.Duration
	nonce      float64
	err        string
}

func serverURL() string {
	if u := os.Getenv("CUSTODIA_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// openCase opens a fresh bench case at the given difficulty and returns its
// allocated id.
func openCase(client *http.Client, base string, difficulty int) (string, error) {
	body, _ := json.Marshal(map[string]any{"difficulty": difficulty})
	resp, err := client.Post(base+"/api/v1/cases", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("open: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out struct {
		CaseID json.Number `json:"case_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("open: decode: %w", err)
	}
	return out.CaseID.String(), nil
}

// appendOnce anchors one throwaway payload and reports how long the server
// took, mining included.
func appendOnce(client *http.Client, base, caseID string, difficulty, seq int) sample {
	payload := fmt.Sprintf(`{"payload":{"tipo":"evento","accion":"bench","actor":"bench-append","notas":"muestra %d"}}`, seq)
	start := time.Now()
	resp, err := client.Post(base+"/api/v1/cases/"+caseID+"/entries", "application/json", bytes.NewReader([]byte(payload)))
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return sample{difficulty: difficulty, caseID: caseID, latency: latency, err: msg}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return sample{difficulty: difficulty, caseID: caseID, latency: latency,
			err: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))}
	}
	var out struct {
		Nonce json.Number `json:"nonce"`
	}
	nonce := 0.0
	if json.Unmarshal(raw, &out) == nil {
		nonce, _ = strconv.ParseFloat(out.Nonce.String(), 64)
	}
	return sample{difficulty: difficulty, caseID: caseID, latency: latency, nonce: nonce}
}

func main() {
	base := serverURL()
	httpClient := &http.Client{
		// No client-side deadline: difficulty 4 appends legitimately take a
		// while, and the server bounds the search itself.
		Timeout: 0,
	}

	type job struct {
		difficulty int
	}

	total := len(difficulties) * casesPerDifficulty * appendsPerCase
	jobs := make(chan job, len(difficulties)*casesPerDifficulty)
	samples := make(chan sample, total)

	// Worker pool. Appends within one case serialise on the server, so each
	// job owns a whole case and the pool spreads across cases.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				caseID, err := openCase(httpClient, base, j.difficulty)
				if err != nil {
					for k := 0; k < appendsPerCase; k++ {
						samples <- sample{difficulty: j.difficulty, err: err.Error()}
					}
					continue
				}
				for k := 0; k < appendsPerCase; k++ {
					samples <- appendOnce(httpClient, base, caseID, j.difficulty, k)
				}
			}
		}()
	}

	for _, d := range difficulties {
		for i := 0; i < casesPerDifficulty; i++ {
			jobs <- job{difficulty: d}
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(samples)
	}()

	byDifficulty := map[int][]sample{}
	done := 0
	for s := range samples {
		done++
		fmt.Printf("\r  mining... %d/%d appends", done, total)
		byDifficulty[s.difficulty] = append(byDifficulty[s.difficulty], s)
	}
	fmt.Printf("\r  done — %d appends measured\n\n", total)

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════════════════\n")
	fmt.Printf("  Append latency by difficulty  (%s)\n", base)
	fmt.Printf("  Cases per level: %d  |  Appends per case: %d\n", casesPerDifficulty, appendsPerCase)
	fmt.Printf("══════════════════════════════════════════════════════════════════\n\n")

	fmt.Printf("  %-10s  %-4s  %-4s  %10s  %10s  %10s  %12s\n",
		"difficulty", "ok", "err", "p50", "p95", "max", "mean nonce")
	for _, d := range difficulties {
		group := byDifficulty[d]
		var ok []time.Duration
		var nonceSum float64
		errs := 0
		for _, s := range group {
			if s.err != "" {
				errs++
				continue
			}
			ok = append(ok, s.latency)
			nonceSum += s.nonce
		}
		if len(ok) == 0 {
			fmt.Printf("  %-10d  %-4d  %-4d  all appends failed\n", d, 0, errs)
			continue
		}
		sort.Slice(ok, func(i, j int) bool { return ok[i] < ok[j] })
		p50 := ok[len(ok)/2]
		p95 := ok[(len(ok)*95)/100]
		max := ok[len(ok)-1]
		fmt.Printf("  %-10d  %-4d  %-4d  %10s  %10s  %10s  %12.0f\n",
			d, len(ok), errs,
			p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond),
			nonceSum/float64(len(ok)))
	}
	fmt.Println()

	// Surface the first few errors so a misconfigured server is obvious.
	shown := 0
	for _, d := range difficulties {
		for _, s := range byDifficulty[d] {
			if s.err == "" || shown >= 5 {
				continue
			}
			fmt.Printf("  ✗ difficulty %d: %s\n", d, s.err)
			shown++
		}
	}
	if shown > 0 {
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════════════════")
}
