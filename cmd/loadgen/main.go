package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Load generator: places orders concurrently and completes every other one,
// which also exercises the relay and projection path behind the server.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	total := flag.Int("n", 50, "number of orders to place")
	flag.Parse()

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	placed, completed, failed := 0, 0, 0

	fmt.Printf("Starting load test with %d orders...\n", *total)

	for i := 0; i < *total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			buyerID := uuid.New().String()
			body := fmt.Sprintf(`{"buyer_id": %q, "items": [
				{"book_id": "A", "quantity": 2, "unit_price": 10.00},
				{"book_id": "B", "quantity": 1, "unit_price": 5.00}
			]}`, buyerID)

			resp, err := http.Post(*baseURL+"/orders", "application/json", bytes.NewBufferString(body))
			if err != nil {
				fmt.Printf("Order %d failed: %v\n", i, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			err = json.NewDecoder(resp.Body).Decode(&created)
			resp.Body.Close()
			if err != nil || resp.StatusCode != http.StatusCreated {
				fmt.Printf("Order %d got status %d\n", i, resp.StatusCode)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			mu.Lock()
			placed++
			mu.Unlock()

			if i%2 != 0 {
				return
			}
			resp, err = http.Post(fmt.Sprintf("%s/orders/%s/complete", *baseURL, created.ID), "application/json", nil)
			if err != nil {
				fmt.Printf("Complete %d failed: %v\n", i, err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("Placed %d, completed %d, failed %d in %v\n", placed, completed, failed, time.Since(start))
}
