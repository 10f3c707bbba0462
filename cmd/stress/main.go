// Command stress fires concurrent allocations at a running server and checks
// that exactly the available stock was reserved, never more.
//
//	./stress -addr=http://localhost:8080 -stock=20 -requests=50
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-engine/api"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	stock := flag.Int64("stock", 20, "initial stock of the test item")
	requests := flag.Int("requests", 50, "number of concurrent allocate(1) calls")
	flag.Parse()

	if err := run(context.Background(), *addr, *stock, *requests); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, stock int64, requests int) error {
	client := &http.Client{Timeout: 30 * time.Second}

	var item api.ItemDTO
	status, err := call(ctx, client, http.MethodPost, addr+"/api/items", api.CreateItemRequest{
		Name:            fmt.Sprintf("stress item %d", time.Now().UnixNano()),
		InitialQuantity: stock,
		Actor:           "stress",
	}, &item)
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create item: status %d", status)
	}

	var ok, conflict, other atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			status, err := call(gctx, client, http.MethodPost, addr+"/api/items/"+item.ID+"/allocate",
				api.MovementRequest{Amount: 1, Actor: fmt.Sprintf("buyer-%d", i)}, nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			default:
				other.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var final api.ItemDTO
	if _, err := call(ctx, client, http.MethodGet, addr+"/api/items/"+item.ID, nil, &final); err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	var rec api.ReconciliationDTO
	if _, err := call(ctx, client, http.MethodGet, addr+"/api/items/"+item.ID+"/reconcile", nil, &rec); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	want := stock
	if int64(requests) < want {
		want = int64(requests)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", stock)
	fmt.Printf("Total Requests:   %d\n", requests)
	fmt.Printf("Allocated:        %d\n", ok.Load())
	fmt.Printf("Rejected (409):   %d\n", conflict.Load())
	fmt.Printf("Other:            %d\n", other.Load())
	fmt.Printf("Final Reserved:   %d\n", final.ReservedQuantity)
	fmt.Printf("Ledger Consistent: %t\n", rec.Consistent)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	switch {
	case ok.Load() != want:
		return fmt.Errorf("expected %d allocations, got %d", want, ok.Load())
	case final.ReservedQuantity != want:
		return fmt.Errorf("expected reserved %d, got %d", want, final.ReservedQuantity)
	case !rec.Consistent:
		return fmt.Errorf("stock log does not replay to the projection")
	}
	fmt.Println("PASS")
	return nil
}

func call(ctx context.Context, client *http.Client, method, url string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
