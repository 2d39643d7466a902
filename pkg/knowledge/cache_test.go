package knowledge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

func TestPutGetDrop(t *testing.T) {
	c := New()
	s := &types.Schema{DatabaseName: "pizza_shop"}
	c.Put("c1", s)

	got, ok := c.Get("c1")
	if !ok || got != s {
		t.Fatalf("Get after Put: ok=%v got=%v", ok, got)
	}

	c.Drop("c1")
	if _, ok := c.Get("c1"); ok {
		t.Fatal("Get after Drop: expected absent")
	}
}

func TestGetOrExtractCoalesces(t *testing.T) {
	c := New()
	var calls int32
	start := make(chan struct{})

	extract := func(ctx context.Context) (*types.Schema, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return &types.Schema{DatabaseName: "pizza_shop"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*types.Schema, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.GetOrExtract(context.Background(), "c1", extract)
			if err != nil {
				t.Errorf("GetOrExtract: %v", err)
			}
			results[i] = s
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all goroutines reach the miss path
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("extract called %d times, want 1", got)
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("result[%d] = %p, want same pointer as result[0] = %p", i, r, results[0])
		}
	}

	if _, ok := c.Get("c1"); !ok {
		t.Fatal("expected winning extraction result to be cached")
	}
}
