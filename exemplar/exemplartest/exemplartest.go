// Package exemplartest is a conformance suite for exemplar.Log implementations.
package exemplartest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/gptproxy-go/exemplar"
)

// LogFactory creates a new, empty log for one test.
type LogFactory func(t *testing.T) exemplar.Log

// OpenerFactory prepares fresh backing storage for one test and returns a
// function opening a Log over it. Every call to the returned function must
// observe what earlier logs persisted.
type OpenerFactory func(t *testing.T) func() exemplar.Log

// RunLogTests runs the behavioural suite against logs built by factory.
func RunLogTests(t *testing.T, factory LogFactory) {
	t.Run("EmptyLoad", func(t *testing.T) {
		testEmptyLoad(t, factory)
	})
	t.Run("AppendPreservesOrder", func(t *testing.T) {
		testAppendPreservesOrder(t, factory)
	})
	t.Run("LoadedExamplesAreCopies", func(t *testing.T) {
		testLoadedExamplesAreCopies(t, factory)
	})
	t.Run("ConcurrentAppend", func(t *testing.T) {
		testConcurrentAppend(t, factory)
	})
	t.Run("AppendAfterClose", func(t *testing.T) {
		testAppendAfterClose(t, factory)
	})
}

// RunPersistenceTests checks that examples survive reopening the log.
func RunPersistenceTests(t *testing.T, factory OpenerFactory) {
	t.Run("ReloadAfterReopen", func(t *testing.T) {
		open := factory(t)
		ctx := testContext(t)

		first := open()
		for i := 0; i < 3; i++ {
			if err := first.Append(ctx, example(i)); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}
		if err := first.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		second := open()
		defer second.Close()
		got, err := second.Load(ctx)
		if err != nil {
			t.Fatalf("Load after reopen: %v", err)
		}
		assertSequence(t, got, 3)

		if err := second.Append(ctx, example(3)); err != nil {
			t.Fatalf("Append after reopen: %v", err)
		}
		got, err = second.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertSequence(t, got, 4)
	})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func example(i int) exemplar.Example {
	return exemplar.Example{
		Operation: "op",
		Arguments: map[string]string{"n": fmt.Sprintf("%d", i)},
		Response:  fmt.Sprintf(`{"result":%d}`, i),
	}
}

func assertSequence(t *testing.T, got []exemplar.Example, n int) {
	t.Helper()
	if len(got) != n {
		t.Fatalf("expected %d examples, got %d", n, len(got))
	}
	for i, ex := range got {
		want := example(i)
		if ex.Operation != want.Operation || ex.Response != want.Response || ex.Arguments["n"] != want.Arguments["n"] {
			t.Fatalf("example %d: got %+v, want %+v", i, ex, want)
		}
	}
}

func testEmptyLoad(t *testing.T, factory LogFactory) {
	l := factory(t)
	defer l.Close()

	got, err := l.Load(testContext(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty log, got %d examples", len(got))
	}
}

func testAppendPreservesOrder(t *testing.T, factory LogFactory) {
	l := factory(t)
	defer l.Close()
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		if err := l.Append(ctx, example(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	got, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSequence(t, got, 5)
}

func testLoadedExamplesAreCopies(t *testing.T, factory LogFactory) {
	l := factory(t)
	defer l.Close()
	ctx := testContext(t)

	if err := l.Append(ctx, example(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got[0].Arguments["n"] = "mutated"

	again, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSequence(t, again, 1)
}

func testConcurrentAppend(t *testing.T, factory LogFactory) {
	l := factory(t)
	defer l.Close()
	ctx := testContext(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Append(ctx, example(i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Append: %v", err)
	}

	got, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d examples, got %d", n, len(got))
	}
	seen := map[string]bool{}
	for _, ex := range got {
		seen[ex.Arguments["n"]] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct examples, got %d", n, len(seen))
	}
}

func testAppendAfterClose(t *testing.T, factory LogFactory) {
	l := factory(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Append(testContext(t), example(0)); err == nil {
		t.Fatalf("expected Append after Close to fail")
	}
}
