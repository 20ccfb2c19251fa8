package exemplar_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/gptproxy-go/exemplar"
	"github.com/ggoodman/gptproxy-go/exemplar/exemplartest"
)

func TestMemoryLog(t *testing.T) {
	exemplartest.RunLogTests(t, func(t *testing.T) exemplar.Log {
		return exemplar.NewMemoryLog()
	})
}

func TestStoreSnapshotIsStable(t *testing.T) {
	s := exemplar.NewStore(exemplar.Example{Arguments: map[string]string{"a": "1"}, Response: "{}"})
	snap := s.Snapshot()
	s.Append(exemplar.Example{Arguments: map[string]string{"a": "2"}, Response: "{}"})

	if len(snap) != 1 {
		t.Fatalf("snapshot changed after append: %d", len(snap))
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 examples, got %d", s.Len())
	}
}

func TestStoreCopiesArguments(t *testing.T) {
	args := map[string]string{"a": "1"}
	s := exemplar.NewStore()
	s.Append(exemplar.Example{Arguments: args})
	args["a"] = "changed"
	if got := s.Snapshot()[0].Arguments["a"]; got != "1" {
		t.Fatalf("stored example aliased caller map: %q", got)
	}
}

func TestStoreConcurrentAppend(t *testing.T) {
	s := exemplar.NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(exemplar.Example{Response: "{}"})
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Fatalf("expected 50 examples, got %d", s.Len())
	}
}

func TestStoreReplace(t *testing.T) {
	s := exemplar.NewStore(exemplar.Example{Response: "a"}, exemplar.Example{Response: "b"})
	s.Replace([]exemplar.Example{{Response: "c"}})
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Response != "c" {
		t.Fatalf("unexpected snapshot after replace: %+v", snap)
	}
}

func TestForOperation(t *testing.T) {
	all := []exemplar.Example{
		{Operation: "a", Response: "1"},
		{Response: "2"},
		{Operation: "b", Response: "3"},
		{Operation: "a", Response: "4"},
	}
	got := exemplar.ForOperation(all, "a")
	var responses []string
	for _, ex := range got {
		responses = append(responses, ex.Response)
	}
	if strings.Join(responses, ",") != "1,2,4" {
		t.Fatalf("unexpected filter result: %v", responses)
	}
}

func TestJSONRoundTripKeepsOrder(t *testing.T) {
	in := []exemplar.Example{
		{Arguments: map[string]string{"x": `"first"`}, Response: `{"v":1}`},
		{Operation: "op", Arguments: map[string]string{"x": `"second"`}, Response: `{"v":2}`},
	}
	var buf bytes.Buffer
	if err := exemplar.WriteJSON(&buf, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if strings.Contains(strings.SplitN(buf.String(), "},", 2)[0], "operation") {
		t.Fatalf("expected operation to be omitted when empty:\n%s", buf.String())
	}
	out, err := exemplar.ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(out) != 2 || out[0].Arguments["x"] != `"first"` || out[1].Operation != "op" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestReadJSONLegacyFormat(t *testing.T) {
	out, err := exemplar.ReadJSON(strings.NewReader(`[{"arguments":{"a":"1"},"response":"{}"}]`))
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(out) != 1 || out[0].Operation != "" || out[0].Arguments["a"] != "1" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestReadJSONEmpty(t *testing.T) {
	out, err := exemplar.ReadJSON(strings.NewReader("  \n"))
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty log, got %v %v", out, err)
	}
	if _, err := exemplar.ReadJSON(strings.NewReader("{")); err == nil {
		t.Fatalf("expected malformed log error")
	}
}
