// Package gptproxy turns typed Go function signatures into calls against a
// generative text backend.
//
// Each operation is described by reflection: its parameters are serialized to
// JSON and its return type is rendered as a YAML schema. The proxy prompts the
// backend with that description, any recorded examples and the new
// arguments, then extracts and decodes the JSON object in the answer. Decode
// failures are retried within a fixed budget, and a context-length overflow
// shrinks the response token budget once before the call is retried.
//
// Quick start:
//
//	type Outline struct {
//	    Title    string   `json:"title"`
//	    Sections []string `json:"sections"`
//	}
//
//	type Essays struct {
//	    Outline func(ctx context.Context, thesis string) (*Outline, error) `proxy:"essayOutline" params:"thesis"`
//	}
//
//	backend, _ := openai.NewFromEnv()
//	p, _ := gptproxy.New(backend, gptproxy.WithModel("gpt-4o-mini"))
//	var essays Essays
//	if err := p.Bind(&essays); err != nil {
//	    log.Fatal(err)
//	}
//	outline, err := essays.Outline(ctx, "Go makes concurrency approachable")
//
// Operations can also be registered and invoked by name:
//
//	p.Register(gptproxy.Operation{Name: "topTen", Func: (func(string) ([]string, error))(nil), Params: []string{"subject"}})
//	items, err := gptproxy.Call[[]string](ctx, p, "topTen", "rivers")
//
// Successful responses are recorded as examples and replayed as few-shot
// context on later calls. Every stored example is replayed, so callers that
// make many calls should trim the store (Examples().Replace) or disable
// recording with WithRecordExamples(false).
package gptproxy
