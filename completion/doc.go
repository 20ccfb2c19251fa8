// Package completion defines the contract between the typed proxy and a
// generative text backend. It carries the request and result value types for
// the two supported prompt styles (raw completion and chat messages), the
// moderation hook, and the distinguishable error conditions the proxy's retry
// loop depends on.
//
// The package is wire-neutral. Concrete transports (for example
// backend/openai) translate these values into their own request bodies and map
// their failure envelopes onto the error types declared here:
//
//   - *ModelMaxExceededError: the request did not fit the model context. The
//     proxy shrinks the response budget and reissues once.
//   - *ModerationFlaggedError: outbound content was rejected. Never retried.
//   - anything else: transport failure, propagated unchanged.
//
// Example:
//
//	req := &completion.ChatRequest{
//	    Model: "gpt-3.5-turbo",
//	    Messages: []completion.Message{
//	        completion.SystemText("You are a terse summarizer."),
//	        completion.UserText("Summarize this repository"),
//	    },
//	    MaxTokens:   256,
//	    Temperature: 0.2,
//	}
//	if err := completion.ValidateChat(req); err != nil { return err }
//	res, err := backend.Chat(ctx, req)
package completion
