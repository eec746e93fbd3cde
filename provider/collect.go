package provider

import (
	"context"
	"fmt"
)

// Collect drains a completion stream and returns the content of the final
// response. Chunks are ignored, only the accumulated Response matters to
// callers that do not stream to a UI.
func Collect(ctx context.Context, events <-chan StreamEvent) ([]byte, error) {
	var content string
	var seen bool
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if !seen {
					return nil, fmt.Errorf("stream closed without a response")
				}
				return []byte(content), nil
			}
			switch e := event.(type) {
			case Response:
				if e.Refusal != "" {
					return nil, fmt.Errorf("model refused the request: %s", e.Refusal)
				}
				content = e.Content
				seen = true
			case Error:
				return nil, e.Err
			}
		}
	}
}
