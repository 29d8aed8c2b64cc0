package ollama

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"sleuth/internal/provider"
	"sleuth/pkg/logger"
)

// ProcessStream turns an Ollama NDJSON body into ChatEvents.
func ProcessStream(r io.ReadCloser) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent)

	go func() {
		defer close(events)
		defer r.Close()

		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var resp ollamaResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				logger.Error().Err(err).Str("line", string(line)).Msg("Failed to parse Ollama stream line")
				events <- provider.ChatEvent{Type: provider.EventTypeError, Error: err}
				return
			}

			if resp.Error != "" {
				events <- provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: fmt.Errorf("ollama error: %s", resp.Error),
				}
				return
			}

			if resp.Message.Content != "" {
				events <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: resp.Message.Content}
			}

			if resp.Done {
				events <- provider.ChatEvent{
					Type:         provider.EventTypeDone,
					Usage:        usageOf(&resp),
					FinishReason: finishReason(resp.DoneReason),
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Msg("Error reading Ollama stream")
			events <- provider.ChatEvent{Type: provider.EventTypeError, Error: err}
		}
	}()

	return events
}

func usageOf(resp *ollamaResponse) *provider.Usage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

func finishReason(doneReason string) string {
	if doneReason == "length" {
		return provider.FinishReasonLength
	}
	return provider.FinishReasonStop
}
