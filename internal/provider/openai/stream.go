package openai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sleuth/internal/provider"
	"sleuth/pkg/logger"
)

// ProcessStream turns an SSE body ("data: {...}" lines ending with
// "data: [DONE]") into ChatEvents. Exactly one done or error event is sent.
func ProcessStream(reader io.ReadCloser) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent, 32)

	go func() {
		defer close(events)
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		done := provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				events <- done
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Error().Err(err).Str("data", data).Msg("Failed to parse stream chunk")
				continue
			}
			if chunk.Error != nil {
				events <- provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: fmt.Errorf("[%s] %s", chunk.Error.Type, chunk.Error.Message),
				}
				return
			}
			if chunk.Usage != nil {
				done.Usage = convertUsage(chunk.Usage)
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				events <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: choice.Delta.Content}
			}
			if choice.FinishReason == provider.FinishReasonLength {
				done.FinishReason = provider.FinishReasonLength
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Msg("Stream scanner error")
			events <- provider.ChatEvent{Type: provider.EventTypeError, Error: err}
			return
		}
		// Some servers close the body without [DONE].
		events <- done
	}()

	return events
}

func convertUsage(u *chatUsage) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
