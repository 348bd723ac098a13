// Package llm provides the chat completion client behind every text
// transformation: Markdown translation, paper analysis, drawing prompt
// polishing, relationship graph synthesis, and weekly report polishing.
//
// # Entry Points
//
// Completer: the interface stages depend on.
// NewClient: construct an OpenAI-compatible (DeepSeek by default) client.
// Client.Complete: POST {base}/v1/chat/completions and return the first
// choice's content.
// Client.HealthCheck: verify API key and model availability.
// ExtractObject / DecodeLLMJSON: tolerant JSON extraction from model output.
//
// # Retry Behaviour
//
// A single attempt is made per call by default; callers own their retry
// policy. WithRetryMaxAttempts enables retries on HTTP 408/429/5xx, empty
// content, and network timeouts with exponential backoff.
package llm
