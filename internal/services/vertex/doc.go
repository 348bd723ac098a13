// Package vertex provides a Vertex AI Gemini implementation of llm.Completer,
// selected with llm.provider = "vertex".
package vertex
