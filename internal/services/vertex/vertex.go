package vertex

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"paperflow/internal/services"
	"paperflow/internal/services/llm"
)

// Config selects the Vertex AI project, region, and Gemini model.
type Config struct {
	Project         string
	Region          string
	Model           string
	CredentialsFile string
}

// Client implements llm.Completer on top of Vertex AI Gemini.
type Client struct {
	base  *genai.Client
	model string
}

var _ llm.Completer = (*Client)(nil)

// NewClient dials Vertex AI. Application default credentials are used unless
// a credentials file is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	project := strings.TrimSpace(cfg.Project)
	region := strings.TrimSpace(cfg.Region)
	if project == "" || region == "" {
		return nil, services.Wrap(services.ErrConfiguration, "vertex", "dial", "Project and region must be set", nil)
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	base, err := genai.NewClient(ctx, project, region, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "vertex", "dial", "genai.NewClient failed", err)
	}
	return &Client{base: base, model: strings.TrimSpace(cfg.Model)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

// Complete sends the conversation to Gemini. System messages become the
// system instruction; the final user message is the prompt and earlier turns
// become chat history.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error) {
	system, history, prompt, err := splitMessages(messages)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "vertex", "complete", "Invalid conversation", err)
	}

	model := c.base.GenerativeModel(c.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}

	session := model.StartChat()
	session.History = history
	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "vertex", "complete", "Gemini request failed", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", services.Wrap(services.ErrExternalTool, "vertex", "complete", "Gemini returned empty content", nil)
	}
	return text, nil
}

func splitMessages(messages []llm.Message) (string, []*genai.Content, string, error) {
	var system []string
	var turns []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if s := strings.TrimSpace(msg.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != llm.RoleUser {
		return "", nil, "", errors.New("conversation must end with a user message")
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
