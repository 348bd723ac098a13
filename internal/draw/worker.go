package draw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/grsai"
	"paperflow/internal/services/llm"
	"paperflow/internal/statestore"
)

// PolishSystemPrompt asks the model to rewrite a drawing prompt in a
// publication figure style.
const PolishSystemPrompt = "你是一个科研绘图提示词润色助手。\n" +
	"请把用户的提示词润色成更适合图像生成模型的高质量提示词，用于生成“科研风格”的图示/插图。\n" +
	"要求：\n" +
	"1) 只输出润色后的提示词，不要输出任何解释或前后缀。\n" +
	"2) 不改变用户意图，不捏造具体数值/实验结果；不确定写“文中未明确”。\n" +
	"3) 默认风格：干净白底、学术插图、清晰结构、可读标注、线条简洁、出版级。\n" +
	"4) 如果用户描述的是图表/示意图/流程图/结构图，请补充：布局、配色、标注、分辨率等关键信息。\n"

const polishTemperature = 0.2

// PolishPrompt rewrites prompt through completer. An empty prompt yields an
// empty result without calling the model.
func PolishPrompt(ctx context.Context, completer llm.Completer, prompt string) (string, error) {
	raw := strings.TrimSpace(prompt)
	if raw == "" {
		return "", nil
	}
	if completer == nil {
		return "", services.Wrap(services.ErrConfiguration, "draw", "polish", "LLM client not configured", nil)
	}
	out, err := completer.Complete(ctx, []llm.Message{
		llm.System(PolishSystemPrompt),
		llm.User("原始提示词：\n" + raw),
	}, polishTemperature)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	out = strings.Trim(out, `"`)
	return strings.TrimSpace(out), nil
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".svg": true, ".avif": true,
}

var contentTypeExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/webp":    ".webp",
	"image/gif":     ".gif",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tif",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
}

// GuessExtension picks a file extension for a result image: the URL suffix
// when it is a known image type, then the content type, then ".png".
func GuessExtension(rawURL, contentType string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if ext := strings.ToLower(path.Ext(p)); imageExtensions[ext] {
		return ext
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	return ".png"
}

// ResultEntry is one generated image as recorded on the drawing.
type ResultEntry struct {
	URL      string `json:"url"`
	LocalURL string `json:"local_url"`
	Content  string `json:"content"`
}

func (s *Service) run(ctx context.Context, id string, req Request, progress *background.Progress) error {
	logger := logging.WithContext(ctx, s.logger)
	if err := progress.Report(0, statestore.M{"state": StateRunning}); err != nil {
		return err
	}

	final := req.PromptOverride
	polished := ""
	if final == "" {
		final = req.Prompt
		if req.UseAI {
			if err := progress.Patch(statestore.M{"state": StatePolishing}); err != nil {
				return err
			}
			out, err := PolishPrompt(ctx, s.completer, req.Prompt)
			if err != nil {
				logging.WarnWithContext(logger, "prompt polish skipped", "draw_polish_skipped",
					logging.String(logging.FieldErrorHint, "check llm credentials; the raw prompt is used instead"),
					logging.Error(err),
				)
				if err := progress.Patch(statestore.M{"warning": "AI polish skipped: " + services.Message(err)}); err != nil {
					return err
				}
			} else if out != "" {
				polished = out
				final = out
			}
		}
	}
	if err := progress.Patch(statestore.M{
		"prompt_polished": polished,
		"prompt_final":    final,
		"state":           StateSubmitting,
	}); err != nil {
		return err
	}

	drawer := s.factory(req.Host)
	submission, err := drawer.Draw(ctx, grsai.DrawRequest{
		Model:       req.Model,
		Prompt:      final,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
		URLs:        req.URLs,
	})
	if err != nil {
		return err
	}
	raw := submission.Raw
	if raw == nil {
		raw = statestore.Object{}
	}
	if err := progress.Report(1, statestore.M{
		"remote": statestore.M{"id": submission.ID, "raw": raw.Map()},
		"state":  StateRunning,
	}); err != nil {
		return err
	}
	logger.Info("drawing submitted",
		logging.String(logging.FieldEventType, "draw_submitted"),
		logging.String("remote_id", submission.ID),
		logging.String("model", req.Model),
	)

	result, err := s.await(ctx, drawer, submission.ID, progress)
	if err != nil {
		return err
	}
	if result.Status != grsai.StatusSucceeded {
		reason := firstNonEmpty(result.FailureReason, result.Error, "unknown")
		return services.Wrap(services.ErrExternalTool, "draw", "result", reason, nil)
	}

	dir := filepath.Join(s.Dir(), id)
	entries := make([]ResultEntry, 0, len(result.Results))
	files := make([]string, 0, len(result.Results))
	for i, item := range result.Results {
		entry := ResultEntry{URL: item.URL, Content: item.Content}
		if item.URL != "" {
			name, err := s.download(ctx, item.URL, dir, i+1)
			if err != nil {
				logging.WarnWithContext(logger, "result download failed", "draw_download_failed",
					logging.String(logging.FieldErrorHint, "the remote URL is kept on the drawing record"),
					logging.String("url", item.URL),
					logging.Error(err),
				)
				entry.Content = joinLines(entry.Content, "[download_failed] "+err.Error())
			} else {
				entry.LocalURL = s.localURL(filepath.Join(dir, name))
				files = append(files, entry.LocalURL)
			}
		}
		entries = append(entries, entry)
	}
	if err := progress.Report(100, statestore.M{
		"state":   StateSucceeded,
		"results": entries,
		"files":   files,
	}); err != nil {
		return err
	}
	logger.Info("drawing completed",
		logging.String(logging.FieldEventType, "draw_complete"),
		logging.Int("images", len(files)),
	)
	return nil
}

// await polls the remote task until it finishes or the deadline passes.
func (s *Service) await(ctx context.Context, drawer Drawer, remoteID string, progress *background.Progress) (grsai.Result, error) {
	deadline := time.Now().Add(s.deadline)
	var last grsai.Result
	for {
		result, err := drawer.Result(ctx, remoteID)
		if err != nil {
			return grsai.Result{}, err
		}
		last = result
		fields := statestore.M{
			"status":         result.Status,
			"failure_reason": result.FailureReason,
			"error":          result.Error,
		}
		if !result.Terminal() {
			fields["state"] = StateRunning
		}
		if err := progress.Report(result.Progress, fields); err != nil {
			return grsai.Result{}, err
		}
		if result.Terminal() {
			return result, nil
		}
		if time.Now().After(deadline) {
			return last, services.Wrap(services.ErrTransient, "draw", "result",
				fmt.Sprintf("Drawing did not finish within %s", s.deadline), nil)
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return grsai.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) download(ctx context.Context, rawURL, dir string, index int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	name := fmt.Sprintf("result_%d%s", index, GuessExtension(rawURL, resp.Header.Get("Content-Type")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, name)
	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return name, nil
}

// localURL maps a file under the output root to its served path.
func (s *Service) localURL(file string) string {
	rel, err := filepath.Rel(s.outputDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return "/" + strings.Join(parts, "/")
}

func joinLines(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
