package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetcher/internal/downloader"
)

// maxContentLength is Discord's limit for a message body.
const maxContentLength = 2000

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// BatchSummary renders a batch result as a chat message, truncated to what
// Discord accepts.
func BatchSummary(batch downloader.BatchResult) string {
	var (
		sb    strings.Builder
		bytes int64
	)

	for _, res := range batch.Succeeded {
		bytes += res.Bytes
	}

	fmt.Fprintf(&sb, "Batch %s: %d installed, %d failed (%s received)",
		batch.RunID, len(batch.Succeeded), len(batch.Failed), humanize.Bytes(uint64(bytes)))

	for _, res := range batch.Failed {
		line := fmt.Sprintf("\n- %s [%s]", res.Request.URL, res.Kind)
		if sb.Len()+len(line) > maxContentLength-4 {
			sb.WriteString("\n...")

			break
		}

		sb.WriteString(line)
	}

	return sb.String()
}
