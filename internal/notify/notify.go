// Package notify implements the optional Telegram operator notification
// named in spec.md §6, grounded on original_source/pool/src/lib/inform.py:
// a plain HTTP POST to the Telegram bot API, silently skipped when
// credentials are absent.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashpool/btcmine/internal/log"
)

var logger = log.NewModuleLogger("notify")

const apiBase = "https://api.telegram.org"

// Notifier posts operator messages to a Telegram channel. A zero-value
// Notifier (empty token/channel) is valid and Notify becomes a no-op,
// matching spec.md §6's "absent credentials -> silently skip".
type Notifier struct {
	token   string
	channel string
	httpc   *http.Client
}

// New returns a Notifier. Either argument may be empty, in which case
// Notify is a no-op.
func New(token, channel string) *Notifier {
	return &Notifier{
		token:   token,
		channel: channel,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify posts text to the configured channel. Called on both block
// submission success and submission failure per spec.md §6. Failures to
// deliver the notification itself are logged, never propagated: operator
// notification is best-effort and must never affect mining behavior.
func (n *Notifier) Notify(text string) {
	if n == nil || n.token == "" || n.channel == "" {
		return
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: n.channel, Text: text})
	if err != nil {
		logger.Error("failed to encode telegram notification", "err", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", apiBase, n.token)
	resp, err := n.httpc.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warn("failed to deliver telegram notification", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("telegram notification rejected", "status", resp.StatusCode)
	}
}
