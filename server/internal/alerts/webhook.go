package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
)

// deliver sends webhook notifications for a to every target whose minimum
// level a meets. Errors are logged and otherwise ignored.
func (m *Manager) deliver(a *types.Alert) {
	for _, wh := range m.webhooks {
		if !meetsMinLevel(a.Level, wh) {
			continue
		}
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = m.sendSlack(url, a)
		case "teams":
			err = m.sendTeams(url, a)
		case "pagerduty", "http":
			err = m.sendHTTP(url, a)
		default:
			m.log.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			m.log.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"alert", a.ID,
				"err", err,
			)
		} else {
			m.log.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"alert", a.ID,
				"level", a.Level,
			)
		}
	}
}

func meetsMinLevel(l types.AlertLevel, wh config.WebhookConfig) bool {
	min := types.AlertLevel(wh.MinLevel)
	if min == "" {
		min = types.LevelWarning
	}
	return levelRank(l) >= levelRank(min)
}

func (m *Manager) sendSlack(url string, a *types.Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s: %s", levelLabel(a.Level), a.Title, a.Message),
	})
	return m.post(url, body)
}

func (m *Manager) sendTeams(url string, a *types.Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": levelColor(a.Level),
		"summary":    a.Title,
		"title":      fmt.Sprintf("pulsewatch alert: %s", a.Title),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return m.post(url, body)
}

func (m *Manager) sendHTTP(url string, a *types.Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return m.post(url, body)
}

func (m *Manager) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func levelLabel(l types.AlertLevel) string {
	switch l {
	case types.LevelCritical:
		return "[CRITICAL]"
	case types.LevelError:
		return "[ERROR]"
	case types.LevelWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func levelColor(l types.AlertLevel) string {
	switch l {
	case types.LevelCritical:
		return "FF4F6A"
	case types.LevelError:
		return "FF7A45"
	case types.LevelWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
