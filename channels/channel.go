// Package channels delivers outbound notifications to messaging platforms.
//
// The monitor only ever pushes: a text message, or a photo with a caption,
// to one fixed chat. Delivery is best-effort. Callers log the returned error
// and move on; nothing here retries.
//
//	tg := channels.NewTelegram(channels.TelegramConfig{
//	    BotToken: os.Getenv("TELEGRAM_TOKEN"),
//	    ChatID:   os.Getenv("CHAT_ID"),
//	})
//	_ = tg.SendPhoto(ctx, "screenshots/screenshot_20240101120000.png", "Change detected")
//	_ = tg.SendMessage(ctx, pageURL)
package channels

import "time"

// ChannelStatus describes the delivery history of a channel.
type ChannelStatus struct {
	Platform    string    `json:"platform"`
	Sent        int64     `json:"sent"`
	Failed      int64     `json:"failed"`
	LastMessage time.Time `json:"last_message,omitzero"`
	Error       string    `json:"error,omitempty"`
}
