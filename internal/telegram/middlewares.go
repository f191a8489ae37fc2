package telegram

import (
	"fmt"
	"log/slog"

	tb "gopkg.in/telebot.v3"
)

func Recover(log *slog.Logger) tb.MiddlewareFunc {
	return func(next tb.HandlerFunc) tb.HandlerFunc {
		return func(c tb.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic occurred", "panic", r, "chat_id", chatID(c))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(c)
		}
	}
}

func LogErrors(log *slog.Logger) tb.MiddlewareFunc {
	return func(next tb.HandlerFunc) tb.HandlerFunc {
		return func(c tb.Context) error {
			err := next(c)
			if err != nil {
				log.Error("failed to process update", "error", err, "chat_id", chatID(c))
			}
			return err
		}
	}
}

// AllowedChats rejects updates from chats not listed in ids. An empty list allows every chat.
func AllowedChats(ids []int64) tb.MiddlewareFunc {
	idsMap := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idsMap[id] = struct{}{}
	}
	return func(next tb.HandlerFunc) tb.HandlerFunc {
		return func(c tb.Context) error {
			if len(idsMap) == 0 {
				return next(c)
			}
			if _, ok := idsMap[chatID(c)]; !ok {
				return fmt.Errorf("chat %d is not allowed", chatID(c))
			}
			return next(c)
		}
	}
}

func chatID(c tb.Context) int64 {
	if chat := c.Chat(); chat != nil {
		return chat.ID
	}
	return 0
}
