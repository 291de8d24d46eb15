package provider

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/schema"
)

// InlineMarkup renders a state's navigation and url buttons, one per row.
// Navigation buttons carry the target state key as raw callback data;
// collection buttons are rendered by the reply-keyboard builders instead.
func InlineMarkup(buttons []schema.Button) *telebot.ReplyMarkup {
	rows := make([][]telebot.InlineButton, 0, len(buttons))
	for _, btn := range buttons {
		switch btn.Kind {
		case schema.ButtonNavigate:
			rows = append(rows, []telebot.InlineButton{{Text: btn.Label, Data: btn.Target}})
		case schema.ButtonURL:
			rows = append(rows, []telebot.InlineButton{{Text: btn.Label, URL: btn.URL}})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &telebot.ReplyMarkup{InlineKeyboard: rows}
}

// ContactRequestMarkup renders the one-tap share-contact keyboard.
func ContactRequestMarkup(label string) *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{
		ReplyKeyboard:   [][]telebot.ReplyButton{{{Text: label, Contact: true}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
}

// RemoveKeyboard clears any previously shown reply keyboard.
func RemoveKeyboard() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{RemoveKeyboard: true}
}
