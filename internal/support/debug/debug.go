// Package debug — вспомогательные утилиты для отладки мониторинга.
// Здесь сосредоточены функции трассировки входящего трафика и дампов
// произвольных структур. Цели:
//   - быстро просматривать перехваченные сообщения в логе (транспорт, чат, автор);
//   - выводить подробные структуры (ответы классификатора и т.п.) только при
//     активном debug-уровне;
//   - минимизировать шум и резать слишком длинные тексты по границе рун.
//
// Пакет не влияет на бизнес-логику: при уровне выше debug все функции молчат.
package debug

import (
	"fmt"
	"unicode/utf8"

	"github.com/kr/pretty"

	"telegram-sentinel/internal/infra/logger"
)

// textMaxLen ограничивает длину текста в трассировке, чтобы не раздувать лог.
const textMaxLen = 50

// Trace печатает компактную строку о перехваченном сообщении.
// Формат: [transport] <чат> / <автор>: <обрезанный текст>.
// Текст режется по рунам, а не по байтам, чтобы не порвать UTF-8.
func Trace(transport, chat, sender, text string) {
	if !logger.IsDebugEnabled() {
		return
	}
	if utf8.RuneCountInString(text) > textMaxLen {
		runes := []rune(text)
		text = string(runes[:textMaxLen]) + "..."
	}
	if chat == "" {
		chat = "<unknown>"
	}
	if sender == "" {
		sender = "<unknown>"
	}
	logger.Debugf("[%s] %s / %s: %s", transport, chat, sender, text)
}

// Dump pretty-печатает значение в лог с заданной меткой. Дорогой вызов:
// форматирование выполняется только при активном debug-уровне.
func Dump(label string, v any) {
	if !logger.IsDebugEnabled() {
		return
	}
	logger.Debugf("%s: %s", label, fmt.Sprintf("%# v", pretty.Formatter(v)))
}
