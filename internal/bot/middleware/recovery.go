package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/metrics"
)

// RecoverFromPanic вызывается через defer в обработчике апдейта.
// alert (если передан) уведомляет операторов.
func RecoverFromPanic(alert ...func(text string)) {
	if r := recover(); r != nil {
		metrics.RecordPanic()
		for _, a := range alert {
			a(fmt.Sprintf("Update handler panicked: %v", r))
		}
		log.WithFields(log.Fields{
			"component": "panic_recovery",
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}