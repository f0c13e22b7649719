package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newOrderNumber генерирует человекочитаемый номер заказа вида
// ORD-20260831-3F2A9C. Уникальность обеспечивает случайный суффикс;
// дата нужна операторам поддержки, а не машинам.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
