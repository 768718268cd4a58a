package ports

import "time"

const (
	DefaultVerifyTimeout = 10 * time.Second // Таймаут одной проверки, включая все запросы к эксплореру
	DefaultPoolSize      = 4                // Максимум одновременных проверок на одну сеть
	RecheckLease         = 5 * time.Minute  // На это время запись скрыта от других воркеров
)
