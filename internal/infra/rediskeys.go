package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "purposegate"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyReload - любое сообщение заставляет все инстансы перечитать таблицу политик.
	RedisChanPolicyReload = RedisNamespace + ":policies:reload"
)
