package constants

import "time"

const (
	ServiceName = "console-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// SessionTokenKey is the single slot the access token is kept under.
	SessionTokenKey = "access_token"
)

const (
	DefaultNoticeCapacity = 100
	DefaultTruncateLen    = 100
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	OnCommitErrorKeep     = "keep"
	OnCommitErrorRollback = "rollback"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

const (
	CollectionEvents        = "events"
	CollectionApplications  = "applications"
	CollectionNotifications = "notifications"
)

const (
	CacheKeyPrefixDedup = "eventdesk:dedup:"
	FallbackAllow       = "allow"
	FallbackDeny        = "deny"
)
