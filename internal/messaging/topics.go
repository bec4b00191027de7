package messaging

// Topic constants for mining event streams
const (
	TopicMiningEvents = "ore.mining.events" // oreminer to analytics and dashboards
)
