// Package events delivers row-change notifications from the Store to
// subscribed WebSocket clients (spec §6 "Live broadcast"). The Broadcaster
// is in-process only: one forecastmarket instance owns one Broadcaster.
// Callers Publish directly after the Store write. The only publisher is
// pkg/services, which sends session updates on ChannelSessions; the other
// channels below have no publisher.
package events

// Channel names, one per spec §6 "channels" bullet. A channel scoped to a
// session is "<prefix>:<session_id>"; the orderbook/trade/trader channels
// are always session-scoped since a session owns exactly one market.
const (
	ChannelAgentLogs            = "agent_logs"
	ChannelFactors              = "factors"
	ChannelSessions             = "sessions"
	ChannelForecasterResponses  = "forecaster_responses"
	ChannelOrderbookLive        = "orderbook_live"
	ChannelTrades               = "trades"
	ChannelTraderStateLive      = "trader_state_live"
)

// SessionChannel scopes a base channel name to one session, e.g.
// SessionChannel(ChannelOrderbookLive, id) -> "orderbook_live:<id>".
func SessionChannel(base, sessionID string) string {
	return base + ":" + sessionID
}

// ClientMessage is the JSON structure for client -> server WebSocket frames.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}
