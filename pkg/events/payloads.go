package events

// AgentLogEvent is published on ChannelAgentLogs whenever a worker's AgentLog
// row transitions (spec §4.2 "Progress recording").
type AgentLogEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// FactorEvent is published on ChannelFactors when a Factor is created or updated.
type FactorEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	FactorID  string  `json:"factor_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"importance_score"`
	Timestamp string  `json:"timestamp"`
}

// SessionEvent is published on ChannelSessions for any Session lifecycle change.
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	Timestamp string `json:"timestamp"`
}

// ForecasterResponseEvent is published on ChannelForecasterResponses when a
// synthesis worker finishes (spec §4.2 Phase 4).
type ForecasterResponseEvent struct {
	Type            string   `json:"type"`
	SessionID       string   `json:"session_id"`
	ForecasterClass string   `json:"forecaster_class"`
	Probability     *float64 `json:"prediction_probability,omitempty"`
	Status          string   `json:"status"`
	Timestamp       string   `json:"timestamp"`
}

// OrderbookEvent is published on a session-scoped ChannelOrderbookLive after
// every matching pass (spec §4.3).
type OrderbookEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// TradeEvent is published on a session-scoped ChannelTrades for every fill.
type TradeEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	TradeID    string `json:"trade_id"`
	BuyerName  string `json:"buyer_name"`
	SellerName string `json:"seller_name"`
	Price      int    `json:"price"`
	Quantity   int    `json:"quantity"`
	Timestamp  string `json:"timestamp"`
}

// TraderStateEvent is published on a session-scoped ChannelTraderStateLive
// whenever a trader's position/cash/pnl changes.
type TraderStateEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	Cash      string `json:"cash"`
	PnL       string `json:"pnl"`
	Timestamp string `json:"timestamp"`
}
