package wire

import (
	"encoding/json"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
)

// Payload type numbers. These are the protocol's message identifiers and are
// carried verbatim in every frame.
const (
	PTHeartbeatEvent int32 = 51

	PTApplicationAuthReq int32 = 2100
	PTApplicationAuthRes int32 = 2101
	PTAccountAuthReq     int32 = 2102
	PTAccountAuthRes     int32 = 2103

	PTSymbolsListReq int32 = 2114
	PTSymbolsListRes int32 = 2115

	PTSubscribeSpotsReq   int32 = 2121
	PTSubscribeSpotsRes   int32 = 2122
	PTUnsubscribeSpotsReq int32 = 2123
	PTUnsubscribeSpotsRes int32 = 2124

	PTSpotEvent int32 = 2131

	PTSubscribeLiveTrendbarReq   int32 = 2135
	PTUnsubscribeLiveTrendbarReq int32 = 2136
	PTGetTrendbarsReq            int32 = 2137
	PTGetTrendbarsRes            int32 = 2138

	PTErrorRes int32 = 2142

	PTGetTickdataReq int32 = 2145
	PTGetTickdataRes int32 = 2146

	PTSubscribeLiveTrendbarRes   int32 = 2165
	PTUnsubscribeLiveTrendbarRes int32 = 2166
)

// Frame is the envelope around every message in both directions. Requests
// carry a ClientMsgID that the matching response echoes back; push events
// have none.
type Frame struct {
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	PayloadType int32           `json:"payloadType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

// ApplicationAuthReq authenticates the API application.
type ApplicationAuthReq struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AccountAuthReq authenticates a trading account within an authenticated
// application session.
type AccountAuthReq struct {
	AccountID   int64  `json:"ctidTraderAccountId"`
	AccessToken string `json:"accessToken"`
}

// AccountAuthRes acknowledges account authentication.
type AccountAuthRes struct {
	AccountID int64 `json:"ctidTraderAccountId"`
}

// ErrorRes is the server's generic failure response. When it answers a
// request it echoes the request's ClientMsgID in the frame.
type ErrorRes struct {
	ErrorCode   string `json:"errorCode"`
	Description string `json:"description,omitempty"`
}

// -----------------------------------------------------------------------------
// Symbols
// -----------------------------------------------------------------------------

// SymbolsListReq requests the account's full symbol catalogue.
type SymbolsListReq struct {
	AccountID int64 `json:"ctidTraderAccountId"`
}

// LightSymbol is one entry of a SymbolsListRes.
type LightSymbol struct {
	SymbolID    int64  `json:"symbolId"`
	SymbolName  string `json:"symbolName"`
	Digits      int32  `json:"digits"`
	PipPosition int32  `json:"pipPosition"`
}

// SymbolsListRes carries the symbol catalogue.
type SymbolsListRes struct {
	AccountID int64         `json:"ctidTraderAccountId"`
	Symbols   []LightSymbol `json:"symbol"`
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// SubscribeSpotsReq subscribes to live spot quotes for a set of symbols.
type SubscribeSpotsReq struct {
	AccountID int64   `json:"ctidTraderAccountId"`
	SymbolIDs []int64 `json:"symbolId"`
}

// UnsubscribeSpotsReq removes spot subscriptions for a set of symbols.
type UnsubscribeSpotsReq struct {
	AccountID int64   `json:"ctidTraderAccountId"`
	SymbolIDs []int64 `json:"symbolId"`
}

// SubscribeLiveTrendbarReq subscribes to live bar updates for one symbol and
// period. Requires an active spot subscription for the symbol.
type SubscribeLiveTrendbarReq struct {
	AccountID int64        `json:"ctidTraderAccountId"`
	SymbolID  int64        `json:"symbolId"`
	Period    model.Period `json:"period"`
}

// UnsubscribeLiveTrendbarReq removes a live bar subscription.
type UnsubscribeLiveTrendbarReq struct {
	AccountID int64        `json:"ctidTraderAccountId"`
	SymbolID  int64        `json:"symbolId"`
	Period    model.Period `json:"period"`
}

// SpotEvent is a push update with the latest bid and/or ask for a symbol in
// relative price units. Live trendbar updates ride along on the same event.
type SpotEvent struct {
	AccountID int64      `json:"ctidTraderAccountId"`
	SymbolID  int64      `json:"symbolId"`
	Bid       *int64     `json:"bid,omitempty"`
	Ask       *int64     `json:"ask,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"` // Unix ms
	Trendbars []Trendbar `json:"trendbar,omitempty"`
}

// -----------------------------------------------------------------------------
// Historical data
// -----------------------------------------------------------------------------

// Trendbar is one OHLC bar in relative encoding: Low is the relative price
// of the bar low, the deltas are offsets from Low.
type Trendbar struct {
	Volume       int64        `json:"volume"`
	Period       model.Period `json:"period,omitempty"`
	Low          int64        `json:"low"`
	DeltaOpen    int64        `json:"deltaOpen"`
	DeltaHigh    int64        `json:"deltaHigh"`
	DeltaClose   int64        `json:"deltaClose"`
	UTCTimestamp int64        `json:"utcTimestampInMinutes"` // Minutes since epoch
}

// GetTrendbarsReq requests historical bars for [From, To) in Unix ms.
type GetTrendbarsReq struct {
	AccountID int64        `json:"ctidTraderAccountId"`
	SymbolID  int64        `json:"symbolId"`
	Period    model.Period `json:"period"`
	From      int64        `json:"fromTimestamp"`
	To        int64        `json:"toTimestamp"`
}

// GetTrendbarsRes carries one page of historical bars in ascending order.
// HasMore signals the page was truncated and the tail must be re-requested.
type GetTrendbarsRes struct {
	AccountID int64        `json:"ctidTraderAccountId"`
	SymbolID  int64        `json:"symbolId"`
	Period    model.Period `json:"period"`
	Trendbars []Trendbar   `json:"trendbar"`
	HasMore   bool         `json:"hasMore,omitempty"`
}

// TickData is a single historical tick in relative encoding. Only the
// requested quote side is populated.
type TickData struct {
	Timestamp int64  `json:"timestamp"` // Unix ms
	Bid       *int64 `json:"bid,omitempty"`
	Ask       *int64 `json:"ask,omitempty"`
}

// GetTickdataReq requests historical ticks for one quote side.
type GetTickdataReq struct {
	AccountID int64           `json:"ctidTraderAccountId"`
	SymbolID  int64           `json:"symbolId"`
	QuoteType model.QuoteType `json:"type"`
	From      int64           `json:"fromTimestamp"`
	To        int64           `json:"toTimestamp"`
}

// GetTickdataRes carries one page of historical ticks in ascending order.
type GetTickdataRes struct {
	AccountID int64      `json:"ctidTraderAccountId"`
	TickData  []TickData `json:"tickData"`
	HasMore   bool       `json:"hasMore,omitempty"`
}

// HeartbeatEvent keeps the session alive. Sent by both sides.
type HeartbeatEvent struct{}
