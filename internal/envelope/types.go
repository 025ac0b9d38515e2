package envelope

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the exchange order type an Intent requests.
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypePostOnly OrderType = "post_only"
	OrderTypeIOC      OrderType = "ioc"
)

// IntentPayload is the unsigned body of an Intent Envelope. Quantity,
// price and leverage fields are decimal strings so the canonical encoding
// never drifts across languages or float representations; leader_term
// (like the envelope's issued_at and nonce) is encoded as a JSON integer,
// not a decimal string.
type IntentPayload struct {
	IntentID       string    `json:"intent_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	OrderType      OrderType `json:"order_type"`
	Quantity       string    `json:"quantity"`
	LimitPrice     string    `json:"limit_price,omitempty"`
	StopLoss       string    `json:"stop_loss,omitempty"`
	TakeProfit     string    `json:"take_profit,omitempty"`
	Leverage       string    `json:"leverage,omitempty"`
	ClientOrderTag string    `json:"client_order_tag,omitempty"`
	PolicyHash     string    `json:"policy_hash"`
	BrainInstance  string    `json:"brain_instance_id"`
	LeaderTerm     int64     `json:"leader_term"`
}

// CanonicalJSON returns the sorted-key JSON encoding of the payload.
func (p IntentPayload) CanonicalJSON() ([]byte, error) {
	return Canonical(p)
}

// Intent is the full signed unit of work from Cortex to Motor.
type Intent struct {
	IntentPayload
	IssuedAt  int64  `json:"issued_at"`
	Nonce     int64  `json:"nonce"`
	Issuer    string `json:"issuer"`
	Signature string `json:"signature"`
}

// CanonicalJSON returns the sorted-key JSON encoding of the full envelope.
func (i Intent) CanonicalJSON() ([]byte, error) {
	return Canonical(i)
}

// SigningPreimage returns issued_at ‖ nonce ‖ canonical_json(payload), the
// exact byte sequence the HMAC is computed over (spec §3).
func (i Intent) SigningPreimage() ([]byte, error) {
	return signingPreimage(i.IssuedAt, i.Nonce, i.IntentPayload)
}

// FillEvent is emitted by Motor upon every exchange fill.
type FillEvent struct {
	FillID    string `json:"fill_id"`
	IntentID  string `json:"intent_id"`
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	FilledQty string `json:"filled_qty"`
	FillPrice string `json:"fill_price"`
	Fees      string `json:"fees"`
	FilledAt  int64  `json:"filled_at"`
	AccountID string `json:"account_id"`
}

func (f FillEvent) CanonicalJSON() ([]byte, error) { return Canonical(f) }

// RejectionEvent is emitted whenever an intent is refused.
type RejectionEvent struct {
	IntentID           string `json:"intent_id"`
	Reason             Reason `json:"reason"`
	ExpectedPolicyHash string `json:"expected_policy_hash,omitempty"`
	GotPolicyHash      string `json:"got_policy_hash,omitempty"`
	BrainInstance      string `json:"brain_instance_id,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

func (r RejectionEvent) CanonicalJSON() ([]byte, error) { return Canonical(r) }

// SignalEvent is a strategy-originated signal consumed by Cortex's signal
// gate. Its internal shape is a black box per spec §1; only the fields the
// gate needs to dedup and route are modeled.
type SignalEvent struct {
	SignalID string `json:"signal_id"`
	Phase    string `json:"phase"`
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Side     Side   `json:"side"`
	Strength string `json:"strength,omitempty"`
	IssuedAt int64  `json:"issued_at"`
}

func (s SignalEvent) CanonicalJSON() ([]byte, error) { return Canonical(s) }

// OperatorAction names an operator-issued transition.
type OperatorAction string

const (
	ActionArm     OperatorAction = "arm"
	ActionDisarm  OperatorAction = "disarm"
	ActionHalt    OperatorAction = "halt"
	ActionReload  OperatorAction = "reload_policy"
)

// OperatorCommand is a signed operator transition (arm/disarm/halt/reload).
// Its MAC preimage is "timestamp:action:actor_id:command_id" per spec §6,
// distinct from the Intent preimage since it has no large JSON payload.
type OperatorCommand struct {
	CommandID string         `json:"command_id"`
	ActorID   string         `json:"actor_id"`
	Action    OperatorAction `json:"action"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
}

func (c OperatorCommand) CanonicalJSON() ([]byte, error) { return Canonical(c) }

// SigningPreimage returns the operator-command MAC preimage.
func (c OperatorCommand) SigningPreimage() []byte {
	return operatorPreimage(c.Timestamp, c.Action, c.ActorID, c.CommandID)
}

// StateChangeEvent records an armed-state or breaker-state transition.
type StateChangeEvent struct {
	Kind      string `json:"kind"` // "armed_state" | "breaker_state"
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (s StateChangeEvent) CanonicalJSON() ([]byte, error) { return Canonical(s) }
