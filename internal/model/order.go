package model

// Terminal trade constants.
const (
	TradeActionDeal   = 1 // market deal
	OrderTimeGTC      = 0 // good till cancelled
	OrderFillingFOK   = 0 // fill or kill
	OrderTypeBuy      = 0
	OrderTypeSell     = 1
	RetcodeDone       = 10009
	RetcodeRejected   = 10006
	RetcodeNoMoney    = 10019
	RetcodeInvalidVol = 10014
)

// OrderRequest is the client-facing order payload. Type is relayed opaquely
// (0 = buy, 1 = sell by terminal convention).
type OrderRequest struct {
	Symbol    string  `json:"symbol"`
	Volume    float64 `json:"volume"`
	Type      int     `json:"type"`
	Price     float64 `json:"price"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Deviation int     `json:"deviation"`
	Magic     int64   `json:"magic"`
	Comment   string  `json:"comment"`
}

// TradeRequest is what the terminal receives: an OrderRequest pinned to a
// market deal with GTC duration and fill-or-kill execution.
type TradeRequest struct {
	Action      int     `json:"action"`
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume"`
	Type        int     `json:"type"`
	Price       float64 `json:"price"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Deviation   int     `json:"deviation"`
	Magic       int64   `json:"magic"`
	Comment     string  `json:"comment"`
	TypeTime    int     `json:"type_time"`
	TypeFilling int     `json:"type_filling"`
}

// NewDealRequest builds the market deal request for o.
func NewDealRequest(o OrderRequest) TradeRequest {
	return TradeRequest{
		Action:      TradeActionDeal,
		Symbol:      o.Symbol,
		Volume:      o.Volume,
		Type:        o.Type,
		Price:       o.Price,
		SL:          o.SL,
		TP:          o.TP,
		Deviation:   o.Deviation,
		Magic:       o.Magic,
		Comment:     o.Comment,
		TypeTime:    OrderTimeGTC,
		TypeFilling: OrderFillingFOK,
	}
}
