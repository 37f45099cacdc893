// Package thetadata implements the REST and WebSocket clients for the
// ThetaData terminal, the market-data vendor feeding the service.
package thetadata

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// WireContract is the contract identifier as it appears on the wire. Strikes
// are integers in tenths of a cent and expirations are YYYYMMDD integers.
type WireContract struct {
	Root       string `json:"root"`
	Expiration int    `json:"expiration"`
	Strike     int64  `json:"strike"`
	Right      string `json:"right"`
}

// ToDomain converts a wire contract to the domain representation.
func (c WireContract) ToDomain() domain.Contract {
	return domain.Contract{
		Root:       c.Root,
		Expiration: strconv.Itoa(c.Expiration),
		Strike:     float64(c.Strike) / 1000,
		Right:      domain.Right(c.Right),
	}
}

// WireQuote is a top-of-book quote message payload.
type WireQuote struct {
	BidPrice float64 `json:"bid"`
	BidSize  int64   `json:"bid_size"`
	AskPrice float64 `json:"ask"`
	AskSize  int64   `json:"ask_size"`
	Date     int     `json:"date"`      // YYYYMMDD
	MsOfDay  int     `json:"ms_of_day"` // milliseconds since midnight ET
}

// WireTrade is an execution message payload.
type WireTrade struct {
	Price   float64 `json:"price"`
	Size    int64   `json:"size"`
	Date    int     `json:"date"`
	MsOfDay int     `json:"ms_of_day"`
}

// wireEnvelope is the outer shape of every stream message.
type wireEnvelope struct {
	Header struct {
		Type string `json:"type"`
	} `json:"header"`
	Contract WireContract `json:"contract"`
	Quote    *WireQuote   `json:"quote,omitempty"`
	Trade    *WireTrade   `json:"trade,omitempty"`
}

// WSCommand is a stream control message sent to the terminal.
type WSCommand struct {
	MsgType string   `json:"msg_type"`
	SecType string   `json:"sec_type"`
	ReqType string   `json:"req_type"`
	Roots   []string `json:"roots"`
}

// QuoteToDomain converts a quote envelope to a domain quote.
func QuoteToDomain(c WireContract, q *WireQuote) domain.MarketQuote {
	return domain.MarketQuote{
		Contract:  c.ToDomain(),
		Bid:       q.BidPrice,
		Ask:       q.AskPrice,
		BidSize:   q.BidSize,
		AskSize:   q.AskSize,
		Timestamp: wireTimestamp(q.Date, q.MsOfDay),
	}
}

// TradeToDomain converts a trade envelope to a domain trade. The trade ID,
// classification, and enrichment fields are filled downstream.
func TradeToDomain(c WireContract, t *WireTrade) domain.Trade {
	return domain.Trade{
		Contract:  c.ToDomain(),
		Price:     t.Price,
		Size:      t.Size,
		Timestamp: wireTimestamp(t.Date, t.MsOfDay),
		Side:      domain.SideUnknown,
	}
}

// exchangeTZ is the exchange local time zone used by the vendor's
// date + ms-of-day timestamps. Falls back to UTC if tzdata is unavailable.
var exchangeTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// wireTimestamp converts the vendor's (YYYYMMDD, ms-of-day) pair to a
// time.Time in the exchange time zone.
func wireTimestamp(date, msOfDay int) time.Time {
	year := date / 10000
	month := (date / 100) % 100
	day := date % 100
	midnight := time.Date(year, time.Month(month), day, 0, 0, 0, 0, exchangeTZ)
	return midnight.Add(time.Duration(msOfDay) * time.Millisecond)
}
