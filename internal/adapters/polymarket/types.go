package polymarket

import "encoding/json"

// bookResponse is the CLOB GET /book payload.
type bookResponse struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrderState is the GET /data/order/{id} payload used for fill polling.
type clobOrderState struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Market           string   `json:"market"`
	OriginalSize     string   `json:"original_size"`
	SizeMatched      string   `json:"size_matched"`
	Price            string   `json:"price"`
	AssociateTrades  []string `json:"associate_trades"`
	CreatedAt        string   `json:"created_at"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// gammaMarket is one entry of the Gamma /markets payload. Outcome lists
// arrive as JSON strings inside JSON, e.g. "[\"Yes\", \"No\"]".
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	CLOBTokenIDs  string `json:"clobTokenIds"`
	NegRisk       bool   `json:"negRisk"`
	Closed        bool   `json:"closed"`
}

type gammaMarketsResponse []gammaMarket
