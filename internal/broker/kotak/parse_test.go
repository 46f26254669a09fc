package kotak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionsNormalizesLotSize(t *testing.T) {
	raw := []byte(`{"data":[{
		"tok":"53179","exSeg":"nse_fo","trdSym":"NIFTY26AUG24500CE","prod":"NRML",
		"lotSz":"75","multiplier":"1",
		"flBuyQty":"150","flSellQty":"0","cfBuyQty":"0","cfSellQty":"0",
		"buyAmt":"15000.00","sellAmt":"0","cfBuyAmt":"0","cfSellAmt":"0"
	}]}`)

	positions, err := parsePositions(raw)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "53179", p.Token)
	assert.Equal(t, "NIFTY26AUG24500CE", p.Symbol)
	// 150 exchange units at lot size 75 is 2 lots.
	assert.Equal(t, 2, p.NetQty)
	assert.Equal(t, 15000.0, p.BuyAmt)
	assert.Equal(t, 75.0, p.LotSize)
	assert.Equal(t, 1.0, p.PriceFactor)
}

func TestParsePositionsCashSegmentKeepsUnits(t *testing.T) {
	raw := []byte(`{"data":[{
		"tok":"11536","exSeg":"nse_cm","trdSym":"TCS-EQ","lotSz":"1",
		"flBuyQty":"10","flSellQty":"0","cfBuyQty":"0","cfSellQty":"0",
		"buyAmt":"41000","sellAmt":"0"
	}]}`)

	positions, err := parsePositions(raw)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10, positions[0].NetQty)
}

func TestParsePositionsDropsInactiveRows(t *testing.T) {
	raw := []byte(`{"data":[
		{"tok":"1","exSeg":"nse_fo","lotSz":"50","flBuyQty":"0","flSellQty":"0","cfBuyQty":"0","cfSellQty":"0","buyAmt":"0","sellAmt":"0"},
		{"tok":"2","exSeg":"nse_fo","lotSz":"50","flBuyQty":"50","flSellQty":"50","cfBuyQty":"0","cfSellQty":"0","buyAmt":"1000","sellAmt":"1100"}
	]}`)

	positions, err := parsePositions(raw)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "2", positions[0].Token)
	// Closed leg: quantities cancel but amounts stay for realized MTM.
	assert.Equal(t, 0, positions[0].NetQty)
}

func TestParsePositionsPriceFactor(t *testing.T) {
	raw := []byte(`{"data":[{
		"tok":"9","exSeg":"cde_fo","trdSym":"USDINR","lotSz":"1",
		"genNum":"1","genDen":"1","prcNum":"1","prcDen":"100",
		"flBuyQty":"1","buyAmt":"84.50"
	}]}`)

	positions, err := parsePositions(raw)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.01, positions[0].PriceFactor, 1e-12)
}

func TestParsePositionsEmptyBody(t *testing.T) {
	positions, err := parsePositions([]byte(`{"stat":"Ok"}`))
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestParseOrdersNormalizesCase(t *testing.T) {
	raw := []byte(`{"data":[{
		"nOrdNo":"240828000123","ordSt":"complete","prcTp":"sl-m","trnsTp":"b",
		"tok":"53179","trdSym":"NIFTY26AUG24500CE","qty":75,"fldQty":75
	}]}`)

	orders, err := parseOrders(raw)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "240828000123", o.ID)
	assert.Equal(t, "COMPLETE", o.Status)
	assert.Equal(t, "SL-M", o.Type)
	assert.Equal(t, "B", o.Side)
	assert.Equal(t, 75, o.Qty)
	assert.Equal(t, 75, o.FilledQty)
	assert.True(t, o.IsStopLoss())
	assert.True(t, o.FullyFilled())
}

func TestParseQuotesMessageAndDataShapes(t *testing.T) {
	current := []byte(`{"message":[{"instrument_token":"53179","last_traded_price":125.4}]}`)
	quotes, err := parseQuotes(current)
	require.NoError(t, err)
	assert.Equal(t, 125.4, quotes["53179"])

	legacy := []byte(`{"data":[{"instrument_token":"11536","last_traded_price":4100}]}`)
	quotes, err = parseQuotes(legacy)
	require.NoError(t, err)
	assert.Equal(t, 4100.0, quotes["11536"])

	quotes, err = parseQuotes([]byte(`{"message":[{"last_traded_price":10}]}`))
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
