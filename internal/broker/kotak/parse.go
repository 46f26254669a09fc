package kotak

import (
	"strings"

	"github.com/tidwall/gjson"

	"killswitch/internal/account"
)

// parsePositions normalizes the raw position report into the fields the
// MTM computation needs. FnO rows report quantities in units while
// amounts stay in currency, so non cash segments divide quantities by
// lot size; rows with no activity at all are dropped.
func parsePositions(raw []byte) ([]account.Position, error) {
	rows := gjson.GetBytes(raw, "data")
	if !rows.Exists() || !rows.IsArray() {
		return []account.Position{}, nil
	}

	positions := make([]account.Position, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		segment := row.Get("exSeg").String()
		if segment == "" {
			segment = "nse_fo"
		}
		lotSize := row.Get("lotSz").Float()
		multiplier := row.Get("multiplier").Float()
		if multiplier == 0 {
			multiplier = 1
		}

		genNum := floatOr(row, "genNum", 1)
		genDen := floatOr(row, "genDen", 1)
		prcNum := floatOr(row, "prcNum", 1)
		prcDen := floatOr(row, "prcDen", 1)
		priceFactor := (genNum / genDen) * (prcNum / prcDen)

		flBuy := row.Get("flBuyQty").Float()
		flSell := row.Get("flSellQty").Float()
		cfBuy := row.Get("cfBuyQty").Float()
		cfSell := row.Get("cfSellQty").Float()

		if !strings.Contains(strings.ToLower(segment), "cm") && lotSize > 0 {
			flBuy /= lotSize
			flSell /= lotSize
			cfBuy /= lotSize
			cfSell /= lotSize
		}

		buyQty := cfBuy + flBuy
		sellQty := cfSell + flSell
		netQty := buyQty - sellQty

		// Amounts are cumulative carry-forward plus fresh legs and are
		// already in currency terms.
		buyAmt := row.Get("cfBuyAmt").Float() + row.Get("buyAmt").Float()
		sellAmt := row.Get("cfSellAmt").Float() + row.Get("sellAmt").Float()

		if buyQty == 0 && sellQty == 0 && netQty == 0 {
			return true
		}
		positions = append(positions, account.Position{
			Token:       row.Get("tok").String(),
			Segment:     segment,
			Symbol:      stringOr(row, "trdSym", "Unknown"),
			Product:     stringOr(row, "prod", "NRML"),
			NetQty:      int(netQty),
			BuyAmt:      buyAmt,
			SellAmt:     sellAmt,
			Multiplier:  multiplier,
			PriceFactor: priceFactor,
			LotSize:     lotSize,
		})
		return true
	})
	return positions, nil
}

// parseOrders keeps only the fields the stop-loss detector reads.
func parseOrders(raw []byte) ([]account.Order, error) {
	rows := gjson.GetBytes(raw, "data")
	if !rows.Exists() || !rows.IsArray() {
		return []account.Order{}, nil
	}

	orders := make([]account.Order, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		orders = append(orders, account.Order{
			ID:        row.Get("nOrdNo").String(),
			Status:    strings.ToUpper(row.Get("ordSt").String()),
			Type:      strings.ToUpper(row.Get("prcTp").String()),
			Side:      strings.ToUpper(row.Get("trnsTp").String()),
			Token:     row.Get("tok").String(),
			Symbol:    row.Get("trdSym").String(),
			Qty:       int(row.Get("qty").Int()),
			FilledQty: int(row.Get("fldQty").Int()),
		})
		return true
	})
	return orders, nil
}

// parseQuotes reads LTPs from either response shape: the current gateway
// returns the list under "message", older builds under "data".
func parseQuotes(raw []byte) (map[string]float64, error) {
	list := gjson.GetBytes(raw, "message")
	if !list.Exists() || !list.IsArray() {
		list = gjson.GetBytes(raw, "data")
	}
	quotes := make(map[string]float64)
	if !list.Exists() || !list.IsArray() {
		return quotes, nil
	}
	list.ForEach(func(_, item gjson.Result) bool {
		token := item.Get("instrument_token").String()
		if token == "" {
			return true
		}
		quotes[token] = item.Get("last_traded_price").Float()
		return true
	})
	return quotes, nil
}

func floatOr(row gjson.Result, key string, def float64) float64 {
	v := row.Get(key)
	if !v.Exists() || v.Float() == 0 {
		return def
	}
	return v.Float()
}

func stringOr(row gjson.Result, key, def string) string {
	if s := row.Get(key).String(); s != "" {
		return s
	}
	return def
}
