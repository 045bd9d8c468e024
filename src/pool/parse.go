package pool

import (
	"sort"

	"chart-gateway/src/models"
	"chart-gateway/src/protocol"
)

// -----------------------------------------------------------------------------
// Payload extraction
//
// Data updates carry, per logical id, an object whose "s" member holds bar
// rows and whose "st" member holds study rows. Every row is {"i": N, "v":
// [values...]}. Malformed rows are skipped rather than failing the fetch.
// -----------------------------------------------------------------------------

// seriesPayload digs the per-id object out of a timescale_update / du message.
func seriesPayload(msg *protocol.Message, id string) (map[string]interface{}, bool) {
	if len(msg.Params) < 2 {
		return nil, false
	}
	outer, ok := msg.Params[1].(map[string]interface{})
	if !ok {
		return nil, false
	}
	inner, ok := outer[id].(map[string]interface{})
	return inner, ok
}

// -----------------------------------------------------------------------------

// extractBars pulls OHLCV rows out of a series payload.
func extractBars(payload map[string]interface{}) []models.MBar {
	rows, ok := payload["s"].([]interface{})
	if !ok {
		return nil
	}

	bars := make([]models.MBar, 0, len(rows))
	for _, raw := range rows {
		values := rowValues(raw)
		if len(values) < 6 {
			continue
		}
		bars = append(bars, models.MBar{
			Time:   int64(values[0]),
			Open:   values[1],
			High:   values[2],
			Low:    values[3],
			Close:  values[4],
			Volume: values[5],
		})
	}
	return bars
}

// extractStudyPoints pulls indicator rows out of a study payload. The first
// value is the bar timestamp, the second the indicator value.
func extractStudyPoints(payload map[string]interface{}) []models.MCVDPoint {
	rows, ok := payload["st"].([]interface{})
	if !ok {
		return nil
	}

	points := make([]models.MCVDPoint, 0, len(rows))
	for _, raw := range rows {
		values := rowValues(raw)
		if len(values) < 2 {
			continue
		}
		points = append(points, models.MCVDPoint{
			Time:  int64(values[0]),
			Value: values[1],
		})
	}
	return points
}

// rowValues unwraps one {"i": N, "v": [...]} row into its numeric values.
func rowValues(raw interface{}) []float64 {
	row, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	list, ok := row["v"].([]interface{})
	if !ok {
		return nil
	}

	values := make([]float64, 0, len(list))
	for _, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		values = append(values, f)
	}
	return values
}

// -----------------------------------------------------------------------------

// mergeBars folds newly received rows into the accumulated set, last write
// wins per timestamp, and keeps the result in ascending time order.
func mergeBars(existing, incoming []models.MBar) []models.MBar {
	if len(incoming) == 0 {
		return existing
	}

	byTime := make(map[int64]models.MBar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Time] = b
	}
	for _, b := range incoming {
		byTime[b.Time] = b
	}

	merged := make([]models.MBar, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
	return merged
}

// mergePoints is mergeBars for study rows.
func mergePoints(existing, incoming []models.MCVDPoint) []models.MCVDPoint {
	if len(incoming) == 0 {
		return existing
	}

	byTime := make(map[int64]models.MCVDPoint, len(existing)+len(incoming))
	for _, p := range existing {
		byTime[p.Time] = p
	}
	for _, p := range incoming {
		byTime[p.Time] = p
	}

	merged := make([]models.MCVDPoint, 0, len(byTime))
	for _, p := range byTime {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
	return merged
}

// -----------------------------------------------------------------------------

// extractMetadata maps the symbol_resolved payload onto the response model.
func extractMetadata(msg *protocol.Message) models.MSymbolMetadata {
	meta := models.MSymbolMetadata{}
	if len(msg.Params) < 3 {
		return meta
	}
	fields, ok := msg.Params[2].(map[string]interface{})
	if !ok {
		return meta
	}

	if v, ok := fields["name"].(string); ok {
		meta.Name = v
	}
	if v, ok := fields["description"].(string); ok {
		meta.Description = v
	}
	if v, ok := fields["exchange"].(string); ok {
		meta.Exchange = v
	}
	if v, ok := fields["currency_code"].(string); ok {
		meta.CurrencyCode = v
	}
	if v, ok := fields["pricescale"].(float64); ok {
		meta.PriceScale = v
	}
	return meta
}
