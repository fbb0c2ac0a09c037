package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"wisp/internal/model"
	"wisp/internal/service"
)

// LoadCSV 读取 K 线数据文件并返回按时间升序的序列
// 格式: timestamp,open,high,low,close,volume
// timestamp 支持秒或毫秒，首行为表头时自动跳过
func LoadCSV(path, symbol, interval string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	duration, err := service.ParseIntervalDuration(interval)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}

	candles := make([]model.Candle, 0, len(records))
	for i, rec := range records {
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if i == 0 {
				// 表头行
				continue
			}
			return nil, fmt.Errorf("line %d: invalid timestamp %q", i+1, rec[0])
		}

		// 秒级时间戳转毫秒
		if ts < 1e12 {
			ts *= 1000
		}

		values := make([]float64, 5)
		for j := 1; j < 6; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid field %q", i+1, rec[j])
			}
			values[j-1] = v
		}

		open, high, low, closePx, volume := values[0], values[1], values[2], values[3], values[4]
		if high < low || high < open || high < closePx || low > open || low > closePx {
			return nil, fmt.Errorf("line %d: inconsistent OHLC", i+1)
		}

		start := time.UnixMilli(ts).UTC().Truncate(duration)
		candles = append(candles, model.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			StartTime: start,
			EndTime:   start.Add(duration).Add(-time.Millisecond),
		})
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("data file %s has no candle rows", path)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].StartTime.Before(candles[j].StartTime)
	})

	return candles, nil
}
