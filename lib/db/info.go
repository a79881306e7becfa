package db

import (
	"github.com/aspendb/aspen/lib/db/util"
)

// maxInfoSamples bounds how many values GetInfo inspects per bucket
const maxInfoSamples = 2048

// GetInfo returns information about the database, including a sampled
// value size distribution.
func (e *Engine) GetInfo() (DatabaseInfo, error) {
	info := DatabaseInfo{
		Path:   e.path,
		DbType: ImplAspen,
	}

	for f := FeatureGet; f <= FeatureCompact; f <<= 1 {
		if e.SupportsFeature(f) {
			info.SupportedFeatures = append(info.SupportedFeatures, f)
		}
	}

	stats := e.pg.Stats()
	info.PageCount = stats.PageCount
	info.FreePages = stats.FreePages
	info.PendingPages = stats.PendingPages
	info.SizeBytes = stats.SizeBytes

	readers := 0
	e.readers.Range(func(_ uint64, _ uint64) bool {
		readers++
		return true
	})
	info.ActiveReaders = readers

	hist := util.NewSizeHistogram()
	err := e.View(func(tx *Tx) error {
		info.TxID = tx.TxID()

		names, err := tx.Buckets()
		if err != nil {
			return err
		}
		info.Buckets = names

		for _, name := range names {
			b, err := tx.Bucket(name)
			if err != nil {
				return err
			}
			it := b.Cursor()
			sampled := 0
			for k, v, err := it.First(); k != nil && sampled < maxInfoSamples; k, v, err = it.Next() {
				if err != nil {
					return err
				}
				hist.AddSample(len(v))
				sampled++
			}
		}
		return nil
	})
	if err != nil {
		return info, err
	}

	info.ValueSizes = ValueSizeInfo{
		Sampled: hist.Count(),
		Average: float64(hist.AverageSize()),
		Median:  uint64(hist.MedianEstimate()),
		P99:     uint64(hist.PercentileEstimate(99)),
	}
	return info, nil
}
