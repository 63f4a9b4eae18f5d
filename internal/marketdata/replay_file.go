package marketdata

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/frontier-trading/papercore/pkg/models"
)

// tickDoc is the YAML shape of a recorded tick. Prices are strings so
// recordings round-trip without float drift.
type tickDoc struct {
	Symbol string `yaml:"symbol"`
	Bid    string `yaml:"bid"`
	Ask    string `yaml:"ask"`
	Last   string `yaml:"last"`
	Volume string `yaml:"volume"`
	Time   string `yaml:"time"`
}

// LoadReplay reads a YAML tick recording into a Replay source. Each entry
// needs symbol, bid, and ask; last defaults to the midpoint and time to now.
func LoadReplay(path string, interval time.Duration) (*Replay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file %s: %w", path, err)
	}
	var docs []tickDoc
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse replay file %s: %w", path, err)
	}

	ticks := make([]models.MarketTick, 0, len(docs))
	for i, d := range docs {
		tick, err := d.toTick()
		if err != nil {
			return nil, fmt.Errorf("replay entry %d: %w", i, err)
		}
		ticks = append(ticks, tick)
	}
	return &Replay{Ticks: ticks, Interval: interval}, nil
}

func (d *tickDoc) toTick() (models.MarketTick, error) {
	if d.Symbol == "" {
		return models.MarketTick{}, fmt.Errorf("symbol is required")
	}
	tick := models.MarketTick{Symbol: d.Symbol, Timestamp: time.Now()}
	var err error
	if tick.Bid, err = decimal.NewFromString(d.Bid); err != nil {
		return models.MarketTick{}, fmt.Errorf("invalid bid %q: %w", d.Bid, err)
	}
	if tick.Ask, err = decimal.NewFromString(d.Ask); err != nil {
		return models.MarketTick{}, fmt.Errorf("invalid ask %q: %w", d.Ask, err)
	}
	if d.Last != "" {
		if tick.Last, err = decimal.NewFromString(d.Last); err != nil {
			return models.MarketTick{}, fmt.Errorf("invalid last %q: %w", d.Last, err)
		}
	} else {
		tick.Last = tick.Mid()
	}
	if d.Volume != "" {
		if tick.Volume, err = decimal.NewFromString(d.Volume); err != nil {
			return models.MarketTick{}, fmt.Errorf("invalid volume %q: %w", d.Volume, err)
		}
	}
	if d.Time != "" {
		ts, err := time.Parse(time.RFC3339, d.Time)
		if err != nil {
			return models.MarketTick{}, fmt.Errorf("invalid time %q: %w", d.Time, err)
		}
		tick.Timestamp = ts
	}
	if err := tick.Validate(); err != nil {
		return models.MarketTick{}, err
	}
	return tick, nil
}
