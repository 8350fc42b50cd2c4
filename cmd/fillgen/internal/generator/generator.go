package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/pkg/models"
)

// FillGenerator emits a stream of synthetic trade fills for load and demo
// runs. It tracks how much each simulated user holds so it never emits a
// sell that would overdraw the position.
type FillGenerator struct {
	logger      *zap.Logger
	writer      FillWriter
	users       []string
	basePrices  map[int]float64
	rand        Rand
	clock       Clock
	seqCounters map[string]int64
	held        map[string]int64
	itemIDs     []int
}

func NewFillGenerator(
	logger *zap.Logger,
	writer FillWriter,
	users []string,
	basePrices map[int]float64,
	rnd Rand,
	clock Clock,
) *FillGenerator {
	itemIDs := make([]int, 0, len(basePrices))
	for id := range basePrices {
		itemIDs = append(itemIDs, id)
	}
	return &FillGenerator{
		logger:      logger,
		writer:      writer,
		users:       users,
		basePrices:  basePrices,
		rand:        rnd,
		clock:       clock,
		seqCounters: make(map[string]int64),
		held:        make(map[string]int64),
		itemIDs:     itemIDs,
	}
}

func (fg *FillGenerator) Run(ctx context.Context) {
	fg.logger.Info("Generator Started", zap.Strings("users", fg.users), zap.Int("items", len(fg.itemIDs)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(fg.users) == 0 || len(fg.itemIDs) == 0 {
				fg.clock.Sleep(1 * time.Second)
				continue
			}

			fill := fg.nextFill()
			payload, _ := json.Marshal(fill)

			err := fg.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(fill.Key()), // Key ensures partition ordering per position
				Value: payload,
			})

			if err != nil {
				fg.logger.Error("Kafka Write Error", zap.Error(err))
			}

			fg.clock.Sleep(100 * time.Millisecond)
		}
	}
}

func (fg *FillGenerator) nextFill() models.Fill {
	user := fg.users[fg.rand.Intn(len(fg.users))]
	itemID := fg.itemIDs[fg.rand.Intn(len(fg.itemIDs))]

	fill := models.Fill{UserID: user, ItemID: itemID}
	key := fill.Key()

	base := fg.basePrices[itemID]
	fluctuation := (fg.rand.Float64()*0.1 - 0.05) * base
	price := base + fluctuation

	side := models.SideBuy
	qty := int64(fg.rand.Intn(10) + 1)
	if held := fg.held[key]; held > 0 && fg.rand.Intn(3) == 0 {
		side = models.SideSell
		qty = int64(fg.rand.Intn(int(held)) + 1)
		fg.held[key] -= qty
	} else {
		fg.held[key] += qty
	}

	fg.seqCounters[key]++

	fill.Side = side
	fill.Quantity = qty
	fill.Price = price
	fill.Timestamp = fg.clock.Now().UnixMicro()
	fill.SeqID = fg.seqCounters[key]
	return fill
}
