package generator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/fillgen/internal/generator"
	"github.com/Kenny427/vault-sub003/cmd/fillgen/internal/testutils"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

func runGenerator(t *testing.T, writer *testutils.MockFillWriter, users []string, basePrices map[int]float64, rnd *testutils.MockRand) {
	t.Helper()
	clock := &testutils.MockClock{Current: time.Unix(0, 0)}
	gen := generator.NewFillGenerator(zap.NewNop(), writer, users, basePrices, rnd, clock)

	// The fake clock makes Sleep instant, so a short real deadline yields
	// plenty of fills.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	gen.Run(ctx)
}

func decodeFill(t *testing.T, value []byte) models.Fill {
	t.Helper()
	var fill models.Fill
	if err := json.Unmarshal(value, &fill); err != nil {
		t.Fatalf("generated invalid JSON: %v", err)
	}
	return fill
}

func TestGenerator_FirstFillShape(t *testing.T) {
	writer := &testutils.MockFillWriter{}
	// Index 0 everywhere; fluctuation factor 0.5 maps to zero price drift.
	rnd := &testutils.MockRand{Floats: []float64{0.5}}

	runGenerator(t, writer, []string{"u1"}, map[int]float64{2: 180.0}, rnd)

	sent := writer.Sent()
	if len(sent) == 0 {
		t.Fatal("expected fills to be generated")
	}

	fill := decodeFill(t, sent[0].Value)
	if fill.UserID != "u1" || fill.ItemID != 2 {
		t.Errorf("expected fill for u1/2, got %s/%d", fill.UserID, fill.ItemID)
	}
	if fill.Side != models.SideBuy {
		t.Errorf("first fill on an empty position must be a buy, got %s", fill.Side)
	}
	if fill.SeqID != 1 {
		t.Errorf("expected SeqID 1, got %d", fill.SeqID)
	}
	if fill.Price != 180.0 {
		t.Errorf("zero drift should keep the base price, got %f", fill.Price)
	}
	if string(sent[0].Key) != "u1:2" {
		t.Errorf("expected partition key u1:2, got %s", sent[0].Key)
	}
}

func TestGenerator_NeverOversells(t *testing.T) {
	writer := &testutils.MockFillWriter{}
	rnd := &testutils.MockRand{Floats: []float64{0.5}}

	runGenerator(t, writer, []string{"u1"}, map[int]float64{2: 100}, rnd)

	// Replay the stream and track the held quantity; no sell may exceed it.
	var held int64
	for i, msg := range writer.Sent() {
		fill := decodeFill(t, msg.Value)
		switch fill.Side {
		case models.SideSell:
			if fill.Quantity > held {
				t.Fatalf("fill %d oversells: %d held, sold %d", i, held, fill.Quantity)
			}
			held -= fill.Quantity
		case models.SideBuy:
			held += fill.Quantity
		}
	}
}

func TestTopicCreator_CreatesAndWaits(t *testing.T) {
	dialer := &testutils.MockBrokerDialer{}
	tc := generator.NewTopicCreator(zap.NewNop(), dialer, &testutils.MockClock{})

	tc.Create([]string{"broker:9092"}, "portfolio_fills")

	if dialer.Conn == nil {
		t.Fatal("dialer was never used")
	}
	if len(dialer.Conn.Created) != 1 || dialer.Conn.Created[0] != "portfolio_fills" {
		t.Errorf("expected topic portfolio_fills created once, got %v", dialer.Conn.Created)
	}
}
