// Package integration contains integration tests for the leverage engine.
//
// Database Integration Tests
// These tests verify repository behavior against a real PostgreSQL database:
// schema presence, upsert semantics, filtering and event journaling.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"leverage/internal/models"
	"leverage/internal/repository"
)

func TestDatabaseSchema_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Fatalf("failed to init tables: %v", err)
	}
	defer cleanupTestTables(db)

	tables := []string{
		"positions",
		"collateral_configs",
		"borrow_asset_configs",
		"user_risk_limits",
		"events",
	}

	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			var exists bool
			query := `
				SELECT EXISTS (
					SELECT 1 FROM information_schema.tables
					WHERE table_schema = 'public' AND table_name = $1
				)`
			if err := db.QueryRow(query, table).Scan(&exists); err != nil {
				t.Fatalf("failed to check table %s: %v", table, err)
			}
			if !exists {
				t.Errorf("expected table %s to exist", table)
			}
		})
	}
}

func TestPositionRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Fatalf("failed to init tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewPositionRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	pos := &models.Position{
		ID:                    1,
		Owner:                 "alice",
		CollateralAsset:       "WETH",
		BorrowAsset:           "USDC",
		CollateralAmount:      mustDecimal(t, "2"),
		BorrowAmount:          mustDecimal(t, "2000"),
		TargetLeverageBps:     20000,
		RebalanceThresholdBps: 200,
		StopLossPrice:         mustDecimal(t, "0"),
		Status:                models.StatusActive,
		OpenedAt:              now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	t.Run("Save and Get", func(t *testing.T) {
		if err := repo.Save(ctx, pos); err != nil {
			t.Fatalf("failed to save position: %v", err)
		}

		got, err := repo.Get(ctx, "alice", 1)
		if err != nil {
			t.Fatalf("failed to get position: %v", err)
		}
		if got.Owner != "alice" || got.ID != 1 {
			t.Errorf("position identity mismatch: %s/%d", got.Owner, got.ID)
		}
		if !got.CollateralAmount.Equal(pos.CollateralAmount) {
			t.Errorf("collateral = %s, want %s", got.CollateralAmount, pos.CollateralAmount)
		}
		if got.Status != models.StatusActive {
			t.Errorf("status = %s, want %s", got.Status, models.StatusActive)
		}
	})

	t.Run("Save upserts on conflict", func(t *testing.T) {
		closedAt := now.Add(time.Minute)
		pos.Status = models.StatusClosed
		pos.BorrowAmount = mustDecimal(t, "0")
		pos.ClosedAt = &closedAt
		pos.UpdatedAt = closedAt

		if err := repo.Save(ctx, pos); err != nil {
			t.Fatalf("failed to upsert position: %v", err)
		}

		got, err := repo.Get(ctx, "alice", 1)
		if err != nil {
			t.Fatalf("failed to get position: %v", err)
		}
		if got.Status != models.StatusClosed {
			t.Errorf("status = %s, want %s", got.Status, models.StatusClosed)
		}
		if got.ClosedAt == nil {
			t.Errorf("expected closed_at to be set")
		}
		if !got.BorrowAmount.IsZero() {
			t.Errorf("borrow = %s, want 0", got.BorrowAmount)
		}

		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM positions WHERE owner = 'alice'`).Scan(&count); err != nil {
			t.Fatalf("failed to count positions: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 row after upsert, got %d", count)
		}
	})

	t.Run("GetActive filters by status", func(t *testing.T) {
		active := &models.Position{
			ID:                2,
			Owner:             "alice",
			CollateralAsset:   "WETH",
			BorrowAsset:       "USDC",
			CollateralAmount:  mustDecimal(t, "1"),
			BorrowAmount:      mustDecimal(t, "1000"),
			TargetLeverageBps: 20000,
			StopLossPrice:     mustDecimal(t, "0"),
			Status:            models.StatusActive,
			OpenedAt:          now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := repo.Save(ctx, active); err != nil {
			t.Fatalf("failed to save active position: %v", err)
		}

		positions, err := repo.GetActive(ctx)
		if err != nil {
			t.Fatalf("failed to get active positions: %v", err)
		}
		if len(positions) != 1 {
			t.Fatalf("expected 1 active position, got %d", len(positions))
		}
		if positions[0].ID != 2 {
			t.Errorf("active position id = %d, want 2", positions[0].ID)
		}
	})

	t.Run("Get missing returns not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "nobody", 99)
		if !errors.Is(err, repository.ErrPositionNotFound) {
			t.Errorf("expected ErrPositionNotFound, got %v", err)
		}
	})
}

func TestRiskRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Fatalf("failed to init tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewRiskRepository(db)
	ctx := context.Background()

	t.Run("UpsertCollateral round trip", func(t *testing.T) {
		cfg := &models.CollateralConfig{
			Symbol:          "WETH",
			LTVBps:          8000,
			LiqThresholdBps: 8500,
			LiqBonusBps:     10500,
			Active:          true,
		}
		if err := repo.UpsertCollateral(ctx, cfg); err != nil {
			t.Fatalf("failed to upsert collateral: %v", err)
		}

		// Повторный upsert обновляет существующую запись
		cfg.LTVBps = 7500
		if err := repo.UpsertCollateral(ctx, cfg); err != nil {
			t.Fatalf("failed to re-upsert collateral: %v", err)
		}

		got, err := repo.GetCollateral(ctx, "WETH")
		if err != nil {
			t.Fatalf("failed to get collateral: %v", err)
		}
		if got.LTVBps != 7500 {
			t.Errorf("ltv = %d, want 7500", got.LTVBps)
		}

		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM collateral_configs WHERE symbol = 'WETH'`).Scan(&count); err != nil {
			t.Fatalf("failed to count collateral configs: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 row after upsert, got %d", count)
		}
	})

	t.Run("UpsertBorrowAsset round trip", func(t *testing.T) {
		cfg := &models.BorrowAssetConfig{
			Symbol:         "USDC",
			MaxLeverageBps: 30000,
			Active:         true,
		}
		if err := repo.UpsertBorrowAsset(ctx, cfg); err != nil {
			t.Fatalf("failed to upsert borrow asset: %v", err)
		}

		assets, err := repo.GetAllBorrowAssets(ctx)
		if err != nil {
			t.Fatalf("failed to list borrow assets: %v", err)
		}
		if len(assets) != 1 || assets[0].Symbol != "USDC" {
			t.Fatalf("unexpected borrow assets: %+v", assets)
		}
		if assets[0].MaxLeverageBps != 30000 {
			t.Errorf("max leverage = %d, want 30000", assets[0].MaxLeverageBps)
		}
	})

	t.Run("User limit lifecycle", func(t *testing.T) {
		limit := &models.UserRiskLimit{
			Owner:          "carol",
			MaxBorrowValue: mustDecimal(t, "50000"),
		}
		if err := repo.UpsertUserLimit(ctx, limit); err != nil {
			t.Fatalf("failed to upsert user limit: %v", err)
		}

		limits, err := repo.GetAllUserLimits(ctx)
		if err != nil {
			t.Fatalf("failed to list user limits: %v", err)
		}
		if len(limits) != 1 || limits[0].Owner != "carol" {
			t.Fatalf("unexpected user limits: %+v", limits)
		}

		if err := repo.DeleteUserLimit(ctx, "carol"); err != nil {
			t.Fatalf("failed to delete user limit: %v", err)
		}
		limits, err = repo.GetAllUserLimits(ctx)
		if err != nil {
			t.Fatalf("failed to list user limits: %v", err)
		}
		if len(limits) != 0 {
			t.Errorf("expected 0 limits after delete, got %d", len(limits))
		}
	})
}

func TestEventRepository_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	if err := initTestTables(db); err != nil {
		t.Fatalf("failed to init tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewEventRepository(db)
	ctx := context.Background()

	posID := int64(1)
	events := []*models.Event{
		{
			Timestamp:  time.Now().UTC(),
			Type:       models.EventTypeOpen,
			Severity:   models.SeverityInfo,
			Owner:      "alice",
			PositionID: &posID,
			Message:    "position opened",
			Meta:       map[string]interface{}{"leverage_bps": 20000},
		},
		{
			Timestamp:  time.Now().UTC().Add(time.Second),
			Type:       models.EventTypeLiquidation,
			Severity:   models.SeverityWarn,
			Owner:      "alice",
			PositionID: &posID,
			Message:    "position liquidated",
		},
	}

	t.Run("Insert assigns ids", func(t *testing.T) {
		for _, ev := range events {
			if err := repo.Insert(ctx, ev); err != nil {
				t.Fatalf("failed to insert event: %v", err)
			}
			if ev.ID == 0 {
				t.Errorf("expected event id to be assigned")
			}
		}
	})

	t.Run("GetByPosition newest first", func(t *testing.T) {
		got, err := repo.GetByPosition(ctx, "alice", posID, 10)
		if err != nil {
			t.Fatalf("failed to get events: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		if got[0].Type != models.EventTypeLiquidation {
			t.Errorf("first event = %s, want %s", got[0].Type, models.EventTypeLiquidation)
		}
		if got[1].Meta["leverage_bps"] == nil {
			t.Errorf("expected meta to survive round trip")
		}
	})

	t.Run("GetByType filters", func(t *testing.T) {
		got, err := repo.GetByType(ctx, models.EventTypeLiquidation, 10)
		if err != nil {
			t.Fatalf("failed to get events by type: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 liquidation event, got %d", len(got))
		}
	})

	t.Run("DeleteOlderThan prunes", func(t *testing.T) {
		deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("failed to prune events: %v", err)
		}
		if deleted != 2 {
			t.Errorf("deleted = %d, want 2", deleted)
		}

		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("failed to count events: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 events after prune, got %d", count)
		}
	})
}
