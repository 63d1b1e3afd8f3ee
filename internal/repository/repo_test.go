package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"PoolBet/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func hash(n int) string { return fmt.Sprintf("0x%064x", n) }

func newBet(n int, user string) *model.Bet {
	return &model.Bet{
		ID:              uuid.NewString(),
		MarketID:        "1",
		UserAddress:     user,
		Prediction:      model.PredictionYes,
		Amount:          "990000000000000000",
		TransactionHash: hash(n),
		ChainID:         11155111,
		Timestamp:       time.Unix(int64(1700000000+n), 0),
		TaxStatus:       model.TaxStatusPaid,
	}
}

func TestCreateBetRejectsDuplicateHash(t *testing.T) {
	repo := NewBetRepository(newTestDB(t))
	ctx := context.Background()

	first := newBet(1, "0xaaaa000000000000000000000000000000000001")
	require.NoError(t, repo.CreateBet(ctx, first))

	second := newBet(1, "0xaaaa000000000000000000000000000000000001")
	err := repo.CreateBet(ctx, second)
	require.ErrorIs(t, err, ErrDuplicateHash)

	got, err := repo.GetByTxHash(ctx, hash(1))
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestCreateBetConcurrentDuplicatesStoreOne(t *testing.T) {
	db := newTestDB(t)
	repo := NewBetRepository(db)
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateBet(ctx, newBet(42, "0xaaaa000000000000000000000000000000000001"))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrDuplicateHash)
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&model.Bet{}).Where("transaction_hash = ?", hash(42)).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, success)
}

func TestListByUserNewestFirst(t *testing.T) {
	repo := NewBetRepository(newTestDB(t))
	ctx := context.Background()
	user := "0xaaaa000000000000000000000000000000000001"

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.CreateBet(ctx, newBet(i, user)))
	}
	require.NoError(t, repo.CreateBet(ctx, newBet(9, "0xbbbb000000000000000000000000000000000002")))

	list, err := repo.ListByUser(ctx, user, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, hash(3), list[0].TransactionHash)
	assert.Equal(t, hash(1), list[2].TransactionHash)

	page, err := repo.ListByUser(ctx, user, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, hash(2), page[0].TransactionHash)

	page, err = repo.ListByUser(ctx, user, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMarkClaimedOnlyOnce(t *testing.T) {
	repo := NewBetRepository(newTestDB(t))
	ctx := context.Background()
	b := newBet(1, "0xaaaa000000000000000000000000000000000001")
	require.NoError(t, repo.CreateBet(ctx, b))

	ok, err := repo.MarkClaimed(ctx, b.ID, hash(100))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkClaimed(ctx, b.ID, hash(101))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Claimed)
	require.NotNil(t, got.ClaimTransactionHash)
	assert.Equal(t, hash(100), *got.ClaimTransactionHash)
}

func TestListRefundPending(t *testing.T) {
	repo := NewBetRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.CreateBet(ctx, newBet(1, "0xaaaa000000000000000000000000000000000001")))

	eligible := true
	refund := newBet(2, "0xaaaa000000000000000000000000000000000001")
	refund.Amount = "0"
	refund.RefundEligible = &eligible
	refund.TaxStatus = model.TaxStatusRefundPending
	require.NoError(t, repo.CreateBet(ctx, refund))

	list, err := repo.ListRefundPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRefundRecord())
}

func TestMarkRefundedOnlyFromPending(t *testing.T) {
	repo := NewBetRepository(newTestDB(t))
	ctx := context.Background()
	paid := newBet(1, "0xaaaa000000000000000000000000000000000001")
	require.NoError(t, repo.CreateBet(ctx, paid))
	refund := newBet(2, "0xaaaa000000000000000000000000000000000001")
	refund.TaxStatus = model.TaxStatusRefundPending
	require.NoError(t, repo.CreateBet(ctx, refund))

	ok, err := repo.MarkRefunded(ctx, paid.ID, hash(200))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkRefunded(ctx, refund.ID, hash(201))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkRefunded(ctx, refund.ID, hash(202))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaxStatusRefunded, got.TaxStatus)
	require.NotNil(t, got.RefundTransactionHash)
	assert.Equal(t, hash(201), *got.RefundTransactionHash)

	list, err := repo.ListRefundPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateTransactionRejectsDuplicateHash(t *testing.T) {
	repo := NewTransactionRepository(newTestDB(t))
	ctx := context.Background()
	tx := &model.Transaction{
		ID:              uuid.NewString(),
		UserAddress:     "0xaaaa000000000000000000000000000000000001",
		Type:            model.TxTypeEscrowTax,
		TransactionHash: hash(7),
		Status:          model.TxStatusSuccess,
		ChainID:         11155111,
		Value:           "10000000000000000",
	}
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	dup := *tx
	dup.ID = uuid.NewString()
	require.ErrorIs(t, repo.CreateTransaction(ctx, &dup), ErrDuplicateHash)

	got, err := repo.GetByHash(ctx, hash(7))
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = repo.GetByHash(ctx, hash(8))
	assert.True(t, IsNotFound(err))
}

func TestMarketResolveAndPools(t *testing.T) {
	repo := NewMarketRepository(newTestDB(t))
	ctx := context.Background()

	m := &model.Market{ID: "5", ChainID: 11155111, Title: "A vs B", Status: model.MarketLive, Deadline: time.Now().Add(time.Hour)}
	require.NoError(t, repo.CreateMarket(ctx, m))

	// 只插入，已存在的 id 不会被覆盖
	err := repo.CreateMarket(ctx, &model.Market{ID: "5", Title: "hijacked", Status: model.MarketUpcoming, Deadline: m.Deadline})
	require.ErrorIs(t, err, ErrMarketExists)

	ok, err := repo.UpdateMarketInfo(ctx, &model.Market{ID: "5", Title: "A vs B (final)", Status: model.MarketUpcoming, Deadline: m.Deadline})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := repo.GetMarket(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "A vs B (final)", got.Title)
	assert.Equal(t, model.MarketLive, got.Status)
	assert.Equal(t, int64(11155111), got.ChainID)

	require.NoError(t, repo.UpdatePools(ctx, "5", "300", "700", "1000", time.Now()))

	// 未绑定链的盘口不参与奖池同步
	require.NoError(t, repo.CreateMarket(ctx, &model.Market{ID: "6", Status: model.MarketLive, Deadline: m.Deadline}))
	unresolved, err := repo.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "5", unresolved[0].ID)

	ok, err = repo.ResolveMarket(ctx, "5", model.PredictionNo, time.Now(), model.ResolvedByChain)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ResolveMarket(ctx, "5", model.PredictionYes, time.Now(), model.ResolvedByAPI)
	require.NoError(t, err)
	assert.False(t, ok)

	// 链上写入的结果不可覆盖
	ok, err = repo.OverrideResolution(ctx, "5", model.PredictionYes, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateMarketInfo(ctx, &model.Market{ID: "5", Title: "late edit", Deadline: m.Deadline})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetMarket(ctx, "5")
	require.NoError(t, err)
	assert.True(t, got.Resolved())
	assert.Equal(t, model.PredictionNo, *got.Result)
	assert.Equal(t, model.ResolvedByChain, got.ResolutionSource)
	assert.Equal(t, "1000", got.TotalPool)
	assert.Equal(t, "A vs B (final)", got.Title)

	list, total, err := repo.ListMarkets(ctx, MarketFilter{Status: string(model.MarketCompleted)}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	unresolved, err = repo.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestOverrideResolutionReplacesAPIResult(t *testing.T) {
	repo := NewMarketRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.CreateMarket(ctx, &model.Market{ID: "7", ChainID: 1, Status: model.MarketLive, Deadline: time.Now()}))

	ok, err := repo.ResolveMarket(ctx, "7", model.PredictionYes, time.Now(), model.ResolvedByAPI)
	require.NoError(t, err)
	require.True(t, ok)

	// 相同结果不算覆盖
	ok, err = repo.OverrideResolution(ctx, "7", model.PredictionYes, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.OverrideResolution(ctx, "7", model.PredictionNo, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetMarket(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, model.PredictionNo, *got.Result)
	assert.Equal(t, model.ResolvedByChain, got.ResolutionSource)
}
