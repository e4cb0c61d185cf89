package options

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"astra/internal/adapters/config"
	"astra/internal/domain/ingestion"
	"astra/internal/domain/options"
	"astra/internal/domain/security"
	"astra/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLogger.Sugar()}
}

func testConfig() config.OptionsConfig {
	return config.OptionsConfig{
		ChainCacheTTL:          120 * time.Second,
		ATMCacheTTL:            120 * time.Second,
		SurfaceCacheTTL:        300 * time.Second,
		ATMRefreshInterval:     120 * time.Second,
		SurfaceRefreshInterval: 300 * time.Second,
		MinUnderlyingMove:      0.005,
		MinDTEBuffer:           7,
		DTEBuckets:             []int{7, 14, 21, 30, 45, 60},
		MoneynessGrid:          []float64{-0.20, -0.10, -0.05, 0.0, 0.05, 0.10, 0.20},
		MinLiquidity:           100,
		SurfaceMinDTE:          5,
		SurfaceMaxDTE:          60,
		MaxBucketDrift:         5,
		WarnThreshold:          0.10,
		SevereThreshold:        0.25,
		SurfaceTolerance:       0.10,
		RealizedTolerance:      0.15,
	}
}

// MockMarketDataClient is a mock for MarketDataClient
type MockMarketDataClient struct {
	mock.Mock
}

func (m *MockMarketDataClient) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockMarketDataClient) FetchChain(ctx context.Context, symbol string, expiration time.Time) ([]options.RawOptionQuote, error) {
	args := m.Called(ctx, symbol, expiration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.RawOptionQuote), args.Error(1)
}

// MockSecurityRepository is a mock for security.Repository
type MockSecurityRepository struct {
	mock.Mock
}

func (m *MockSecurityRepository) GetBySymbol(ctx context.Context, symbol string) (*security.Security, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*security.Security), args.Error(1)
}

// MockBarRepository is a mock for security.BarRepository
type MockBarRepository struct {
	mock.Mock
}

func (m *MockBarRepository) LatestCloseOnOrBefore(ctx context.Context, securityID int64, date time.Time) (float64, error) {
	args := m.Called(ctx, securityID, date)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBarRepository) RecentCloses(ctx context.Context, securityID int64, limit int) ([]float64, error) {
	args := m.Called(ctx, securityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

// MockChainRepository is a mock for options.ChainRepository
type MockChainRepository struct {
	mock.Mock
}

func (m *MockChainRepository) InsertQuotes(ctx context.Context, quotes []options.RawOptionQuote) error {
	args := m.Called(ctx, quotes)
	return args.Error(0)
}

func (m *MockChainRepository) LatestSnapshot(ctx context.Context, securityID int64, expiration time.Time) ([]options.RawOptionQuote, error) {
	args := m.Called(ctx, securityID, expiration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.RawOptionQuote), args.Error(1)
}

// MockStraddleRepository is a mock for options.StraddleRepository
type MockStraddleRepository struct {
	mock.Mock
}

func (m *MockStraddleRepository) Insert(ctx context.Context, straddle *options.ATMStraddle) error {
	args := m.Called(ctx, straddle)
	return args.Error(0)
}

func (m *MockStraddleRepository) Recent(ctx context.Context, securityID int64, limit int) ([]options.ATMStraddle, error) {
	args := m.Called(ctx, securityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.ATMStraddle), args.Error(1)
}

func (m *MockStraddleRepository) Latest(ctx context.Context, securityID int64) (*options.ATMStraddle, error) {
	args := m.Called(ctx, securityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*options.ATMStraddle), args.Error(1)
}

func (m *MockStraddleRepository) ClosestByDTE(ctx context.Context, securityID int64, horizon int) (*options.ATMStraddle, error) {
	args := m.Called(ctx, securityID, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*options.ATMStraddle), args.Error(1)
}

// MockSurfaceRepository is a mock for options.SurfaceRepository
type MockSurfaceRepository struct {
	mock.Mock
}

func (m *MockSurfaceRepository) InsertPoint(ctx context.Context, point *options.VolSurfacePoint) error {
	args := m.Called(ctx, point)
	return args.Error(0)
}

func (m *MockSurfaceRepository) LatestSnapshot(ctx context.Context, securityID int64) ([]options.VolSurfacePoint, error) {
	args := m.Called(ctx, securityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.VolSurfacePoint), args.Error(1)
}

func (m *MockSurfaceRepository) RecentSnapshots(ctx context.Context, securityID int64, limit int) ([]time.Time, error) {
	args := m.Called(ctx, securityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockSurfaceRepository) PointsAt(ctx context.Context, securityID int64, snapshot time.Time) ([]options.VolSurfacePoint, error) {
	args := m.Called(ctx, securityID, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.VolSurfacePoint), args.Error(1)
}

// MockCheckRepository is a mock for options.CheckRepository
type MockCheckRepository struct {
	mock.Mock
}

func (m *MockCheckRepository) InsertCheck(ctx context.Context, check *options.ExpectedMoveCheck) error {
	args := m.Called(ctx, check)
	return args.Error(0)
}

func (m *MockCheckRepository) InsertFlag(ctx context.Context, flag *options.CalibrationFlag) error {
	args := m.Called(ctx, flag)
	return args.Error(0)
}

func (m *MockCheckRepository) RecentChecks(ctx context.Context, securityID int64, limit int) ([]options.ExpectedMoveCheck, error) {
	args := m.Called(ctx, securityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]options.ExpectedMoveCheck), args.Error(1)
}

// MockIngestionRepository is a mock for ingestion.Repository
type MockIngestionRepository struct {
	mock.Mock
}

func (m *MockIngestionRepository) CreateRun(ctx context.Context, source, targetTable string) (uuid.UUID, error) {
	args := m.Called(ctx, source, targetTable)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockIngestionRepository) CompleteRun(ctx context.Context, runID uuid.UUID, rowsInserted int) error {
	args := m.Called(ctx, runID, rowsInserted)
	return args.Error(0)
}

func (m *MockIngestionRepository) FailRun(ctx context.Context, runID uuid.UUID, message string, context map[string]interface{}) error {
	args := m.Called(ctx, runID, message, context)
	return args.Error(0)
}

func (m *MockIngestionRepository) LogIssue(ctx context.Context, issue *ingestion.Issue) error {
	args := m.Called(ctx, issue)
	return args.Error(0)
}

var (
	_ MarketDataClient           = (*MockMarketDataClient)(nil)
	_ security.Repository        = (*MockSecurityRepository)(nil)
	_ security.BarRepository     = (*MockBarRepository)(nil)
	_ options.ChainRepository    = (*MockChainRepository)(nil)
	_ options.StraddleRepository = (*MockStraddleRepository)(nil)
	_ options.SurfaceRepository  = (*MockSurfaceRepository)(nil)
	_ options.CheckRepository    = (*MockCheckRepository)(nil)
	_ ingestion.Repository       = (*MockIngestionRepository)(nil)
)

// testDeps bundles every mocked collaborator of the service
type testDeps struct {
	client     *MockMarketDataClient
	securities *MockSecurityRepository
	bars       *MockBarRepository
	chains     *MockChainRepository
	straddles  *MockStraddleRepository
	surfaces   *MockSurfaceRepository
	checks     *MockCheckRepository
	runs       *MockIngestionRepository
}

func newTestService() (*Service, *testDeps) {
	deps := &testDeps{
		client:     new(MockMarketDataClient),
		securities: new(MockSecurityRepository),
		bars:       new(MockBarRepository),
		chains:     new(MockChainRepository),
		straddles:  new(MockStraddleRepository),
		surfaces:   new(MockSurfaceRepository),
		checks:     new(MockCheckRepository),
		runs:       new(MockIngestionRepository),
	}
	svc := NewService(
		testConfig(),
		deps.client,
		deps.securities,
		deps.bars,
		deps.chains,
		deps.straddles,
		deps.surfaces,
		deps.checks,
		deps.runs,
		testLogger(),
	)
	return svc, deps
}
