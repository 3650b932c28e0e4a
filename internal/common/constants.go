package common

const (
	DefaultConfigPath    = "./configs/config.yml"
	DefaultEnvPath       = ".env"
	DefaultClientVersion = "1.0.0"
	DefaultBackendURL    = "http://127.0.0.1:8000"
	DefaultExchangeURL   = "https://api.mexc.com"

	EnvClientVersion = "CLIENT_APP_VERSION_ENV"
	EnvBackendURL    = "CRYPTO_BACKEND_URL"

	DefaultTickerIntervalSec  = 7
	DefaultOHLCVIntervalSec   = 30
	DefaultBalanceIntervalSec = 60

	DefaultExchangeTimeoutSec = 10
	DefaultRecvWindowMs       = 5000
	VersionCheckTimeoutSec    = 5
	AuthTimeoutSec            = 10

	DefaultOHLCVTimeframe     = "5m"
	DefaultOHLCVLimit         = 100
	DefaultPredictionLookback = 5
	MaxCoinsToDisplay         = 50

	DefaultPrecision = 8
	QuoteAssetUSDT   = "USDT"

	FeedChannelSize    = 256
	MaxGRPCMessageSize = 1024 * 1024 * 4 // 4MB
)
