package common

type ErrorCode string
type ErrorMessage string

const (
	ErrCodeConfigLoadFailed          ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeVersionCheckFailed        ErrorCode = "VERSION_CHECK_FAILED"
	ErrCodeAuthFailed                ErrorCode = "AUTH_FAILED"
	ErrCodeMarketsLoadFailed         ErrorCode = "MARKETS_LOAD_FAILED"
	ErrCodeTickersFetchFailed        ErrorCode = "TICKERS_FETCH_FAILED"
	ErrCodeOHLCVFetchFailed          ErrorCode = "OHLCV_FETCH_FAILED"
	ErrCodeBalancesFetchFailed       ErrorCode = "BALANCES_FETCH_FAILED"
	ErrCodeOrderFailed               ErrorCode = "ORDER_FAILED"
	ErrCodePrecisionDefaulted        ErrorCode = "PRECISION_DEFAULTED"
	ErrCodeGRPCServeFailed           ErrorCode = "GRPC_SERVE_FAILED"
	ErrCodeGRPCConnectionFailed      ErrorCode = "GRPC_CONNECTION_FAILED"
	ErrCodeHTTPServeFailed           ErrorCode = "HTTP_SERVE_FAILED"
	ErrCodeNATSConnectFailed         ErrorCode = "NATS_CONNECT_FAILED"
	ErrCodeNATSPublishFailed         ErrorCode = "NATS_PUBLISH_FAILED"
	ErrCodeChannelFull               ErrorCode = "CHANNEL_FULL"
	ErrCodeStreamClosed              ErrorCode = "STREAM_CLOSED"
	ErrCodeWebSocketWriteFailed      ErrorCode = "WEBSOCKET_WRITE_FAILED"
	ErrCodeGRPCConnectionCloseFailed ErrorCode = "GRPC_CONNECTION_CLOSE_FAILED"
)

const (
	ErrMsgConfigLoadFailed          ErrorMessage = "Failed to load configuration"
	ErrMsgVersionCheckFailed        ErrorMessage = "Client version was rejected by the backend"
	ErrMsgAuthFailed                ErrorMessage = "Backend authentication request failed"
	ErrMsgMarketsLoadFailed         ErrorMessage = "Failed to load markets"
	ErrMsgTickersFetchFailed        ErrorMessage = "Failed to fetch tickers"
	ErrMsgOHLCVFetchFailed          ErrorMessage = "Failed to fetch OHLCV"
	ErrMsgBalancesFetchFailed       ErrorMessage = "Failed to fetch balances"
	ErrMsgOrderFailed               ErrorMessage = "Failed to place market order"
	ErrMsgPrecisionDefaulted        ErrorMessage = "Precision could not be parsed, using default"
	ErrMsgGRPCServeFailed           ErrorMessage = "Failed to serve gRPC"
	ErrMsgGRPCConnectionFailed      ErrorMessage = "Failed to connect to gRPC server"
	ErrMsgHTTPServeFailed           ErrorMessage = "Failed to serve HTTP feed"
	ErrMsgNATSConnectFailed         ErrorMessage = "Failed to connect to NATS"
	ErrMsgNATSPublishFailed         ErrorMessage = "Failed to publish to NATS"
	ErrMsgChannelFull               ErrorMessage = "Channel is full, message dropped"
	ErrMsgStreamClosed              ErrorMessage = "Stream closed by server"
	ErrMsgWebSocketWriteFailed      ErrorMessage = "Failed to write to WebSocket client"
	ErrMsgGRPCConnectionCloseFailed ErrorMessage = "failed to close gRPC connection"
)

func (e ErrorCode) String() string {
	return string(e)
}

func (m ErrorMessage) String() string {
	return string(m)
}
