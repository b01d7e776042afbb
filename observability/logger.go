package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"order-fulfillment/config"
)

const instrumentationScope = config.ServiceName + ".manual"

// NewLogger writes JSON to stdout and mirrors every record to the global OTel
// logger provider. Call it after SetupLoggingSDK so the bridge picks up the
// exporting provider.
func NewLogger(level zapcore.Level) *zap.Logger {
	otelCore := otelzap.NewCore(instrumentationScope,
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)

	return zap.New(zapcore.NewTee(otelCore, consoleCore),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)
}
