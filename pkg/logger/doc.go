// Package logger builds *slog.Logger instances with functional options and
// context-aware attribute injection.
//
// New picks a text or JSON handler, applies the level and default attributes,
// and wraps the handler in a LogHandlerDecorator. The decorator runs every
// registered ContextExtractor on each record, which is how request ids reach
// log lines without being passed around:
//
//	log := logger.New(
//	    logger.WithFormat(logger.FormatJSON),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "checkout created", logger.Provider("paddle"))
//
// FromConfig maps Config (APP_ENV, APP_NAME, LOG_LEVEL) to options: production
// logs JSON at info, everything else logs text at debug.
//
// # Attributes
//
// Helpers such as Error, UserID, Provider, PaymentID, PlanTier, CouponCode and
// Amount keep attribute keys consistent across packages. Amount takes minor
// units.
package logger
