// Package dedupe drops inbound chat updates that were already handled.
//
// Telegram redelivers webhook updates that were not acknowledged in time and
// Matrix can replay events after a sync restart. Frontends key the cache by
// update or event id and skip anything CheckAndMark reports as seen.
package dedupe
